package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

// PlanFilter — фильтр списка планов.
type PlanFilter struct {
	// Statuses — допустимые статусы; пустой — любые.
	Statuses []domain.PlanStatus

	// Limit — максимум записей; 0 — без ограничения.
	Limit int
}

// Match проверяет, подходит ли план под фильтр по статусу.
func (f PlanFilter) Match(s domain.PlanSnapshot) bool {
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, s.Status)
}

// Store хранит снимки планов и задач.
//
// Store — проекция для API и восстановления после рестарта; источник
// истины о прогрессе задачи — checkpoint.Store. Отсутствующий план
// возвращается ошибкой, обёртывающей domain.ErrNotFound.
type Store interface {
	SavePlan(ctx context.Context, plan domain.PlanSnapshot) error
	SaveTasks(ctx context.Context, tasks []domain.TaskSnapshot) error
	GetPlan(ctx context.Context, id uuid.UUID) (domain.PlanSnapshot, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]domain.PlanSnapshot, error)
	ListTasks(ctx context.Context, planID uuid.UUID) ([]domain.TaskSnapshot, error)
	DeletePlan(ctx context.Context, id uuid.UUID) error
}

// MemoryStore — Store в памяти процесса.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]domain.PlanSnapshot
	tasks map[uuid.UUID]map[uuid.UUID]domain.TaskSnapshot
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans: make(map[uuid.UUID]domain.PlanSnapshot),
		tasks: make(map[uuid.UUID]map[uuid.UUID]domain.TaskSnapshot),
	}
}

func (s *MemoryStore) SavePlan(_ context.Context, plan domain.PlanSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan.TaskIDs = slices.Clone(plan.TaskIDs)
	s.plans[plan.ID] = plan
	return nil
}

func (s *MemoryStore) SaveTasks(_ context.Context, tasks []domain.TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		byID, ok := s.tasks[t.PlanID]
		if !ok {
			byID = make(map[uuid.UUID]domain.TaskSnapshot)
			s.tasks[t.PlanID] = byID
		}
		byID[t.ID] = t
	}
	return nil
}

func (s *MemoryStore) GetPlan(_ context.Context, id uuid.UUID) (domain.PlanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[id]
	if !ok {
		return domain.PlanSnapshot{}, fmt.Errorf("%w: plan %s", domain.ErrNotFound, id)
	}
	plan.TaskIDs = slices.Clone(plan.TaskIDs)
	return plan, nil
}

func (s *MemoryStore) ListPlans(_ context.Context, filter PlanFilter) ([]domain.PlanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PlanSnapshot, 0, len(s.plans))
	for _, p := range s.plans {
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	// Новые планы первыми, как в postgres-реализации
	slices.SortFunc(out, func(a, b domain.PlanSnapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, planID uuid.UUID) ([]domain.TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TaskSnapshot, 0, len(s.tasks[planID]))
	for _, t := range s.tasks[planID] {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b domain.TaskSnapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.TenantID, b.TenantID)
	})
	return out, nil
}

func (s *MemoryStore) DeletePlan(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("%w: plan %s", domain.ErrNotFound, id)
	}
	delete(s.plans, id)
	delete(s.tasks, id)
	return nil
}
