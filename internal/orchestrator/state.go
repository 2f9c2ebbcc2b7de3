package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

// PlanState — состояние плана в памяти оркестратора.
//
// PlanState создаётся при CreatePlan (или при восстановлении) и живёт,
// пока план не удалён через RemovePlan.
//
// Содержит:
//   - Агрегаты плана и его задач
//   - Порядок задач (порядок допуска и запуска)
//   - Отслеживание допущенных и завершившихся задач
type PlanState struct {
	// Plan — агрегат плана.
	Plan *domain.Plan

	// tasks — задачи плана (taskID → Task).
	tasks map[uuid.UUID]*domain.Task

	// order — id задач в порядке добавления.
	order []uuid.UUID

	// admitted — задачи, отданные в scheduler (taskID → true).
	admitted map[uuid.UUID]bool

	// finished — допущенные задачи, достигшие итогового статуса.
	finished map[uuid.UUID]bool

	// admitting — идёт допуск задач; финализация запрещена.
	admitting bool

	// finalized — план финализирован (блокировки сняты, итог вычислен).
	finalized bool

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewPlanState создаёт PlanState.
func NewPlanState(plan *domain.Plan, tasks []*domain.Task) *PlanState {
	s := &PlanState{
		Plan:     plan,
		tasks:    make(map[uuid.UUID]*domain.Task, len(tasks)),
		order:    make([]uuid.UUID, 0, len(tasks)),
		admitted: make(map[uuid.UUID]bool),
		finished: make(map[uuid.UUID]bool),
	}
	for _, t := range tasks {
		s.tasks[t.ID()] = t
		s.order = append(s.order, t.ID())
	}
	return s
}

// PlanID возвращает ID плана.
func (s *PlanState) PlanID() uuid.UUID {
	return s.Plan.ID()
}

// Task возвращает задачу по ID.
func (s *PlanState) Task(id uuid.UUID) (*domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks возвращает задачи в порядке добавления.
func (s *PlanState) Tasks() []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// BeginAdmission запрещает финализацию на время допуска задач.
func (s *PlanState) BeginAdmission() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitting = true
}

// EndAdmission снимает запрет, выставленный BeginAdmission.
func (s *PlanState) EndAdmission() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitting = false
}

// Admit отмечает задачу как допущенную.
func (s *PlanState) Admit(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted[id] = true
}

// MarkFinished отмечает допущенную задачу как завершившуюся.
// Возвращает false, если задача уже была отмечена.
func (s *PlanState) MarkFinished(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished[id] {
		return false
	}
	if s.admitted[id] {
		s.finished[id] = true
	}
	return true
}

// ClaimFinalize возвращает true ровно один раз: когда допуск окончен
// и все допущенные задачи завершились.
func (s *PlanState) ClaimFinalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized || s.admitting || len(s.admitted) != len(s.finished) {
		return false
	}
	s.finalized = true
	return true
}

// markFinalized отмечает план, восстановленный уже завершённым.
func (s *PlanState) markFinalized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
}

// IsFinalized проверяет, финализирован ли план.
func (s *PlanState) IsFinalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}

// TaskSnapshots возвращает снимки задач в порядке добавления.
func (s *PlanState) TaskSnapshots() []domain.TaskSnapshot {
	tasks := s.Tasks()
	out := make([]domain.TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// PlanView — план вместе с задачами.
type PlanView struct {
	Plan  domain.PlanSnapshot   `json:"plan"`
	Tasks []domain.TaskSnapshot `json:"tasks"`
	Stats PlanStats             `json:"stats"`
}

// PlanStats — статистика по задачам плана.
type PlanStats struct {
	Total    int                       `json:"total"`
	Admitted int                       `json:"admitted"`
	Skipped  int                       `json:"skipped"`
	Finished int                       `json:"finished"`
	ByStatus map[domain.TaskStatus]int `json:"by_status"`
}

// View возвращает согласованный снимок плана и задач.
func (s *PlanState) View() PlanView {
	tasks := s.TaskSnapshots()
	view := PlanView{Plan: s.Plan.Snapshot(), Tasks: tasks, Stats: statsOf(tasks)}

	s.mu.RLock()
	view.Stats.Admitted = len(s.admitted)
	view.Stats.Finished = len(s.finished)
	s.mu.RUnlock()
	return view
}

// statsOf считает статистику по снимкам задач.
func statsOf(tasks []domain.TaskSnapshot) PlanStats {
	st := PlanStats{Total: len(tasks), ByStatus: make(map[domain.TaskStatus]int)}
	for _, t := range tasks {
		st.ByStatus[t.Status]++
		if t.SkipReason != "" {
			st.Skipped++
		}
	}
	return st
}
