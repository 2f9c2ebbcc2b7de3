package conflict

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Strategy — стратегия разрешения конфликтов tenant'ов.
type Strategy string

const (
	// StrategyFine — блокировка захватывается задачей при запуске.
	StrategyFine Strategy = "fine"

	// StrategyCoarse — блокировки всех tenant'ов плана захватываются при допуске.
	StrategyCoarse Strategy = "coarse"
)

// ParseStrategy парсит строку в Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFine, StrategyCoarse:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// DefaultTTL — время жизни блокировки по умолчанию.
const DefaultTTL = 5 * time.Minute

// Claim — заявка задачи на tenant.
type Claim struct {
	TenantID string
	TaskID   uuid.UUID
}

// Lock — блокировка, удерживаемая этим процессом.
type Lock struct {
	TenantID   string    `json:"tenant_id"`
	Owner      string    `json:"owner"`
	PlanID     uuid.UUID `json:"plan_id"`
	TaskID     uuid.UUID `json:"task_id,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Config — конфигурация Scheduler.
type Config struct {
	Strategy Strategy
	Backend  LockBackend
	TTL      time.Duration
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Scheduler выдаёт и снимает блокировки tenant'ов по выбранной стратегии.
type Scheduler struct {
	strategy Strategy
	backend  LockBackend
	ttl      time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	// held — блокировки, захваченные этим процессом (tenant → lock).
	held map[string]Lock
	mu   sync.RWMutex
}

// New создаёт Scheduler. Стратегия выбирается один раз при создании.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Backend == nil {
		return nil, ErrNilBackend
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyFine
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		strategy: strategy,
		backend:  cfg.Backend,
		ttl:      ttl,
		metrics:  cfg.Metrics,
		logger:   telemetry.WithComponent(logger, "conflict"),
		held:     make(map[string]Lock),
	}, nil
}

// Strategy возвращает активную стратегию.
func (s *Scheduler) Strategy() Strategy { return s.strategy }

// TTL возвращает время жизни блокировки.
func (s *Scheduler) TTL() time.Duration { return s.ttl }

// Backend возвращает хранилище блокировок.
func (s *Scheduler) Backend() LockBackend { return s.backend }

const (
	taskOwnerPrefix = "task:"
	planOwnerPrefix = "plan:"
)

func taskOwner(taskID uuid.UUID) string { return taskOwnerPrefix + taskID.String() }
func planOwner(planID uuid.UUID) string { return planOwnerPrefix + planID.String() }

// Owner — владелец блокировки в разобранном виде.
//
// Raw хранится в backend'е как есть; TaskID заполнен для fine-блокировки,
// PlanID для coarse. Чужой формат оставляет оба поля пустыми.
type Owner struct {
	Raw    string
	TaskID uuid.UUID
	PlanID uuid.UUID
}

// ParseOwner разбирает строку владельца из backend'а.
func ParseOwner(raw string) Owner {
	o := Owner{Raw: raw}
	if rest, ok := strings.CutPrefix(raw, taskOwnerPrefix); ok {
		if id, err := uuid.Parse(rest); err == nil {
			o.TaskID = id
		}
	} else if rest, ok := strings.CutPrefix(raw, planOwnerPrefix); ok {
		if id, err := uuid.Parse(rest); err == nil {
			o.PlanID = id
		}
	}
	return o
}

func conflictError(tenant, raw string) *domain.ConflictError {
	owner := ParseOwner(raw)
	ce := &domain.ConflictError{TenantID: tenant}
	if owner.TaskID != uuid.Nil {
		ce.OwnerTaskID = owner.TaskID.String()
	}
	if owner.PlanID != uuid.Nil {
		ce.OwnerPlanID = owner.PlanID.String()
	}
	return ce
}

// AdmitPlan допускает план к выполнению.
//
// В fine-режиме всегда успешен и ничего не захватывает.
// В coarse-режиме захватывает все tenant'ы плана атомарно; если хоть
// один занят, план отклоняется целиком с *domain.ConflictError.
func (s *Scheduler) AdmitPlan(ctx context.Context, planID uuid.UUID, claims []Claim) error {
	if s.strategy != StrategyCoarse || len(claims) == 0 {
		return nil
	}

	owner := planOwner(planID)
	tenants := make([]string, len(claims))
	for i, c := range claims {
		tenants[i] = c.TenantID
	}

	locked, err := s.acquireAll(ctx, tenants, owner)
	if err != nil {
		return err
	}
	if len(locked) > 0 {
		s.metrics.ObserveConflict(string(s.strategy))
		s.logger.Info("plan rejected: tenants locked",
			"plan_id", planID,
			"tenants", locked,
		)
		return &domain.ConflictError{TenantID: locked[0], Tenants: locked}
	}

	now := time.Now().UTC()
	s.mu.Lock()
	for _, c := range claims {
		s.held[c.TenantID] = Lock{TenantID: c.TenantID, Owner: owner, PlanID: planID, TaskID: c.TaskID, AcquiredAt: now}
	}
	s.mu.Unlock()
	s.metrics.LockAcquired(len(claims))

	return nil
}

// acquireAll захватывает набор tenant'ов «всё или ничего».
// Backend без MultiAcquirer обслуживается последовательным захватом
// с откатом уже взятых блокировок.
func (s *Scheduler) acquireAll(ctx context.Context, tenants []string, owner string) ([]string, error) {
	if ma, ok := s.backend.(MultiAcquirer); ok {
		return ma.TryAcquireAll(ctx, tenants, owner, s.ttl)
	}

	var acquired, locked []string
	for _, t := range tenants {
		ok, err := s.backend.TryAcquire(ctx, t, owner, s.ttl)
		if err != nil {
			s.releaseAll(ctx, acquired, owner)
			return nil, err
		}
		if !ok {
			locked = append(locked, t)
			continue
		}
		acquired = append(acquired, t)
	}
	if len(locked) > 0 {
		s.releaseAll(ctx, acquired, owner)
	}
	return locked, nil
}

func (s *Scheduler) releaseAll(ctx context.Context, tenants []string, owner string) {
	for _, t := range tenants {
		if err := s.backend.Release(ctx, t, owner); err != nil {
			s.logger.Warn("failed to release lock", "tenant_id", t, "error", err)
		}
	}
}

// Register закрепляет tenant за задачей перед её запуском.
//
// fine: вставка «если отсутствует»; занятый tenant — *domain.ConflictError
// с владельцем. Повторная регистрация той же задачи успешна.
// coarse: проверяет, что блокировка по-прежнему принадлежит плану;
// свободный tenant (истёкший TTL, рестарт с memory-backend'ом) захватывается заново.
func (s *Scheduler) Register(ctx context.Context, planID uuid.UUID, claim Claim) error {
	if s.strategy == StrategyCoarse {
		owner, ok, err := s.backend.Owner(ctx, claim.TenantID)
		if err != nil {
			return err
		}
		if !ok {
			owner = planOwner(planID)
			acquired, err := s.backend.TryAcquire(ctx, claim.TenantID, owner, s.ttl)
			if err != nil {
				return err
			}
			if !acquired {
				owner, _, err = s.backend.Owner(ctx, claim.TenantID)
				if err != nil {
					return err
				}
			}
		}
		if owner != planOwner(planID) {
			s.metrics.ObserveConflict(string(s.strategy))
			return conflictError(claim.TenantID, owner)
		}
		// После рестарта блокировка плана есть в backend'е, но не в учёте процесса
		s.mu.Lock()
		if _, exists := s.held[claim.TenantID]; !exists {
			s.held[claim.TenantID] = Lock{
				TenantID: claim.TenantID, Owner: owner, PlanID: planID, TaskID: claim.TaskID, AcquiredAt: time.Now().UTC(),
			}
			s.metrics.LockAcquired(1)
		}
		s.mu.Unlock()
		return nil
	}

	owner := taskOwner(claim.TaskID)
	ok, err := s.backend.TryAcquire(ctx, claim.TenantID, owner, s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		current, _, err := s.backend.Owner(ctx, claim.TenantID)
		if err != nil {
			return err
		}
		if current != owner {
			s.metrics.ObserveConflict(string(s.strategy))
			return conflictError(claim.TenantID, current)
		}
	}

	s.mu.Lock()
	if _, exists := s.held[claim.TenantID]; !exists {
		s.metrics.LockAcquired(1)
	}
	s.held[claim.TenantID] = Lock{
		TenantID: claim.TenantID, Owner: owner, PlanID: planID, TaskID: claim.TaskID, AcquiredAt: time.Now().UTC(),
	}
	s.mu.Unlock()
	return nil
}

// Release снимает блокировку задачи. Идемпотентен.
func (s *Scheduler) Release(ctx context.Context, planID uuid.UUID, claim Claim) error {
	owner := taskOwner(claim.TaskID)
	if s.strategy == StrategyCoarse {
		owner = planOwner(planID)
	}
	return s.release(ctx, claim.TenantID, owner)
}

// ReleasePlan снимает все блокировки плана, удерживаемые процессом. Идемпотентен.
func (s *Scheduler) ReleasePlan(ctx context.Context, planID uuid.UUID) error {
	s.mu.RLock()
	var locks []Lock
	for _, l := range s.held {
		if l.PlanID == planID {
			locks = append(locks, l)
		}
	}
	s.mu.RUnlock()

	var firstErr error
	for _, l := range locks {
		if err := s.release(ctx, l.TenantID, l.Owner); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) release(ctx context.Context, tenant, owner string) error {
	if err := s.backend.Release(ctx, tenant, owner); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.held[tenant]; ok && l.Owner == owner {
		delete(s.held, tenant)
		s.metrics.LockReleased(1)
	}
	return nil
}

// ConflictingOwner возвращает владельца блокировки tenant'а, если она есть.
func (s *Scheduler) ConflictingOwner(ctx context.Context, tenant string) (Owner, bool, error) {
	raw, ok, err := s.backend.Owner(ctx, tenant)
	if err != nil || !ok {
		return Owner{}, false, err
	}
	return ParseOwner(raw), true, nil
}

// Held возвращает блокировки, удерживаемые процессом, отсортированные по tenant.
func (s *Scheduler) Held() []Lock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lock, 0, len(s.held))
	for _, l := range s.held {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b Lock) int { return cmp.Compare(a.TenantID, b.TenantID) })
	return out
}

// forget удаляет блокировку из локального учёта (блокировка потеряна).
func (s *Scheduler) forget(tenant, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.held[tenant]; ok && l.Owner == owner {
		delete(s.held, tenant)
		s.metrics.LockReleased(1)
	}
}
