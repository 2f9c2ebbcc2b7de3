package domain

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Plan — пакет задач развёртывания, которые запускаются и
// отслеживаются вместе.
//
// Plan создаётся фабрикой BuildPlan, меняется только оркестратором
// через бизнес-методы и хранится, пока вызывающий явно не удалит его.
type Plan struct {
	mu sync.RWMutex

	id     uuid.UUID
	status PlanStatus

	// taskIDs — уникальные id задач в порядке добавления.
	taskIDs []uuid.UUID

	// maxConcurrency — лимит одновременно выполняемых задач (0 — по умолчанию).
	maxConcurrency int

	reason    string
	errorKind ErrorKind
	sequence  uint64

	createdAt  time.Time
	startedAt  *time.Time
	finishedAt *time.Time
}

// NewPlan создаёт план в статусе CREATED.
func NewPlan(id uuid.UUID, maxConcurrency int) (*Plan, error) {
	if maxConcurrency < 0 {
		return nil, NewValidationError("max_concurrency", "must be >= 0")
	}
	return &Plan{
		id:             id,
		status:         PlanStatusCreated,
		maxConcurrency: maxConcurrency,
		createdAt:      time.Now().UTC(),
	}, nil
}

// ID возвращает идентификатор плана.
func (p *Plan) ID() uuid.UUID { return p.id }

// MaxConcurrency возвращает настроенный лимит параллельности.
func (p *Plan) MaxConcurrency() int { return p.maxConcurrency }

// Status возвращает текущий статус.
func (p *Plan) Status() PlanStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// TaskIDs возвращает копию списка задач в порядке добавления.
func (p *Plan) TaskIDs() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.taskIDs)
}

// Reason возвращает человекочитаемую причину финального статуса.
func (p *Plan) Reason() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reason
}

// NextSequence возвращает следующий номер события плана.
func (p *Plan) NextSequence() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequence++
	return p.sequence
}

func (p *Plan) transition(to PlanStatus) error {
	if !p.status.CanTransitionTo(to) {
		return &StateConflictError{Entity: "plan", ID: p.id, From: string(p.status), To: string(to)}
	}
	now := time.Now().UTC()
	if to == PlanStatusRunning && p.startedAt == nil {
		p.startedAt = &now
	}
	if to.IsTerminal() {
		p.finishedAt = &now
	}
	p.status = to
	return nil
}

// AddTask добавляет задачу. Первая задача переводит план CREATED → READY.
func (p *Plan) AddTask(taskID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != PlanStatusCreated && p.status != PlanStatusReady {
		return &StateConflictError{Entity: "plan", ID: p.id, From: string(p.status), To: "ADD_TASK"}
	}
	if slices.Contains(p.taskIDs, taskID) {
		return NewValidationError("task_ids", "duplicate task "+taskID.String())
	}

	p.taskIDs = append(p.taskIDs, taskID)
	if p.status == PlanStatusCreated {
		return p.transition(PlanStatusReady)
	}
	return nil
}

// Start переводит план READY → RUNNING.
// План без задач не может быть запущен.
func (p *Plan) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.taskIDs) == 0 {
		return NewValidationError("task_ids", "plan has no tasks")
	}
	return p.transition(PlanStatusRunning)
}

// Pause переводит план RUNNING → PAUSED.
func (p *Plan) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(PlanStatusPaused)
}

// Resume переводит план PAUSED → RUNNING.
func (p *Plan) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(PlanStatusRunning)
}

// Complete переводит план в COMPLETED.
func (p *Plan) Complete(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transition(PlanStatusCompleted); err != nil {
		return err
	}
	p.reason = reason
	p.errorKind = ErrorKindNone
	return nil
}

// Fail переводит план в FAILED.
func (p *Plan) Fail(kind ErrorKind, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.transition(PlanStatusFailed); err != nil {
		return err
	}
	p.reason = reason
	p.errorKind = kind
	return nil
}

// Cancel переводит план в CANCELLED. Повторная отмена — no-op.
func (p *Plan) Cancel(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == PlanStatusCancelled {
		return nil
	}
	if err := p.transition(PlanStatusCancelled); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled"
	}
	p.reason = reason
	p.errorKind = ErrorKindCancelled
	return nil
}

// PlanSnapshot — плоское представление плана для хранения и API.
type PlanSnapshot struct {
	ID             uuid.UUID   `json:"id"`
	Status         PlanStatus  `json:"status"`
	TaskIDs        []uuid.UUID `json:"task_ids"`
	MaxConcurrency int         `json:"max_concurrency"`
	Reason         string      `json:"reason,omitempty"`
	ErrorKind      ErrorKind   `json:"error_kind,omitempty"`
	Sequence       uint64      `json:"sequence"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
}

// Snapshot возвращает согласованный снимок плана.
func (p *Plan) Snapshot() PlanSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PlanSnapshot{
		ID:             p.id,
		Status:         p.status,
		TaskIDs:        slices.Clone(p.taskIDs),
		MaxConcurrency: p.maxConcurrency,
		Reason:         p.reason,
		ErrorKind:      p.errorKind,
		Sequence:       p.sequence,
		CreatedAt:      p.createdAt,
		StartedAt:      copyTime(p.startedAt),
		FinishedAt:     copyTime(p.finishedAt),
	}
}

// RestorePlan восстанавливает агрегат из снимка.
func RestorePlan(s PlanSnapshot) *Plan {
	return &Plan{
		id:             s.ID,
		status:         s.Status,
		taskIDs:        slices.Clone(s.TaskIDs),
		maxConcurrency: s.MaxConcurrency,
		reason:         s.Reason,
		errorKind:      s.ErrorKind,
		sequence:       s.Sequence,
		createdAt:      s.CreatedAt,
		startedAt:      copyTime(s.StartedAt),
		finishedAt:     copyTime(s.FinishedAt),
	}
}
