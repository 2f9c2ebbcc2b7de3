package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeployUnit — разворачиваемая единица конфигурации tenant'а.
type DeployUnit struct {
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
}

// ConfigSnapshot — последняя известная рабочая конфигурация tenant'а.
// Используется только для отката.
type ConfigSnapshot struct {
	DeployUnit DeployUnit `json:"deploy_unit" yaml:"deploy_unit"`
	Endpoints  []string   `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// Failure — причина неуспешного завершения задачи.
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Stage  string    `json:"stage,omitempty"`
	Reason string    `json:"reason"`
}

// Task — развёртывание одного tenant'а внутри плана.
//
// Task — агрегат: поля закрыты, состояние меняется только через
// бизнес-методы, каждый из которых проверяет таблицу переходов.
// Методы потокобезопасны: engine и API работают с задачей одновременно.
type Task struct {
	mu sync.RWMutex

	id       uuid.UUID
	planID   uuid.UUID
	tenantID string

	status TaskStatus

	deployUnit           DeployUnit
	endpoints            []string
	previousConfig       *ConfigSnapshot
	lastKnownGoodVersion string

	checkpoint *TaskCheckpoint

	failure    *Failure
	rollback   *RollbackReport
	skipReason string
	reason     string

	sequence uint64

	createdAt  time.Time
	startedAt  *time.Time
	finishedAt *time.Time
}

// NewTask создаёт задачу в статусе PENDING.
func NewTask(id, planID uuid.UUID, cfg TenantConfig) *Task {
	var prev *ConfigSnapshot
	if cfg.Previous != nil {
		p := *cfg.Previous
		p.Endpoints = append([]string(nil), p.Endpoints...)
		prev = &p
	}

	return &Task{
		id:                   id,
		planID:               planID,
		tenantID:             cfg.TenantID,
		status:               TaskStatusPending,
		deployUnit:           cfg.DeployUnit,
		endpoints:            append([]string(nil), cfg.Endpoints...),
		previousConfig:       prev,
		lastKnownGoodVersion: cfg.LastKnownGoodVersion,
		createdAt:            time.Now().UTC(),
	}
}

// ID возвращает идентификатор задачи.
func (t *Task) ID() uuid.UUID { return t.id }

// PlanID возвращает идентификатор плана.
func (t *Task) PlanID() uuid.UUID { return t.planID }

// TenantID возвращает tenant задачи.
func (t *Task) TenantID() string { return t.tenantID }

// DeployUnit возвращает целевую единицу развёртывания.
func (t *Task) DeployUnit() DeployUnit { return t.deployUnit }

// Endpoints возвращает копию сетевых endpoint'ов tenant'а.
func (t *Task) Endpoints() []string {
	return append([]string(nil), t.endpoints...)
}

// PreviousConfig возвращает снимок последней рабочей конфигурации.
func (t *Task) PreviousConfig() *ConfigSnapshot {
	if t.previousConfig == nil {
		return nil
	}
	p := *t.previousConfig
	p.Endpoints = append([]string(nil), p.Endpoints...)
	return &p
}

// LastKnownGoodVersion возвращает последнюю рабочую версию.
func (t *Task) LastKnownGoodVersion() string { return t.lastKnownGoodVersion }

// Status возвращает текущий статус.
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Checkpoint возвращает копию текущего checkpoint'а или nil.
func (t *Task) Checkpoint() *TaskCheckpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.checkpoint == nil {
		return nil
	}
	cp := t.checkpoint.Clone()
	return &cp
}

// Failure возвращает причину неудачи или nil.
func (t *Task) Failure() *Failure {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.failure == nil {
		return nil
	}
	f := *t.failure
	return &f
}

// RollbackReport возвращает отчёт об откате или nil (откат не выполнялся).
func (t *Task) RollbackReport() *RollbackReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rollback == nil {
		return nil
	}
	r := t.rollback.Clone()
	return &r
}

// SkipReason возвращает причину пропуска из-за конфликта tenant'а.
func (t *Task) SkipReason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.skipReason
}

// IsSkipped возвращает true, если задача не была допущена к запуску.
func (t *Task) IsSkipped() bool {
	return t.SkipReason() != ""
}

// IsFinished возвращает true, если задача больше не будет выполняться.
//
// FAILED после попытки отката (или без отката при ошибке валидации)
// финальный: повторный запуск возможен только новой задачей.
func (t *Task) IsFinished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.IsTerminal() || (t.status == TaskStatusFailed && t.finishedAt != nil)
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.startedAt == nil || t.finishedAt == nil {
		return 0
	}
	return t.finishedAt.Sub(*t.startedAt)
}

// NextSequence возвращает следующий номер события задачи.
func (t *Task) NextSequence() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sequence++
	return t.sequence
}

// transition меняет статус после проверки таблицы. Вызывается под t.mu.
func (t *Task) transition(to TaskStatus) error {
	if !t.status.CanTransitionTo(to) {
		return &StateConflictError{Entity: "task", ID: t.id, From: string(t.status), To: string(to)}
	}

	now := time.Now().UTC()
	if to == TaskStatusRunning && t.startedAt == nil {
		t.startedAt = &now
	}
	if to.IsTerminal() {
		t.finishedAt = &now
	}
	t.status = to
	return nil
}

// Start переводит задачу PENDING → RUNNING.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(TaskStatusRunning); err != nil {
		return err
	}
	t.skipReason = ""
	return nil
}

// Pause переводит задачу RUNNING → PAUSED.
func (t *Task) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transition(TaskStatusPaused)
}

// Resume переводит задачу PAUSED → RUNNING.
func (t *Task) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transition(TaskStatusRunning)
}

// Complete переводит задачу RUNNING → COMPLETED.
func (t *Task) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(TaskStatusCompleted); err != nil {
		return err
	}
	t.reason = "all stages completed"
	return nil
}

// Fail переводит задачу RUNNING → FAILED.
//
// final=true означает, что откат выполняться не будет (ошибка валидации):
// задача сразу получает время завершения.
func (t *Task) Fail(kind ErrorKind, stage, reason string, final bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	t.failure = &Failure{Kind: kind, Stage: stage, Reason: reason}
	t.reason = reason
	if final {
		now := time.Now().UTC()
		t.finishedAt = &now
	}
	return nil
}

// BeginRollback переводит задачу FAILED → ROLLING_BACK.
func (t *Task) BeginRollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(TaskStatusRollingBack); err != nil {
		return err
	}
	t.rollback = &RollbackReport{Attempted: true}
	return nil
}

// CompleteRollback переводит задачу ROLLING_BACK → ROLLBACK_COMPLETE.
func (t *Task) CompleteRollback(report RollbackReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(TaskStatusRollbackComplete); err != nil {
		return err
	}
	r := report.Clone()
	r.Attempted = true
	t.rollback = &r
	t.reason = "rolled back: " + t.reason
	return nil
}

// FailRollback переводит задачу ROLLING_BACK → FAILED с отчётом
// о частичном откате. Задача требует ручного вмешательства.
func (t *Task) FailRollback(report RollbackReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	r := report.Clone()
	r.Attempted = true
	t.rollback = &r

	now := time.Now().UTC()
	t.finishedAt = &now

	stage := ""
	if t.failure != nil {
		stage = t.failure.Stage
	}
	partial := &RollbackPartialFailure{TaskID: t.id, Report: r}
	t.failure = &Failure{Kind: ErrorKindRollbackPartial, Stage: stage, Reason: partial.Error()}
	t.reason = partial.Error()
	return nil
}

// Cancel переводит задачу в CANCELLED из любого нетерминального статуса.
// Повторная отмена уже отменённой задачи — no-op.
func (t *Task) Cancel(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == TaskStatusCancelled {
		return nil
	}
	if t.status == TaskStatusFailed && t.finishedAt != nil {
		// FAILED после отката финальный, отменять нечего.
		return &StateConflictError{Entity: "task", ID: t.id, From: string(t.status), To: string(TaskStatusCancelled)}
	}
	if err := t.transition(TaskStatusCancelled); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled"
	}
	t.reason = reason
	t.failure = &Failure{Kind: ErrorKindCancelled, Reason: reason}
	return nil
}

// MarkSkipped фиксирует, что задача не допущена из-за конфликта tenant'а.
// Статус остаётся PENDING.
func (t *Task) MarkSkipped(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskStatusPending {
		return &StateConflictError{Entity: "task", ID: t.id, From: string(t.status), To: "SKIPPED"}
	}
	t.skipReason = reason
	t.reason = reason
	return nil
}

// RecordCheckpoint заменяет checkpoint целиком.
func (t *Task) RecordCheckpoint(cp TaskCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := cp.Clone()
	t.checkpoint = &c
	return nil
}

// RestoreCheckpoint загружает сохранённый checkpoint в агрегат.
// Допустимо только перед (повторным) запуском задачи: PENDING,
// RUNNING/PAUSED задачи, прерванной падением процесса, или задачи,
// откат которой не завершился (ROLLING_BACK, FAILED без FinishedAt).
func (t *Task) RestoreCheckpoint(cp TaskCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.status == TaskStatusPending, t.status == TaskStatusRunning, t.status == TaskStatusPaused:
	case t.status == TaskStatusRollingBack, t.status == TaskStatusFailed && t.finishedAt == nil:
	default:
		return &StateConflictError{Entity: "task", ID: t.id, From: string(t.status), To: "RESTORE_CHECKPOINT"}
	}
	c := cp.Clone()
	t.checkpoint = &c
	return nil
}

// ClearCheckpoint удаляет checkpoint из агрегата.
func (t *Task) ClearCheckpoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoint = nil
}

// TaskSnapshot — плоское представление задачи для хранения и API.
type TaskSnapshot struct {
	ID                   uuid.UUID       `json:"id"`
	PlanID               uuid.UUID       `json:"plan_id"`
	TenantID             string          `json:"tenant_id"`
	Status               TaskStatus      `json:"status"`
	DeployUnit           DeployUnit      `json:"deploy_unit"`
	Endpoints            []string        `json:"endpoints,omitempty"`
	PreviousConfig       *ConfigSnapshot `json:"previous_config,omitempty"`
	LastKnownGoodVersion string          `json:"last_known_good_version,omitempty"`
	Checkpoint           *TaskCheckpoint `json:"checkpoint,omitempty"`
	Failure              *Failure        `json:"failure,omitempty"`
	Rollback             *RollbackReport `json:"rollback,omitempty"`
	SkipReason           string          `json:"skip_reason,omitempty"`
	Reason               string          `json:"reason,omitempty"`
	Sequence             uint64          `json:"sequence"`
	CreatedAt            time.Time       `json:"created_at"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	FinishedAt           *time.Time      `json:"finished_at,omitempty"`
}

// Snapshot возвращает согласованный снимок задачи.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := TaskSnapshot{
		ID:                   t.id,
		PlanID:               t.planID,
		TenantID:             t.tenantID,
		Status:               t.status,
		DeployUnit:           t.deployUnit,
		Endpoints:            append([]string(nil), t.endpoints...),
		LastKnownGoodVersion: t.lastKnownGoodVersion,
		SkipReason:           t.skipReason,
		Reason:               t.reason,
		Sequence:             t.sequence,
		CreatedAt:            t.createdAt,
		StartedAt:            copyTime(t.startedAt),
		FinishedAt:           copyTime(t.finishedAt),
	}
	if t.previousConfig != nil {
		p := *t.previousConfig
		p.Endpoints = append([]string(nil), p.Endpoints...)
		s.PreviousConfig = &p
	}
	if t.checkpoint != nil {
		cp := t.checkpoint.Clone()
		s.Checkpoint = &cp
	}
	if t.failure != nil {
		f := *t.failure
		s.Failure = &f
	}
	if t.rollback != nil {
		r := t.rollback.Clone()
		s.Rollback = &r
	}
	return s
}

// RestoreTask восстанавливает агрегат из снимка (после рестарта).
func RestoreTask(s TaskSnapshot) *Task {
	t := &Task{
		id:                   s.ID,
		planID:               s.PlanID,
		tenantID:             s.TenantID,
		status:               s.Status,
		deployUnit:           s.DeployUnit,
		endpoints:            append([]string(nil), s.Endpoints...),
		lastKnownGoodVersion: s.LastKnownGoodVersion,
		skipReason:           s.SkipReason,
		reason:               s.Reason,
		sequence:             s.Sequence,
		createdAt:            s.CreatedAt,
		startedAt:            copyTime(s.StartedAt),
		finishedAt:           copyTime(s.FinishedAt),
	}
	if s.PreviousConfig != nil {
		p := *s.PreviousConfig
		t.previousConfig = &p
	}
	if s.Checkpoint != nil {
		cp := s.Checkpoint.Clone()
		t.checkpoint = &cp
	}
	if s.Failure != nil {
		f := *s.Failure
		t.failure = &f
	}
	if s.Rollback != nil {
		r := s.Rollback.Clone()
		t.rollback = &r
	}
	return t
}

func copyTime(tm *time.Time) *time.Time {
	if tm == nil {
		return nil
	}
	v := *tm
	return &v
}
