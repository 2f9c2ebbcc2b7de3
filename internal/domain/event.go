package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события жизненного цикла.
type EventType string

// События задачи.
const (
	EventTaskStarted         EventType = "task.started"
	EventStageStarted        EventType = "stage.started"
	EventStageSucceeded      EventType = "stage.succeeded"
	EventStageFailed         EventType = "stage.failed"
	EventTaskPaused          EventType = "task.paused"
	EventTaskResumed         EventType = "task.resumed"
	EventTaskCompleted       EventType = "task.completed"
	EventTaskFailed          EventType = "task.failed"
	EventTaskCancelled       EventType = "task.cancelled"
	EventTaskRollingBack     EventType = "task.rolling_back"
	EventStageRolledBack     EventType = "stage.rolled_back"
	EventStageRollbackFailed EventType = "stage.rollback_failed"
	EventTaskRolledBack      EventType = "task.rolled_back"
	EventTaskRollbackFailed  EventType = "task.rollback_failed"
	EventTaskSkipped         EventType = "task.skipped"
)

// События плана.
const (
	EventPlanStarted   EventType = "plan.started"
	EventPlanPaused    EventType = "plan.paused"
	EventPlanResumed   EventType = "plan.resumed"
	EventPlanCompleted EventType = "plan.completed"
	EventPlanFailed    EventType = "plan.failed"
	EventPlanCancelled EventType = "plan.cancelled"
)

// Event — событие жизненного цикла плана или задачи.
//
// Sequence монотонно растёт в пределах задачи (для событий плана —
// в пределах плана), что позволяет потребителям находить пропуски
// и переупорядочивание.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	PlanID    uuid.UUID `json:"plan_id"`
	TaskID    uuid.UUID `json:"task_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Sequence  uint64    `json:"sequence"`
	Stage     string    `json:"stage,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsPlanEvent возвращает true для событий уровня плана.
func (e Event) IsPlanEvent() bool {
	return e.TaskID == uuid.Nil
}

// NewTaskEvent создаёт событие задачи со следующим номером последовательности.
func NewTaskEvent(task *Task, typ EventType, stage, reason string, kind ErrorKind) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		PlanID:    task.PlanID(),
		TaskID:    task.ID(),
		TenantID:  task.TenantID(),
		Sequence:  task.NextSequence(),
		Stage:     stage,
		Status:    string(task.Status()),
		Reason:    reason,
		ErrorKind: kind,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanEvent создаёт событие плана.
func NewPlanEvent(plan *Plan, typ EventType, reason string, kind ErrorKind) Event {
	return Event{
		ID:        uuid.New(),
		Type:      typ,
		PlanID:    plan.ID(),
		Sequence:  plan.NextSequence(),
		Status:    string(plan.Status()),
		Reason:    reason,
		ErrorKind: kind,
		Timestamp: time.Now().UTC(),
	}
}
