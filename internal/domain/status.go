package domain

// PlanStatus — статус плана развёртывания.
//
// Жизненный цикл:
//
//	CREATED → READY → RUNNING ⇄ PAUSED
//	                     ↘ COMPLETED / FAILED / CANCELLED
//	(CANCELLED достижим из любого нетерминального статуса)
type PlanStatus string

const (
	// PlanStatusCreated — план создан, задач ещё нет.
	PlanStatusCreated PlanStatus = "CREATED"

	// PlanStatusReady — у плана есть хотя бы одна задача, можно запускать.
	PlanStatusReady PlanStatus = "READY"

	// PlanStatusRunning — задачи плана выполняются.
	PlanStatusRunning PlanStatus = "RUNNING"

	// PlanStatusPaused — план приостановлен оператором.
	PlanStatusPaused PlanStatus = "PAUSED"

	// PlanStatusCompleted — все допущенные задачи завершились успешно.
	PlanStatusCompleted PlanStatus = "COMPLETED"

	// PlanStatusFailed — хотя бы одна задача завершилась неудачей (по политике).
	PlanStatusFailed PlanStatus = "FAILED"

	// PlanStatusCancelled — план отменён.
	PlanStatusCancelled PlanStatus = "CANCELLED"
)

// planTransitions — допустимые переходы плана.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusCreated: {PlanStatusReady, PlanStatusCancelled},
	PlanStatusReady:   {PlanStatusRunning, PlanStatusCancelled},
	PlanStatusRunning: {PlanStatusPaused, PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled},
	PlanStatusPaused:  {PlanStatusRunning, PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled},
}

// IsTerminal возвращает true, если статус финальный.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет переход по таблице состояний плана.
func (s PlanStatus) CanTransitionTo(to PlanStatus) bool {
	for _, allowed := range planTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// String возвращает строковое представление PlanStatus.
func (s PlanStatus) String() string {
	return string(s)
}

// TaskStatus — статус задачи развёртывания одного tenant'а.
//
// Жизненный цикл:
//
//	PENDING → RUNNING ⇄ PAUSED
//	             ↘ COMPLETED
//	             ↘ FAILED → ROLLING_BACK → ROLLBACK_COMPLETE
//	                             ↘ FAILED (частичный откат)
//	(CANCELLED достижим из любого нетерминального статуса)
type TaskStatus string

const (
	// TaskStatusPending — задача создана и ждёт запуска.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — engine проходит по стадиям.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusPaused — задача остановлена на границе стадии.
	TaskStatusPaused TaskStatus = "PAUSED"

	// TaskStatusCompleted — все стадии выполнены.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — фатальная ошибка стадии (или неполный откат).
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusRollingBack — откат завершённых стадий в обратном порядке.
	TaskStatusRollingBack TaskStatus = "ROLLING_BACK"

	// TaskStatusRollbackComplete — все завершённые стадии откачены.
	TaskStatusRollbackComplete TaskStatus = "ROLLBACK_COMPLETE"

	// TaskStatusCancelled — задача отменена, откат не выполнялся.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// taskTransitions — допустимые переходы задачи (без CANCELLED,
// который разрешён из любого нетерминального статуса).
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:     {TaskStatusRunning},
	TaskStatusRunning:     {TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusPaused:      {TaskStatusRunning},
	TaskStatusFailed:      {TaskStatusRollingBack},
	TaskStatusRollingBack: {TaskStatusRollbackComplete, TaskStatusFailed},
}

// IsTerminal возвращает true, если из статуса нет исходящих переходов.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusRollbackComplete:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет переход по таблице состояний задачи.
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if to == TaskStatusCancelled {
		return true
	}
	for _, allowed := range taskTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// String возвращает строковое представление TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// ParseTaskStatus парсит строку в TaskStatus.
// Неизвестное значение возвращает false.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch st := TaskStatus(s); st {
	case TaskStatusPending, TaskStatusRunning, TaskStatusPaused, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusRollingBack, TaskStatusRollbackComplete, TaskStatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// ParsePlanStatus парсит строку в PlanStatus.
func ParsePlanStatus(s string) (PlanStatus, bool) {
	switch st := PlanStatus(s); st {
	case PlanStatusCreated, PlanStatusReady, PlanStatusRunning, PlanStatusPaused,
		PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return st, true
	default:
		return "", false
	}
}
