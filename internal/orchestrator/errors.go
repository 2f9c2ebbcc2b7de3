package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrPlanNotFound — план не найден ни в памяти, ни в хранилище.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTaskNotFound — задача не найдена.
	ErrTaskNotFound = errors.New("task not found")

	// ErrPlanExists — план с таким id уже зарегистрирован.
	ErrPlanExists = errors.New("plan already exists")

	// ErrPlanNotTerminal — операция допустима только для завершённого плана.
	ErrPlanNotTerminal = errors.New("plan is not in a terminal status")

	// ErrTaskNotRunning — пауза/возобновление задачи, которую engine не выполняет.
	ErrTaskNotRunning = errors.New("task is not running")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")

	// ErrMissingDependency — в Config не передан обязательный компонент.
	ErrMissingDependency = errors.New("missing orchestrator dependency")
)
