package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrorKind — структурный вид ошибки, который видит пользователь
// вместе с текстовой причиной.
type ErrorKind string

const (
	ErrorKindNone                  ErrorKind = ""
	ErrorKindValidation            ErrorKind = "VALIDATION"
	ErrorKindConflict              ErrorKind = "CONFLICT"
	ErrorKindTransientStep         ErrorKind = "TRANSIENT_STEP"
	ErrorKindStepFatal             ErrorKind = "STEP_FATAL"
	ErrorKindCheckpointPersistence ErrorKind = "CHECKPOINT_PERSISTENCE"
	ErrorKindRollbackPartial       ErrorKind = "ROLLBACK_PARTIAL"
	ErrorKindStateConflict         ErrorKind = "STATE_CONFLICT"
	ErrorKindCancelled             ErrorKind = "CANCELLED"
	ErrorKindInternal              ErrorKind = "INTERNAL"
)

// Базовые ошибки для errors.Is.
var (
	// ErrValidation — некорректная форма входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrConflict — tenant уже занят другой задачей.
	ErrConflict = errors.New("tenant conflict")

	// ErrTransientStep — временная ошибка шага, допускает retry.
	ErrTransientStep = errors.New("transient step error")

	// ErrStepFatal — неустранимая ошибка шага, запускает откат.
	ErrStepFatal = errors.New("fatal step error")

	// ErrCheckpointPersistence — не удалось сохранить/загрузить checkpoint.
	ErrCheckpointPersistence = errors.New("checkpoint persistence failed")

	// ErrRollbackPartial — часть стадий не удалось откатить.
	ErrRollbackPartial = errors.New("rollback partially failed")

	// ErrStateConflict — недопустимый переход состояния.
	ErrStateConflict = errors.New("illegal state transition")

	// ErrNotFound — план или задача не найдены.
	ErrNotFound = errors.New("not found")
)

// ValidationError — ошибка формы входных данных. Никогда не вызывает откат.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError создаёт ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError — tenant(ы) уже заняты другими задачами.
type ConflictError struct {
	// TenantID — первый конфликтующий tenant.
	TenantID string

	// OwnerTaskID — задача, которая владеет tenant'ом (если известна).
	OwnerTaskID string

	// OwnerPlanID — план-владелец при coarse-блокировке.
	OwnerPlanID string

	// Tenants — все конфликтующие tenant'ы (coarse-grained проверка плана).
	Tenants []string
}

func (e *ConflictError) Error() string {
	if len(e.Tenants) > 1 {
		return fmt.Sprintf("tenants already locked: %s", strings.Join(e.Tenants, ", "))
	}
	if e.OwnerTaskID != "" {
		return fmt.Sprintf("tenant %s already locked by task %s", e.TenantID, e.OwnerTaskID)
	}
	if e.OwnerPlanID != "" {
		return fmt.Sprintf("tenant %s already locked by plan %s", e.TenantID, e.OwnerPlanID)
	}
	return fmt.Sprintf("tenant %s already locked", e.TenantID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransientStepError — ошибка, которую шаг повторяет локально.
type TransientStepError struct {
	Err error
}

// Transient помечает ошибку как временную (retryable).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientStepError{Err: err}
}

func (e *TransientStepError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientStepError) Unwrap() []error { return []error{ErrTransientStep, e.Err} }

// StepFatalError — неустранимая ошибка шага внутри стадии.
type StepFatalError struct {
	Stage    string
	Step     string
	Attempts int
	Err      error
}

func (e *StepFatalError) Error() string {
	msg := fmt.Sprintf("stage %q step %q failed", e.Stage, e.Step)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepFatalError) Unwrap() []error { return []error{ErrStepFatal, e.Err} }

// CheckpointPersistenceError — системная ошибка хранилища checkpoint'ов.
type CheckpointPersistenceError struct {
	TaskID uuid.UUID
	Stage  string
	Op     string
	Err    error
}

func (e *CheckpointPersistenceError) Error() string {
	msg := fmt.Sprintf("checkpoint %s failed for task %s", e.Op, e.TaskID)
	if e.Stage != "" {
		msg += fmt.Sprintf(" at stage %q", e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CheckpointPersistenceError) Unwrap() []error {
	return []error{ErrCheckpointPersistence, e.Err}
}

// RollbackPartialFailure — откат выполнен не для всех стадий.
type RollbackPartialFailure struct {
	TaskID uuid.UUID
	Report RollbackReport
}

func (e *RollbackPartialFailure) Error() string {
	return fmt.Sprintf("task %s: rollback incomplete, rolled back %v, not rolled back %v",
		e.TaskID, e.Report.RolledBack, e.Report.NotRolledBack)
}

func (e *RollbackPartialFailure) Unwrap() error { return ErrRollbackPartial }

// StateConflictError — попытка недопустимого перехода.
type StateConflictError struct {
	Entity string
	ID     uuid.UUID
	From   string
	To     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: illegal transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// KindOf классифицирует ошибку.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrConflict):
		return ErrorKindConflict
	case errors.Is(err, ErrCheckpointPersistence):
		return ErrorKindCheckpointPersistence
	case errors.Is(err, ErrRollbackPartial):
		return ErrorKindRollbackPartial
	case errors.Is(err, ErrStateConflict):
		return ErrorKindStateConflict
	case errors.Is(err, ErrStepFatal):
		return ErrorKindStepFatal
	case errors.Is(err, ErrTransientStep):
		return ErrorKindTransientStep
	default:
		return ErrorKindInternal
	}
}

// IsRetryable возвращает true для временных ошибок шага.
// Fatal-обёртка имеет приоритет: исчерпанный retry не повторяется.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrStepFatal) {
		return false
	}
	return errors.Is(err, ErrTransientStep)
}
