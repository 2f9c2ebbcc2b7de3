package pipeline

import "context"

// Step — единица работы внутри стадии.
//
// Execute и Rollback должны проверять ctx.Done() и быть безопасными
// для повторного вызова: после падения процесса стадия может быть
// выполнена или откачена ещё раз.
type Step interface {
	// Name возвращает имя шага (для логов и ошибок).
	Name() string

	// Execute применяет изменение.
	Execute(ctx context.Context, rc *RuntimeContext) error

	// Rollback отменяет изменение, применённое Execute.
	Rollback(ctx context.Context, rc *RuntimeContext) error
}

// StepFunc — шаг из пары функций. Удобен в тестах и для простых шагов.
type StepFunc struct {
	StepName     string
	ExecuteFunc  func(ctx context.Context, rc *RuntimeContext) error
	RollbackFunc func(ctx context.Context, rc *RuntimeContext) error
}

// Name возвращает имя шага.
func (s *StepFunc) Name() string { return s.StepName }

// Execute вызывает ExecuteFunc (nil — no-op).
func (s *StepFunc) Execute(ctx context.Context, rc *RuntimeContext) error {
	if s.ExecuteFunc == nil {
		return nil
	}
	return s.ExecuteFunc(ctx, rc)
}

// Rollback вызывает RollbackFunc (nil — no-op).
func (s *StepFunc) Rollback(ctx context.Context, rc *RuntimeContext) error {
	if s.RollbackFunc == nil {
		return nil
	}
	return s.RollbackFunc(ctx, rc)
}
