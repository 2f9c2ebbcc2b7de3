package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Rollout/internal/domain"
)

// Stage — именованная группа шагов, которая выполняется, checkpoint'ится
// и откатывается целиком.
type Stage struct {
	// Name — уникальное в пределах конвейера имя стадии.
	Name string

	// Steps — шаги в порядке выполнения.
	Steps []Step

	// Skip — предикат пропуска. Пропущенная стадия не попадает в checkpoint.
	Skip func(rc *RuntimeContext) bool

	// Retry — политика повтора временных ошибок (nil — без повторов).
	Retry *RetryPolicy
}

// NewStage создаёт стадию из шагов.
func NewStage(name string, steps ...Step) *Stage {
	return &Stage{Name: name, Steps: steps}
}

// WithRetry задаёт политику повторов и возвращает стадию.
func (s *Stage) WithRetry(policy RetryPolicy) *Stage {
	s.Retry = &policy
	return s
}

// WithSkip задаёт предикат пропуска и возвращает стадию.
func (s *Stage) WithSkip(skip func(rc *RuntimeContext) bool) *Stage {
	s.Skip = skip
	return s
}

// ShouldSkip вычисляет предикат пропуска.
func (s *Stage) ShouldSkip(rc *RuntimeContext) bool {
	return s.Skip != nil && s.Skip(rc)
}

// Execute выполняет шаги по порядку.
//
// Возвращаемая ошибка уже классифицирована: *domain.ValidationError,
// *domain.StepFatalError или ошибка контекста (остановка процесса).
func (s *Stage) Execute(ctx context.Context, rc *RuntimeContext) error {
	policy := RetryPolicy{MaxAttempts: 1}
	if s.Retry != nil {
		policy = *s.Retry
	}

	for _, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		rs := &retryStep{Step: step, policy: policy, stage: s.Name, sleep: sleepContext}
		err := rs.Execute(ctx, rc)
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return ctx.Err()
		case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrStepFatal):
			return err
		default:
			return &domain.StepFatalError{Stage: s.Name, Step: step.Name(), Attempts: 1, Err: err}
		}
	}
	return nil
}

// Rollback откатывает шаги стадии в обратном порядке.
// Откат best-effort: ошибка одного шага не останавливает остальные,
// все ошибки объединяются.
func (s *Stage) Rollback(ctx context.Context, rc *RuntimeContext) error {
	var errs []error
	for i := len(s.Steps) - 1; i >= 0; i-- {
		step := s.Steps[i]
		if err := step.Rollback(ctx, rc); err != nil {
			errs = append(errs, fmt.Errorf("step %q: %w", step.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// validate проверяет форму стадии.
func (s *Stage) validate() error {
	if s == nil || s.Name == "" {
		return ErrEmptyStageName
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyStage, s.Name)
	}
	return nil
}
