package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
)

// Стратегии задержки между попытками.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy — политика локальных повторов временных ошибок шага.
type RetryPolicy struct {
	// MaxAttempts — общее число попыток, включая первую (< 1 трактуется как 1).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Backoff — "fixed" или "exponential".
	Backoff string `json:"backoff" yaml:"backoff"`

	// InitialDelay — задержка перед второй попыткой.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
}

// DefaultRetryPolicy — три попытки с экспоненциальной задержкой от 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// attempts возвращает эффективное число попыток.
func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay вычисляет задержку перед попыткой attempt+1 (attempt начинается с 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	initialDelay := p.InitialDelay
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch p.Backoff {
	case BackoffExponential:
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// retryStep — декоратор шага с локальными повторами.
type retryStep struct {
	Step
	policy RetryPolicy
	stage  string
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry оборачивает шаг: временные ошибки повторяются до исчерпания
// бюджета, после чего превращаются в *domain.StepFatalError.
// Rollback не повторяется.
func WithRetry(step Step, policy RetryPolicy) Step {
	return &retryStep{Step: step, policy: policy, sleep: sleepContext}
}

func (r *retryStep) Execute(ctx context.Context, rc *RuntimeContext) error {
	maxAttempts := r.policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := r.Step.Execute(ctx, rc)
		if err == nil {
			return nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := r.policy.Delay(attempt)
		if rc != nil {
			rc.Logger().Debug("retrying step",
				"step", r.Name(),
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}

		// Ждём с учётом context
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &domain.StepFatalError{
		Stage:    r.stage,
		Step:     r.Name(),
		Attempts: maxAttempts,
		Err:      unwrapTransient(lastErr),
	}
}

func unwrapTransient(err error) error {
	var te *domain.TransientStepError
	if errors.As(err, &te) {
		return te.Err
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
