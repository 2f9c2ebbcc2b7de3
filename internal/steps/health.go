package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/pipeline"
)

// VersionHeader — заголовок, в котором endpoint сообщает активную версию.
const VersionHeader = "X-Config-Version"

// HealthCheckStep опрашивает GET {endpoint}/healthz, пока все endpoint'ы
// не ответят 2xx с ожидаемой версией.
//
// Версия берётся из заголовка X-Config-Version или поля "version"
// JSON-ответа; если endpoint её не сообщает, достаточно статуса.
// После исчерпания попыток ошибка неустранимая. Rollback — no-op.
type HealthCheckStep struct {
	client *endpointClient
	poll   pipeline.RetryPolicy
	fanout int
	sleep  func(ctx context.Context, d time.Duration) error
}

// HealthCheckConfig — конфигурация HealthCheckStep.
type HealthCheckConfig struct {
	Client  *http.Client
	Limiter *rate.Limiter
	Timeout time.Duration

	// Attempts — число опросов (default: 5).
	Attempts int

	// Interval — пауза между опросами (default: 2s).
	Interval time.Duration

	// Backoff — fixed или exponential (default: fixed).
	Backoff string

	Fanout int
}

// NewHealthCheckStep создаёт HealthCheckStep.
func NewHealthCheckStep(cfg HealthCheckConfig) *HealthCheckStep {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Backoff == "" {
		cfg.Backoff = pipeline.BackoffFixed
	}
	return &HealthCheckStep{
		client: newEndpointClient(cfg.Client, cfg.Limiter, cfg.Timeout),
		poll: pipeline.RetryPolicy{
			MaxAttempts:  cfg.Attempts,
			Backoff:      cfg.Backoff,
			InitialDelay: cfg.Interval,
			MaxDelay:     cfg.Interval * 16,
		},
		fanout: cfg.Fanout,
		sleep:  wait,
	}
}

// Name возвращает имя шага.
func (s *HealthCheckStep) Name() string { return "health-check" }

// Execute опрашивает endpoint'ы до успеха или исчерпания попыток.
func (s *HealthCheckStep) Execute(ctx context.Context, rc *pipeline.RuntimeContext) error {
	pending := rc.Endpoints
	var lastErr error

	for attempt := 1; attempt <= s.poll.MaxAttempts; attempt++ {
		var unhealthy []string
		errs := forEachEndpointAll(ctx, pending, s.fanout, func(ctx context.Context, ep string) error {
			return s.checkEndpoint(ctx, ep, rc.DeployUnit.Version)
		})
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, err := range errs {
			if err == nil {
				continue
			}
			if !domain.IsRetryable(err) && !IsHTTPError(err) && !isUnhealthy(err) {
				// Невалидный адрес и подобное не лечатся ожиданием.
				return err
			}
			unhealthy = append(unhealthy, pending[i])
			lastErr = err
		}
		if len(unhealthy) == 0 {
			return nil
		}
		pending = unhealthy

		if attempt == s.poll.MaxAttempts {
			break
		}
		delay := s.poll.Delay(attempt)
		rc.Logger().Debug("endpoints not healthy yet",
			"unhealthy", len(pending),
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &domain.StepFatalError{
		Stage:    StageVerify,
		Step:     s.Name(),
		Attempts: s.poll.MaxAttempts,
		Err:      fmt.Errorf("%w: %d endpoint(s): %v", ErrUnhealthy, len(pending), lastErr),
	}
}

// Rollback ничего не делает: проверка не меняет состояние.
func (s *HealthCheckStep) Rollback(context.Context, *pipeline.RuntimeContext) error {
	return nil
}

// healthBody — необязательное JSON-тело ответа /healthz.
type healthBody struct {
	Version string `json:"version"`
}

func (s *HealthCheckStep) checkEndpoint(ctx context.Context, endpoint, want string) error {
	target, err := endpointURL(endpoint, "healthz")
	if err != nil {
		return err
	}

	resp, err := s.client.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if err := classifyStatus(target, resp.StatusCode, trimBody(resp.Body)); err != nil {
		return err
	}

	got := resp.Header.Get(VersionHeader)
	if got == "" && len(resp.Body) > 0 {
		var hb healthBody
		if json.Unmarshal(resp.Body, &hb) == nil {
			got = hb.Version
		}
	}
	if got != "" && got != want {
		return fmt.Errorf("%w: %s: want %s, got %s", ErrVersionMismatch, endpoint, want, got)
	}
	return nil
}

func isUnhealthy(err error) bool {
	return err != nil && (errors.Is(err, ErrUnhealthy) || errors.Is(err, ErrVersionMismatch))
}

// wait ждёт d или отмены ctx.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
