package steps

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/shaiso/Rollout/internal/pipeline"
)

// ConfigDocument — тело запроса PUT {endpoint}/config/{unit}.
type ConfigDocument struct {
	TenantID string `json:"tenant_id"`
	UnitID   string `json:"unit_id"`
	Version  string `json:"version"`
	PlanID   string `json:"plan_id"`
	TaskID   string `json:"task_id"`
	Revert   bool   `json:"revert,omitempty"`
}

// ConfigPushStep доставляет желаемую конфигурацию на endpoint'ы tenant'а.
//
// Execute делает PUT {endpoint}/config/{unit} с версией из задачи.
// Rollback повторяет PUT с предыдущей версией. Повторный PUT той же
// версии идемпотентен.
type ConfigPushStep struct {
	client *endpointClient
	fanout int
}

// ConfigPushConfig — конфигурация ConfigPushStep.
type ConfigPushConfig struct {
	// Client — HTTP клиент (default: &http.Client{}).
	Client *http.Client

	// Limiter — общий ограничитель частоты запросов (nil — без ограничения).
	Limiter *rate.Limiter

	// Timeout — таймаут одного запроса (default: 10s).
	Timeout time.Duration

	// Fanout — параллельность по endpoint'ам (default: 4).
	Fanout int
}

// NewConfigPushStep создаёт ConfigPushStep.
func NewConfigPushStep(cfg ConfigPushConfig) *ConfigPushStep {
	return &ConfigPushStep{
		client: newEndpointClient(cfg.Client, cfg.Limiter, cfg.Timeout),
		fanout: cfg.Fanout,
	}
}

// Name возвращает имя шага.
func (s *ConfigPushStep) Name() string { return "config-push" }

// Execute отправляет новую версию на все endpoint'ы.
func (s *ConfigPushStep) Execute(ctx context.Context, rc *pipeline.RuntimeContext) error {
	doc := ConfigDocument{
		TenantID: rc.TenantID,
		UnitID:   rc.DeployUnit.ID,
		Version:  rc.DeployUnit.Version,
		PlanID:   rc.PlanID.String(),
		TaskID:   rc.TaskID.String(),
	}
	return forEachEndpoint(ctx, rc.Endpoints, s.fanout, func(ctx context.Context, ep string) error {
		return s.push(ctx, ep, doc)
	})
}

// Rollback возвращает предыдущую версию.
//
// Если известен снимок предыдущей конфигурации с другим набором
// endpoint'ов, откатываются endpoint'ы снимка. Без известной предыдущей
// версии откат невозможен и возвращается ошибка.
func (s *ConfigPushStep) Rollback(ctx context.Context, rc *pipeline.RuntimeContext) error {
	version := targetVersion(rc.DeployUnit, rc.Previous, rc.LastKnownGoodVersion)
	if version == "" {
		return fmt.Errorf("%s: no previous version for unit %s", s.Name(), rc.DeployUnit.ID)
	}

	endpoints := rc.Endpoints
	if rc.Previous != nil && len(rc.Previous.Endpoints) > 0 {
		endpoints = rc.Previous.Endpoints
	}

	doc := ConfigDocument{
		TenantID: rc.TenantID,
		UnitID:   rc.DeployUnit.ID,
		Version:  version,
		PlanID:   rc.PlanID.String(),
		TaskID:   rc.TaskID.String(),
		Revert:   true,
	}
	errs := forEachEndpointAll(ctx, endpoints, s.fanout, func(ctx context.Context, ep string) error {
		return s.push(ctx, ep, doc)
	})
	return errors.Join(errs...)
}

func (s *ConfigPushStep) push(ctx context.Context, endpoint string, doc ConfigDocument) error {
	target, err := endpointURL(endpoint, "config", doc.UnitID)
	if err != nil {
		return err
	}

	resp, err := s.client.do(ctx, http.MethodPut, target, doc)
	if err != nil {
		return err
	}
	return classifyStatus(target, resp.StatusCode, trimBody(resp.Body))
}
