package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TenantConfig — входная конфигурация развёртывания одного tenant'а.
type TenantConfig struct {
	TenantID             string            `json:"tenant_id" yaml:"tenant_id"`
	DeployUnit           DeployUnit        `json:"deploy_unit" yaml:"deploy_unit"`
	Endpoints            []string          `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Previous             *ConfigSnapshot   `json:"previous,omitempty" yaml:"previous,omitempty"`
	LastKnownGoodVersion string            `json:"last_known_good_version,omitempty" yaml:"last_known_good_version,omitempty"`
	Properties           map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Validate проверяет форму конфигурации (не её содержимое).
func (c TenantConfig) Validate() error {
	if c.TenantID == "" {
		return NewValidationError("tenant_id", "required")
	}
	if c.DeployUnit.ID == "" {
		return NewValidationError("deploy_unit.id", fmt.Sprintf("required for tenant %s", c.TenantID))
	}
	if c.DeployUnit.Version == "" {
		return NewValidationError("deploy_unit.version", fmt.Sprintf("required for tenant %s", c.TenantID))
	}
	return nil
}

// BuildPlan создаёт план и его задачи из списка конфигураций tenant'ов.
//
// Один tenant может встречаться в плане только один раз.
// Если planID == uuid.Nil, генерируется новый.
func BuildPlan(planID uuid.UUID, maxConcurrency int, configs []TenantConfig) (*Plan, []*Task, error) {
	if len(configs) == 0 {
		return nil, nil, NewValidationError("tenants", "at least one tenant config required")
	}
	if planID == uuid.Nil {
		planID = uuid.New()
	}

	plan, err := NewPlan(planID, maxConcurrency)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]struct{}, len(configs))
	tasks := make([]*Task, 0, len(configs))

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		if _, dup := seen[cfg.TenantID]; dup {
			return nil, nil, NewValidationError("tenant_id", fmt.Sprintf("tenant %s listed twice", cfg.TenantID))
		}
		seen[cfg.TenantID] = struct{}{}

		task := NewTask(uuid.New(), planID, cfg)
		if err := plan.AddTask(task.ID()); err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, task)
	}

	return plan, tasks, nil
}
