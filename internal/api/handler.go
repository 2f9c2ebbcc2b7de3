package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/conflict"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/orchestrator"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Service — операции оркестратора, доступные через API.
// Реализуется *orchestrator.Orchestrator.
type Service interface {
	SubmitPlan(ctx context.Context, req orchestrator.CreatePlanRequest, start bool) (orchestrator.PlanView, error)
	StartPlan(ctx context.Context, planID uuid.UUID) (orchestrator.PlanView, error)
	PausePlan(ctx context.Context, planID uuid.UUID) (orchestrator.PlanView, error)
	ResumePlan(ctx context.Context, planID uuid.UUID) (orchestrator.PlanView, error)
	CancelPlan(ctx context.Context, planID uuid.UUID, reason string) (orchestrator.PlanView, error)
	GetPlan(ctx context.Context, planID uuid.UUID) (orchestrator.PlanView, error)
	ListPlans(ctx context.Context, filter orchestrator.PlanFilter) []domain.PlanSnapshot
	RemovePlan(ctx context.Context, planID uuid.UUID) error

	ListTasks(ctx context.Context, planID uuid.UUID, statuses ...domain.TaskStatus) ([]domain.TaskSnapshot, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error)
	PauseTask(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error)
	ResumeTask(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error)
	CancelTask(ctx context.Context, taskID uuid.UUID, reason string) (domain.TaskSnapshot, error)

	TenantLock(ctx context.Context, tenantID string) (orchestrator.TenantLock, error)
	Locks() []conflict.Lock

	IsStopped() bool
	QueueStatus() string
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	service Service
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Service Service
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: cfg.Service,
		metrics: cfg.Metrics,
		logger:  telemetry.WithComponent(logger, "api"),
	}
}
