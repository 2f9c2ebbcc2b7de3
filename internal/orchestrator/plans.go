package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/conflict"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
)

// CreatePlanRequest — запрос на создание плана.
type CreatePlanRequest struct {
	// PlanID — id плана; uuid.Nil — сгенерировать.
	PlanID uuid.UUID

	// MaxConcurrency — лимит параллельных задач; 0 — по умолчанию.
	MaxConcurrency int

	// Tenants — конфигурации tenant'ов, по одной задаче на каждый.
	Tenants []domain.TenantConfig
}

// CreatePlan создаёт план и его задачи.
//
// В coarse-режиме план атомарно захватывает все свои tenant'ы; при
// конфликте возвращается *domain.ConflictError и ничего не сохраняется.
func (o *Orchestrator) CreatePlan(ctx context.Context, req CreatePlanRequest) (PlanView, error) {
	if o.IsStopped() {
		return PlanView{}, ErrOrchestratorStopped
	}

	plan, tasks, err := domain.BuildPlan(req.PlanID, req.MaxConcurrency, req.Tenants)
	if err != nil {
		return PlanView{}, err
	}

	if o.getPlan(plan.ID()) != nil {
		return PlanView{}, fmt.Errorf("%w: %s", ErrPlanExists, plan.ID())
	}

	claims := make([]conflict.Claim, len(tasks))
	for i, t := range tasks {
		claims[i] = claimOf(t)
	}
	if err := o.conflicts.AdmitPlan(ctx, plan.ID(), claims); err != nil {
		return PlanView{}, err
	}

	state := NewPlanState(plan, tasks)
	if err := o.addPlan(state); err != nil {
		o.releasePlanLocks(plan.ID())
		return PlanView{}, fmt.Errorf("%w: %s", err, plan.ID())
	}
	if err := o.persist(ctx, state); err != nil {
		o.removePlan(state)
		o.releasePlanLocks(plan.ID())
		return PlanView{}, err
	}

	o.metrics.PlanSubmitted()
	o.logger.Info("plan created",
		"plan_id", plan.ID(),
		"tasks", len(tasks),
		"max_concurrency", plan.MaxConcurrency(),
	)

	return state.View(), nil
}

// StartPlan запускает план: допускает задачи в порядке добавления и
// отдаёт их в scheduler. Задача, tenant которой занят, пропускается.
func (o *Orchestrator) StartPlan(ctx context.Context, planID uuid.UUID) (PlanView, error) {
	if o.IsStopped() {
		return PlanView{}, ErrOrchestratorStopped
	}

	state, err := o.lookupPlan(planID)
	if err != nil {
		return PlanView{}, err
	}

	if err := state.Plan.Start(); err != nil {
		return PlanView{}, err
	}
	o.emitPlan(state.Plan, domain.EventPlanStarted, "", domain.ErrorKindNone)
	o.logger.Info("plan started", "plan_id", planID)

	o.admit(ctx, state, state.Tasks())
	o.persistQuietly(state)

	return state.View(), nil
}

// SubmitPlan создаёт план и, если start, сразу запускает его.
func (o *Orchestrator) SubmitPlan(ctx context.Context, req CreatePlanRequest, start bool) (PlanView, error) {
	view, err := o.CreatePlan(ctx, req)
	if err != nil || !start {
		return view, err
	}
	return o.StartPlan(ctx, view.Plan.ID)
}

// PausePlan приостанавливает план. Выполняемые задачи встают на паузу
// на ближайшей границе стадии, ещё не начатые — сразу после старта.
func (o *Orchestrator) PausePlan(ctx context.Context, planID uuid.UUID) (PlanView, error) {
	state, err := o.lookupPlan(planID)
	if err != nil {
		return PlanView{}, err
	}

	if err := state.Plan.Pause(); err != nil {
		return PlanView{}, err
	}
	o.emitPlan(state.Plan, domain.EventPlanPaused, "", domain.ErrorKindNone)
	o.logger.Info("plan paused", "plan_id", planID)

	o.persistQuietly(state)
	return state.View(), nil
}

// ResumePlan возобновляет приостановленный план.
// Задачи, приостановленные отдельно через PauseTask, остаются на паузе.
func (o *Orchestrator) ResumePlan(ctx context.Context, planID uuid.UUID) (PlanView, error) {
	state, err := o.lookupPlan(planID)
	if err != nil {
		return PlanView{}, err
	}

	if err := state.Plan.Resume(); err != nil {
		return PlanView{}, err
	}
	for _, t := range state.Tasks() {
		// Неактивные задачи (в очереди или завершённые) будить не нужно
		_ = o.engine.Wake(t.ID())
	}
	o.emitPlan(state.Plan, domain.EventPlanResumed, "", domain.ErrorKindNone)
	o.logger.Info("plan resumed", "plan_id", planID)

	o.persistQuietly(state)
	return state.View(), nil
}

// CancelPlan отменяет план и все его незавершённые задачи без отката.
// Повторная отмена — no-op.
func (o *Orchestrator) CancelPlan(ctx context.Context, planID uuid.UUID, reason string) (PlanView, error) {
	state, err := o.lookupPlan(planID)
	if err != nil {
		return PlanView{}, err
	}

	if state.Plan.Status() == domain.PlanStatusCancelled {
		return state.View(), nil
	}
	if err := state.Plan.Cancel(reason); err != nil {
		return PlanView{}, err
	}
	o.emitPlan(state.Plan, domain.EventPlanCancelled, state.Plan.Reason(), domain.ErrorKindCancelled)
	o.logger.Info("plan cancelled", "plan_id", planID, "reason", state.Plan.Reason())

	for _, t := range state.Tasks() {
		if t.IsFinished() || t.IsSkipped() {
			continue
		}
		if err := o.cancelTask(state, t, state.Plan.Reason()); err != nil {
			o.logger.Warn("failed to cancel task",
				"plan_id", planID,
				"task_id", t.ID(),
				"error", err,
			)
		}
	}

	o.persistQuietly(state)
	// Без выполняемых задач план финализируется сразу, иначе — последней задачей
	o.maybeFinalize(state)

	return state.View(), nil
}

// PauseTask приостанавливает выполняемую задачу на ближайшей границе стадии.
func (o *Orchestrator) PauseTask(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	_, task, err := o.lookupTask(taskID)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	if err := o.engine.Pause(taskID); err != nil {
		return domain.TaskSnapshot{}, o.controlError(task, err)
	}
	return task.Snapshot(), nil
}

// ResumeTask снимает паузу задачи.
func (o *Orchestrator) ResumeTask(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	_, task, err := o.lookupTask(taskID)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	if err := o.engine.Resume(taskID); err != nil {
		return domain.TaskSnapshot{}, o.controlError(task, err)
	}
	return task.Snapshot(), nil
}

// CancelTask отменяет задачу. Ещё не начатая задача отменяется сразу,
// выполняемая — на ближайшей границе стадии.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID uuid.UUID, reason string) (domain.TaskSnapshot, error) {
	state, task, err := o.lookupTask(taskID)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	if err := o.cancelTask(state, task, reason); err != nil {
		return domain.TaskSnapshot{}, err
	}
	o.logger.Info("task cancel requested", "plan_id", state.PlanID(), "task_id", taskID)

	o.persistQuietly(state)
	o.maybeFinalize(state)
	return task.Snapshot(), nil
}

func (o *Orchestrator) controlError(task *domain.Task, err error) error {
	if errors.Is(err, engine.ErrTaskNotActive) {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotRunning, task.ID(), task.Status())
	}
	return err
}

// GetPlan возвращает план с задачами.
func (o *Orchestrator) GetPlan(ctx context.Context, planID uuid.UUID) (PlanView, error) {
	state, err := o.lookupPlan(planID)
	if err != nil {
		return PlanView{}, err
	}
	return state.View(), nil
}

// ListPlans возвращает планы, новые первыми.
func (o *Orchestrator) ListPlans(ctx context.Context, filter PlanFilter) []domain.PlanSnapshot {
	var out []domain.PlanSnapshot
	for _, s := range o.states() {
		snap := s.Plan.Snapshot()
		if !filter.Match(snap) {
			continue
		}
		out = append(out, snap)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// ListTasks возвращает задачи плана, опционально отфильтрованные по статусу.
func (o *Orchestrator) ListTasks(ctx context.Context, planID uuid.UUID, statuses ...domain.TaskStatus) ([]domain.TaskSnapshot, error) {
	state, err := o.lookupPlan(planID)
	if err != nil {
		return nil, err
	}
	all := state.TaskSnapshots()
	if len(statuses) == 0 {
		return all, nil
	}
	out := make([]domain.TaskSnapshot, 0, len(all))
	for _, t := range all {
		for _, st := range statuses {
			if t.Status == st {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// GetTask возвращает задачу.
func (o *Orchestrator) GetTask(ctx context.Context, taskID uuid.UUID) (domain.TaskSnapshot, error) {
	_, task, err := o.lookupTask(taskID)
	if err != nil {
		return domain.TaskSnapshot{}, err
	}
	return task.Snapshot(), nil
}

// TenantLock — состояние блокировки tenant'а.
//
// Owner — строка владельца как в backend'е, OwnerTaskID и OwnerPlanID
// разобраны из неё.
type TenantLock struct {
	TenantID    string `json:"tenant_id"`
	Locked      bool   `json:"locked"`
	Owner       string `json:"owner,omitempty"`
	OwnerTaskID string `json:"owner_task_id,omitempty"`
	OwnerPlanID string `json:"owner_plan_id,omitempty"`
}

// TenantLock возвращает текущего владельца блокировки tenant'а.
func (o *Orchestrator) TenantLock(ctx context.Context, tenantID string) (TenantLock, error) {
	owner, ok, err := o.conflicts.ConflictingOwner(ctx, tenantID)
	if err != nil {
		return TenantLock{}, err
	}
	lock := TenantLock{TenantID: tenantID, Locked: ok, Owner: owner.Raw}
	if owner.TaskID != uuid.Nil {
		lock.OwnerTaskID = owner.TaskID.String()
	}
	if owner.PlanID != uuid.Nil {
		lock.OwnerPlanID = owner.PlanID.String()
	}
	return lock, nil
}

// Locks возвращает блокировки, удерживаемые процессом.
func (o *Orchestrator) Locks() []conflict.Lock {
	return o.conflicts.Held()
}

// RemovePlan удаляет завершённый план, его задачи и оставшиеся checkpoint'ы.
func (o *Orchestrator) RemovePlan(ctx context.Context, planID uuid.UUID) error {
	state, err := o.lookupPlan(planID)
	if err != nil {
		return err
	}
	if !state.Plan.Status().IsTerminal() || !state.IsFinalized() {
		return fmt.Errorf("%w: %s is %s", ErrPlanNotTerminal, planID, state.Plan.Status())
	}

	// После частичного отката checkpoint сохраняется до удаления плана
	for _, t := range state.Tasks() {
		if err := o.checkpoints.Clear(ctx, t); err != nil {
			return err
		}
	}
	if err := o.store.DeletePlan(ctx, planID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	o.removePlan(state)

	o.logger.Info("plan removed", "plan_id", planID)
	return nil
}
