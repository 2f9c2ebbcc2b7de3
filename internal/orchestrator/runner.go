package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/pipeline"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// admit допускает задачи плана и ставит их в scheduler.
//
// Завершённые и уже пропущенные задачи не трогаются. Задача, tenant
// которой занят (или чью блокировку не удалось проверить), пропускается
// и не влияет на итог плана.
func (o *Orchestrator) admit(ctx context.Context, state *PlanState, tasks []*domain.Task) {
	planID := state.PlanID()
	limit := state.Plan.MaxConcurrency()

	state.BeginAdmission()
	for _, task := range tasks {
		if task.IsFinished() || task.IsSkipped() {
			continue
		}

		if err := o.conflicts.Register(ctx, planID, claimOf(task)); err != nil {
			if task.Status() == domain.TaskStatusPending {
				o.skipTask(task, err)
				continue
			}
			// Задача уже выполнялась до рестарта: продолжаем, но предупреждаем
			o.logger.Warn("tenant lock lost by running task",
				"plan_id", planID,
				"task_id", task.ID(),
				"tenant_id", task.TenantID(),
				"error", err,
			)
		}

		state.Admit(task.ID())
		t := task
		o.tasks.Submit(o.runCtx, planID, limit, func(ctx context.Context) {
			o.runTask(ctx, state, t)
		})
	}
	state.EndAdmission()

	o.maybeFinalize(state)
}

// skipTask помечает задачу пропущенной из-за конфликта tenant'а.
func (o *Orchestrator) skipTask(task *domain.Task, cause error) {
	reason := fmt.Sprintf("tenant %s not admitted: %v", task.TenantID(), cause)
	if err := task.MarkSkipped(reason); err != nil {
		o.logger.Warn("failed to mark task skipped", "task_id", task.ID(), "error", err)
		return
	}

	kind := domain.KindOf(cause)
	if kind == domain.ErrorKindNone {
		kind = domain.ErrorKindInternal
	}
	o.emitTask(task, domain.EventTaskSkipped, reason, kind)
	o.logger.Info("task skipped",
		"plan_id", task.PlanID(),
		"task_id", task.ID(),
		"tenant_id", task.TenantID(),
		"reason", reason,
	)
}

// runTask — job scheduler'а: строит конвейер и выполняет задачу.
func (o *Orchestrator) runTask(ctx context.Context, state *PlanState, task *domain.Task) {
	// Остановка до старта: задача остаётся как есть и будет подхвачена Recover
	if ctx.Err() != nil {
		return
	}

	logger := telemetry.WithTenantID(
		telemetry.WithTaskID(telemetry.WithPlanID(o.logger, state.PlanID().String()), task.ID().String()),
		task.TenantID(),
	)

	var out engine.Outcome
	p, err := o.pipeline(task)
	if err != nil {
		out = o.failBuild(task, err)
	} else {
		out = o.engine.Run(ctx, task, p, pipeline.NewRuntimeContext(task, logger))
	}

	o.onTaskDone(state, task, out)
}

// failBuild завершает задачу, для которой не удалось построить конвейер.
func (o *Orchestrator) failBuild(task *domain.Task, cause error) engine.Outcome {
	out := engine.Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Err: cause}
	if task.Status() == domain.TaskStatusCancelled {
		out.Status = domain.TaskStatusCancelled
		out.Err = nil
		return out
	}
	if task.Status() == domain.TaskStatusPending {
		if err := task.Start(); err != nil {
			out.Status = task.Status()
			out.Err = errors.Join(cause, err)
			return out
		}
	}

	reason := "build pipeline: " + cause.Error()
	if err := task.Fail(domain.ErrorKindValidation, "", reason, true); err != nil {
		out.Status = task.Status()
		out.Err = errors.Join(cause, err)
		return out
	}
	o.emitTask(task, domain.EventTaskFailed, reason, domain.ErrorKindValidation)
	o.metrics.ObserveTaskOutcome(string(domain.TaskStatusFailed))

	out.Status = domain.TaskStatusFailed
	return out
}

// onTaskDone снимает блокировку tenant'а завершённой задачи и
// финализирует план, если это была последняя допущенная задача.
func (o *Orchestrator) onTaskDone(state *PlanState, task *domain.Task, out engine.Outcome) {
	if out.Interrupted {
		// Блокировка и checkpoint остаются до восстановления
		o.persistQuietly(state)
		return
	}

	if out.Err != nil && !out.Final() {
		o.logger.Error("task ended in non-final state",
			"plan_id", state.PlanID(),
			"task_id", task.ID(),
			"status", out.Status,
			"error", out.Err,
		)
	}

	if !o.releaseTask(state, task) {
		// Задача отменена до запуска, блокировка уже снята
		return
	}
	o.persistQuietly(state)
	o.maybeFinalize(state)
}

// releaseTask отмечает задачу завершившейся и снимает блокировку её
// tenant'а. Для каждой задачи срабатывает один раз; повторный вызов
// возвращает false.
func (o *Orchestrator) releaseTask(state *PlanState, task *domain.Task) bool {
	if !state.MarkFinished(task.ID()) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.opTimeout)
	defer cancel()
	if err := o.conflicts.Release(ctx, state.PlanID(), claimOf(task)); err != nil {
		o.logger.Warn("failed to release tenant lock",
			"tenant_id", task.TenantID(),
			"task_id", task.ID(),
			"error", err,
		)
	}
	return true
}

// cancelTask отменяет задачу через движок. Задачу, ещё не запущенную
// движком (в том числе ждущую слота в очереди), движок отменяет сразу;
// её блокировка снимается здесь, не дожидаясь job'а.
func (o *Orchestrator) cancelTask(state *PlanState, task *domain.Task, reason string) error {
	stopped, err := o.engine.Cancel(task, reason)
	if err != nil {
		return err
	}
	if stopped {
		o.releaseTask(state, task)
	}
	return nil
}

// maybeFinalize финализирует план ровно один раз, когда все допущенные
// задачи завершились.
func (o *Orchestrator) maybeFinalize(state *PlanState) {
	// План, который ещё не запускали, финализирует только отмена
	switch state.Plan.Status() {
	case domain.PlanStatusCreated, domain.PlanStatusReady:
		return
	}
	if state.ClaimFinalize() {
		o.finalize(state)
	}
}

// finalize вычисляет итог плана и снимает все его блокировки.
func (o *Orchestrator) finalize(state *PlanState) {
	plan := state.Plan
	planID := state.PlanID()

	if !plan.Status().IsTerminal() {
		d := o.policy.Decide(state.TaskSnapshots())
		var err error
		switch d.Status {
		case domain.PlanStatusFailed:
			if err = plan.Fail(d.Kind, d.Reason); err == nil {
				o.emitPlan(plan, domain.EventPlanFailed, d.Reason, d.Kind)
			}
		default:
			if err = plan.Complete(d.Reason); err == nil {
				o.emitPlan(plan, domain.EventPlanCompleted, d.Reason, domain.ErrorKindNone)
			}
		}
		if err != nil {
			o.logger.Error("failed to finalize plan", "plan_id", planID, "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.opTimeout)
	defer cancel()
	if err := o.conflicts.ReleasePlan(ctx, planID); err != nil {
		o.logger.Warn("failed to release plan locks", "plan_id", planID, "error", err)
	}
	if dropped := o.tasks.Forget(planID); dropped > 0 {
		o.logger.Warn("queued tasks dropped on finalize", "plan_id", planID, "dropped", dropped)
	}

	o.metrics.ObservePlanOutcome(string(plan.Status()))
	o.persistQuietly(state)

	o.logger.Info("plan finished",
		"plan_id", planID,
		"status", plan.Status(),
		"reason", plan.Reason(),
	)
}

// releasePlanLocks снимает блокировки плана, который не удалось зарегистрировать.
func (o *Orchestrator) releasePlanLocks(planID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opTimeout)
	defer cancel()
	if err := o.conflicts.ReleasePlan(ctx, planID); err != nil {
		o.logger.Warn("failed to release plan locks", "plan_id", planID, "error", err)
	}
}
