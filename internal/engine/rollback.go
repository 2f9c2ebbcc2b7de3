package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/pipeline"
)

// rollback переводит задачу FAILED → ROLLING_BACK и откатывает стадии.
//
// Порядок: сначала justExecuted (стадия, выполненная, но не попавшая
// в checkpoint), затем стадии checkpoint'а в порядке, обратном
// завершению. Упавшая стадия не откатывается. Откат best-effort:
// ошибка одной стадии не останавливает остальные.
func (e *Engine) rollback(
	ctx context.Context,
	task *domain.Task,
	p *pipeline.Pipeline,
	rc *pipeline.RuntimeContext,
	ctl *control,
	failedStage string,
	cause error,
	justExecuted *pipeline.Stage,
) Outcome {
	out := Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Err: cause}
	kind := domain.KindOf(cause)

	if err := task.Fail(kind, failedStage, cause.Error(), false); err != nil {
		out.Status = task.Status()
		return out
	}
	e.emit(task, domain.EventTaskFailed, failedStage, cause.Error(), kind)

	if err := task.BeginRollback(); err != nil {
		out.Status = task.Status()
		return out
	}
	e.emit(task, domain.EventTaskRollingBack, failedStage, "", kind)

	var order []string
	if justExecuted != nil {
		order = append(order, justExecuted.Name)
	}
	order = append(order, reverseCompleted(task)...)

	rc.Logger().Info("rolling back", "failed_stage", failedStage, "stages", order)
	return e.undo(ctx, task, p, rc, ctl, failedStage, cause, kind, order)
}

// resumeRollback доводит до конца откат, прерванный падением процесса.
//
// Задача восстановлена в ROLLING_BACK (или FAILED до начала отката);
// откатываются стадии её checkpoint'а в порядке, обратном завершению.
// Стадии, откатанные до падения, откатываются повторно: Rollback шагов
// идемпотентен.
func (e *Engine) resumeRollback(
	ctx context.Context,
	task *domain.Task,
	p *pipeline.Pipeline,
	rc *pipeline.RuntimeContext,
	ctl *control,
) Outcome {
	failedStage, kind, reason := "", domain.ErrorKindStepFatal, "rollback interrupted by restart"
	if f := task.Failure(); f != nil {
		failedStage, kind, reason = f.Stage, f.Kind, f.Reason
	}
	cause := fmt.Errorf("%w: %s", ErrRollbackResumed, reason)

	if task.Status() == domain.TaskStatusFailed {
		if err := task.BeginRollback(); err != nil {
			return Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Status: task.Status(), Err: err}
		}
		e.emit(task, domain.EventTaskRollingBack, failedStage, "", kind)
	}

	order := reverseCompleted(task)
	rc.Logger().Info("rollback resumed after restart", "failed_stage", failedStage, "stages", order)
	return e.undo(ctx, task, p, rc, ctl, failedStage, cause, kind, order)
}

// reverseCompleted возвращает стадии checkpoint'а в порядке, обратном завершению.
func reverseCompleted(task *domain.Task) []string {
	cp := task.Checkpoint()
	if cp == nil {
		return nil
	}
	names := slices.Clone(cp.CompletedStageNames)
	slices.Reverse(names)
	return names
}

// undo откатывает стадии order у задачи в ROLLING_BACK и выставляет
// итог: ROLLBACK_COMPLETE либо FAILED с отчётом о частичном откате.
func (e *Engine) undo(
	ctx context.Context,
	task *domain.Task,
	p *pipeline.Pipeline,
	rc *pipeline.RuntimeContext,
	ctl *control,
	failedStage string,
	cause error,
	kind domain.ErrorKind,
	order []string,
) Outcome {
	out := Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Err: cause}
	logger := rc.Logger()

	// Откат доводится до конца и при остановке процесса.
	rbCtx := context.WithoutCancel(ctx)

	report := domain.RollbackReport{Attempted: true}
	for i, name := range order {
		if _, cancelled, reason, _ := ctl.state(); cancelled {
			logger.Info("rollback interrupted by cancel", "remaining", order[i:])
			return e.cancel(task, reason)
		}

		stage, err := p.Stage(name)
		if err == nil {
			err = stage.Rollback(rbCtx, rc)
		}
		if err != nil {
			report.NotRolledBack = append(report.NotRolledBack, name)
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[name] = err.Error()
			e.emit(task, domain.EventStageRollbackFailed, name, err.Error(), domain.ErrorKindRollbackPartial)
			logger.Error("stage rollback failed", "stage", name, "error", err)
			continue
		}

		report.RolledBack = append(report.RolledBack, name)
		e.emit(task, domain.EventStageRolledBack, name, "", domain.ErrorKindNone)
	}

	if len(report.NotRolledBack) == 0 {
		if err := task.CompleteRollback(report); err != nil {
			out.Status = task.Status()
			out.Err = fmt.Errorf("%w (complete rollback: %v)", cause, err)
			return out
		}
		if err := e.checkpoints.Clear(rbCtx, task); err != nil {
			logger.Warn("failed to clear checkpoint after rollback", "error", err)
		}

		e.emit(task, domain.EventTaskRolledBack, failedStage, cause.Error(), kind)
		e.metrics.ObserveRollback("complete")
		e.metrics.ObserveTaskOutcome(string(domain.TaskStatusRollbackComplete))
		logger.Info("rollback complete", "rolled_back", report.RolledBack)

		out.Status = domain.TaskStatusRollbackComplete
		return out
	}

	// Checkpoint сохраняется для ручного разбора.
	if err := task.FailRollback(report); err != nil {
		out.Status = task.Status()
		return out
	}
	partial := &domain.RollbackPartialFailure{TaskID: task.ID(), Report: report}
	e.emit(task, domain.EventTaskRollbackFailed, failedStage, partial.Error(), domain.ErrorKindRollbackPartial)
	e.metrics.ObserveRollback("partial")
	e.metrics.ObserveTaskOutcome(string(domain.TaskStatusFailed))
	logger.Error("rollback incomplete",
		"rolled_back", report.RolledBack,
		"not_rolled_back", report.NotRolledBack,
	)

	out.Status = domain.TaskStatusFailed
	out.Err = partial
	return out
}
