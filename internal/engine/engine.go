package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/checkpoint"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/event"
	"github.com/shaiso/Rollout/internal/pipeline"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Outcome — результат выполнения задачи движком.
type Outcome struct {
	TaskID   uuid.UUID
	TenantID string

	// Status — статус задачи после выхода из Run.
	Status domain.TaskStatus

	// Err — причина неуспеха (nil для COMPLETED и CANCELLED).
	Err error

	// Interrupted — выполнение остановлено отменой ctx (остановка процесса).
	// Задача осталась RUNNING/PAUSED с сохранённым checkpoint'ом.
	Interrupted bool
}

// Final возвращает true, если задача достигла итогового статуса.
func (o Outcome) Final() bool {
	if o.Interrupted {
		return false
	}
	return o.Status.IsTerminal() || o.Status == domain.TaskStatusFailed
}

// Config — конфигурация Engine.
type Config struct {
	Checkpoints *checkpoint.Manager
	Sink        event.Sink
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger

	// Hold удерживает задачу на паузе независимо от её собственных
	// сигналов (например, пока приостановлен план). Может быть nil.
	Hold func(task *domain.Task) bool
}

// Engine проводит задачи через стадии конвейера.
//
// Engine безопасен для одновременного выполнения многих задач:
// состояние каждой задачи живёт в её агрегате и RuntimeContext.
type Engine struct {
	checkpoints *checkpoint.Manager
	sink        event.Sink
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	hold        func(task *domain.Task) bool

	// controls — сигналы выполняемых задач (taskID → control)
	controls map[uuid.UUID]*control
	mu       sync.RWMutex
}

// New создаёт Engine. Checkpoints обязателен.
func New(cfg Config) (*Engine, error) {
	if cfg.Checkpoints == nil {
		return nil, ErrNilCheckpoints
	}
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		checkpoints: cfg.Checkpoints,
		sink:        sink,
		metrics:     cfg.Metrics,
		logger:      telemetry.WithComponent(logger, "engine"),
		hold:        cfg.Hold,
		controls:    make(map[uuid.UUID]*control),
	}, nil
}

// Run выполняет задачу до итогового статуса, отмены или остановки ctx.
//
// Порядок работы:
//  1. PENDING → RUNNING (PAUSED → RUNNING, восстановленная RUNNING — без перехода)
//  2. Стадии из checkpoint'а пропускаются, выполнение продолжается со следующей
//  3. На каждой границе стадии проверяются отмена, пауза и предикат пропуска
//  4. После успешной стадии checkpoint синхронно сохраняется и только потом
//     задача переходит к следующей стадии
//  5. Фатальная ошибка запускает откат завершённых стадий в обратном порядке
//
// Задача, восстановленная в ROLLING_BACK или в FAILED до начала отката,
// не выполняет стадии: её откат доводится до конца.
//
// Checkpoint восстанавливается вызывающим (checkpoint.Manager.Restore) до Run.
func (e *Engine) Run(ctx context.Context, task *domain.Task, p *pipeline.Pipeline, rc *pipeline.RuntimeContext) Outcome {
	out := Outcome{TaskID: task.ID(), TenantID: task.TenantID()}
	if p == nil {
		out.Status = task.Status()
		out.Err = ErrNilPipeline
		return out
	}
	if rc == nil {
		rc = pipeline.NewRuntimeContext(task, e.logger)
	}
	logger := rc.Logger()

	ctl := e.register(task.ID())
	defer e.unregister(task.ID())

	switch task.Status() {
	case domain.TaskStatusPending:
		if err := task.Start(); err != nil {
			out.Status = task.Status()
			out.Err = err
			return out
		}
		logger.Info("task started", "deploy_unit", rc.DeployUnit.ID, "version", rc.DeployUnit.Version)
		e.emit(task, domain.EventTaskStarted, "", "", domain.ErrorKindNone)
	case domain.TaskStatusPaused, domain.TaskStatusRunning:
		logger.Info("task resumed after restart", "status", task.Status())
	case domain.TaskStatusFailed, domain.TaskStatusRollingBack:
		if !task.IsFinished() {
			return e.resumeRollback(ctx, task, p, rc, ctl)
		}
		fallthrough
	default:
		// Задача уже отменена или завершена
		out.Status = task.Status()
		if out.Status != domain.TaskStatusCancelled {
			out.Err = &domain.StateConflictError{
				Entity: "task", ID: task.ID(), From: string(out.Status), To: string(domain.TaskStatusRunning),
			}
		}
		return out
	}

	var completed []string
	if cp := task.Checkpoint(); cp != nil {
		completed = slices.Clone(cp.CompletedStageNames)
	}

	for _, stage := range p.Stages() {
		if slices.Contains(completed, stage.Name) {
			continue
		}

		if res, stop := e.boundary(ctx, task, ctl, rc); stop {
			return res
		}

		if stage.ShouldSkip(rc) {
			logger.Debug("stage skipped by predicate", "stage", stage.Name)
			continue
		}

		e.emit(task, domain.EventStageStarted, stage.Name, "", domain.ErrorKindNone)
		started := time.Now()
		err := stage.Execute(ctx, rc)

		if err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return e.interrupted(task, stage.Name)
			}

			e.metrics.ObserveStage(stage.Name, "failed", time.Since(started))
			kind := domain.KindOf(err)
			e.emit(task, domain.EventStageFailed, stage.Name, err.Error(), kind)
			logger.Warn("stage failed", "stage", stage.Name, "kind", kind, "error", err)

			if kind == domain.ErrorKindValidation {
				return e.failWithoutRollback(task, stage.Name, err)
			}
			return e.rollback(ctx, task, p, rc, ctl, stage.Name, err, nil)
		}
		e.metrics.ObserveStage(stage.Name, "succeeded", time.Since(started))

		next := append(slices.Clone(completed), stage.Name)
		if _, err := e.checkpoints.Record(ctx, task, next, len(next)-1); err != nil {
			if ctx.Err() != nil {
				// Стадия будет выполнена повторно после рестарта
				return e.interrupted(task, stage.Name)
			}
			logger.Error("checkpoint not persisted, aborting", "stage", stage.Name, "error", err)
			return e.rollback(ctx, task, p, rc, ctl, stage.Name, err, stage)
		}
		completed = next

		e.emit(task, domain.EventStageSucceeded, stage.Name, "", domain.ErrorKindNone)
		logger.Debug("stage completed", "stage", stage.Name, "duration", time.Since(started))
	}

	// Последняя граница: отмена/пауза после последней стадии
	if res, stop := e.boundary(ctx, task, ctl, rc); stop {
		return res
	}

	if err := task.Complete(); err != nil {
		out.Status = task.Status()
		out.Err = err
		return out
	}
	if err := e.checkpoints.Clear(ctx, task); err != nil {
		logger.Warn("failed to clear checkpoint", "error", err)
	}

	e.emit(task, domain.EventTaskCompleted, "", "", domain.ErrorKindNone)
	e.metrics.ObserveTaskOutcome(string(domain.TaskStatusCompleted))
	logger.Info("task completed", "duration", task.Duration())

	out.Status = domain.TaskStatusCompleted
	return out
}

// boundary обрабатывает сигналы на границе стадий.
// Возвращает stop=true, если выполнение нужно прекратить.
func (e *Engine) boundary(ctx context.Context, task *domain.Task, ctl *control, rc *pipeline.RuntimeContext) (Outcome, bool) {
	for {
		if ctx.Err() != nil {
			return e.interrupted(task, ""), true
		}

		paused, cancelled, reason, wake := ctl.state()
		if cancelled {
			return e.cancel(task, reason), true
		}
		if !paused && e.hold != nil {
			paused = e.hold(task)
		}

		if !paused {
			if task.Status() == domain.TaskStatusPaused {
				if err := task.Resume(); err != nil {
					return Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Status: task.Status(), Err: err}, true
				}
				rc.Logger().Info("task resumed")
				e.emit(task, domain.EventTaskResumed, "", "", domain.ErrorKindNone)
			}
			return Outcome{}, false
		}

		if task.Status() == domain.TaskStatusRunning {
			if err := task.Pause(); err != nil {
				return Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Status: task.Status(), Err: err}, true
			}
			rc.Logger().Info("task paused")
			e.emit(task, domain.EventTaskPaused, "", "", domain.ErrorKindNone)
		}

		select {
		case <-wake:
		case <-ctx.Done():
		}
	}
}

// cancel переводит задачу в CANCELLED без отката.
func (e *Engine) cancel(task *domain.Task, reason string) Outcome {
	out := Outcome{TaskID: task.ID(), TenantID: task.TenantID()}
	if reason == "" {
		reason = "cancelled"
	}
	if err := task.Cancel(reason); err != nil {
		out.Status = task.Status()
		out.Err = err
		return out
	}

	e.emit(task, domain.EventTaskCancelled, "", reason, domain.ErrorKindCancelled)
	e.metrics.ObserveTaskOutcome(string(domain.TaskStatusCancelled))
	e.logger.Info("task cancelled", "task_id", task.ID(), "reason", reason)

	out.Status = domain.TaskStatusCancelled
	return out
}

// interrupted — ctx отменён: задача остаётся как есть, checkpoint сохранён.
func (e *Engine) interrupted(task *domain.Task, stage string) Outcome {
	e.logger.Warn("task interrupted",
		"task_id", task.ID(),
		"status", task.Status(),
		"stage", stage,
	)
	return Outcome{
		TaskID:      task.ID(),
		TenantID:    task.TenantID(),
		Status:      task.Status(),
		Err:         ErrInterrupted,
		Interrupted: true,
	}
}

// failWithoutRollback завершает задачу ошибкой валидации. Откат не выполняется.
func (e *Engine) failWithoutRollback(task *domain.Task, stage string, cause error) Outcome {
	out := Outcome{TaskID: task.ID(), TenantID: task.TenantID(), Err: cause}
	if err := task.Fail(domain.ErrorKindValidation, stage, cause.Error(), true); err != nil {
		out.Status = task.Status()
		out.Err = errors.Join(cause, err)
		return out
	}

	e.emit(task, domain.EventTaskFailed, stage, cause.Error(), domain.ErrorKindValidation)
	e.metrics.ObserveTaskOutcome(string(domain.TaskStatusFailed))

	out.Status = domain.TaskStatusFailed
	return out
}

func (e *Engine) emit(task *domain.Task, typ domain.EventType, stage, reason string, kind domain.ErrorKind) {
	e.sink.Publish(domain.NewTaskEvent(task, typ, stage, reason, kind))
}
