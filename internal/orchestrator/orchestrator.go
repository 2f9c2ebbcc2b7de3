package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/checkpoint"
	"github.com/shaiso/Rollout/internal/conflict"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/engine"
	"github.com/shaiso/Rollout/internal/event"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/pipeline"
	"github.com/shaiso/Rollout/internal/scheduler"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Default configuration values.
const (
	defaultOpTimeout = 10 * time.Second
	defaultPrefetch  = 10
)

// Orchestrator управляет планами развёртывания.
//
// Orchestrator — центральный компонент системы, который:
//   - Создаёт планы и допускает их через conflict.Scheduler
//   - Отдаёт допущенные задачи в scheduler с лимитом плана
//   - Запускает задачи через engine
//   - Снимает блокировку tenant'а, как только задача завершилась
//   - Финализирует план, когда завершились все допущенные задачи
type Orchestrator struct {
	engine      *engine.Engine
	conflicts   *conflict.Scheduler
	tasks       *scheduler.Scheduler
	checkpoints *checkpoint.Manager
	pipeline    pipeline.Builder
	store       Store
	sink        event.Sink
	policy      OutcomePolicy
	metrics     *telemetry.Metrics

	// MQ
	conn     *mq.Connection
	prefetch int
	consumer *mq.Consumer

	// plans — планы в памяти (planID → state)
	plans map[uuid.UUID]*PlanState
	// taskIndex — taskID → planID
	taskIndex map[uuid.UUID]uuid.UUID
	mu        sync.RWMutex

	// runCtx — контекст задач; отменяется при Stop
	runCtx    context.Context
	runCancel context.CancelFunc

	opTimeout time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Conflicts — политика блокировок tenant'ов (обязательно).
	Conflicts *conflict.Scheduler

	// Pipeline строит конвейер для задачи (обязательно).
	Pipeline pipeline.Builder

	// Tasks — планировщик задач (default: scheduler.New).
	Tasks *scheduler.Scheduler

	// Checkpoints — менеджер checkpoint'ов (default: в памяти).
	Checkpoints *checkpoint.Manager

	// Store — хранилище снимков (default: MemoryStore).
	Store Store

	// Sink — получатель событий жизненного цикла.
	Sink event.Sink

	// Policy — политика итога плана (default: DefaultOutcomePolicy).
	Policy *OutcomePolicy

	// Conn — соединение с RabbitMQ; если задано, Start слушает plans.submitted.
	Conn     *mq.Connection
	Prefetch int

	// OpTimeout — таймаут служебных операций (снятие блокировок, сохранение).
	OpTimeout time.Duration

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Conflicts == nil {
		return nil, fmt.Errorf("%w: conflict scheduler", ErrMissingDependency)
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("%w: pipeline builder", ErrMissingDependency)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checkpoints := cfg.Checkpoints
	if checkpoints == nil {
		var err error
		checkpoints, err = checkpoint.NewManager(checkpoint.Config{
			Store:   checkpoint.NewMemoryStore(),
			Metrics: cfg.Metrics,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
	}

	tasks := cfg.Tasks
	if tasks == nil {
		tasks = scheduler.New(scheduler.Config{Metrics: cfg.Metrics, Logger: logger})
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard
	}

	policy := DefaultOutcomePolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		conflicts:   cfg.Conflicts,
		tasks:       tasks,
		checkpoints: checkpoints,
		pipeline:    cfg.Pipeline,
		store:       store,
		sink:        sink,
		policy:      policy,
		metrics:     cfg.Metrics,
		conn:        cfg.Conn,
		prefetch:    prefetch,
		plans:       make(map[uuid.UUID]*PlanState),
		taskIndex:   make(map[uuid.UUID]uuid.UUID),
		runCtx:      runCtx,
		runCancel:   runCancel,
		opTimeout:   opTimeout,
		logger:      telemetry.WithComponent(logger, "orchestrator"),
	}

	eng, err := engine.New(engine.Config{
		Checkpoints: checkpoints,
		Sink:        sink,
		Metrics:     cfg.Metrics,
		Logger:      logger,
		Hold:        o.holdTask,
	})
	if err != nil {
		runCancel()
		return nil, err
	}
	o.engine = eng

	return o, nil
}

// Start восстанавливает незавершённые планы из Store и, если задано
// соединение с RabbitMQ, запускает consumer очереди plans.submitted.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"strategy", o.conflicts.Strategy(),
		"default_limit", o.tasks.DefaultLimit(),
	)

	recovered, err := o.Recover(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("recover plans: %w", err)
	}
	if recovered > 0 {
		o.logger.Info("plans recovered", "count", recovered)
	}

	if o.conn != nil {
		o.consumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:          string(mq.QueuePlansSubmitted),
			Handler:        o.handlePlanSubmitted,
			Types:          []mq.MessageType{mq.MessageTypePlanSubmitted},
			Prefetch:       o.prefetch,
			HandlerTimeout: o.opTimeout,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := o.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("plan consumer error", "error", err)
			}
		}()
	}

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
//
// Выполняемые задачи прерываются на ближайшей границе стадии и остаются
// RUNNING/PAUSED с сохранённым checkpoint'ом; Start следующего процесса
// продолжит их.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	if o.stopped {
		o.stoppedMu.Unlock()
		return
	}
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.consumer != nil {
		o.consumer.Stop()
	}

	o.runCancel()
	o.tasks.Wait()
	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"plans", o.PlansCount(),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// QueueStatus сообщает состояние очереди планов: "disabled" без RabbitMQ,
// иначе "connected" или "disconnected".
func (o *Orchestrator) QueueStatus() string {
	switch {
	case o.conn == nil:
		return "disabled"
	case o.conn.IsConnected():
		return "connected"
	default:
		return "disconnected"
	}
}

// holdTask удерживает задачи приостановленного плана.
func (o *Orchestrator) holdTask(task *domain.Task) bool {
	state := o.getPlan(task.PlanID())
	return state != nil && state.Plan.Status() == domain.PlanStatusPaused
}

// getPlan возвращает PlanState из памяти.
func (o *Orchestrator) getPlan(planID uuid.UUID) *PlanState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.plans[planID]
}

// lookupPlan возвращает PlanState или ErrPlanNotFound.
func (o *Orchestrator) lookupPlan(planID uuid.UUID) (*PlanState, error) {
	state := o.getPlan(planID)
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return state, nil
}

// lookupTask возвращает задачу и её PlanState или ErrTaskNotFound.
func (o *Orchestrator) lookupTask(taskID uuid.UUID) (*PlanState, *domain.Task, error) {
	o.mu.RLock()
	planID, ok := o.taskIndex[taskID]
	state := o.plans[planID]
	o.mu.RUnlock()

	if !ok || state == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task, ok := state.Task(taskID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return state, task, nil
}

// addPlan добавляет план в память.
func (o *Orchestrator) addPlan(state *PlanState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.plans[state.PlanID()]; exists {
		return ErrPlanExists
	}

	o.plans[state.PlanID()] = state
	for _, t := range state.Tasks() {
		o.taskIndex[t.ID()] = state.PlanID()
	}
	return nil
}

// removePlan удаляет план из памяти.
func (o *Orchestrator) removePlan(state *PlanState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.plans, state.PlanID())
	for _, t := range state.Tasks() {
		delete(o.taskIndex, t.ID())
	}
}

// PlansCount возвращает количество планов в памяти.
func (o *Orchestrator) PlansCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.plans)
}

// states возвращает планы, новые первыми.
func (o *Orchestrator) states() []*PlanState {
	o.mu.RLock()
	out := make([]*PlanState, 0, len(o.plans))
	for _, s := range o.plans {
		out = append(out, s)
	}
	o.mu.RUnlock()

	slices.SortFunc(out, func(a, b *PlanState) int {
		sa, sb := a.Plan.Snapshot(), b.Plan.Snapshot()
		if c := sb.CreatedAt.Compare(sa.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(sa.ID.String(), sb.ID.String())
	})
	return out
}

// persist сохраняет снимки плана и всех его задач.
func (o *Orchestrator) persist(ctx context.Context, state *PlanState) error {
	if err := o.store.SavePlan(ctx, state.Plan.Snapshot()); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	if err := o.store.SaveTasks(ctx, state.TaskSnapshots()); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

// persistQuietly сохраняет снимки, логируя ошибку.
// Store — проекция: её отставание не влияет на выполнение.
func (o *Orchestrator) persistQuietly(state *PlanState) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opTimeout)
	defer cancel()
	if err := o.persist(ctx, state); err != nil {
		o.logger.Warn("failed to persist plan snapshot",
			"plan_id", state.PlanID(),
			"error", err,
		)
	}
}

func (o *Orchestrator) emitPlan(plan *domain.Plan, typ domain.EventType, reason string, kind domain.ErrorKind) {
	o.sink.Publish(domain.NewPlanEvent(plan, typ, reason, kind))
}

func (o *Orchestrator) emitTask(task *domain.Task, typ domain.EventType, reason string, kind domain.ErrorKind) {
	o.sink.Publish(domain.NewTaskEvent(task, typ, "", reason, kind))
}

func claimOf(task *domain.Task) conflict.Claim {
	return conflict.Claim{TenantID: task.TenantID(), TaskID: task.ID()}
}
