package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/telemetry"
)

// DefaultLimit — лимит параллельности, если план не задал свой.
const DefaultLimit = 4

// Job — задача, выполняемая в своём слоте.
type Job func(ctx context.Context)

type queuedJob struct {
	ctx context.Context
	job Job
}

// planQueue — слоты и очередь одного плана. Поля защищены Scheduler.mu.
type planQueue struct {
	limit    int
	inFlight int
	queue    []queuedJob
}

// Config — конфигурация Scheduler.
type Config struct {
	DefaultLimit int // лимит по умолчанию (default: 4)
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
}

// Scheduler — планировщик задач с лимитом параллельности на план.
type Scheduler struct {
	defaultLimit int
	metrics      *telemetry.Metrics
	logger       *slog.Logger

	plans map[uuid.UUID]*planQueue
	mu    sync.Mutex
	wg    sync.WaitGroup
}

// New создаёт Scheduler.
func New(cfg Config) *Scheduler {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		defaultLimit: limit,
		metrics:      cfg.Metrics,
		logger:       telemetry.WithComponent(logger, "scheduler"),
		plans:        make(map[uuid.UUID]*planQueue),
	}
}

// DefaultLimit возвращает лимит по умолчанию.
func (s *Scheduler) DefaultLimit() int { return s.defaultLimit }

// Submit запускает job сразу, если у плана есть свободный слот,
// иначе ставит в конец очереди плана. Возвращает true, если job запущен.
//
// Лимит фиксируется при первой постановке задачи плана; limit <= 0
// означает лимит по умолчанию, limit == 1 — строго последовательное
// выполнение.
func (s *Scheduler) Submit(ctx context.Context, planID uuid.UUID, limit int, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pq, ok := s.plans[planID]
	if !ok {
		if limit <= 0 {
			limit = s.defaultLimit
		}
		pq = &planQueue{limit: limit}
		s.plans[planID] = pq
	}

	if pq.inFlight < pq.limit {
		pq.inFlight++
		s.start(pq, queuedJob{ctx: ctx, job: job})
		return true
	}

	pq.queue = append(pq.queue, queuedJob{ctx: ctx, job: job})
	s.metrics.SetQueued(s.queuedLocked())
	s.logger.Debug("task queued",
		"plan_id", planID,
		"queued", len(pq.queue),
		"limit", pq.limit,
	)
	return false
}

// start запускает job в горутине. Вызывается под s.mu.
func (s *Scheduler) start(pq *planQueue, qj queuedJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.done(pq)
		qj.job(qj.ctx)
	}()
}

// done освобождает слот или передаёт его следующей задаче очереди.
//
// Слот считается по очереди, в которой job был запущен: после Forget
// и повторной постановки плана старые job'ы не трогают новые слоты.
func (s *Scheduler) done(pq *planQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pq.queue) > 0 {
		next := pq.queue[0]
		pq.queue = pq.queue[1:]
		s.metrics.SetQueued(s.queuedLocked())
		// Слот переходит следующей задаче
		s.start(pq, next)
		return
	}
	pq.inFlight--
}

// InFlight возвращает число выполняемых задач плана.
func (s *Scheduler) InFlight(planID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pq, ok := s.plans[planID]; ok {
		return pq.inFlight
	}
	return 0
}

// Queued возвращает число задач плана в очереди.
func (s *Scheduler) Queued(planID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pq, ok := s.plans[planID]; ok {
		return len(pq.queue)
	}
	return 0
}

// Forget удаляет очередь плана. Задачи, ещё не запущенные, отбрасываются;
// выполняемые дорабатывают. Возвращает число отброшенных задач.
func (s *Scheduler) Forget(planID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pq, ok := s.plans[planID]
	if !ok {
		return 0
	}
	dropped := len(pq.queue)
	pq.queue = nil
	delete(s.plans, planID)
	s.metrics.SetQueued(s.queuedLocked())
	return dropped
}

// Wait ждёт завершения всех запущенных задач.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) queuedLocked() int {
	n := 0
	for _, pq := range s.plans {
		n += len(pq.queue)
	}
	return n
}
