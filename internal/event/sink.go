package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

// Sink — получатель событий.
type Sink interface {
	Publish(e domain.Event)
}

// Func — адаптер функции к Sink.
type Func func(e domain.Event)

// Publish вызывает функцию.
func (f Func) Publish(e domain.Event) { f(e) }

// Discard — Sink, который ничего не делает.
var Discard Sink = Func(func(domain.Event) {})

// Fanout рассылает событие всем получателям по порядку.
type Fanout []Sink

// Publish рассылает событие.
func (f Fanout) Publish(e domain.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}

// Recorder запоминает события в памяти (тесты, проекции в процессе).
type Recorder struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewRecorder создаёт пустой Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish сохраняет событие.
func (r *Recorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events возвращает копию всех событий.
func (r *Recorder) Events() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types возвращает типы событий по фильтру (nil — все).
func (r *Recorder) Types(filter func(domain.Event) bool) []domain.EventType {
	var out []domain.EventType
	for _, e := range r.Events() {
		if filter == nil || filter(e) {
			out = append(out, e.Type)
		}
	}
	return out
}

// BufferedConfig — конфигурация Buffered.
type BufferedConfig struct {
	// Size — ёмкость буфера (default: 1024).
	Size int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Buffered — асинхронный Sink с ограниченным буфером.
//
// События доставляются получателю в отдельной горутине в порядке
// публикации. Если буфер заполнен, событие отбрасывается и учитывается
// в метрике events_dropped_total.
type Buffered struct {
	next    Sink
	ch      chan domain.Event
	metrics *telemetry.Metrics
	logger  *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewBuffered создаёт Buffered поверх next. Нужно вызвать Start.
func NewBuffered(next Sink, cfg BufferedConfig) *Buffered {
	size := cfg.Size
	if size <= 0 {
		size = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffered{
		next:    next,
		ch:      make(chan domain.Event, size),
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Start запускает горутину доставки.
func (b *Buffered) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancelFunc = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(ctx)
	}()
}

func (b *Buffered) loop(ctx context.Context) {
	for {
		select {
		case e, ok := <-b.ch:
			if !ok {
				return
			}
			b.next.Publish(e)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

// drain доставляет то, что уже в буфере.
func (b *Buffered) drain() {
	for {
		select {
		case e, ok := <-b.ch:
			if !ok {
				return
			}
			b.next.Publish(e)
		default:
			return
		}
	}
}

// Publish кладёт событие в буфер или отбрасывает его.
func (b *Buffered) Publish(e domain.Event) {
	select {
	case b.ch <- e:
	default:
		b.metrics.EventDropped()
		b.logger.Warn("event dropped: buffer full",
			"type", e.Type,
			"plan_id", e.PlanID,
			"task_id", e.TaskID,
		)
	}
}

// Stop останавливает доставку, доставив уже буферизованные события.
func (b *Buffered) Stop() {
	b.closeOnce.Do(func() {
		if b.cancelFunc != nil {
			b.cancelFunc()
		}
		b.wg.Wait()
	})
}
