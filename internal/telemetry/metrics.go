package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rollout"

// Metrics — Prometheus метрики оркестратора.
//
// Все методы безопасны для nil-получателя: компоненты, созданные
// без метрик (например, в тестах), просто ничего не записывают.
type Metrics struct {
	TaskOutcomes       *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	Rollbacks          *prometheus.CounterVec
	TenantLocksHeld    prometheus.Gauge
	ConflictRejections *prometheus.CounterVec
	CheckpointWrites   *prometheus.CounterVec
	SchedulerQueued    prometheus.Gauge
	EventsDropped      prometheus.Counter
	PlansSubmitted     prometheus.Counter
	PlanOutcomes       *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		TaskOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Tasks that reached a final status",
		}, []string{"status"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Task rollbacks by result",
		}, []string{"result"}),
		TenantLocksHeld: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_locks_held",
			Help:      "Tenant locks held by this process",
		}),
		ConflictRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_rejections_total",
			Help:      "Tasks or plans rejected because a tenant was locked",
		}, []string{"strategy"}),
		CheckpointWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes by result",
		}, []string{"result"}),
		SchedulerQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_queued_tasks",
			Help:      "Tasks waiting for a concurrency slot",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lifecycle events dropped because a sink buffer was full",
		}),
		PlansSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_submitted_total",
			Help:      "Plans accepted by the orchestrator",
		}),
		PlanOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_outcomes_total",
			Help:      "Plans that reached a final status",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by method and status code",
		}, []string{"method", "code"}),
	}
}

// ObserveTaskOutcome учитывает финальный статус задачи.
func (m *Metrics) ObserveTaskOutcome(status string) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(status).Inc()
}

// ObserveStage учитывает длительность стадии.
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ObserveRollback учитывает результат отката ("complete" / "partial").
func (m *Metrics) ObserveRollback(result string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(result).Inc()
}

// LockAcquired увеличивает число удерживаемых блокировок.
func (m *Metrics) LockAcquired(n int) {
	if m == nil {
		return
	}
	m.TenantLocksHeld.Add(float64(n))
}

// LockReleased уменьшает число удерживаемых блокировок.
func (m *Metrics) LockReleased(n int) {
	if m == nil {
		return
	}
	m.TenantLocksHeld.Sub(float64(n))
}

// ObserveConflict учитывает отказ из-за занятого tenant'а.
func (m *Metrics) ObserveConflict(strategy string) {
	if m == nil {
		return
	}
	m.ConflictRejections.WithLabelValues(strategy).Inc()
}

// ObserveCheckpointWrite учитывает запись checkpoint'а ("ok" / "error").
func (m *Metrics) ObserveCheckpointWrite(result string) {
	if m == nil {
		return
	}
	m.CheckpointWrites.WithLabelValues(result).Inc()
}

// SetQueued выставляет число задач в очередях планировщика.
func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.SchedulerQueued.Set(float64(n))
}

// EventDropped учитывает потерянное событие.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// PlanSubmitted учитывает принятый план.
func (m *Metrics) PlanSubmitted() {
	if m == nil {
		return
	}
	m.PlansSubmitted.Inc()
}

// ObservePlanOutcome учитывает финальный статус плана.
func (m *Metrics) ObservePlanOutcome(status string) {
	if m == nil {
		return
	}
	m.PlanOutcomes.WithLabelValues(status).Inc()
}

// ObserveHTTP учитывает запрос к API.
func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
