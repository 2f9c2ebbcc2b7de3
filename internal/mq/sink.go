package mq

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Rollout/internal/domain"
)

const defaultPublishTimeout = 5 * time.Second

// EventPublisher публикует события жизненного цикла.
// Реализуется Publisher.
type EventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, ev domain.Event) error
}

// EventSink — event.Sink поверх RabbitMQ.
//
// Publish синхронный и ограничен таймаутом, поэтому EventSink
// оборачивается в event.Buffered, чтобы не тормозить движок.
// Ошибки публикации только логируются: события носят уведомительный
// характер и не влияют на исход задач.
type EventSink struct {
	pub     EventPublisher
	timeout time.Duration
	logger  *slog.Logger
}

// NewEventSink создаёт EventSink. timeout <= 0 — значение по умолчанию.
func NewEventSink(pub EventPublisher, timeout time.Duration, logger *slog.Logger) *EventSink {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{pub: pub, timeout: timeout, logger: logger}
}

// Publish отправляет событие в exchange rollout.events.
func (s *EventSink) Publish(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.pub.PublishLifecycleEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to publish lifecycle event",
			"event_type", ev.Type,
			"plan_id", ev.PlanID,
			"task_id", ev.TaskID,
			"error", err,
		)
	}
}
