package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangePlans  Exchange = "rollout.plans"
	ExchangeEvents Exchange = "rollout.events"
	ExchangeDLQ    Exchange = "rollout.dlq"
)

// Queues.
const (
	QueuePlansSubmitted  Queue = "plans.submitted"
	QueueEventsLifecycle Queue = "events.lifecycle"
	QueueConfigChanged   Queue = "config.changed"
	QueueDLQPlans        Queue = "dlq.plans"
)

// Routing keys.
const (
	RoutingKeySubmitted     RoutingKey = "submitted"
	RoutingKeyLifecycle     RoutingKey = "lifecycle"
	RoutingKeyConfigChanged RoutingKey = "config.changed"
	RoutingKeyDLQPlans      RoutingKey = "plans"
)

// Ограничения очередей уведомлений: без подписчиков они не должны расти
// бесконечно, старые сообщения вытесняются.
const (
	notificationTTL       = 24 * time.Hour
	notificationMaxLength = 100_000
)

// QueueSpec — объявление очереди и её привязки.
type QueueSpec struct {
	Name       Queue
	Exchange   Exchange
	RoutingKey RoutingKey
	Args       amqp.Table
}

// Topology — обменники и очереди, которые объявляет оркестратор.
type Topology struct {
	Exchanges []Exchange // все direct, durable
	Queues    []QueueSpec
}

// DefaultTopology возвращает топологию оркестратора.
//
// plans.submitted — quorum очередь: брокер считает доставки
// (x-delivery-count), и Consumer отправляет в DLQ сообщение, исчерпавшее
// лимит. Отклонённые планы уходят в dlq.plans через rollout.dlq.
func DefaultTopology() Topology {
	notifications := amqp.Table{
		"x-message-ttl": notificationTTL.Milliseconds(),
		"x-max-length":  int64(notificationMaxLength),
		"x-overflow":    "drop-head",
	}

	return Topology{
		Exchanges: []Exchange{ExchangePlans, ExchangeEvents, ExchangeDLQ},
		Queues: []QueueSpec{
			{
				Name:       QueuePlansSubmitted,
				Exchange:   ExchangePlans,
				RoutingKey: RoutingKeySubmitted,
				Args: amqp.Table{
					"x-queue-type":              "quorum",
					"x-dead-letter-exchange":    string(ExchangeDLQ),
					"x-dead-letter-routing-key": string(RoutingKeyDLQPlans),
				},
			},
			{Name: QueueEventsLifecycle, Exchange: ExchangeEvents, RoutingKey: RoutingKeyLifecycle, Args: notifications},
			{Name: QueueConfigChanged, Exchange: ExchangeEvents, RoutingKey: RoutingKeyConfigChanged, Args: notifications},
			{Name: QueueDLQPlans, Exchange: ExchangeDLQ, RoutingKey: RoutingKeyDLQPlans},
		},
	}
}

// Validate проверяет, что каждая очередь привязана к объявленному обменнику.
func (t Topology) Validate() error {
	known := make(map[Exchange]bool, len(t.Exchanges))
	for _, ex := range t.Exchanges {
		known[ex] = true
	}
	seen := make(map[Queue]bool, len(t.Queues))
	for _, q := range t.Queues {
		if seen[q.Name] {
			return fmt.Errorf("queue %s declared twice", q.Name)
		}
		seen[q.Name] = true
		if !known[q.Exchange] {
			return fmt.Errorf("queue %s bound to undeclared exchange %s", q.Name, q.Exchange)
		}
		if dlx, ok := q.Args["x-dead-letter-exchange"].(string); ok && !known[Exchange(dlx)] {
			return fmt.Errorf("queue %s dead-letters to undeclared exchange %s", q.Name, dlx)
		}
	}
	return nil
}

// Declare объявляет обменники, очереди и привязки. Идемпотентна при
// неизменных аргументах.
func (t Topology) Declare(ch *amqp.Channel) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(string(q.Name), true, false, false, false, q.Args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		if err := ch.QueueBind(string(q.Name), string(q.RoutingKey), string(q.Exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, q.Exchange, err)
		}
	}
	return nil
}

// SetupTopology объявляет DefaultTopology на текущем канале.
// Подходит как ConnectionConfig.OnConnect.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, DefaultTopology().Declare)
}
