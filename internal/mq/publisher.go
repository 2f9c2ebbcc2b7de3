package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Rollout/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypePlanSubmitted  MessageType = "plan.submitted"
	MessageTypeLifecycleEvent MessageType = "lifecycle.event"
	MessageTypeConfigChanged  MessageType = "config.changed"
)

// AppID — отправитель в свойствах AMQP сообщения.
const AppID = "rollout-orchestrator"

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// PlanSubmittedPayload — payload для сообщения о новом плане развёртывания.
type PlanSubmittedPayload struct {
	PlanID         uuid.UUID             `json:"plan_id,omitempty"`
	MaxConcurrency int                   `json:"max_concurrency"`
	Tenants        []domain.TenantConfig `json:"tenants"`

	// Start — запустить план сразу после создания.
	Start bool `json:"start"`
}

// ConfigChangedPayload — уведомление сервисов tenant'а о смене конфигурации.
type ConfigChangedPayload struct {
	TenantID string    `json:"tenant_id"`
	PlanID   uuid.UUID `json:"plan_id"`
	TaskID   uuid.UUID `json:"task_id"`
	UnitID   string    `json:"unit_id"`
	Version  string    `json:"version"`

	// Action — apply при раскатке, revert при откате.
	Action string `json:"action"`
}

// Действия ConfigChangedPayload.
const (
	ConfigActionApply  = "apply"
	ConfigActionRevert = "revert"
)

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				AppId:        AppID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		// nil, если канал не в режиме confirms
		if confirm != nil {
			acked, err := confirm.WaitContext(ctx)
			if err != nil {
				return fmt.Errorf("wait confirm %s/%s: %w", exchange, routingKey, err)
			}
			if !acked {
				return fmt.Errorf("%w: %s/%s", ErrNacked, exchange, routingKey)
			}
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
			"confirmed", confirm != nil,
		)
		return nil
	})
}

// PublishPlanSubmitted публикует новый план.
// Потребитель: Orchestrator.
func (p *Publisher) PublishPlanSubmitted(ctx context.Context, payload PlanSubmittedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypePlanSubmitted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangePlans, RoutingKeySubmitted, msg)
}

// PublishLifecycleEvent публикует событие жизненного цикла плана или задачи.
// ID сообщения совпадает с ID события, чтобы подписчики могли дедуплицировать.
func (p *Publisher) PublishLifecycleEvent(ctx context.Context, ev domain.Event) error {
	msg := &Message{
		ID:        ev.ID.String(),
		Type:      MessageTypeLifecycleEvent,
		Payload:   ev,
		Timestamp: ev.Timestamp,
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyLifecycle, msg)
}

// PublishConfigChanged уведомляет сервисы tenant'а о смене конфигурации.
func (p *Publisher) PublishConfigChanged(ctx context.Context, payload ConfigChangedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeConfigChanged,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeEvents, RoutingKeyConfigChanged, msg)
}
