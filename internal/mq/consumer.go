package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
//
// nil подтверждает сообщение. Ошибка, обёрнутая в Permanent, отправляет
// его в DLQ сразу; остальные ошибки возвращают сообщение в очередь, пока
// не исчерпан лимит повторных доставок.
type Handler func(ctx context.Context, msg *Delivery) error

// ErrPermanent помечает ошибки, повтор которых бессмысленен.
var ErrPermanent = errors.New("permanent failure")

// Permanent оборачивает ошибку обработчика как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message

	// Attempt — номер доставки, начиная с 1.
	Attempt int

	Raw amqp.Delivery
}

// disposition — судьба сообщения после обработки.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// DefaultMaxDeliveries — лимит доставок одного сообщения по умолчанию.
const DefaultMaxDeliveries = 5

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Types — допустимые типы сообщений; пустой — любые.
	// Сообщения других типов уходят в DLQ.
	Types []MessageType

	// Prefetch — число неподтверждённых сообщений на consumer (default: 1).
	Prefetch int

	// MaxDeliveries — после стольких неудачных доставок сообщение уходит
	// в DLQ (default: DefaultMaxDeliveries).
	MaxDeliveries int

	// HandlerTimeout ограничивает обработку одного сообщения (0 — без ограничения).
	HandlerTimeout time.Duration
}

// Consumer потребляет сообщения из очереди и переживает переподключения.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig

	cancelFunc context.CancelFunc
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start потребляет сообщения до отмены ctx, Stop или Close соединения.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer cancel()

	for {
		// Подписка на следующее переподключение берётся до Consume,
		// иначе сигнал может быть пропущен.
		reconnected := c.conn.Reconnected()

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Warn("consume unavailable, waiting for reconnect", "error", err)
		} else {
			c.logger.Info("consumer started")
			if err := c.drain(ctx, deliveries); err != nil {
				return err
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Done():
			return ErrConnectionClosed
		case <-reconnected:
		}
	}
}

// subscribe выставляет prefetch и начинает потребление.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// auto-ack выключен: подтверждение после обработки
	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

// drain обрабатывает сообщения, пока канал доставки открыт.
// Возвращает ошибку только при отмене ctx.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.settle(raw, c.handle(ctx, raw))
		}
	}
}

// handle декодирует и обрабатывает одно сообщение.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) disposition {
	msg, err := decodeMessage(raw)
	if err != nil {
		c.logger.Error("failed to decode message", "error", err, "body", truncate(raw.Body, 512))
		return dispositionDeadLetter
	}
	if len(c.cfg.Types) > 0 && !slices.Contains(c.cfg.Types, msg.Type) {
		c.logger.Warn("unexpected message type", "message_id", msg.ID, "type", msg.Type)
		return dispositionDeadLetter
	}

	delivery := &Delivery{Message: msg, Attempt: deliveryAttempt(raw), Raw: raw}

	hctx := ctx
	if c.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.cfg.HandlerTimeout)
		defer cancel()
	}

	err = c.cfg.Handler(hctx, delivery)
	d := decide(err, delivery.Attempt, c.cfg.MaxDeliveries)
	if err != nil {
		c.logger.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"attempt", delivery.Attempt,
			"disposition", d.String(),
			"error", err,
		)
	}
	return d
}

func (c *Consumer) settle(raw amqp.Delivery, d disposition) {
	var err error
	switch d {
	case dispositionAck:
		err = raw.Ack(false)
	case dispositionRequeue:
		err = raw.Nack(false, true)
	default:
		// Очередь объявлена с x-dead-letter-exchange
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle message", "disposition", d.String(), "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// decide выбирает судьбу сообщения по результату обработки.
func decide(err error, attempt, maxDeliveries int) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, ErrPermanent):
		return dispositionDeadLetter
	case attempt >= maxDeliveries:
		return dispositionDeadLetter
	default:
		return dispositionRequeue
	}
}

// deliveryAttempt возвращает номер доставки: x-delivery-count quorum
// очереди, иначе 2 для повторной доставки и 1 для первой.
func deliveryAttempt(raw amqp.Delivery) int {
	switch v := raw.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if raw.Redelivered {
		return 2
	}
	return 1
}

// wireMessage — Message с нераспарсенным payload.
type wireMessage struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func decodeMessage(raw amqp.Delivery) (Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(raw.Body, &wm); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if wm.ID == "" {
		wm.ID = raw.MessageId
	}
	if wm.Type == "" {
		wm.Type = MessageType(raw.Type)
	}
	if wm.Type == "" {
		return Message{}, fmt.Errorf("%w: empty", ErrUnexpectedType)
	}
	return Message{ID: wm.ID, Type: wm.Type, Payload: wm.Payload, Timestamp: wm.Timestamp}, nil
}

// ParsePayload разбирает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	data, ok := msg.Payload.(json.RawMessage)
	if !ok {
		var err error
		if data, err = json.Marshal(msg.Payload); err != nil {
			return result, fmt.Errorf("marshal payload: %w", err)
		}
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
