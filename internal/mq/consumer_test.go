package mq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestDecide(t *testing.T) {
	transient := errors.New("store unavailable")

	tests := []struct {
		name    string
		err     error
		attempt int
		want    disposition
	}{
		{"success", nil, 1, dispositionAck},
		{"success on last attempt", nil, 5, dispositionAck},
		{"permanent", Permanent(errors.New("bad plan")), 1, dispositionDeadLetter},
		{"transient", transient, 1, dispositionRequeue},
		{"transient below limit", transient, 4, dispositionRequeue},
		{"transient at limit", transient, 5, dispositionDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decide(tt.err, tt.attempt, 5); got != tt.want {
				t.Errorf("decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeliveryAttempt(t *testing.T) {
	tests := []struct {
		name string
		raw  amqp.Delivery
		want int
	}{
		{"first delivery", amqp.Delivery{}, 1},
		{"redelivered", amqp.Delivery{Redelivered: true}, 2},
		{"quorum count", amqp.Delivery{Redelivered: true, Headers: amqp.Table{"x-delivery-count": int64(3)}}, 4},
		{"quorum int32", amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int32(0)}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deliveryAttempt(tt.raw); got != tt.want {
				t.Errorf("deliveryAttempt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	raw := amqp.Delivery{
		MessageId: "m-1",
		Body:      []byte(`{"type":"plan.submitted","payload":{"max_concurrency":3,"start":true,"tenants":[]}}`),
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if msg.ID != "m-1" {
		t.Errorf("ID = %q, want message id from properties", msg.ID)
	}
	if msg.Type != MessageTypePlanSubmitted {
		t.Errorf("Type = %q", msg.Type)
	}

	payload, err := ParsePayload[PlanSubmittedPayload](&msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.MaxConcurrency != 3 || !payload.Start {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestDecodeMessage_TypeFromProperties(t *testing.T) {
	raw := amqp.Delivery{Type: string(MessageTypeConfigChanged), Body: []byte(`{"id":"x","payload":{}}`)}

	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if msg.Type != MessageTypeConfigChanged {
		t.Errorf("Type = %q", msg.Type)
	}
}

func TestDecodeMessage_Invalid(t *testing.T) {
	if _, err := decodeMessage(amqp.Delivery{Body: []byte("not json")}); err == nil {
		t.Error("expected error for malformed body")
	}

	_, err := decodeMessage(amqp.Delivery{Body: []byte(`{"id":"x"}`)})
	if !errors.Is(err, ErrUnexpectedType) {
		t.Errorf("expected ErrUnexpectedType, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("short"), 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate([]byte("0123456789"), 4); got != "0123..." {
		t.Errorf("truncate() = %q", got)
	}
}

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology()
	if err := topo.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var plans *QueueSpec
	for i := range topo.Queues {
		if topo.Queues[i].Name == QueuePlansSubmitted {
			plans = &topo.Queues[i]
		}
	}
	if plans == nil {
		t.Fatal("plans.submitted not declared")
	}
	if plans.Args["x-queue-type"] != "quorum" {
		t.Error("plans.submitted should be a quorum queue")
	}
	if plans.Args["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Error("plans.submitted should dead-letter to rollout.dlq")
	}
}

func TestTopology_ValidateErrors(t *testing.T) {
	tests := map[string]Topology{
		"undeclared exchange": {
			Queues: []QueueSpec{{Name: "q", Exchange: "missing"}},
		},
		"duplicate queue": {
			Exchanges: []Exchange{"ex"},
			Queues:    []QueueSpec{{Name: "q", Exchange: "ex"}, {Name: "q", Exchange: "ex"}},
		},
		"undeclared dlx": {
			Exchanges: []Exchange{"ex"},
			Queues:    []QueueSpec{{Name: "q", Exchange: "ex", Args: amqp.Table{"x-dead-letter-exchange": "dlx"}}},
		},
	}
	for name, topo := range tests {
		t.Run(name, func(t *testing.T) {
			if err := topo.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
