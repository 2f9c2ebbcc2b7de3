package mq

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Rollout/internal/domain"
)

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakeEventPublisher) PublishLifecycleEvent(ctx context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func TestEventSink_Publish(t *testing.T) {
	pub := &fakeEventPublisher{}
	sink := NewEventSink(pub, 0, nil)

	ev := domain.Event{ID: uuid.New(), Type: domain.EventPlanStarted, PlanID: uuid.New()}
	sink.Publish(ev)

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	if pub.events[0].ID != ev.ID {
		t.Error("event ID should be preserved")
	}
}

func TestEventSink_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakeEventPublisher{err: ErrNoChannel}
	sink := NewEventSink(pub, 0, nil)

	// Не должно паниковать и блокироваться
	sink.Publish(domain.Event{ID: uuid.New(), Type: domain.EventTaskStarted})

	if len(pub.events) != 0 {
		t.Errorf("expected no events, got %d", len(pub.events))
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}

	cause := errors.New("bad payload")
	err := Permanent(cause)
	if !errors.Is(err, ErrPermanent) {
		t.Error("expected ErrPermanent")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be preserved")
	}
}

func TestParsePayload_PlanSubmitted(t *testing.T) {
	msg := &Message{
		Type: MessageTypePlanSubmitted,
		Payload: map[string]any{
			"max_concurrency": 2,
			"start":           true,
			"tenants": []any{
				map[string]any{
					"tenant_id":   "t1",
					"deploy_unit": map[string]any{"id": "billing", "version": "v2"},
				},
			},
		},
	}

	payload, err := ParsePayload[PlanSubmittedPayload](msg)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if payload.MaxConcurrency != 2 || !payload.Start {
		t.Errorf("unexpected payload: %+v", payload)
	}
	if len(payload.Tenants) != 1 || payload.Tenants[0].DeployUnit.Version != "v2" {
		t.Errorf("unexpected tenants: %+v", payload.Tenants)
	}
}
