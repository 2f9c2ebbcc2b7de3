package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/telemetry"
)

func TestFanoutAndRecorder(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	var count int
	sink := Fanout{a, b, nil, Func(func(domain.Event) { count++ })}

	sink.Publish(domain.Event{Type: domain.EventTaskStarted})
	sink.Publish(domain.Event{Type: domain.EventTaskCompleted, TaskID: uuid.New()})

	if len(a.Events()) != 2 || len(b.Events()) != 2 || count != 2 {
		t.Errorf("expected every sink to get 2 events, got %d %d %d", len(a.Events()), len(b.Events()), count)
	}

	planEvents := a.Types(func(e domain.Event) bool { return e.IsPlanEvent() })
	if len(planEvents) != 1 || planEvents[0] != domain.EventTaskStarted {
		t.Errorf("unexpected filtered types %v", planEvents)
	}
}

func TestBuffered_DeliversInOrder(t *testing.T) {
	rec := NewRecorder()
	b := NewBuffered(rec, BufferedConfig{Size: 16})
	b.Start(context.Background())

	for i := 1; i <= 10; i++ {
		b.Publish(domain.Event{Sequence: uint64(i)})
	}
	b.Stop()

	events := rec.Events()
	if len(events) != 10 {
		t.Fatalf("expected 10 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("event %d out of order: %d", i, e.Sequence)
		}
	}
}

func TestBuffered_DropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	release := make(chan struct{})
	var once sync.Once
	blocking := Func(func(domain.Event) {
		once.Do(func() { <-release })
	})

	b := NewBuffered(blocking, BufferedConfig{Size: 1, Metrics: metrics})
	b.Start(context.Background())

	// Первое событие забирает горутина доставки и блокируется
	b.Publish(domain.Event{Sequence: 1})
	deadline := time.Now().Add(time.Second)
	for len(b.ch) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	b.Publish(domain.Event{Sequence: 2}) // в буфер
	b.Publish(domain.Event{Sequence: 3}) // отброшено

	if got := testutil.ToFloat64(metrics.EventsDropped); got != 1 {
		t.Errorf("expected 1 dropped event, got %v", got)
	}

	close(release)
	b.Stop()
}
