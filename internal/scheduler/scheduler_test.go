package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSubmit_RespectsLimit(t *testing.T) {
	s := New(Config{})
	planID := uuid.New()

	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		s.Submit(context.Background(), planID, 2, func(context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}

	if s.InFlight(planID) != 2 || s.Queued(planID) != 3 {
		t.Fatalf("expected 2 in flight and 3 queued, got %d / %d", s.InFlight(planID), s.Queued(planID))
	}

	close(release)
	s.Wait()

	if peak.Load() > 2 {
		t.Errorf("limit exceeded: peak %d", peak.Load())
	}
	if s.InFlight(planID) != 0 || s.Queued(planID) != 0 {
		t.Errorf("expected drained plan, got %d / %d", s.InFlight(planID), s.Queued(planID))
	}
}

func TestSubmit_FIFOOrder(t *testing.T) {
	s := New(Config{})
	planID := uuid.New()

	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		s.Submit(context.Background(), planID, 1, func(context.Context) {
			if i == 0 {
				<-gate
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	close(gate)
	s.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestSubmit_PlansAreIndependent(t *testing.T) {
	s := New(Config{})
	a, b := uuid.New(), uuid.New()
	block := make(chan struct{})

	s.Submit(context.Background(), a, 1, func(context.Context) { <-block })
	started := s.Submit(context.Background(), b, 1, func(context.Context) {})

	if !started {
		t.Error("plan B must not wait for plan A's slot")
	}
	close(block)
	s.Wait()
}

func TestSubmit_DefaultLimit(t *testing.T) {
	s := New(Config{DefaultLimit: 3})
	planID := uuid.New()
	block := make(chan struct{})

	for i := 0; i < 4; i++ {
		s.Submit(context.Background(), planID, 0, func(context.Context) { <-block })
	}
	if s.InFlight(planID) != 3 {
		t.Errorf("expected default limit 3, got %d", s.InFlight(planID))
	}
	close(block)
	s.Wait()
}

func TestForget_DropsQueued(t *testing.T) {
	s := New(Config{})
	planID := uuid.New()
	block := make(chan struct{})
	var ran atomic.Int32

	s.Submit(context.Background(), planID, 1, func(context.Context) { <-block })
	s.Submit(context.Background(), planID, 1, func(context.Context) { ran.Add(1) })

	if dropped := s.Forget(planID); dropped != 1 {
		t.Errorf("expected 1 dropped job, got %d", dropped)
	}
	close(block)

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
	if ran.Load() != 0 {
		t.Error("forgotten job must not run")
	}
}

func TestForget_ResubmittedPlanGetsFreshSlots(t *testing.T) {
	s := New(Config{})
	planID := uuid.New()
	old := make(chan struct{})

	s.Submit(context.Background(), planID, 1, func(context.Context) { <-old })
	s.Forget(planID)

	fresh := make(chan struct{})
	if !s.Submit(context.Background(), planID, 1, func(context.Context) { <-fresh }) {
		t.Fatal("forgotten plan must not keep its slot")
	}
	if s.InFlight(planID) != 1 {
		t.Fatalf("expected 1 in flight, got %d", s.InFlight(planID))
	}

	// Завершение старого job'а не освобождает слот нового
	close(old)
	time.Sleep(20 * time.Millisecond)
	if s.InFlight(planID) != 1 {
		t.Errorf("old job released a fresh slot, in flight %d", s.InFlight(planID))
	}
	if s.Submit(context.Background(), planID, 1, func(context.Context) {}) {
		t.Error("limit 1 must queue the second job")
	}

	close(fresh)
	s.Wait()
	if s.InFlight(planID) != 0 || s.Queued(planID) != 0 {
		t.Errorf("expected drained plan, got %d / %d", s.InFlight(planID), s.Queued(planID))
	}
}
