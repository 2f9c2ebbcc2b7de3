package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

func newTestRC(t *testing.T) *RuntimeContext {
	t.Helper()
	task := domain.NewTask(uuid.New(), uuid.New(), domain.TenantConfig{
		TenantID:   "tenant-1",
		DeployUnit: domain.DeployUnit{ID: "svc", Version: "v2"},
	})
	return NewRuntimeContext(task, nil)
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Backoff: BackoffExponential, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}

	fixed := RetryPolicy{Backoff: BackoffFixed, InitialDelay: 50 * time.Millisecond}
	if got := fixed.Delay(5); got != 50*time.Millisecond {
		t.Errorf("fixed: expected 50ms, got %v", got)
	}

	// Нулевые значения заменяются дефолтами
	if got := (RetryPolicy{}).Delay(1); got != time.Second {
		t.Errorf("default: expected 1s, got %v", got)
	}
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	step := &StepFunc{StepName: "push", ExecuteFunc: func(context.Context, *RuntimeContext) error {
		calls++
		if calls < 3 {
			return domain.Transient(errors.New("timeout"))
		}
		return nil
	}}

	rs := &retryStep{Step: step, policy: RetryPolicy{MaxAttempts: 3}, stage: "A", sleep: noSleep}
	if err := rs.Execute(context.Background(), newTestRC(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_ExhaustedBecomesFatal(t *testing.T) {
	calls := 0
	step := &StepFunc{StepName: "push", ExecuteFunc: func(context.Context, *RuntimeContext) error {
		calls++
		return domain.Transient(errors.New("timeout"))
	}}

	rs := &retryStep{Step: step, policy: RetryPolicy{MaxAttempts: 2}, stage: "A", sleep: noSleep}
	err := rs.Execute(context.Background(), newTestRC(t))

	var fatal *domain.StepFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected StepFatalError, got %v", err)
	}
	if fatal.Attempts != 2 || fatal.Stage != "A" || fatal.Step != "push" {
		t.Errorf("unexpected fatal error %+v", fatal)
	}
	if domain.IsRetryable(err) {
		t.Error("exhausted error must not be retryable")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestWithRetry_FatalNotRetried(t *testing.T) {
	calls := 0
	step := &StepFunc{StepName: "push", ExecuteFunc: func(context.Context, *RuntimeContext) error {
		calls++
		return errors.New("bad request")
	}}

	rs := &retryStep{Step: step, policy: RetryPolicy{MaxAttempts: 5}, stage: "A", sleep: noSleep}
	_ = rs.Execute(context.Background(), newTestRC(t))
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := &StepFunc{StepName: "push", ExecuteFunc: func(context.Context, *RuntimeContext) error {
		return domain.Transient(errors.New("timeout"))
	}}

	err := WithRetry(step, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour}).Execute(ctx, newTestRC(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStage_ExecuteClassifiesErrors(t *testing.T) {
	rc := newTestRC(t)

	plain := NewStage("A", &StepFunc{StepName: "s", ExecuteFunc: func(context.Context, *RuntimeContext) error {
		return errors.New("boom")
	}})
	err := plain.Execute(context.Background(), rc)
	if domain.KindOf(err) != domain.ErrorKindStepFatal {
		t.Errorf("expected STEP_FATAL, got %s (%v)", domain.KindOf(err), err)
	}

	invalid := NewStage("B", &StepFunc{StepName: "s", ExecuteFunc: func(context.Context, *RuntimeContext) error {
		return domain.NewValidationError("endpoints", "empty")
	}})
	err = invalid.Execute(context.Background(), rc)
	if domain.KindOf(err) != domain.ErrorKindValidation {
		t.Errorf("expected VALIDATION, got %s (%v)", domain.KindOf(err), err)
	}
}

func TestStage_ExecuteStopsOnFirstError(t *testing.T) {
	var order []string
	stage := NewStage("A",
		&StepFunc{StepName: "one", ExecuteFunc: func(context.Context, *RuntimeContext) error {
			order = append(order, "one")
			return errors.New("boom")
		}},
		&StepFunc{StepName: "two", ExecuteFunc: func(context.Context, *RuntimeContext) error {
			order = append(order, "two")
			return nil
		}},
	)

	_ = stage.Execute(context.Background(), newTestRC(t))
	if len(order) != 1 || order[0] != "one" {
		t.Errorf("expected only first step to run, got %v", order)
	}
}

func TestStage_RollbackReverseOrderBestEffort(t *testing.T) {
	var order []string
	mk := func(name string, fail bool) Step {
		return &StepFunc{StepName: name, RollbackFunc: func(context.Context, *RuntimeContext) error {
			order = append(order, name)
			if fail {
				return errors.New("rollback failed")
			}
			return nil
		}}
	}

	stage := NewStage("A", mk("one", false), mk("two", true), mk("three", false))
	err := stage.Rollback(context.Background(), newTestRC(t))
	if err == nil {
		t.Fatal("expected joined rollback error")
	}

	want := []string{"three", "two", "one"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("expected %v, got %v", want, order)
			break
		}
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	step := &StepFunc{StepName: "s"}

	if _, err := NewPipeline(); !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("expected ErrEmptyPipeline, got %v", err)
	}
	if _, err := NewPipeline(NewStage("A", step), NewStage("A", step)); !errors.Is(err, ErrDuplicateStage) {
		t.Errorf("expected ErrDuplicateStage, got %v", err)
	}
	if _, err := NewPipeline(NewStage("", step)); !errors.Is(err, ErrEmptyStageName) {
		t.Errorf("expected ErrEmptyStageName, got %v", err)
	}
	if _, err := NewPipeline(NewStage("A")); !errors.Is(err, ErrEmptyStage) {
		t.Errorf("expected ErrEmptyStage, got %v", err)
	}

	p, err := NewPipeline(NewStage("A", step), NewStage("B", step))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if p.Index("B") != 1 || p.Index("Z") != -1 {
		t.Errorf("unexpected index lookup")
	}
	if _, err := p.Stage("Z"); !errors.Is(err, ErrStageNotFound) {
		t.Errorf("expected ErrStageNotFound, got %v", err)
	}
}

func TestRuntimeContext_Values(t *testing.T) {
	rc := newTestRC(t)

	rc.Set("endpoint", "http://a")
	if rc.GetString("endpoint") != "http://a" {
		t.Errorf("unexpected value %q", rc.GetString("endpoint"))
	}
	rc.Set("count", 3)
	if rc.GetString("count") != "" {
		t.Error("non-string value should read as empty string")
	}
	rc.Delete("endpoint")
	if _, ok := rc.Get("endpoint"); ok {
		t.Error("expected value to be deleted")
	}
	if rc.TenantID != "tenant-1" || rc.TraceID == "" {
		t.Errorf("unexpected identity %s %s", rc.TenantID, rc.TraceID)
	}
}
