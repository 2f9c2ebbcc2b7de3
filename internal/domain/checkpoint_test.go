package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewCheckpoint_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		last    int
		wantErr bool
	}{
		{"empty", nil, -1, false},
		{"one stage", []string{"A"}, 0, false},
		{"index mismatch", []string{"A", "B"}, 0, true},
		{"duplicate", []string{"A", "A"}, 1, true},
		{"empty name", []string{"A", ""}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCheckpoint(tt.names, tt.last)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCheckpoint_Append(t *testing.T) {
	cp := EmptyCheckpoint()
	if !cp.IsEmpty() || cp.LastCompletedStageIndex != -1 {
		t.Fatalf("unexpected empty checkpoint %+v", cp)
	}

	cp, err := cp.Append("A")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	cp, _ = cp.Append("B")
	if cp.LastCompletedStageIndex != 1 || !cp.Contains("B") {
		t.Errorf("unexpected checkpoint %+v", cp)
	}

	if _, err := cp.Append("A"); err == nil {
		t.Error("expected duplicate stage to be rejected")
	}
}

// TestCheckpointIndexProperty — индекс всегда равен len(names)-1,
// сколько бы стадий ни было добавлено.
func TestCheckpointIndexProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("last index tracks completed stages", prop.ForAll(
		func(n int) bool {
			cp := EmptyCheckpoint()
			for i := 0; i < n; i++ {
				next, err := cp.Append(fmt.Sprintf("stage-%d", i))
				if err != nil {
					return false
				}
				cp = next
			}
			return cp.LastCompletedStageIndex == len(cp.CompletedStageNames)-1 &&
				len(cp.CompletedStageNames) == n &&
				cp.Validate() == nil
		},
		gen.IntRange(0, 30),
	))

	properties.Property("mismatched index is always rejected", prop.ForAll(
		func(names []string, offset int) bool {
			if offset == 0 {
				return true
			}
			_, err := NewCheckpoint(names, len(names)-1+offset)
			return errors.Is(err, ErrValidation)
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(-5, 5),
	))

	properties.TestingRun(t)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ErrorKindNone},
		{NewValidationError("f", "bad"), ErrorKindValidation},
		{&ConflictError{TenantID: "t1"}, ErrorKindConflict},
		{Transient(errors.New("timeout")), ErrorKindTransientStep},
		{&StepFatalError{Stage: "A", Step: "push", Err: Transient(errors.New("x"))}, ErrorKindStepFatal},
		{&CheckpointPersistenceError{Op: "record", Err: errors.New("disk")}, ErrorKindCheckpointPersistence},
		{&RollbackPartialFailure{}, ErrorKindRollbackPartial},
		{fmt.Errorf("wrapped: %w", &StateConflictError{Entity: "task"}), ErrorKindStateConflict},
		{errors.New("other"), ErrorKindInternal},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transient(errors.New("x"))) {
		t.Error("transient error should be retryable")
	}
	fatal := &StepFatalError{Stage: "A", Step: "s", Err: Transient(errors.New("x"))}
	if IsRetryable(fatal) {
		t.Error("fatal wrapper must not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain error must not be retryable")
	}
}
