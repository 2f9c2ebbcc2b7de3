package orchestrator

import (
	"testing"

	"github.com/shaiso/Rollout/internal/domain"
)

func TestOutcomePolicy_Decide(t *testing.T) {
	completed := domain.TaskSnapshot{Status: domain.TaskStatusCompleted}
	skipped := domain.TaskSnapshot{Status: domain.TaskStatusPending, SkipReason: "locked"}
	cancelled := domain.TaskSnapshot{Status: domain.TaskStatusCancelled}
	rolledBack := domain.TaskSnapshot{
		Status:  domain.TaskStatusRollbackComplete,
		Failure: &domain.Failure{Kind: domain.ErrorKindStepFatal},
	}
	partial := domain.TaskSnapshot{
		Status:  domain.TaskStatusFailed,
		Failure: &domain.Failure{Kind: domain.ErrorKindRollbackPartial},
	}
	rollingBack := domain.TaskSnapshot{
		Status:  domain.TaskStatusRollingBack,
		Failure: &domain.Failure{Kind: domain.ErrorKindStepFatal},
	}
	running := domain.TaskSnapshot{Status: domain.TaskStatusRunning}

	tests := []struct {
		name   string
		policy OutcomePolicy
		tasks  []domain.TaskSnapshot
		want   domain.PlanStatus
		kind   domain.ErrorKind
	}{
		{"all completed", DefaultOutcomePolicy(), []domain.TaskSnapshot{completed, completed}, domain.PlanStatusCompleted, domain.ErrorKindNone},
		{"all skipped", DefaultOutcomePolicy(), []domain.TaskSnapshot{skipped}, domain.PlanStatusCompleted, domain.ErrorKindNone},
		{"cancelled neutral", DefaultOutcomePolicy(), []domain.TaskSnapshot{completed, cancelled}, domain.PlanStatusCompleted, domain.ErrorKindNone},
		{"rollback complete fails", DefaultOutcomePolicy(), []domain.TaskSnapshot{completed, rolledBack}, domain.PlanStatusFailed, domain.ErrorKindStepFatal},
		{"rollback complete tolerated", OutcomePolicy{}, []domain.TaskSnapshot{completed, rolledBack}, domain.PlanStatusCompleted, domain.ErrorKindNone},
		{"partial rollback always fails", OutcomePolicy{}, []domain.TaskSnapshot{partial}, domain.PlanStatusFailed, domain.ErrorKindRollbackPartial},
		{"unfinished rollback fails", OutcomePolicy{}, []domain.TaskSnapshot{completed, rollingBack}, domain.PlanStatusFailed, domain.ErrorKindStepFatal},
		{"unfinished task fails", DefaultOutcomePolicy(), []domain.TaskSnapshot{completed, running}, domain.PlanStatusFailed, domain.ErrorKindStepFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.policy.Decide(tt.tasks)
			if d.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, d.Status)
			}
			if d.Kind != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, d.Kind)
			}
			if d.Reason == "" {
				t.Error("reason should be set")
			}
		})
	}
}

func TestMemoryStore_ListPlansFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()

	running := domain.PlanSnapshot{ID: [16]byte{1}, Status: domain.PlanStatusRunning}
	done := domain.PlanSnapshot{ID: [16]byte{2}, Status: domain.PlanStatusCompleted}
	_ = s.SavePlan(ctx, running)
	_ = s.SavePlan(ctx, done)

	got, err := s.ListPlans(ctx, PlanFilter{Statuses: []domain.PlanStatus{domain.PlanStatusRunning}})
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(got) != 1 || got[0].ID != running.ID {
		t.Errorf("unexpected plans %v", got)
	}

	if err := s.DeletePlan(ctx, done.ID); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if _, err := s.GetPlan(ctx, done.ID); err == nil {
		t.Error("expected not found after delete")
	}
}
