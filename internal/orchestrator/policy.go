package orchestrator

import (
	"fmt"

	"github.com/shaiso/Rollout/internal/domain"
)

// OutcomePolicy определяет итоговый статус плана по статусам задач.
//
// Пропущенные из-за конфликта задачи и отменённые задачи нейтральны.
// Задача в любом статусе, кроме COMPLETED (и ROLLBACK_COMPLETE при
// RollbackCompleteIsFailure=false), считается неуспешной.
// План без единой неуспешной задачи (в том числе план, все задачи
// которого пропущены) завершается COMPLETED.
type OutcomePolicy struct {
	// RollbackCompleteIsFailure — считать успешно откатанную задачу
	// неуспешной для плана.
	RollbackCompleteIsFailure bool
}

// DefaultOutcomePolicy возвращает политику по умолчанию.
func DefaultOutcomePolicy() OutcomePolicy {
	return OutcomePolicy{RollbackCompleteIsFailure: true}
}

// Decision — итог плана.
type Decision struct {
	Status domain.PlanStatus
	Kind   domain.ErrorKind
	Reason string
}

// Decide вычисляет итог плана по снимкам его задач.
func (p OutcomePolicy) Decide(tasks []domain.TaskSnapshot) Decision {
	var completed, failed, skipped, cancelled int
	kind := domain.ErrorKindNone

	for _, t := range tasks {
		if t.SkipReason != "" && t.Status == domain.TaskStatusPending {
			skipped++
			continue
		}
		switch t.Status {
		case domain.TaskStatusCompleted:
			completed++
		case domain.TaskStatusCancelled:
			cancelled++
		case domain.TaskStatusRollbackComplete:
			if !p.RollbackCompleteIsFailure {
				completed++
				continue
			}
			failed++
			if kind == domain.ErrorKindNone && t.Failure != nil {
				kind = t.Failure.Kind
			}
		default:
			// FAILED и любой незавершённый статус: задача не дошла до успеха
			failed++
			if kind == domain.ErrorKindNone && t.Failure != nil {
				kind = t.Failure.Kind
			}
		}
	}

	if failed > 0 {
		if kind == domain.ErrorKindNone {
			kind = domain.ErrorKindStepFatal
		}
		return Decision{
			Status: domain.PlanStatusFailed,
			Kind:   kind,
			Reason: fmt.Sprintf("%d of %d tasks failed", failed, len(tasks)),
		}
	}
	return Decision{
		Status: domain.PlanStatusCompleted,
		Reason: fmt.Sprintf("%d completed, %d skipped, %d cancelled", completed, skipped, cancelled),
	}
}
