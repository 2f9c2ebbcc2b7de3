package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/mq"
)

// handlePlanSubmitted обрабатывает план из очереди plans.submitted.
//
// Невалидный план и план, отклонённый из-за конфликта, уходят в DLQ:
// повтор не изменит результат. Остальные ошибки возвращают сообщение
// в очередь.
func (o *Orchestrator) handlePlanSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	// Парсим payload
	payload, err := mq.ParsePayload[mq.PlanSubmittedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse plan.submitted payload", "error", err)
		return mq.Permanent(err)
	}

	o.logger.Debug("received plan.submitted event",
		"plan_id", payload.PlanID,
		"tenants", len(payload.Tenants),
	)

	view, err := o.SubmitPlan(ctx, CreatePlanRequest{
		PlanID:         payload.PlanID,
		MaxConcurrency: payload.MaxConcurrency,
		Tenants:        payload.Tenants,
	}, payload.Start)
	if err != nil {
		// Повторная доставка уже принятого плана
		if errors.Is(err, ErrPlanExists) {
			o.logger.Debug("plan already registered, skipping", "plan_id", payload.PlanID)
			return nil
		}
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
			o.logger.Warn("plan rejected", "plan_id", payload.PlanID, "reason", err)
			return mq.Permanent(err)
		}
		o.logger.Error("failed to submit plan", "plan_id", payload.PlanID, "error", err)
		return err
	}

	o.logger.Info("plan accepted from queue",
		"plan_id", view.Plan.ID,
		"status", view.Plan.Status,
	)
	return nil
}
