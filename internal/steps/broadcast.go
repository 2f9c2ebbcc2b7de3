package steps

import (
	"context"
	"fmt"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/mq"
	"github.com/shaiso/Rollout/internal/pipeline"
)

// ConfigChangedPublisher публикует уведомления о смене конфигурации.
// Реализуется *mq.Publisher.
type ConfigChangedPublisher interface {
	PublishConfigChanged(ctx context.Context, payload mq.ConfigChangedPayload) error
}

// BroadcastStep сообщает сервисам tenant'а о новой версии через
// exchange rollout.events (routing key config.changed).
//
// Rollback публикует revert с предыдущей версией. Если предыдущая
// версия неизвестна, откат ничего не публикует.
type BroadcastStep struct {
	publisher ConfigChangedPublisher
}

// NewBroadcastStep создаёт BroadcastStep.
func NewBroadcastStep(publisher ConfigChangedPublisher) *BroadcastStep {
	return &BroadcastStep{publisher: publisher}
}

// Name возвращает имя шага.
func (s *BroadcastStep) Name() string { return "broadcast" }

// Execute публикует apply.
func (s *BroadcastStep) Execute(ctx context.Context, rc *pipeline.RuntimeContext) error {
	return s.publish(ctx, rc, rc.DeployUnit.Version, mq.ConfigActionApply)
}

// Rollback публикует revert.
func (s *BroadcastStep) Rollback(ctx context.Context, rc *pipeline.RuntimeContext) error {
	version := targetVersion(rc.DeployUnit, rc.Previous, rc.LastKnownGoodVersion)
	if version == "" {
		rc.Logger().Warn("broadcast rollback skipped: no previous version")
		return nil
	}
	return s.publish(ctx, rc, version, mq.ConfigActionRevert)
}

func (s *BroadcastStep) publish(ctx context.Context, rc *pipeline.RuntimeContext, version, action string) error {
	err := s.publisher.PublishConfigChanged(ctx, mq.ConfigChangedPayload{
		TenantID: rc.TenantID,
		PlanID:   rc.PlanID,
		TaskID:   rc.TaskID,
		UnitID:   rc.DeployUnit.ID,
		Version:  version,
		Action:   action,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(fmt.Errorf("publish config.changed: %w", err))
	}
	return nil
}
