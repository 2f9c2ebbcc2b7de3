package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/pipeline"
)

// DefaultActivePrefix — префикс ключей активных версий.
const DefaultActivePrefix = "rollout:active:"

// RedisWriteStep активирует версию deploy unit'а в Redis.
//
// Ключ {prefix}{tenant}:{unit} хранит активную версию; сервисы tenant'а
// читают его при старте. Рядом в hash {prefix}{tenant}:{unit}:meta
// пишутся plan/task и время активации.
type RedisWriteStep struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisWriteStep создаёт RedisWriteStep. Пустой prefix — DefaultActivePrefix.
func NewRedisWriteStep(client redis.UniversalClient, prefix string) *RedisWriteStep {
	if prefix == "" {
		prefix = DefaultActivePrefix
	}
	return &RedisWriteStep{client: client, prefix: prefix}
}

// Name возвращает имя шага.
func (s *RedisWriteStep) Name() string { return "redis-activate" }

// Key возвращает ключ активной версии.
func (s *RedisWriteStep) Key(tenantID, unitID string) string {
	return s.prefix + tenantID + ":" + unitID
}

// Execute записывает новую версию.
func (s *RedisWriteStep) Execute(ctx context.Context, rc *pipeline.RuntimeContext) error {
	return s.write(ctx, rc, rc.DeployUnit.Version)
}

// Rollback восстанавливает предыдущую версию или удаляет ключ,
// если предыдущей не было.
func (s *RedisWriteStep) Rollback(ctx context.Context, rc *pipeline.RuntimeContext) error {
	version := targetVersion(rc.DeployUnit, rc.Previous, rc.LastKnownGoodVersion)
	if version != "" {
		return s.write(ctx, rc, version)
	}

	key := s.Key(rc.TenantID, rc.DeployUnit.ID)
	if err := s.client.Del(ctx, key, key+":meta").Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisWriteStep) write(ctx context.Context, rc *pipeline.RuntimeContext, version string) error {
	key := s.Key(rc.TenantID, rc.DeployUnit.ID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, version, 0)
		pipe.HSet(ctx, key+":meta",
			"version", version,
			"plan_id", rc.PlanID.String(),
			"task_id", rc.TaskID.String(),
			"activated_at", time.Now().UTC().Format(time.RFC3339),
		)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Transient(fmt.Errorf("activate %s: %w", key, err))
	}
	return nil
}
