package checkpoint

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/Rollout/internal/domain"
)

// Store — хранилище checkpoint'ов, ключ — id задачи.
//
// Put заменяет значение целиком. Get возвращает nil без ошибки,
// если checkpoint отсутствует. Remove отсутствующего ключа — no-op.
type Store interface {
	Put(ctx context.Context, taskID uuid.UUID, cp domain.TaskCheckpoint) error
	Get(ctx context.Context, taskID uuid.UUID) (*domain.TaskCheckpoint, error)
	Remove(ctx context.Context, taskID uuid.UUID) error
	GetMany(ctx context.Context, taskIDs []uuid.UUID) (map[uuid.UUID]domain.TaskCheckpoint, error)
}
