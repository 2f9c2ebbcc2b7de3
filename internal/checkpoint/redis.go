package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Rollout/internal/domain"
)

// DefaultRedisPrefix — префикс ключей checkpoint'ов.
const DefaultRedisPrefix = "rollout:checkpoint:"

// RedisStore — Store поверх Redis: один JSON-ключ на задачу.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisStoreConfig — настройки RedisStore.
type RedisStoreConfig struct {
	// Prefix — префикс ключей (по умолчанию DefaultRedisPrefix).
	Prefix string

	// TTL — время жизни ключа (0 — без истечения).
	TTL time.Duration
}

// NewRedisStore создаёт хранилище на готовом клиенте.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (s *RedisStore) key(taskID uuid.UUID) string {
	return s.prefix + taskID.String()
}

// Put сериализует checkpoint и записывает его.
func (s *RedisStore) Put(ctx context.Context, taskID uuid.UUID, cp domain.TaskCheckpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(taskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}
	return nil
}

// Get читает checkpoint или возвращает nil.
func (s *RedisStore) Get(ctx context.Context, taskID uuid.UUID) (*domain.TaskCheckpoint, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}
	return decode(data)
}

// Remove удаляет ключ.
func (s *RedisStore) Remove(ctx context.Context, taskID uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(taskID)).Err(); err != nil {
		return fmt.Errorf("redis del checkpoint: %w", err)
	}
	return nil
}

// GetMany читает checkpoint'ы одним MGET.
func (s *RedisStore) GetMany(ctx context.Context, taskIDs []uuid.UUID) (map[uuid.UUID]domain.TaskCheckpoint, error) {
	out := make(map[uuid.UUID]domain.TaskCheckpoint, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		keys[i] = s.key(id)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget checkpoints: %w", err)
	}

	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		cp, err := decode([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", taskIDs[i], err)
		}
		out[taskIDs[i]] = *cp
	}
	return out, nil
}

func decode(data []byte) (*domain.TaskCheckpoint, error) {
	var cp domain.TaskCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &cp, nil
}
