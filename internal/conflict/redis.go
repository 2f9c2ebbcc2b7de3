package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix — префикс ключей блокировок.
const DefaultRedisPrefix = "rollout:lock:"

// releaseScript снимает блокировку только если ею владеет owner.
// KEYS[1] = ключ блокировки
// ARGV[1] = owner ("" — безусловно)
var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
    return 0
end
if ARGV[1] == "" or current == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript продлевает блокировку только если ею владеет owner.
// KEYS[1] = ключ блокировки
// ARGV[1] = owner
// ARGV[2] = ttl в миллисекундах (0 — снять истечение)
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
    redis.call("PEXPIRE", KEYS[1], ttl)
else
    redis.call("PERSIST", KEYS[1])
end
return 1
`)

// acquireAllScript захватывает все ключи либо ни одного.
// KEYS = ключи блокировок
// ARGV[1] = owner
// ARGV[2] = ttl в миллисекундах (0 — без истечения)
// Возвращает индексы (с 1) уже занятых ключей.
var acquireAllScript = redis.NewScript(`
local locked = {}
for i, key in ipairs(KEYS) do
    if redis.call("EXISTS", key) == 1 then
        table.insert(locked, i)
    end
end
if #locked > 0 then
    return locked
end
local ttl = tonumber(ARGV[2])
for _, key in ipairs(KEYS) do
    if ttl > 0 then
        redis.call("SET", key, ARGV[1], "PX", ttl)
    else
        redis.call("SET", key, ARGV[1])
    end
end
return locked
`)

// RedisBackend — LockBackend поверх Redis.
//
// Захват — SET NX PX, снятие и продление — Lua-скрипты со сравнением
// владельца, поэтому чужая блокировка не может быть снята или продлена.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend создаёт backend на готовом клиенте.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(tenant string) string {
	return b.prefix + tenant
}

// TryAcquire захватывает tenant через SET NX.
func (b *RedisBackend) TryAcquire(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.key(tenant), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrBackend, tenant, err)
	}
	return ok, nil
}

// TryAcquireAll атомарно захватывает набор tenant'ов.
func (b *RedisBackend) TryAcquireAll(ctx context.Context, tenants []string, owner string, ttl time.Duration) ([]string, error) {
	if len(tenants) == 0 {
		return nil, nil
	}
	keys := make([]string, len(tenants))
	for i, t := range tenants {
		keys[i] = b.key(t)
	}

	res, err := acquireAllScript.Run(ctx, b.client, keys, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire all: %v", ErrBackend, err)
	}

	indexes, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid response from lua script", ErrBackend)
	}

	var locked []string
	for _, v := range indexes {
		i, _ := v.(int64)
		if i >= 1 && int(i) <= len(tenants) {
			locked = append(locked, tenants[i-1])
		}
	}
	return locked, nil
}

// Release снимает блокировку со сравнением владельца.
func (b *RedisBackend) Release(ctx context.Context, tenant, owner string) error {
	if err := releaseScript.Run(ctx, b.client, []string{b.key(tenant)}, owner).Err(); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrBackend, tenant, err)
	}
	return nil
}

// Renew продлевает блокировку со сравнением владельца.
func (b *RedisBackend) Renew(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, b.client, []string{b.key(tenant)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: renew %s: %v", ErrBackend, tenant, err)
	}
	return n == 1, nil
}

// Owner возвращает владельца блокировки.
func (b *RedisBackend) Owner(ctx context.Context, tenant string) (string, bool, error) {
	owner, err := b.client.Get(ctx, b.key(tenant)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrBackend, tenant, err)
	}
	return owner, true, nil
}
