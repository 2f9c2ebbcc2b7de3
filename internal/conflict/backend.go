package conflict

import (
	"context"
	"time"
)

// LockBackend — хранилище блокировок tenant'ов.
//
// Все операции атомарны относительно друг друга. Блокировка имеет
// владельца (owner) и TTL; истёкшая блокировка считается свободной.
type LockBackend interface {
	// TryAcquire захватывает tenant, если он свободен. Не блокирует.
	TryAcquire(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error)

	// Release снимает блокировку, если ей владеет owner.
	// owner == "" снимает блокировку безусловно. Отсутствие блокировки — no-op.
	Release(ctx context.Context, tenant, owner string) error

	// Renew продлевает блокировку владельца. false — блокировка потеряна.
	Renew(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error)

	// Owner возвращает владельца блокировки.
	Owner(ctx context.Context, tenant string) (string, bool, error)
}

// MultiAcquirer — backend, умеющий захватить набор tenant'ов
// по принципу «всё или ничего».
type MultiAcquirer interface {
	// TryAcquireAll захватывает все tenant'ы либо ни одного.
	// Возвращает список уже занятых tenant'ов (пустой — успех).
	TryAcquireAll(ctx context.Context, tenants []string, owner string, ttl time.Duration) ([]string, error)
}

// Exists проверяет, занят ли tenant.
func Exists(ctx context.Context, b LockBackend, tenant string) (bool, error) {
	_, ok, err := b.Owner(ctx, tenant)
	return ok, err
}
