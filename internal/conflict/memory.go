package conflict

import (
	"context"
	"sync"
	"time"
)

type memoryLock struct {
	owner     string
	expiresAt time.Time // zero — без истечения
}

func (l memoryLock) expired(now time.Time) bool {
	return !l.expiresAt.IsZero() && !now.Before(l.expiresAt)
}

// MemoryBackend — LockBackend в памяти процесса.
//
// Все операции выполняются под одним мьютексом, поэтому проверка
// и вставка атомарны.
type MemoryBackend struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

// NewMemoryBackend создаёт пустой backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{locks: make(map[string]memoryLock), now: time.Now}
}

func (b *MemoryBackend) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.now().Add(ttl)
}

// held возвращает живую блокировку. Вызывается под b.mu.
func (b *MemoryBackend) held(tenant string) (memoryLock, bool) {
	l, ok := b.locks[tenant]
	if !ok {
		return memoryLock{}, false
	}
	if l.expired(b.now()) {
		delete(b.locks, tenant)
		return memoryLock{}, false
	}
	return l, true
}

// TryAcquire захватывает tenant, если он свободен.
func (b *MemoryBackend) TryAcquire(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.held(tenant); ok {
		return false, nil
	}
	b.locks[tenant] = memoryLock{owner: owner, expiresAt: b.expiry(ttl)}
	return true, nil
}

// TryAcquireAll захватывает все tenant'ы под одним мьютексом.
func (b *MemoryBackend) TryAcquireAll(ctx context.Context, tenants []string, owner string, ttl time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var locked []string
	for _, t := range tenants {
		if _, ok := b.held(t); ok {
			locked = append(locked, t)
		}
	}
	if len(locked) > 0 {
		return locked, nil
	}

	exp := b.expiry(ttl)
	for _, t := range tenants {
		b.locks[t] = memoryLock{owner: owner, expiresAt: exp}
	}
	return nil, nil
}

// Release снимает блокировку владельца.
func (b *MemoryBackend) Release(ctx context.Context, tenant, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.held(tenant)
	if !ok {
		return nil
	}
	if owner != "" && l.owner != owner {
		return nil
	}
	delete(b.locks, tenant)
	return nil
}

// Renew продлевает блокировку владельца.
func (b *MemoryBackend) Renew(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.held(tenant)
	if !ok || l.owner != owner {
		return false, nil
	}
	l.expiresAt = b.expiry(ttl)
	b.locks[tenant] = l
	return true, nil
}

// Owner возвращает владельца живой блокировки.
func (b *MemoryBackend) Owner(ctx context.Context, tenant string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.held(tenant)
	return l.owner, ok, nil
}

// Len возвращает число живых блокировок.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for t := range b.locks {
		if _, ok := b.held(t); ok {
			n++
		}
	}
	return n
}
