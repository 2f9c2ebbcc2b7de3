package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Rollout/internal/domain"
)

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBackend(client, ""), mr
}

func backends(t *testing.T) map[string]LockBackend {
	rb, _ := newRedisBackend(t)
	return map[string]LockBackend{
		"memory": NewMemoryBackend(),
		"redis":  rb,
	}
}

func TestBackend_AcquireReleaseOwner(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := b.TryAcquire(ctx, "t1", "owner-a", time.Minute)
			if err != nil || !ok {
				t.Fatalf("expected acquire, got %v %v", ok, err)
			}
			ok, _ = b.TryAcquire(ctx, "t1", "owner-b", time.Minute)
			if ok {
				t.Fatal("second acquire must fail")
			}

			owner, held, _ := b.Owner(ctx, "t1")
			if !held || owner != "owner-a" {
				t.Errorf("expected owner-a, got %q %v", owner, held)
			}

			// Чужой владелец не может снять блокировку
			_ = b.Release(ctx, "t1", "owner-b")
			if exists, _ := Exists(ctx, b, "t1"); !exists {
				t.Fatal("lock released by non-owner")
			}

			if err := b.Release(ctx, "t1", "owner-a"); err != nil {
				t.Fatalf("Release: %v", err)
			}
			// Повторное снятие — no-op
			if err := b.Release(ctx, "t1", "owner-a"); err != nil {
				t.Fatalf("second Release: %v", err)
			}
			if exists, _ := Exists(ctx, b, "t1"); exists {
				t.Error("expected lock to be released")
			}
		})
	}
}

func TestBackend_Renew(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = b.TryAcquire(ctx, "t1", "owner-a", time.Minute)

			if ok, err := b.Renew(ctx, "t1", "owner-a", time.Hour); err != nil || !ok {
				t.Errorf("owner renew should succeed, got %v %v", ok, err)
			}
			if ok, _ := b.Renew(ctx, "t1", "owner-b", time.Hour); ok {
				t.Error("foreign renew must fail")
			}
			if ok, _ := b.Renew(ctx, "missing", "owner-a", time.Hour); ok {
				t.Error("renew of missing lock must fail")
			}
		})
	}
}

func TestBackend_TryAcquireAll(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ma := b.(MultiAcquirer)

			_, _ = b.TryAcquire(ctx, "t2", "other", time.Minute)

			locked, err := ma.TryAcquireAll(ctx, []string{"t1", "t2", "t3"}, "plan", time.Minute)
			if err != nil {
				t.Fatalf("TryAcquireAll: %v", err)
			}
			if len(locked) != 1 || locked[0] != "t2" {
				t.Fatalf("expected [t2] locked, got %v", locked)
			}
			// Ничего не захвачено
			if exists, _ := Exists(ctx, b, "t1"); exists {
				t.Error("t1 must not be acquired on partial conflict")
			}

			_ = b.Release(ctx, "t2", "")
			locked, _ = ma.TryAcquireAll(ctx, []string{"t1", "t2", "t3"}, "plan", time.Minute)
			if len(locked) != 0 {
				t.Fatalf("expected success, got %v", locked)
			}
			for _, tenant := range []string{"t1", "t2", "t3"} {
				if owner, _, _ := b.Owner(ctx, tenant); owner != "plan" {
					t.Errorf("%s: expected owner plan, got %q", tenant, owner)
				}
			}
		})
	}
}

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	b := NewMemoryBackend()
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = b.TryAcquire(ctx, "t1", "a", time.Second)
	now = now.Add(2 * time.Second)

	ok, _ := b.TryAcquire(ctx, "t1", "b", time.Second)
	if !ok {
		t.Fatal("expired lock should be free")
	}
	if owner, _, _ := b.Owner(ctx, "t1"); owner != "b" {
		t.Errorf("expected owner b, got %q", owner)
	}
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	b, mr := newRedisBackend(t)
	ctx := context.Background()

	_, _ = b.TryAcquire(ctx, "t1", "a", time.Second)
	mr.FastForward(2 * time.Second)

	if ok, _ := b.TryAcquire(ctx, "t1", "b", time.Second); !ok {
		t.Fatal("expired lock should be free")
	}
}

func TestScheduler_FineConcurrentRegister(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, err := New(Config{Strategy: StrategyFine, Backend: b})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			planID := uuid.New()
			const n = 20
			var wins, conflicts atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.Register(context.Background(), planID, Claim{TenantID: "t1", TaskID: uuid.New()})
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, domain.ErrConflict):
						conflicts.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			if wins.Load() != 1 || conflicts.Load() != n-1 {
				t.Errorf("expected exactly one winner, got %d wins %d conflicts", wins.Load(), conflicts.Load())
			}
		})
	}
}

func TestScheduler_FineConflictNamesOwner(t *testing.T) {
	s, _ := New(Config{Backend: NewMemoryBackend()})
	ctx := context.Background()
	planID := uuid.New()
	first := Claim{TenantID: "t1", TaskID: uuid.New()}

	if err := s.Register(ctx, planID, first); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Повторная регистрация той же задачи успешна
	if err := s.Register(ctx, planID, first); err != nil {
		t.Fatalf("re-Register: %v", err)
	}

	err := s.Register(ctx, planID, Claim{TenantID: "t1", TaskID: uuid.New()})
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.OwnerTaskID != first.TaskID.String() || ce.OwnerPlanID != "" {
		t.Errorf("expected owner task %s, got task %q plan %q", first.TaskID, ce.OwnerTaskID, ce.OwnerPlanID)
	}
	owner, ok, err := s.ConflictingOwner(ctx, "t1")
	if err != nil || !ok || owner.TaskID != first.TaskID || owner.Raw != taskOwner(first.TaskID) {
		t.Errorf("ConflictingOwner = %+v %v %v", owner, ok, err)
	}

	if len(s.Held()) != 1 {
		t.Errorf("expected 1 held lock, got %d", len(s.Held()))
	}
	if err := s.Release(ctx, planID, first); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := s.Release(ctx, planID, first); err != nil {
		t.Fatalf("second Release should be no-op: %v", err)
	}
	if len(s.Held()) != 0 {
		t.Errorf("expected no held locks, got %v", s.Held())
	}
}

func TestScheduler_CoarseRejectsWholePlan(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, _ := New(Config{Strategy: StrategyCoarse, Backend: b})
			ctx := context.Background()

			planA := uuid.New()
			claimsA := []Claim{{TenantID: "t1", TaskID: uuid.New()}, {TenantID: "t2", TaskID: uuid.New()}}
			if err := s.AdmitPlan(ctx, planA, claimsA); err != nil {
				t.Fatalf("AdmitPlan A: %v", err)
			}
			for _, c := range claimsA {
				if err := s.Register(ctx, planA, c); err != nil {
					t.Errorf("Register %s: %v", c.TenantID, err)
				}
			}

			planB := uuid.New()
			claimsB := []Claim{{TenantID: "t2", TaskID: uuid.New()}, {TenantID: "t3", TaskID: uuid.New()}}
			err := s.AdmitPlan(ctx, planB, claimsB)
			var ce *domain.ConflictError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConflictError, got %v", err)
			}
			if len(ce.Tenants) != 1 || ce.Tenants[0] != "t2" {
				t.Errorf("expected [t2], got %v", ce.Tenants)
			}
			if exists, _ := Exists(ctx, b, "t3"); exists {
				t.Error("t3 must stay free after rejection")
			}

			// Задача чужого плана не проходит Register, владельцем назван план
			err = s.Register(ctx, planB, claimsB[0])
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConflictError, got %v", err)
			}
			if ce.OwnerPlanID != planA.String() || ce.OwnerTaskID != "" {
				t.Errorf("expected owner plan %s, got task %q plan %q", planA, ce.OwnerTaskID, ce.OwnerPlanID)
			}

			if err := s.ReleasePlan(ctx, planA); err != nil {
				t.Fatalf("ReleasePlan: %v", err)
			}
			if err := s.ReleasePlan(ctx, planA); err != nil {
				t.Fatalf("second ReleasePlan: %v", err)
			}
			if err := s.AdmitPlan(ctx, planB, claimsB); err != nil {
				t.Errorf("expected plan B admitted after release, got %v", err)
			}
		})
	}
}

// plainBackend скрывает MultiAcquirer, чтобы проверить последовательный захват.
type plainBackend struct{ LockBackend }

func TestScheduler_CoarseFallbackWithoutMultiAcquire(t *testing.T) {
	mem := NewMemoryBackend()
	s, _ := New(Config{Strategy: StrategyCoarse, Backend: plainBackend{mem}})
	ctx := context.Background()

	_, _ = mem.TryAcquire(ctx, "t3", "other", 0)
	err := s.AdmitPlan(ctx, uuid.New(), []Claim{{TenantID: "t1"}, {TenantID: "t2"}, {TenantID: "t3"}})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if mem.Len() != 1 {
		t.Errorf("partially acquired locks must be released, held %d", mem.Len())
	}
}

func TestParseOwner(t *testing.T) {
	taskID, planID := uuid.New(), uuid.New()
	tests := []struct {
		raw  string
		want Owner
	}{
		{taskOwner(taskID), Owner{Raw: taskOwner(taskID), TaskID: taskID}},
		{planOwner(planID), Owner{Raw: planOwner(planID), PlanID: planID}},
		{"task:other", Owner{Raw: "task:other"}},
		{"other", Owner{Raw: "other"}},
		{"", Owner{}},
	}
	for _, tt := range tests {
		if got := ParseOwner(tt.raw); got != tt.want {
			t.Errorf("ParseOwner(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilBackend) {
		t.Errorf("expected ErrNilBackend, got %v", err)
	}
	if _, err := New(Config{Backend: NewMemoryBackend(), Strategy: "optimistic"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestRenewer_RenewOnce(t *testing.T) {
	mem := NewMemoryBackend()
	s, _ := New(Config{Backend: mem, TTL: time.Minute})
	ctx := context.Background()
	planID := uuid.New()

	a := Claim{TenantID: "t1", TaskID: uuid.New()}
	b := Claim{TenantID: "t2", TaskID: uuid.New()}
	_ = s.Register(ctx, planID, a)
	_ = s.Register(ctx, planID, b)

	// Блокировку t2 перехватил другой процесс
	_ = mem.Release(ctx, "t2", "")
	_, _ = mem.TryAcquire(ctx, "t2", "foreign", time.Minute)

	r, err := NewRenewer(RenewerConfig{Scheduler: s, Schedule: "@every 1s"})
	if err != nil {
		t.Fatalf("NewRenewer: %v", err)
	}
	renewed, lost := r.RenewOnce(ctx)
	if renewed != 1 || lost != 1 {
		t.Errorf("expected 1 renewed 1 lost, got %d %d", renewed, lost)
	}
	if held := s.Held(); len(held) != 1 || held[0].TenantID != "t1" {
		t.Errorf("expected only t1 held, got %v", held)
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}

func TestValidateSchedule(t *testing.T) {
	if err := ValidateSchedule("@every 10s"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateSchedule("*/5 * * * *"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateSchedule("every ten seconds"); err == nil {
		t.Error("expected invalid schedule error")
	}
}

// TestAtMostOneOwnerProperty — при любой последовательности захватов
// и снятий у tenant'а не больше одного владельца, и снять блокировку
// может только владелец.
func TestAtMostOneOwnerProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("backend keeps a single owner per tenant", prop.ForAll(
		func(ops []int) bool {
			b := NewMemoryBackend()
			ctx := context.Background()
			model := map[string]string{}

			for _, op := range ops {
				tenant := fmt.Sprintf("t%d", op%3)
				owner := fmt.Sprintf("o%d", (op/3)%4)
				if op%2 == 0 {
					ok, _ := b.TryAcquire(ctx, tenant, owner, 0)
					_, taken := model[tenant]
					if ok == taken {
						return false
					}
					if ok {
						model[tenant] = owner
					}
				} else {
					_ = b.Release(ctx, tenant, owner)
					if model[tenant] == owner {
						delete(model, tenant)
					}
				}
				got, held, _ := b.Owner(ctx, tenant)
				want, wantHeld := model[tenant]
				if held != wantHeld || got != want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 200)),
	))

	properties.TestingRun(t)
}

func TestScheduler_CoarseRegisterReacquiresFreeTenant(t *testing.T) {
	mem := NewMemoryBackend()
	s, _ := New(Config{Strategy: StrategyCoarse, Backend: mem})
	ctx := context.Background()
	planID := uuid.New()

	// Блокировок нет (например, процесс перезапущен с memory-backend'ом)
	if err := s.Register(ctx, planID, Claim{TenantID: "t1", TaskID: uuid.New()}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	owner, ok, _ := mem.Owner(ctx, "t1")
	if !ok || owner != "plan:"+planID.String() {
		t.Errorf("expected lock owned by plan, got %q", owner)
	}
	if len(s.Held()) != 1 {
		t.Errorf("expected 1 held lock, got %d", len(s.Held()))
	}
}
