package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
)

func newTestLedger(ceiling float64, window time.Duration) (*Ledger, *MemStore) {
	store := NewMemStore()
	l := New(store, Config{CeilingCents: ceiling, Window: window}, zap.NewNop().Sugar())
	return l, store
}

func TestReserveCommit_TracksSpend(t *testing.T) {
	l, _ := newTestLedger(100, time.Hour)
	ctx := context.Background()

	res, err := l.Reserve(ctx, 30)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := res.Commit(ctx, 25); err != nil {
		t.Fatalf("commit: %v", err)
	}

	remaining, err := l.Remaining(ctx)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 75 {
		t.Errorf("remaining = %v, want 75", remaining)
	}
}

func TestReserve_RefusesOverCeiling(t *testing.T) {
	l, _ := newTestLedger(100, time.Hour)
	ctx := context.Background()

	res, err := l.Reserve(ctx, 90)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := res.Commit(ctx, 90); err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, err = l.Reserve(ctx, 20)
	var be *core.BudgetExceededError
	if !errors.As(err, &be) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if be.Remaining != 10 {
		t.Errorf("Remaining = %v, want 10", be.Remaining)
	}

	// The refused reservation must not leak spend.
	remaining, err := l.Remaining(ctx)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 10 {
		t.Errorf("remaining after refusal = %v, want 10", remaining)
	}
}

func TestRelease_ReturnsBudget(t *testing.T) {
	l, _ := newTestLedger(100, time.Hour)
	ctx := context.Background()

	res, err := l.Reserve(ctx, 60)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := res.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	remaining, err := l.Remaining(ctx)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 100 {
		t.Errorf("remaining = %v, want 100", remaining)
	}
}

func TestReservation_SettlesExactlyOnce(t *testing.T) {
	l, _ := newTestLedger(100, time.Hour)
	ctx := context.Background()

	res, err := l.Reserve(ctx, 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := res.Commit(ctx, 10); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := res.Release(ctx); err == nil {
		t.Error("release after commit must fail")
	}
	if err := res.Commit(ctx, 10); err == nil {
		t.Error("double commit must fail")
	}
}

func TestReserve_ConcurrentCallersNeverBreachCeiling(t *testing.T) {
	l, store := newTestLedger(100, time.Hour)
	ctx := context.Background()

	const callers = 50
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Reserve(ctx, 10)
			if err != nil {
				return
			}
			granted.Add(1)
			if err := res.Commit(ctx, 10); err != nil {
				t.Errorf("commit: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 10 {
		t.Errorf("granted %d reservations, want 10", got)
	}
	spent, _ := store.Get(ctx, l.windowKey(l.now()))
	if spent > 100 {
		t.Errorf("spend %v breached the ceiling", spent)
	}
}

func TestReserve_WindowRollover(t *testing.T) {
	l, _ := newTestLedger(100, time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	res, err := l.Reserve(ctx, 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := res.Commit(ctx, 100); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := l.Reserve(ctx, 1); err == nil {
		t.Fatal("expected exhausted window to refuse")
	}

	// Cross the window boundary; spend starts fresh.
	l.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := l.Reserve(ctx, 50); err != nil {
		t.Fatalf("expected fresh window to grant: %v", err)
	}
}

type failingStore struct{}

func (failingStore) Add(ctx context.Context, key string, delta float64) (float64, error) {
	return 0, errors.New("store unreachable")
}

func (failingStore) Get(ctx context.Context, key string) (float64, error) {
	return 0, errors.New("store unreachable")
}

func (failingStore) Ping(ctx context.Context) error {
	return errors.New("store unreachable")
}

func TestReserve_FailsClosedOnStoreError(t *testing.T) {
	l := New(failingStore{}, Config{CeilingCents: 100, Window: time.Hour}, zap.NewNop().Sugar())

	_, err := l.Reserve(context.Background(), 1)
	var du *core.DependencyUnreachableError
	if !errors.As(err, &du) {
		t.Fatalf("expected DependencyUnreachableError, got %v", err)
	}
}

func TestWindowEndsIn(t *testing.T) {
	l, _ := newTestLedger(100, time.Hour)
	l.now = func() time.Time {
		return time.Date(2026, 8, 1, 10, 45, 0, 0, time.UTC)
	}
	if got := l.WindowEndsIn(); got != 15*time.Minute {
		t.Errorf("WindowEndsIn = %v, want 15m", got)
	}
}
