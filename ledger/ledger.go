// Package ledger tracks remote inference spend against a rolling budget
// window. Reservations are taken before a remote call and settled with the
// actual cost afterwards, so the ceiling holds even when calls overlap.
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/metrics"
)

// Store is the counter backend. Add atomically adjusts the counter at key
// by delta and returns the new value.
type Store interface {
	Add(ctx context.Context, key string, delta float64) (float64, error)
	Get(ctx context.Context, key string) (float64, error)
	Ping(ctx context.Context) error
}

// Config sets the budget.
type Config struct {
	// CeilingCents is the maximum spend per window, in US cents.
	CeilingCents float64

	// Window is the budget period. Spend resets when the window rolls
	// over; no proration, no carryover.
	Window time.Duration
}

// Ledger enforces the spend ceiling. Safe for concurrent use; all state
// lives in the store.
type Ledger struct {
	store Store
	cfg   Config
	log   *zap.SugaredLogger
	now   func() time.Time
}

// New creates a ledger on the given store.
func New(store Store, cfg Config, log *zap.SugaredLogger) *Ledger {
	if cfg.Window <= 0 {
		cfg.Window = 30 * 24 * time.Hour
	}
	return &Ledger{store: store, cfg: cfg, log: log, now: time.Now}
}

// windowKey buckets spend by window start. Rollover is lazy: the first
// reservation after a boundary simply lands on a fresh key.
func (l *Ledger) windowKey(now time.Time) string {
	return fmt.Sprintf("cost:window:%d", now.Truncate(l.cfg.Window).Unix())
}

// Reservation is a pending claim against the budget. Exactly one of
// Commit or Release must be called.
type Reservation struct {
	ledger    *Ledger
	key       string
	estimated float64
	settled   bool
}

// Reserve claims estimatedCents against the current window. If the claim
// would push spend past the ceiling it is rolled back and
// BudgetExceededError is returned. A store failure refuses the
// reservation outright; when spend cannot be verified, remote calls do
// not happen.
func (l *Ledger) Reserve(ctx context.Context, estimatedCents float64) (*Reservation, error) {
	if estimatedCents < 0 {
		estimatedCents = 0
	}
	key := l.windowKey(l.now())

	total, err := l.store.Add(ctx, key, estimatedCents)
	if err != nil {
		return nil, &core.DependencyUnreachableError{Dependency: "cost ledger store", Cause: err}
	}

	if total > l.cfg.CeilingCents {
		if _, rbErr := l.store.Add(ctx, key, -estimatedCents); rbErr != nil {
			l.log.Errorw("failed to roll back over-ceiling reservation", "key", key, "error", rbErr)
		}
		metrics.BudgetRefusals.Inc()
		remaining := l.cfg.CeilingCents - (total - estimatedCents)
		if remaining < 0 {
			remaining = 0
		}
		return nil, &core.BudgetExceededError{Estimated: estimatedCents, Remaining: remaining}
	}

	return &Reservation{ledger: l, key: key, estimated: estimatedCents}, nil
}

// Commit replaces the estimate with the actual cost. The correction may
// transiently exceed the ceiling when the estimate ran low; actual spend
// is never un-spent.
func (r *Reservation) Commit(ctx context.Context, actualCents float64) error {
	if r.settled {
		return fmt.Errorf("reservation already settled")
	}
	r.settled = true

	if actualCents < 0 {
		actualCents = 0
	}
	if _, err := r.ledger.store.Add(ctx, r.key, actualCents-r.estimated); err != nil {
		return &core.DependencyUnreachableError{Dependency: "cost ledger store", Cause: err}
	}
	metrics.RemoteSpend.Add(actualCents)
	return nil
}

// Release returns the estimate to the budget after a failed call.
func (r *Reservation) Release(ctx context.Context) error {
	if r.settled {
		return fmt.Errorf("reservation already settled")
	}
	r.settled = true

	if _, err := r.ledger.store.Add(ctx, r.key, -r.estimated); err != nil {
		return &core.DependencyUnreachableError{Dependency: "cost ledger store", Cause: err}
	}
	return nil
}

// Remaining reports the unspent budget in the current window, clamped to
// zero.
func (l *Ledger) Remaining(ctx context.Context) (float64, error) {
	spent, err := l.store.Get(ctx, l.windowKey(l.now()))
	if err != nil {
		return 0, &core.DependencyUnreachableError{Dependency: "cost ledger store", Cause: err}
	}
	remaining := l.cfg.CeilingCents - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// WindowEndsIn reports the time left until the current window rolls over.
func (l *Ledger) WindowEndsIn() time.Duration {
	now := l.now()
	return now.Truncate(l.cfg.Window).Add(l.cfg.Window).Sub(now)
}

// Ping reports whether the store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
