package router_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/ledger"
	"github.com/ariabot/aria-core/memory"
	"github.com/ariabot/aria-core/memory/embedder/mock"
	"github.com/ariabot/aria-core/modelcache"
	"github.com/ariabot/aria-core/router"
)

type fakeBackend struct {
	name  string
	text  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Generate(ctx context.Context, req *router.Request) (*router.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &router.Result{Text: f.text, InputTokens: 100, OutputTokens: 50}, nil
}

type fakeRemote struct {
	fakeBackend
	estimate float64
	actual   float64
}

func (f *fakeRemote) EstimateCents(req *router.Request) float64 { return f.estimate }

func (f *fakeRemote) Cents(inputTokens, outputTokens int64) float64 { return f.actual }

func newLedger(ceiling float64) *ledger.Ledger {
	return ledger.New(ledger.NewMemStore(), ledger.Config{CeilingCents: ceiling, Window: time.Hour}, zap.NewNop().Sugar())
}

func newRouter(spend *ledger.Ledger, opts ...router.Option) *router.Router {
	return router.New(spend, router.Config{RequestTimeout: time.Second}, zap.NewNop().Sugar(), opts...)
}

func TestRespond_LocalFirst(t *testing.T) {
	local := &fakeBackend{name: "local", text: "hi from local"}
	remote := &fakeRemote{fakeBackend: fakeBackend{name: "remote", text: "hi from remote"}}
	r := newRouter(newLedger(100), router.WithLocal(local), router.WithRemote(remote))

	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneFriendly)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply.Backend != core.BackendLocal || reply.Degraded {
		t.Errorf("reply = %+v, want local non-degraded", reply)
	}
	if remote.calls.Load() != 0 {
		t.Error("remote must not be called when local succeeds")
	}
}

func TestRespond_RemoteFallbackCommitsSpend(t *testing.T) {
	local := &fakeBackend{name: "local", err: errors.New("connection refused")}
	remote := &fakeRemote{
		fakeBackend: fakeBackend{name: "remote", text: "hi from remote"},
		estimate:    10,
		actual:      7,
	}
	spend := newLedger(100)
	r := newRouter(spend, router.WithLocal(local), router.WithRemote(remote))

	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneFriendly)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if reply.Backend != core.BackendRemote || reply.Degraded {
		t.Errorf("reply = %+v, want remote non-degraded", reply)
	}

	remaining, err := spend.Remaining(context.Background())
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 93 {
		t.Errorf("remaining = %v, want 93 (actual cost committed, not estimate)", remaining)
	}
}

func TestRespond_BudgetExhaustedDegrades(t *testing.T) {
	local := &fakeBackend{name: "local", err: errors.New("down")}
	remote := &fakeRemote{
		fakeBackend: fakeBackend{name: "remote", text: "should not happen"},
		estimate:    10,
	}
	r := newRouter(newLedger(5), router.WithLocal(local), router.WithRemote(remote))

	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneFriendly)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !reply.Degraded || reply.Backend != core.BackendNone {
		t.Errorf("reply = %+v, want degraded canned reply", reply)
	}
	if reply.Text == "" {
		t.Error("degraded reply must still carry text")
	}
	if remote.calls.Load() != 0 {
		t.Error("remote must not be called past the budget")
	}
}

func TestRespond_RemoteFailureReleasesReservation(t *testing.T) {
	local := &fakeBackend{name: "local", err: errors.New("down")}
	remote := &fakeRemote{
		fakeBackend: fakeBackend{name: "remote", err: errors.New("429")},
		estimate:    10,
	}
	spend := newLedger(100)
	r := newRouter(spend, router.WithLocal(local), router.WithRemote(remote))

	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneFriendly)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !reply.Degraded {
		t.Errorf("reply = %+v, want degraded", reply)
	}

	remaining, err := spend.Remaining(context.Background())
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 100 {
		t.Errorf("remaining = %v, want full budget after release", remaining)
	}
}

func TestRespond_DeadlineProducesDegradedReply(t *testing.T) {
	local := &fakeBackend{name: "local", text: "too slow", delay: 500 * time.Millisecond}
	spend := newLedger(100)
	r := router.New(spend, router.Config{RequestTimeout: 50 * time.Millisecond}, zap.NewNop().Sugar(),
		router.WithLocal(local))

	start := time.Now()
	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneFriendly)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !reply.Degraded || reply.Backend != core.BackendNone {
		t.Errorf("reply = %+v, want degraded timeout reply", reply)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("respond took %v, deadline not honored", elapsed)
	}
}

func TestRespond_NoBackendsStillReplies(t *testing.T) {
	r := newRouter(newLedger(100))

	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneGenZ)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !reply.Degraded || reply.Text == "" {
		t.Errorf("reply = %+v, want degraded canned text", reply)
	}
}

type brokenStore struct{}

func (brokenStore) Add(ctx context.Context, key string, delta float64) (float64, error) {
	return 0, errors.New("ledger store down")
}

func (brokenStore) Get(ctx context.Context, key string) (float64, error) {
	return 0, errors.New("ledger store down")
}

func (brokenStore) Ping(ctx context.Context) error { return errors.New("ledger store down") }

func TestRespond_LedgerOutageRefusesRemote(t *testing.T) {
	remote := &fakeRemote{
		fakeBackend: fakeBackend{name: "remote", text: "should not happen"},
		estimate:    1,
	}
	spend := ledger.New(brokenStore{}, ledger.Config{CeilingCents: 100, Window: time.Hour}, zap.NewNop().Sugar())
	r := newRouter(spend, router.WithRemote(remote))

	reply, err := r.Respond(context.Background(), "user-1", "hello", core.ToneFriendly)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !reply.Degraded {
		t.Errorf("reply = %+v, want degraded when spend cannot be verified", reply)
	}
	if remote.calls.Load() != 0 {
		t.Error("remote must not be called when the ledger is unreachable")
	}
}

// countingIndex is just enough of an index to observe persistence.
type countingIndex struct {
	mu   sync.Mutex
	recs []memory.Record
}

func (c *countingIndex) Add(ctx context.Context, rec *memory.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, *rec)
	return nil
}

func (c *countingIndex) Query(ctx context.Context, owner string, embedding []float32, limit int) ([]memory.Scored, error) {
	return nil, nil
}

func (c *countingIndex) EraseOwner(ctx context.Context, owner string) error { return nil }

func (c *countingIndex) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (c *countingIndex) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs), nil
}

func (c *countingIndex) Ping(ctx context.Context) error { return nil }

type nopRecent struct{}

func (nopRecent) Push(ctx context.Context, owner string, rec *memory.Record) error { return nil }

func (nopRecent) Recent(ctx context.Context, owner string, limit int) ([]memory.Record, error) {
	return nil, nil
}

func (nopRecent) EraseOwner(ctx context.Context, owner string) error { return nil }

func (nopRecent) Ping(ctx context.Context) error { return nil }

func TestRespond_PersistsExchangeAsynchronously(t *testing.T) {
	specs := []modelcache.Spec{{
		Kind: core.ResourceEmbedding,
		Load: func(ctx context.Context, _ modelcache.Device) (any, error) {
			return mock.New(32), nil
		},
	}}
	cache := modelcache.New(zap.NewNop().Sugar(), specs, modelcache.WithDevicePicker(modelcache.StaticPicker{}))
	index := &countingIndex{}
	svc := memory.NewService(cache, index, nopRecent{}, memory.DefaultConfig(), zap.NewNop().Sugar())

	local := &fakeBackend{name: "local", text: "hi"}
	r := newRouter(newLedger(100), router.WithLocal(local), router.WithMemory(svc))

	if _, err := r.Respond(context.Background(), "user-1", "remember this", core.ToneFriendly); err != nil {
		t.Fatalf("respond: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := index.Count(context.Background()); n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	n, _ := index.Count(context.Background())
	t.Fatalf("expected message and reply persisted, got %d records", n)
}

func TestSystemPrompt_InjectsContext(t *testing.T) {
	recs := []memory.Record{
		{Text: "user's dog is named Biscuit"},
		{Text: "user lives in Lisbon"},
	}
	prompt := router.SystemPrompt(core.ToneFriendly, recs)
	if !strings.Contains(prompt, "Biscuit") || !strings.Contains(prompt, "Lisbon") {
		t.Errorf("context missing from prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, core.ToneFriendly.SystemPrompt()) {
		t.Error("persona missing from prompt")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := router.EstimateTokens(""); got != 1 {
		t.Errorf("empty text estimate = %d, want 1", got)
	}
	if got := router.EstimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("estimate = %d, want 100", got)
	}
}
