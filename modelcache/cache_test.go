package modelcache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/modelcache"
)

func newCache(t *testing.T, specs []modelcache.Spec, opts ...modelcache.Option) *modelcache.Cache {
	t.Helper()
	opts = append(opts, modelcache.WithDevicePicker(modelcache.StaticPicker{}))
	return modelcache.New(zap.NewNop().Sugar(), specs, opts...)
}

func TestAcquire_SingleLoadForConcurrentCallers(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})

	specs := []modelcache.Spec{{
		Kind: core.ResourceEmbedding,
		Load: func(ctx context.Context, _ modelcache.Device) (any, error) {
			loads.Add(1)
			<-release
			return "embedding-model", nil
		},
	}}
	cache := newCache(t, specs)

	const callers = 16
	handles := make([]*modelcache.Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = cache.Acquire(context.Background(), core.ResourceEmbedding)
		}(i)
	}

	// Let all callers pile up on the gate before the load resolves.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Errorf("caller %d received a different handle", i)
		}
	}
	if handles[0].Resource != "embedding-model" {
		t.Errorf("unexpected resource: %v", handles[0].Resource)
	}
}

func TestAcquire_ReadyReturnsImmediately(t *testing.T) {
	specs := []modelcache.Spec{{
		Kind: core.ResourceEmbedding,
		Load: func(ctx context.Context, _ modelcache.Device) (any, error) {
			return 42, nil
		},
	}}
	cache := newCache(t, specs)

	first, err := cache.Acquire(context.Background(), core.ResourceEmbedding)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := cache.Acquire(context.Background(), core.ResourceEmbedding)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if first != second {
		t.Error("expected the same handle on repeat acquire")
	}
}

func TestAcquire_FailurePropagatesToAllWaiters(t *testing.T) {
	release := make(chan struct{})
	specs := []modelcache.Spec{{
		Kind: core.ResourceSpeechToText,
		Load: func(ctx context.Context, _ modelcache.Device) (any, error) {
			<-release
			return nil, fmt.Errorf("weights missing")
		},
	}}
	cache := newCache(t, specs)

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Acquire(context.Background(), core.ResourceSpeechToText)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		var mu *core.ModelUnavailableError
		if !errors.As(err, &mu) {
			t.Fatalf("caller %d: expected ModelUnavailableError, got %v", i, err)
		}
		if mu.Kind != core.ResourceSpeechToText {
			t.Errorf("caller %d: wrong kind %s", i, mu.Kind)
		}
	}
}

func TestAcquire_RetryAfterBackoff(t *testing.T) {
	var loads atomic.Int32
	specs := []modelcache.Spec{{
		Kind: core.ResourceEmbedding,
		Load: func(ctx context.Context, _ modelcache.Device) (any, error) {
			if loads.Add(1) == 1 {
				return nil, fmt.Errorf("transient")
			}
			return "model", nil
		},
	}}
	cache := newCache(t, specs, modelcache.WithRetryBackoff(30*time.Millisecond))

	if _, err := cache.Acquire(context.Background(), core.ResourceEmbedding); err == nil {
		t.Fatal("expected first acquire to fail")
	}

	// Within the backoff window the failure is returned without a reload.
	if _, err := cache.Acquire(context.Background(), core.ResourceEmbedding); err == nil {
		t.Fatal("expected acquire inside backoff window to fail")
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("expected no retry inside backoff window, loads=%d", got)
	}

	time.Sleep(40 * time.Millisecond)
	h, err := cache.Acquire(context.Background(), core.ResourceEmbedding)
	if err != nil {
		t.Fatalf("expected retry after backoff to succeed: %v", err)
	}
	if h.Resource != "model" {
		t.Errorf("unexpected resource: %v", h.Resource)
	}
	if got := loads.Load(); got != 2 {
		t.Errorf("expected exactly two loads, got %d", got)
	}
}

func TestAcquire_WaiterTimeoutDoesNotCancelLoad(t *testing.T) {
	release := make(chan struct{})
	loaded := make(chan struct{})
	specs := []modelcache.Spec{{
		Kind: core.ResourceSpeechSynthesis,
		Load: func(ctx context.Context, _ modelcache.Device) (any, error) {
			defer close(loaded)
			<-release
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return "tts", nil
		},
	}}
	cache := newCache(t, specs)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.Acquire(ctx, core.ResourceSpeechSynthesis)
	var de *core.DeadlineExceededError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeadlineExceededError, got %v", err)
	}

	// The load must still complete for the benefit of later callers.
	close(release)
	<-loaded
	h, err := cache.Acquire(context.Background(), core.ResourceSpeechSynthesis)
	if err != nil {
		t.Fatalf("expected load to have completed despite waiter timeout: %v", err)
	}
	if h.Resource != "tts" {
		t.Errorf("unexpected resource: %v", h.Resource)
	}
}

func TestAcquire_UnknownKind(t *testing.T) {
	cache := newCache(t, nil)
	_, err := cache.Acquire(context.Background(), core.ResourceEmbedding)
	var mu *core.ModelUnavailableError
	if !errors.As(err, &mu) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
}

func TestInfo_ReportsStates(t *testing.T) {
	specs := []modelcache.Spec{
		{
			Kind: core.ResourceEmbedding,
			Load: func(ctx context.Context, _ modelcache.Device) (any, error) { return 1, nil },
		},
		{
			Kind: core.ResourceSpeechToText,
			Load: func(ctx context.Context, _ modelcache.Device) (any, error) { return 2, nil },
		},
	}
	cache := newCache(t, specs)

	if _, err := cache.Acquire(context.Background(), core.ResourceEmbedding); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	states := map[core.ResourceKind]string{}
	for _, info := range cache.Info() {
		states[info.Kind] = info.State
	}
	if states[core.ResourceEmbedding] != "ready" {
		t.Errorf("embedding state = %s, want ready", states[core.ResourceEmbedding])
	}
	if states[core.ResourceSpeechToText] != "unloaded" {
		t.Errorf("speech-to-text state = %s, want unloaded", states[core.ResourceSpeechToText])
	}
}
