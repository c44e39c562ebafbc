// Package modelcache loads heavy model resources exactly once and serves
// the cached handle to all callers for the lifetime of the process.
//
// Each resource kind has its own gate: concurrent callers that arrive while
// a load is in flight suspend on the gate and receive the same handle when
// it resolves, so a multi-second load never runs twice. There is no release
// or eviction; the working set is small and universally needed, so handles
// live until process teardown.
package modelcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/metrics"
)

// State tracks the lifecycle of one cached resource.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// Loader initializes one resource on the selected device. The returned
// value is the live model; callers of Acquire type-assert it to the
// interface they need.
type Loader func(ctx context.Context, dev Device) (any, error)

// Spec registers one resource kind with the cache.
type Spec struct {
	Kind core.ResourceKind

	// FootprintBytes is the resource's expected device memory footprint,
	// used for device selection before the load starts.
	FootprintBytes int64

	Load Loader
}

// Handle is the process-lifetime reference to a loaded resource. The
// device decision is recorded at load time and never revisited.
type Handle struct {
	Kind     core.ResourceKind
	Device   Device
	Resource any
	LoadedAt time.Time
}

// HandleInfo is a read-only snapshot of one entry for health reporting.
type HandleInfo struct {
	Kind     core.ResourceKind `json:"kind"`
	State    string            `json:"state"`
	Device   string            `json:"device"`
	LoadedAt time.Time         `json:"loaded_at,omitzero"`
}

type entry struct {
	spec        Spec
	state       State
	handle      *Handle
	gate        chan struct{} // closed when the in-flight load resolves
	device      Device
	lastFailure time.Time
	failCause   error
}

// Cache is the process-wide model cache. Construct one at startup and
// inject it; tests construct their own with fake loaders.
type Cache struct {
	mu      sync.Mutex
	entries map[core.ResourceKind]*entry
	picker  DevicePicker
	backoff time.Duration
	log     *zap.SugaredLogger
}

// Option configures the cache.
type Option func(*Cache)

// WithDevicePicker overrides device selection.
func WithDevicePicker(p DevicePicker) Option {
	return func(c *Cache) { c.picker = p }
}

// WithRetryBackoff sets the minimum delay before a failed load may be
// retried. Default 30s.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Cache) { c.backoff = d }
}

// New creates a cache serving the given resource specs.
func New(log *zap.SugaredLogger, specs []Spec, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[core.ResourceKind]*entry, len(specs)),
		picker:  defaultPicker(),
		backoff: 30 * time.Second,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, s := range specs {
		c.entries[s.Kind] = &entry{spec: s}
	}
	return c
}

// Acquire returns the handle for kind, loading the resource first if
// needed. Callers arriving during a load suspend until it resolves; ctx
// cancellation abandons the wait but never the load itself, since other
// waiters depend on it.
func (c *Cache) Acquire(ctx context.Context, kind core.ResourceKind) (*Handle, error) {
	c.mu.Lock()
	e, ok := c.entries[kind]
	if !ok {
		c.mu.Unlock()
		return nil, &core.ModelUnavailableError{Kind: kind, Cause: fmt.Errorf("kind not registered")}
	}

	switch e.state {
	case StateReady:
		h := e.handle
		c.mu.Unlock()
		return h, nil

	case StateLoading:
		gate := e.gate
		c.mu.Unlock()
		return c.await(ctx, kind, gate)

	case StateFailed:
		if since := time.Since(e.lastFailure); since < c.backoff {
			cause := fmt.Errorf("load failed %s ago, retry in %s: %w",
				since.Round(time.Millisecond), c.backoff-since, e.failCause)
			c.mu.Unlock()
			return nil, &core.ModelUnavailableError{Kind: kind, Cause: cause}
		}
	}

	// Unloaded, or failed with the backoff elapsed: this caller starts
	// the load.
	gate := c.startLoad(ctx, e)
	c.mu.Unlock()
	return c.await(ctx, kind, gate)
}

// startLoad transitions e to loading and kicks off the load goroutine.
// Caller holds c.mu.
func (c *Cache) startLoad(ctx context.Context, e *entry) chan struct{} {
	e.state = StateLoading
	e.gate = make(chan struct{})
	e.device = c.picker.Pick(e.spec.FootprintBytes)
	gate := e.gate
	kind := e.spec.Kind
	dev := e.device

	c.log.Infow("loading model resource", "kind", kind, "device", dev.String())

	// Detach from the requester's deadline: a load in progress completes
	// even if the caller that triggered it times out.
	loadCtx := context.WithoutCancel(ctx)

	go func() {
		start := time.Now()
		res, err := e.spec.Load(loadCtx, dev)

		c.mu.Lock()
		if err != nil {
			e.state = StateFailed
			e.lastFailure = time.Now()
			e.failCause = err
			e.handle = nil
			metrics.ModelLoadFailures.WithLabelValues(string(kind)).Inc()
			c.log.Errorw("model load failed", "kind", kind, "device", dev.String(), "error", err)
		} else {
			e.state = StateReady
			e.handle = &Handle{
				Kind:     kind,
				Device:   dev,
				Resource: res,
				LoadedAt: time.Now(),
			}
			metrics.ModelLoadDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
			c.log.Infow("model resource ready",
				"kind", kind, "device", dev.String(), "load_duration", time.Since(start))
		}
		c.mu.Unlock()
		close(gate)
	}()

	return gate
}

// await blocks on the gate and reports the load outcome.
func (c *Cache) await(ctx context.Context, kind core.ResourceKind, gate chan struct{}) (*Handle, error) {
	select {
	case <-ctx.Done():
		return nil, &core.DeadlineExceededError{Stage: "model load wait", Cause: ctx.Err()}
	case <-gate:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[kind]
	if e.state == StateReady {
		return e.handle, nil
	}
	return nil, &core.ModelUnavailableError{Kind: kind, Cause: e.failCause}
}

// WarmUp pre-loads every registered resource. Failures are logged and do
// not abort the warm-up; the next Acquire for a failed kind retries after
// the backoff.
func (c *Cache) WarmUp(ctx context.Context) {
	c.mu.Lock()
	kinds := make([]core.ResourceKind, 0, len(c.entries))
	for k := range c.entries {
		kinds = append(kinds, k)
	}
	c.mu.Unlock()

	for _, k := range kinds {
		if _, err := c.Acquire(ctx, k); err != nil {
			c.log.Warnw("warm-up load failed", "kind", k, "error", err)
		}
	}
}

// Info returns a snapshot of all entries for health reporting.
func (c *Cache) Info() []HandleInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]HandleInfo, 0, len(c.entries))
	for kind, e := range c.entries {
		info := HandleInfo{Kind: kind, State: e.state.String()}
		if e.handle != nil {
			info.Device = e.handle.Device.String()
			info.LoadedAt = e.handle.LoadedAt
		}
		infos = append(infos, info)
	}
	return infos
}
