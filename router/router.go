// Package router decides, per request, whether a response comes from the
// local inference server, the remote API, or a canned degradation, and
// enforces the remote spend budget along the way.
package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/ledger"
	"github.com/ariabot/aria-core/memory"
	"github.com/ariabot/aria-core/metrics"
)

// Request is one generation request after context assembly.
type Request struct {
	Owner   string
	Text    string
	Tone    core.Tone
	Context []memory.Record
}

// Result is a backend's raw generation output.
type Result struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Backend produces text for a request.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// RemoteBackend is a paid backend whose usage must clear the budget.
type RemoteBackend interface {
	Backend

	// EstimateCents predicts the request's cost before sending it.
	EstimateCents(req *Request) float64

	// Cents prices actual token usage.
	Cents(inputTokens, outputTokens int64) float64
}

// Config tunes routing behavior.
type Config struct {
	// RequestTimeout bounds one full Respond call.
	RequestTimeout time.Duration

	// ContextFetchTimeout bounds the semantic context lookup before the
	// router falls back to the recent-context cache.
	ContextFetchTimeout time.Duration

	// ContextLimit caps how many memory records are injected.
	ContextLimit int
}

// Router orchestrates context fetch, backend selection, budget
// enforcement, and asynchronous memory persistence.
type Router struct {
	local  Backend
	remote RemoteBackend
	mem    *memory.Service
	spend  *ledger.Ledger
	cfg    Config
	log    *zap.SugaredLogger
}

// Option configures the router.
type Option func(*Router)

// WithLocal sets the local inference backend.
func WithLocal(b Backend) Option {
	return func(r *Router) { r.local = b }
}

// WithRemote sets the paid fallback backend.
func WithRemote(b RemoteBackend) Option {
	return func(r *Router) { r.remote = b }
}

// WithMemory enables context injection and interaction persistence.
func WithMemory(m *memory.Service) Option {
	return func(r *Router) { r.mem = m }
}

// New creates a router. The ledger is mandatory; backends and memory are
// optional and absent ones are simply skipped.
func New(spend *ledger.Ledger, cfg Config, log *zap.SugaredLogger, opts ...Option) *Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ContextFetchTimeout <= 0 {
		cfg.ContextFetchTimeout = 2 * time.Second
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 5
	}
	r := &Router{spend: spend, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond generates a reply for the owner's message. The reply always
// arrives: backend failures and budget exhaustion degrade to a canned
// response instead of surfacing an error to the conversation.
func (r *Router) Respond(ctx context.Context, owner, text string, tone core.Tone) (*core.Reply, error) {
	tone = tone.OrDefault()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	req := &Request{
		Owner:   owner,
		Text:    text,
		Tone:    tone,
		Context: r.fetchContext(ctx, owner, text),
	}

	reply := r.generate(ctx, req)
	r.persistAsync(ctx, owner, text, reply)
	return reply, nil
}

// fetchContext tries semantic search under its own deadline, then the
// recent-context cache, then gives up and returns nothing. A response
// without context beats no response.
func (r *Router) fetchContext(ctx context.Context, owner, text string) []memory.Record {
	if r.mem == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, r.cfg.ContextFetchTimeout)
	defer cancel()

	recs, err := r.mem.Search(sctx, owner, text, r.cfg.ContextLimit)
	if err == nil {
		return recs
	}
	metrics.ContextFallbacks.Inc()
	r.log.Warnw("semantic context fetch failed, using recent cache", "error", err)

	recs, err = r.mem.Recent(ctx, owner, r.cfg.ContextLimit)
	if err != nil {
		r.log.Warnw("recent context fetch failed, responding without context", "error", err)
		return nil
	}
	return recs
}

func (r *Router) generate(ctx context.Context, req *Request) *core.Reply {
	for _, kind := range attemptPlan(r.local != nil, r.remote != nil) {
		start := time.Now()
		var reply *core.Reply
		switch kind {
		case core.BackendLocal:
			reply = r.tryLocal(ctx, req)
		case core.BackendRemote:
			reply = r.tryRemote(ctx, req)
		}
		if reply != nil {
			metrics.RequestCount.WithLabelValues(string(kind), "ok").Inc()
			metrics.RequestDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
			return reply
		}
		metrics.RequestCount.WithLabelValues(string(kind), "error").Inc()
		if ctx.Err() != nil {
			return timeoutReply(req.Tone)
		}
	}
	return cannedReply(req.Tone)
}

func (r *Router) tryLocal(ctx context.Context, req *Request) *core.Reply {
	res, err := r.local.Generate(ctx, req)
	if err != nil {
		r.log.Warnw("local backend failed", "backend", r.local.Name(), "error", err)
		return nil
	}
	return &core.Reply{Text: res.Text, Backend: core.BackendLocal}
}

// tryRemote runs the paid path under ledger control. Any refusal, budget
// or otherwise, returns nil so generate falls through to the canned
// reply; the ledger fails closed when spend cannot be verified.
func (r *Router) tryRemote(ctx context.Context, req *Request) *core.Reply {
	estimate := r.remote.EstimateCents(req)
	reservation, err := r.spend.Reserve(ctx, estimate)
	if err != nil {
		var be *core.BudgetExceededError
		if errors.As(err, &be) {
			r.log.Warnw("remote call refused by budget",
				"estimated_cents", be.Estimated, "remaining_cents", be.Remaining)
		} else {
			r.log.Errorw("budget check failed, refusing remote call", "error", err)
		}
		return nil
	}

	res, err := r.remote.Generate(ctx, req)
	if err != nil {
		// Settlement must not die with the request deadline.
		if relErr := reservation.Release(context.WithoutCancel(ctx)); relErr != nil {
			r.log.Errorw("failed to release reservation", "error", relErr)
		}
		r.log.Warnw("remote backend failed", "backend", r.remote.Name(), "error", err)
		return nil
	}

	actual := r.remote.Cents(res.InputTokens, res.OutputTokens)
	if err := reservation.Commit(context.WithoutCancel(ctx), actual); err != nil {
		r.log.Errorw("failed to commit spend", "cents", actual, "error", err)
	}
	return &core.Reply{Text: res.Text, Backend: core.BackendRemote}
}

// persistAsync stores the exchange without blocking the response. The
// reply reaches the user whether or not persistence succeeds.
func (r *Router) persistAsync(ctx context.Context, owner, text string, reply *core.Reply) {
	if r.mem == nil {
		return
	}
	pctx := context.WithoutCancel(ctx)
	go func() {
		if _, err := r.mem.Store(pctx, owner, text, memory.KindMessage, 0.5); err != nil {
			r.log.Warnw("failed to persist user message", "error", err)
		}
		if reply.Degraded {
			return
		}
		if _, err := r.mem.Store(pctx, owner, reply.Text, memory.KindReply, 0.4); err != nil {
			r.log.Warnw("failed to persist reply", "error", err)
		}
	}()
}
