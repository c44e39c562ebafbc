// Package assistant is the top-level facade: one object that owns the
// model cache, memory, routing, budget, and voice pipeline, with an
// operation per conversational surface.
package assistant

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/ledger"
	"github.com/ariabot/aria-core/memory"
	"github.com/ariabot/aria-core/modelcache"
	"github.com/ariabot/aria-core/router"
	"github.com/ariabot/aria-core/voice"
)

// Assistant ties the subsystems together.
type Assistant struct {
	cache *modelcache.Cache
	mem   *memory.Service
	route *router.Router
	voice *voice.Pipeline
	spend *ledger.Ledger
	log   *zap.SugaredLogger
}

// Option configures the assistant.
type Option func(*Assistant)

// WithVoice enables the voice pipeline.
func WithVoice(p *voice.Pipeline) Option {
	return func(a *Assistant) { a.voice = p }
}

// WithMemory enables memory-backed context and erasure.
func WithMemory(m *memory.Service) Option {
	return func(a *Assistant) { a.mem = m }
}

// New creates an assistant from already-wired subsystems.
func New(cache *modelcache.Cache, route *router.Router, spend *ledger.Ledger, log *zap.SugaredLogger, opts ...Option) *Assistant {
	a := &Assistant{
		cache: cache,
		route: route,
		spend: spend,
		log:   log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleText answers one text message.
func (a *Assistant) HandleText(ctx context.Context, owner, text string, tone core.Tone) (*core.Reply, error) {
	return a.route.Respond(ctx, owner, text, tone)
}

// HandleVoice answers one voice message.
func (a *Assistant) HandleVoice(ctx context.Context, owner string, audio []byte, tone core.Tone) (*core.VoiceReply, error) {
	if a.voice == nil {
		return nil, fmt.Errorf("voice pipeline not configured")
	}
	return a.voice.HandleVoice(ctx, owner, audio, tone)
}

// EraseUser deletes all stored memory for the owner.
func (a *Assistant) EraseUser(ctx context.Context, owner string) error {
	if a.mem == nil {
		return nil
	}
	return a.mem.EraseAll(ctx, owner)
}

// WarmUp preloads every registered model. Best effort; serving starts
// regardless and lazy loading covers whatever failed.
func (a *Assistant) WarmUp(ctx context.Context) {
	a.cache.WarmUp(ctx)
}

// Health is a point-in-time snapshot of the assistant's dependencies.
type Health struct {
	Models               []modelcache.HandleInfo `json:"models"`
	Memory               memory.Stats            `json:"memory"`
	BudgetRemainingCents float64                 `json:"budget_remaining_cents"`
	BudgetWindowEndsIn   time.Duration           `json:"budget_window_ends_in"`
	LedgerReachable      bool                    `json:"ledger_reachable"`
}

// Health reports the state of every subsystem. It never fails; an
// unreachable dependency shows up in the snapshot instead.
func (a *Assistant) Health(ctx context.Context) Health {
	h := Health{
		Models:             a.cache.Info(),
		BudgetWindowEndsIn: a.spend.WindowEndsIn(),
		LedgerReachable:    a.spend.Ping(ctx) == nil,
	}
	if remaining, err := a.spend.Remaining(ctx); err == nil {
		h.BudgetRemainingCents = remaining
	}
	if a.mem != nil {
		h.Memory = a.mem.Stats(ctx)
	}
	return h
}
