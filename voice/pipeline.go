// Package voice runs the three-stage voice pipeline: transcribe the
// incoming audio, generate a reply, synthesize speech for it. The stages
// share one latency budget, and synthesized audio is cached so repeated
// replies skip the model entirely.
package voice

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/ariabot/aria-core/core"
	"github.com/ariabot/aria-core/modelcache"
)

// Transcriber converts audio to text. The speech-to-text model-cache
// resource implements this.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts text to audio. The speech-synthesis model-cache
// resource implements this.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, tone core.Tone) ([]byte, error)
}

// Responder produces the reply text for the middle stage.
type Responder interface {
	Respond(ctx context.Context, owner, text string, tone core.Tone) (*core.Reply, error)
}

// Config tunes the pipeline.
type Config struct {
	// Budget is the total latency allowance for one voice exchange.
	Budget time.Duration

	// TranscribeFrac and RespondFrac split the budget between the first
	// two stages; synthesis gets the remainder. The split is nominal: a
	// stage that overruns its share eats into the later slices, which
	// shrink down to zero but never abort the turn outright.
	TranscribeFrac float64
	RespondFrac    float64

	// AudioCacheTTL bounds how long synthesized audio stays cached.
	AudioCacheTTL time.Duration
}

// DefaultConfig returns the standard budget split.
func DefaultConfig() Config {
	return Config{
		Budget:         20 * time.Second,
		TranscribeFrac: 0.35,
		RespondFrac:    0.40,
		AudioCacheTTL:  time.Hour,
	}
}

// Pipeline orchestrates one voice exchange end to end.
type Pipeline struct {
	cache     *modelcache.Cache
	responder Responder
	audio     *ristretto.Cache
	cfg       Config
	log       *zap.SugaredLogger
}

// New creates a pipeline. The audio cache is sized for roughly a few
// hundred typical TTS clips.
func New(cache *modelcache.Cache, responder Responder, cfg Config, log *zap.SugaredLogger) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.TranscribeFrac <= 0 {
		cfg.TranscribeFrac = def.TranscribeFrac
	}
	if cfg.RespondFrac <= 0 {
		cfg.RespondFrac = def.RespondFrac
	}
	if cfg.AudioCacheTTL <= 0 {
		cfg.AudioCacheTTL = def.AudioCacheTTL
	}

	audio, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create audio cache: %w", err)
	}

	return &Pipeline{
		cache:     cache,
		responder: responder,
		audio:     audio,
		cfg:       cfg,
		log:       log,
	}, nil
}

// HandleVoice processes one voice message. Transcription failure is fatal
// because nothing downstream can run without text; synthesis failure is
// not, the caller still gets the reply text with nil audio.
func (p *Pipeline) HandleVoice(ctx context.Context, owner string, audio []byte, tone core.Tone) (*core.VoiceReply, error) {
	tone = tone.OrDefault()
	start := time.Now()
	ctx, cancel := context.WithDeadline(ctx, start.Add(p.cfg.Budget))
	defer cancel()

	// Transcription is bounded only by the overall budget: running past
	// its nominal share shrinks the later slices instead of failing a
	// transcription that would still finish in time.
	text, err := p.transcribe(ctx, audio)
	if err != nil {
		return nil, err
	}

	// The respond slice is its planned share, capped by whatever the
	// earlier stage left over; synthesis gets the rest. Slices shrink to
	// zero but never go negative, so an overrun late in the budget still
	// yields a best-effort degraded turn rather than an abort.
	respondBudget := time.Duration(p.cfg.RespondFrac * float64(p.cfg.Budget))
	if remaining := time.Until(start.Add(p.cfg.Budget)); remaining < respondBudget {
		respondBudget = remaining
	}
	if respondBudget < 0 {
		respondBudget = 0
	}

	rctx, rcancel := context.WithTimeout(ctx, respondBudget)
	reply, err := p.responder.Respond(rctx, owner, text, tone)
	rcancel()
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	out := &core.VoiceReply{
		Text:     reply.Text,
		Backend:  reply.Backend,
		Degraded: reply.Degraded,
	}
	out.Audio = p.synthesize(ctx, reply.Text, tone)
	if out.Audio == nil {
		out.Degraded = true
	}
	return out, nil
}

func (p *Pipeline) transcribe(ctx context.Context, audio []byte) (string, error) {
	h, err := p.cache.Acquire(ctx, core.ResourceSpeechToText)
	if err != nil {
		return "", err
	}
	stt, ok := h.Resource.(Transcriber)
	if !ok {
		return "", &core.ModelUnavailableError{
			Kind:  core.ResourceSpeechToText,
			Cause: fmt.Errorf("cached resource does not implement Transcriber"),
		}
	}

	text, err := stt.Transcribe(ctx, audio)
	if err != nil {
		return "", &core.TranscriptionFailedError{Cause: err}
	}
	return text, nil
}

// synthesize returns audio for the text or nil when synthesis cannot
// finish inside the remaining budget. Never fatal.
func (p *Pipeline) synthesize(ctx context.Context, text string, tone core.Tone) []byte {
	key := audioKey(text, tone)
	if cached, ok := p.audio.Get(key); ok {
		if audio, ok := cached.([]byte); ok {
			return audio
		}
	}

	h, err := p.cache.Acquire(ctx, core.ResourceSpeechSynthesis)
	if err != nil {
		p.log.Warnw("synthesis model unavailable, sending text only", "error", err)
		return nil
	}
	tts, ok := h.Resource.(Synthesizer)
	if !ok {
		p.log.Warnw("synthesis resource has wrong type, sending text only")
		return nil
	}

	audio, err := tts.Synthesize(ctx, text, tone)
	if err != nil {
		p.log.Warnw("synthesis failed, sending text only",
			"error", &core.SynthesisFailedError{Cause: err})
		return nil
	}

	p.audio.SetWithTTL(key, audio, int64(len(audio)), p.cfg.AudioCacheTTL)
	return audio
}

func audioKey(text string, tone core.Tone) uint64 {
	h := fnv.New64a()
	h.Write([]byte(string(tone)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}
