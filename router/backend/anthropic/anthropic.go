// Package anthropic is the paid remote backend on the Anthropic Messages
// API. It also prices requests so the router can clear them with the
// spend ledger before sending.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/ariabot/aria-core/router"
)

// Config configures the backend.
type Config struct {
	// Model is the Anthropic model name.
	Model string

	// MaxTokens caps the response length.
	MaxTokens int64

	// InputCentsPerToken and OutputCentsPerToken price usage in US cents
	// per token, matching the ledger's ceiling unit.
	InputCentsPerToken  float64
	OutputCentsPerToken float64
}

// Backend is the remote inference backend.
type Backend struct {
	client *anthropic.Client
	cfg    Config
	log    *zap.SugaredLogger
}

// New creates a remote backend on the given client.
func New(client *anthropic.Client, cfg Config, log *zap.SugaredLogger) *Backend {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Backend{client: client, cfg: cfg, log: log}
}

// Name identifies the backend in logs and metrics.
func (b *Backend) Name() string { return "anthropic" }

// Generate sends one message request.
func (b *Backend) Generate(ctx context.Context, req *router.Request) (*router.Result, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(b.cfg.Model),
		MaxTokens: b.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)),
		},
		System: []anthropic.TextBlockParam{
			{Text: router.SystemPrompt(req.Tone, req.Context)},
		},
		Temperature: anthropic.Float(req.Tone.Temperature()),
	})
	if err != nil {
		return nil, fmt.Errorf("messages api: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in response")
	}

	return &router.Result{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// EstimateCents predicts the request cost before sending. Input counts
// the system prompt, injected context, and the message; output assumes
// the full MaxTokens will be used, which biases the estimate high and
// keeps the ledger conservative.
func (b *Backend) EstimateCents(req *router.Request) float64 {
	input := router.EstimateTokens(router.SystemPrompt(req.Tone, req.Context)) +
		router.EstimateTokens(req.Text)
	return b.Cents(input, b.cfg.MaxTokens)
}

// Cents prices actual token usage.
func (b *Backend) Cents(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)*b.cfg.InputCentsPerToken +
		float64(outputTokens)*b.cfg.OutputCentsPerToken
}
