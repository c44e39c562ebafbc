// Package vllm talks to a local vLLM server over its OpenAI-compatible
// chat completions endpoint. The server holds the model; this client just
// does HTTP.
package vllm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ariabot/aria-core/router"
)

// Config configures the client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8000/v1.
	BaseURL string

	// Model is the model name the server was launched with.
	Model string

	// APIKey is optional; vLLM only checks it when started with one.
	APIKey string

	// MaxTokens caps the response length.
	MaxTokens int64
}

// Backend is the local inference backend.
type Backend struct {
	cfg  Config
	http *http.Client
	log  *zap.SugaredLogger
}

// New creates a vLLM backend.
func New(cfg Config, log *zap.SugaredLogger) *Backend {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Backend{
		cfg: cfg,
		// Per-request deadlines come from the caller's context; this is
		// only a safety net against a wedged connection.
		http: &http.Client{Timeout: 2 * time.Minute},
		log:  log,
	}
}

// Name identifies the backend in logs and metrics.
func (b *Backend) Name() string { return "vllm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int64         `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends one chat completion request.
func (b *Backend) Generate(ctx context.Context, req *router.Request) (*router.Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model: b.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: router.SystemPrompt(req.Tone, req.Context)},
			{Role: "user", Content: req.Text},
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: req.Tone.Temperature(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("chat completions status=%d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	b.log.Debugw("local generation complete",
		"model", b.cfg.Model,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens)

	return &router.Result{
		Text:         out.Choices[0].Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}
