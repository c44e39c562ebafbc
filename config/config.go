// Package config loads the runtime configuration from the environment.
// A .env file is honored when present; every value has a default so the
// core can start with nothing but API credentials set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AIConfig configures the generation backends.
type AIConfig struct {
	// LocalBaseURL is the OpenAI-compatible endpoint of the local
	// generation server, e.g. a vLLM instance.
	LocalBaseURL string
	LocalModel   string
	LocalAPIKey  string

	// AnthropicAPIKey enables the remote backend when set.
	AnthropicAPIKey string
	RemoteModel     string

	MaxTokens           int64
	EmbeddingDimensions int

	// ONNX embedder artifacts (used only with the onnx build tag).
	EmbeddingModelPath     string
	EmbeddingTokenizerPath string
	OnnxLibraryPath        string
}

// BudgetConfig configures the remote-spend ledger.
type BudgetConfig struct {
	// Ceiling is the maximum remote spend per window, in US cents.
	Ceiling float64

	// Window is the rollover cadence of the cost window.
	Window time.Duration

	// Remote pricing in US cents per token, used for estimates and
	// settlement.
	InputTokenPrice  float64
	OutputTokenPrice float64
}

// MemoryConfig configures retrieval ranking and the recent-context cache.
type MemoryConfig struct {
	// DecayLambda is the exponential recency-decay rate per hour.
	DecayLambda float64

	// RecentCacheSize bounds the per-owner recent-context list.
	RecentCacheSize int

	// RecentCacheTTL expires an owner's recent-context list.
	RecentCacheTTL time.Duration
}

// RouterConfig configures per-request budgets for the text path.
type RouterConfig struct {
	RequestTimeout      time.Duration
	ContextFetchTimeout time.Duration
	ContextLimit        int
}

// VoiceConfig configures the voice pipeline deadline split and audio cache.
type VoiceConfig struct {
	Budget         time.Duration
	TranscribeFrac float64
	RespondFrac    float64
	AudioCacheTTL  time.Duration
}

// DatabaseConfig points at the external cache service.
type DatabaseConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Config is the full runtime configuration.
type Config struct {
	AI       AIConfig
	Budget   BudgetConfig
	Memory   MemoryConfig
	Router   RouterConfig
	Voice    VoiceConfig
	Database DatabaseConfig
}

// Load reads configuration from the environment, honoring a .env file in
// the working directory when one exists.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	cfg := &Config{
		AI: AIConfig{
			LocalBaseURL:           getString("LOCAL_BASE_URL", "http://localhost:8002/v1"),
			LocalModel:             getString("LOCAL_MODEL_NAME", "aria-local"),
			LocalAPIKey:            getString("LOCAL_API_KEY", ""),
			AnthropicAPIKey:        getString("ANTHROPIC_API_KEY", ""),
			RemoteModel:            getString("REMOTE_MODEL_NAME", "claude-sonnet-4-20250514"),
			MaxTokens:              getInt64("MAX_TOKENS", 800),
			EmbeddingDimensions:    int(getInt64("EMBEDDING_DIMENSIONS", 384)),
			EmbeddingModelPath:     getString("EMBEDDING_MODEL_PATH", "data/models/embeddings/model.onnx"),
			EmbeddingTokenizerPath: getString("EMBEDDING_TOKENIZER_PATH", "data/models/embeddings/tokenizer.json"),
			OnnxLibraryPath:        getString("ONNX_LIBRARY_PATH", ""),
		},
		Budget: BudgetConfig{
			Ceiling:          getFloat("COST_CEILING", 5000),
			Window:           getDuration("COST_WINDOW", 30*24*time.Hour),
			InputTokenPrice:  getFloat("REMOTE_INPUT_TOKEN_PRICE", 0.0003),
			OutputTokenPrice: getFloat("REMOTE_OUTPUT_TOKEN_PRICE", 0.0015),
		},
		Memory: MemoryConfig{
			DecayLambda:     getFloat("MEMORY_DECAY_LAMBDA", 0.01),
			RecentCacheSize: int(getInt64("RECENT_CACHE_SIZE", 10)),
			RecentCacheTTL:  getDuration("RECENT_CACHE_TTL", 24*time.Hour),
		},
		Router: RouterConfig{
			RequestTimeout:      getDuration("REQUEST_TIMEOUT", 30*time.Second),
			ContextFetchTimeout: getDuration("CONTEXT_FETCH_TIMEOUT", 2*time.Second),
			ContextLimit:        int(getInt64("CONTEXT_LIMIT", 5)),
		},
		Voice: VoiceConfig{
			Budget:         getDuration("VOICE_BUDGET", 20*time.Second),
			TranscribeFrac: getFloat("VOICE_TRANSCRIBE_FRAC", 0.35),
			RespondFrac:    getFloat("VOICE_RESPOND_FRAC", 0.40),
			AudioCacheTTL:  getDuration("AUDIO_CACHE_TTL", time.Hour),
		},
		Database: DatabaseConfig{
			RedisAddr:     getString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getString("REDIS_PASSWORD", ""),
			RedisDB:       int(getInt64("REDIS_DB", 0)),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Budget.Ceiling < 0 {
		return fmt.Errorf("COST_CEILING must not be negative")
	}
	if c.Budget.Window <= 0 {
		return fmt.Errorf("COST_WINDOW must be positive")
	}
	if c.Voice.TranscribeFrac+c.Voice.RespondFrac >= 1.0 {
		return fmt.Errorf("voice deadline fractions must leave room for synthesis")
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
