package assistant

import (
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariabot/aria-core/config"
	"github.com/ariabot/aria-core/ledger"
	"github.com/ariabot/aria-core/memory"
	rediscache "github.com/ariabot/aria-core/memory/cache/redis"
	"github.com/ariabot/aria-core/memory/store/chromem"
	"github.com/ariabot/aria-core/modelcache"
	"github.com/ariabot/aria-core/router"
	anthropicbackend "github.com/ariabot/aria-core/router/backend/anthropic"
	"github.com/ariabot/aria-core/router/backend/vllm"
	"github.com/ariabot/aria-core/voice"
)

// Build assembles a full assistant from configuration. Model loaders come
// from the caller because weights, runtimes, and devices are deployment
// concerns; everything else is wired here.
func Build(cfg *config.Config, specs []modelcache.Spec, log *zap.SugaredLogger) (*Assistant, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Database.RedisAddr,
		Password: cfg.Database.RedisPassword,
		DB:       cfg.Database.RedisDB,
	})

	cache := modelcache.New(log, specs)

	mem := memory.NewService(
		cache,
		chromem.New(log),
		rediscache.New(rdb, cfg.Memory.RecentCacheSize, cfg.Memory.RecentCacheTTL),
		memory.Config{DecayLambda: cfg.Memory.DecayLambda},
		log,
	)

	spend := ledger.New(
		ledger.NewRedisStore(rdb, 2*cfg.Budget.Window),
		ledger.Config{CeilingCents: cfg.Budget.Ceiling, Window: cfg.Budget.Window},
		log,
	)

	routerOpts := []router.Option{router.WithMemory(mem)}
	if cfg.AI.LocalBaseURL != "" {
		routerOpts = append(routerOpts, router.WithLocal(vllm.New(vllm.Config{
			BaseURL:   cfg.AI.LocalBaseURL,
			Model:     cfg.AI.LocalModel,
			APIKey:    cfg.AI.LocalAPIKey,
			MaxTokens: cfg.AI.MaxTokens,
		}, log)))
	}
	if cfg.AI.AnthropicAPIKey != "" {
		client := sdk.NewClient(option.WithAPIKey(cfg.AI.AnthropicAPIKey))
		routerOpts = append(routerOpts, router.WithRemote(anthropicbackend.New(&client, anthropicbackend.Config{
			Model:               cfg.AI.RemoteModel,
			MaxTokens:           cfg.AI.MaxTokens,
			InputCentsPerToken:  cfg.Budget.InputTokenPrice,
			OutputCentsPerToken: cfg.Budget.OutputTokenPrice,
		}, log)))
	}

	route := router.New(spend, router.Config{
		RequestTimeout:      cfg.Router.RequestTimeout,
		ContextFetchTimeout: cfg.Router.ContextFetchTimeout,
		ContextLimit:        cfg.Router.ContextLimit,
	}, log, routerOpts...)

	pipeline, err := voice.New(cache, route, voice.Config{
		Budget:         cfg.Voice.Budget,
		TranscribeFrac: cfg.Voice.TranscribeFrac,
		RespondFrac:    cfg.Voice.RespondFrac,
		AudioCacheTTL:  cfg.Voice.AudioCacheTTL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build voice pipeline: %w", err)
	}

	return New(cache, route, spend, log,
		WithMemory(mem),
		WithVoice(pipeline),
	), nil
}
