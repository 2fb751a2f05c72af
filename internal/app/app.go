// Package app assembles the engine from configuration. The API server and
// the terminal client share it so both run the same stack.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/jwebster45206/alignment-engine/internal/config"
	"github.com/jwebster45206/alignment-engine/internal/services"
	"github.com/jwebster45206/alignment-engine/internal/session"
	istorage "github.com/jwebster45206/alignment-engine/internal/storage"
	"github.com/jwebster45206/alignment-engine/pkg/scenario"
	"github.com/jwebster45206/alignment-engine/pkg/storage"
	"github.com/jwebster45206/alignment-engine/pkg/textfilter"
)

const (
	redisConnectRetries = 10
	redisConnectDelay   = 2 * time.Second
)

// OpenStore returns the store named by cfg.StoreBackend. With "none" every
// store call fails with storage.ErrUnavailable and play continues without
// persistence.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rs, err := istorage.NewRedisStorage(cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		if err := rs.WaitForConnection(ctx, redisConnectRetries, redisConnectDelay); err != nil {
			_ = rs.Close()
			return nil, err
		}
		return rs, nil
	case config.StoreSQLite:
		return istorage.NewSQLiteStorage(cfg.SQLitePath, logger)
	case config.StoreMemory:
		return storage.NewMockStorage(), nil
	case config.StoreNone, "":
		return storage.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

// NewLLM builds the client for model. Ollama models are pulled before the
// client is returned, which can take minutes on first start.
func NewLLM(ctx context.Context, cfg *config.Config, model string, logger *slog.Logger) (services.LLMService, error) {
	opts := services.LLMOptions{
		Provider:    cfg.LLMProvider,
		Model:       model,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		JSONMode:    cfg.LLMJSONMode,
		Timeout:     cfg.LLMTimeout,
	}
	switch cfg.LLMProvider {
	case services.ProviderOpenAI:
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIBaseURL
	case services.ProviderAnthropic:
		opts.APIKey = cfg.AnthropicAPIKey
	case services.ProviderOllama:
		opts.BaseURL = cfg.OllamaURL
	}

	llm, err := services.NewLLMService(opts, logger)
	if err != nil {
		return nil, err
	}
	if ollama, ok := llm.(*services.OllamaService); ok {
		if err := ollama.InitModel(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize model %s: %w", model, err)
		}
	}
	return services.NewTracedLLM(llm, cfg.LLMProvider, model), nil
}

// GuestbookFilter merges the scenario's replacements with the configured
// blocklist. Blocklisted words are masked unless the scenario already maps
// them.
func GuestbookFilter(scn *scenario.Scenario, blocklist []string) *textfilter.ProfanityFilter {
	extra := make(map[string]string, len(scn.GuestbookFilter)+len(blocklist))
	maps.Copy(extra, scn.GuestbookFilter)
	for _, word := range blocklist {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		if _, ok := extra[word]; !ok {
			extra[word] = ""
		}
	}
	return textfilter.NewProfanityFilter(extra)
}

// SessionOptions loads the scenario and model clients named in cfg. recorder
// may be nil.
func SessionOptions(ctx context.Context, cfg *config.Config, gateway storage.Gateway, recorder session.Recorder, logger *slog.Logger) (session.Options, error) {
	scn, err := scenario.Load(cfg.ScenarioPath)
	if err != nil {
		return session.Options{}, err
	}

	llm, err := NewLLM(ctx, cfg, cfg.ModelName, logger)
	if err != nil {
		return session.Options{}, err
	}
	epilogueLLM := llm
	if cfg.EpilogueModelName != "" && cfg.EpilogueModelName != cfg.ModelName {
		epilogueLLM, err = NewLLM(ctx, cfg, cfg.EpilogueModelName, logger)
		if err != nil {
			return session.Options{}, err
		}
	}

	logger.Info("Scenario loaded",
		"name", scn.Name,
		"provider", cfg.LLMProvider,
		"model", cfg.ModelName,
		"epilogue_model", cfg.EpilogueModelName)

	return session.Options{
		Scenario:        scn,
		LLM:             llm,
		EpilogueLLM:     epilogueLLM,
		Gateway:         gateway,
		Logger:          logger,
		Recorder:        recorder,
		HistoryLimit:    cfg.HistoryLimit,
		GuestbookFilter: GuestbookFilter(scn, cfg.GuestbookBlocklist),
	}, nil
}
