package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nugget/azaman/internal/agent"
	"github.com/nugget/azaman/internal/config"
	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/mqtt"
	"github.com/nugget/azaman/internal/state"
	"github.com/nugget/azaman/internal/tools"
	"github.com/nugget/azaman/internal/usage"
)

// loadConfig locates, parses and validates the configuration. It returns
// the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger builds the configured logger writing to w.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	// Validate has already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// runtime is the wired core shared by every command that runs turns.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	store  state.Store
	ledger *usage.Store
	tokens *mqtt.DailyTokens
	loop   *agent.Loop
}

// openStore opens the conversation store under the data directory,
// fronted by the read cache unless it is disabled.
func openStore(cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	sqlStore, err := state.NewSQLiteStore(filepath.Join(cfg.DataDir, "state.db"), cfg.Store.KeepVersions)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if cfg.Cache.Disabled {
		return sqlStore, nil
	}
	cached, err := state.NewCachedStore(sqlStore, cfg.Cache.MaxStates, logger)
	if err != nil {
		sqlStore.Close()
		return nil, err
	}
	return cached, nil
}

// openRuntime opens the stores and builds the turn loop.
func openRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	ledger, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}

	client := newLLMClient(cfg, logger)
	gateway := llm.NewGateway(client, cfg.Models.Model, logger)

	loop := agent.NewLoop(logger, store, gateway, tools.NewRegistry(), agent.Config{
		SummarizeThreshold: cfg.Agent.SummarizeThreshold,
		MaxIterations:      cfg.Agent.MaxIterations,
		Pricing:            cfg.Pricing,
	})

	tokens := mqtt.NewDailyTokens(nil)
	loop.SetUsageRecorder(usageRecorders{ledger, tokens})

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		ledger: ledger,
		tokens: tokens,
		loop:   loop,
	}, nil
}

// Close releases the stores.
func (r *runtime) Close() error {
	return errors.Join(r.ledger.Close(), r.store.Close())
}

// newLLMClient registers every provider that has what it needs to run.
// Ollama is always present; hosted providers need an API key. Models
// without a provider prefix go to models.provider.
func newLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	fallback := cfg.Models.Provider
	if fallback == "" {
		fallback = config.ProviderOllama
	}
	multi := llm.NewMultiClient(fallback)

	p := cfg.Providers
	multi.AddProvider(config.ProviderOllama, llm.NewOllamaClient(p.Ollama.BaseURL, logger))

	if p.Anthropic.APIKey != "" {
		multi.AddProvider(config.ProviderAnthropic,
			llm.NewAnthropicClient(p.Anthropic.APIKey, p.Anthropic.BaseURL, cfg.Models.MaxTokens, logger))
	}

	hosted := []struct {
		name       string
		defaultURL string
		headers    map[string]string
	}{
		{config.ProviderOpenRouter, llm.OpenRouterURL, map[string]string{"X-Title": "Aza Man"}},
		{config.ProviderGroq, llm.GroqURL, nil},
		{config.ProviderTogether, llm.TogetherURL, nil},
	}
	for _, h := range hosted {
		pc, _ := p.Get(h.name)
		if pc.APIKey == "" {
			continue
		}
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = h.defaultURL
		}
		multi.AddProvider(h.name, llm.NewOpenAIClient(h.name, baseURL, pc.APIKey, cfg.Models.MaxTokens, h.headers, logger))
	}

	logger.Info("LLM client initialized",
		"model", cfg.Models.Model,
		"default_provider", fallback,
		"providers", multi.Providers(),
	)
	return multi
}

// usageRecorders fans one usage record out to several recorders.
type usageRecorders []agent.UsageRecorder

func (u usageRecorders) Record(ctx context.Context, rec usage.Record) error {
	var errs []error
	for _, r := range u {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// threadArg accepts either a user id or a thread id.
func threadArg(id string) string {
	if state.ValidUserID(id) {
		return state.ThreadID(id)
	}
	return id
}
