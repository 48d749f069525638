package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/liftcoach/internal/config"
	ctxengine "github.com/user/liftcoach/internal/context"
	"github.com/user/liftcoach/internal/fitness"
	"github.com/user/liftcoach/internal/gateway"
	"github.com/user/liftcoach/internal/observability"
	"github.com/user/liftcoach/internal/retry"
	"github.com/user/liftcoach/internal/runtime"
	"github.com/user/liftcoach/internal/state"
	"github.com/user/liftcoach/internal/types"
	"github.com/user/liftcoach/internal/webhook"
	"github.com/user/liftcoach/pkg/llm"
	"github.com/user/liftcoach/pkg/llm/anthropic"
	"github.com/user/liftcoach/pkg/llm/openai"
)

// app holds the wired core shared by serve and chat.
type app struct {
	cfg           *config.Config
	db            *sql.DB
	registry      *runtime.Registry
	conversations *state.ConversationStore
	tasks         *state.TaskStore
	metrics       *observability.Metrics
	gateway       *gateway.Gateway
	shutdown      func(context.Context) error
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	c := &llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	switch cfg.LLM.Provider {
	case "", "openai":
		return openai.New(c), nil
	case "anthropic":
		if c.BaseURL == config.Default().LLM.BaseURL {
			c.BaseURL = ""
		}
		return anthropic.New(c), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func taskStore(cfg *config.Config) *state.TaskStore {
	return state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))
}

// signer returns the JWT signer for the HTTP API, or nil when no secret is
// configured.
func signer(cfg *config.Config) *webhook.Signer {
	if cfg.HTTP.JWTSecret == "" {
		return nil
	}
	return webhook.NewSigner(cfg.HTTP.JWTSecret, time.Duration(cfg.HTTP.JWTExpiryHours)*time.Hour)
}

// newToolRegistry registers every tool against db. A nil db is enough for
// listing tools; invoking them needs a real one.
func newToolRegistry(db *sql.DB) (*runtime.Registry, error) {
	registry := runtime.NewRegistry()
	if err := fitness.Register(registry, db, time.Now); err != nil {
		return nil, fmt.Errorf("register fitness tools: %w", err)
	}
	return registry, nil
}

func buildApp(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := fitness.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	registry, err := newToolRegistry(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve, cfg.PromptFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create context engine: %w", err)
	}

	tracer, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	metrics := observability.NewMetrics(reg)

	policy := retry.Default()
	if cfg.LLM.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.LLM.RetryAttempts
	}

	var allow runtime.AllowList
	if len(cfg.Tools.Allow) > 0 {
		allow = runtime.NewAllowList(cfg.Tools.Allow...)
	}

	rt := runtime.New(provider, engine, registry, runtime.Options{
		MaxRounds:       cfg.MaxToolRounds,
		ToolConcurrency: cfg.ToolConcurrency,
		Retry:           policy,
		Metrics:         metrics,
		Tracer:          tracer,
	})

	conversations := state.NewConversationStore(cfg.DataDir)
	prompter := func(owner string) (types.Message, error) {
		if owner == gateway.SystemOwner {
			owner = ""
		}
		return engine.SystemMessage(ctxengine.PromptData{Owner: owner, Tools: registry.Names(allow)})
	}
	gw := gateway.New(conversations, prompter, int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(runtime.NewProcessor(rt, conversations, allow).ProcessRun)

	return &app{
		cfg:           cfg,
		db:            db,
		registry:      registry,
		conversations: conversations,
		tasks:         taskStore(cfg),
		metrics:       metrics,
		gateway:       gw,
		shutdown:      shutdown,
	}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		slog.Warn("flush traces failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("close database failed", "error", err)
	}
}
