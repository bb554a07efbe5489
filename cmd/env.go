package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/thriftstack/listing-cli/internal/autopilot"
	"github.com/thriftstack/listing-cli/internal/enrich"
	"github.com/thriftstack/listing-cli/internal/locks"
	"github.com/thriftstack/listing-cli/internal/store"
	"github.com/thriftstack/listing-cli/internal/tagrules"
	"github.com/thriftstack/listing-cli/internal/undo"
	"github.com/thriftstack/listing-cli/pkg/dispatch"
	"github.com/thriftstack/listing-cli/pkg/genai"
	"github.com/thriftstack/listing-cli/pkg/images"
	"github.com/thriftstack/listing-cli/pkg/pricing"
	"github.com/thriftstack/listing-cli/pkg/skugen"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// env bundles the orchestration core and its collaborators for one
// process. Locks, failure tracking, enriched membership, and undo
// snapshots are process-local state shared by every command handler.
type env struct {
	Store    store.Store
	Orch     *enrich.Orchestrator
	Undo     *undo.Manager
	Runner   *autopilot.Runner
	Enriched *enrich.Membership
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

// initEnv wires the full enrichment core from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	rules := tagrules.Empty()
	if cfg.Tags.RulesPath != "" {
		loaded, err := tagrules.Load(cfg.Tags.RulesPath)
		if err != nil {
			if !os.IsNotExist(eris.Cause(err)) {
				st.Close()
				return nil, err
			}
			zap.L().Debug("no tag rules file, using empty rules",
				zap.String("path", cfg.Tags.RulesPath))
		} else {
			rules = loaded
		}
	}

	enriched := enrich.NewMembership()
	undoMgr := undo.NewManager(st, undo.Config{
		TTL:       time.Duration(cfg.Undo.TTLSeconds) * time.Second,
		Width:     cfg.Generate.Concurrency,
		OnRestore: enriched.Remove,
	})

	client := genai.NewClient(genai.Config{
		APIKey:            cfg.Anthropic.Key,
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
	})

	var pricer pricing.Policy
	if cfg.Pricing.BaseURL != "" {
		pricer = pricing.NewClient(cfg.Pricing.BaseURL)
	}
	var skus skugen.Generator
	if cfg.SKUGen.BaseURL != "" {
		skus = skugen.NewClient(cfg.SKUGen.BaseURL)
	}

	orch := enrich.NewOrchestrator(
		st,
		images.NewClient(cfg.Images.BaseURL),
		client,
		pricer,
		skus,
		rules,
		locks.NewGuard(),
		enrich.NewFailureTracker(),
		enriched,
		undoMgr,
		enrich.Config{
			BatchSize:        cfg.Generate.BatchSize,
			ConcurrencyWidth: cfg.Generate.Concurrency,
			ChunkDelay:       time.Duration(cfg.Generate.ChunkDelayMs) * time.Millisecond,
			RetryAttempts:    cfg.Generate.RetryAttempts,
			RetryDelay:       time.Duration(cfg.Generate.RetryDelayMs) * time.Millisecond,
		},
	)

	runner := autopilot.NewRunner(st, dispatch.NewClient(cfg.Dispatch.WebhookURL), autopilot.Config{
		PollInterval: time.Duration(cfg.Autopilot.PollIntervalSecs) * time.Second,
	})

	return &env{
		Store:    st,
		Orch:     orch,
		Undo:     undoMgr,
		Runner:   runner,
		Enriched: enriched,
	}, nil
}
