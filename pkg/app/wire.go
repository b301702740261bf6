package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/catalog"
	"github.com/Jmemon/contextual-clarity-sub001/internal/config"
	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider/anthropic"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider/openai"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store/sqlite"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

// Runtime holds the collaborators every entry point shares: storage, the
// provider chain and the session building blocks.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Chain     *provider.Chain
	Bus       *event.Bus
	Scheduler *scheduler.Scheduler
	Catalog   *catalog.Catalog
	Prompts   prompt.Builder
	Evaluator evaluator.Evaluator
	Detector  tangent.Detector
}

// BuildOptions tweak Build.
type BuildOptions struct {
	// SkipProviders builds a storage-only runtime for commands that never
	// talk to a model.
	SkipProviders bool
	Now           func() time.Time
}

// Build opens storage and, unless skipped, the provider chain.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts BuildOptions) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.NewFSRS(cfg.Scheduler))
	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Bus:       event.NewBus(event.WithLogger(logger)),
		Scheduler: sched,
		Catalog:   catalog.New(st, sched, opts.Now),
		Prompts:   prompt.NewTemplateBuilder(cfg.Session.HistoryWindow),
	}
	if opts.SkipProviders {
		return rt, nil
	}

	chain, err := buildChain(cfg.Providers, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Chain = chain
	rt.Evaluator = evaluator.NewLLM(chain.For(provider.RoleEvaluator), rt.Prompts, cfg.Evaluator, logger)
	rt.Detector = tangent.NewLLM(chain.For(provider.RoleTangent), rt.Prompts, cfg.Tangent, logger)
	return rt, nil
}

// NewOrchestrator builds an orchestrator for one session.
func (r *Runtime) NewOrchestrator() (*orchestrator.Orchestrator, error) {
	if r.Chain == nil {
		return nil, errors.New("app: runtime built without providers")
	}
	return orchestrator.New(orchestrator.Deps{
		Store:     r.Store,
		Tutor:     r.Chain.For(provider.RoleTutor),
		Evaluator: r.Evaluator,
		Detector:  r.Detector,
		Prompts:   r.Prompts,
		Scheduler: r.Scheduler,
		Bus:       r.Bus,
		Pricing:   r.Config.PriceTable(),
		Logger:    r.Logger,
	}, r.Config.Orchestrator())
}

// Close releases the bus and storage.
func (r *Runtime) Close() error {
	r.Bus.Close()
	return r.Store.Close()
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverSQLite, "":
		st, err := sqlite.Open(ctx, cfg.SQLite())
		if err != nil {
			return nil, fmt.Errorf("app: opening store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.Storage.Driver)
	}
}

// buildChain creates one client per provider entry and assembles the
// role-based chain.
func buildChain(entries []config.ProviderConfig, logger *slog.Logger) (*provider.Chain, error) {
	chainEntries := make([]provider.ChainEntry, 0, len(entries))
	for _, pc := range entries {
		p, err := newProvider(pc, logger)
		if err != nil {
			return nil, fmt.Errorf("app: provider %s: %w", pc.Name, err)
		}
		chainEntries = append(chainEntries, provider.ChainEntry{
			Name:        pc.Name,
			Provider:    p,
			Role:        pc.Role,
			Health:      pc.Health,
			FallbackFor: pc.FallbackFor,
		})
		logger.Info("provider configured", "name", pc.Name, "kind", pc.Kind, "role", pc.Role, "model", p.ModelName())
	}
	return provider.NewChain(chainEntries, provider.WithLogger(logger))
}

func newProvider(pc config.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	switch pc.Kind {
	case config.KindAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:        pc.APIKey,
			APIKeyEnv:     pc.APIKeyEnv,
			Model:         pc.Model,
			BaseURL:       pc.BaseURL,
			MaxTokens:     pc.MaxTokens,
			ContextWindow: pc.ContextWindow,
			Timeout:       pc.Timeout,
		}, logger)
	case config.KindOpenAI:
		return openai.New(openai.Config{
			APIKey:        pc.APIKey,
			APIKeyEnv:     pc.APIKeyEnv,
			Model:         pc.Model,
			BaseURL:       pc.BaseURL,
			MaxTokens:     pc.MaxTokens,
			ContextWindow: pc.ContextWindow,
			Timeout:       pc.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown kind %q", pc.Kind)
	}
}
