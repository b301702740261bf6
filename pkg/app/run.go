// Package app assembles the study service from configuration. It is the
// shared entry point of every clarity subcommand.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Jmemon/contextual-clarity-sub001/internal/archive"
	"github.com/Jmemon/contextual-clarity-sub001/internal/config"
	"github.com/Jmemon/contextual-clarity-sub001/internal/core"
	"github.com/Jmemon/contextual-clarity-sub001/internal/cron"
	"github.com/Jmemon/contextual-clarity-sub001/internal/gateway"
	"github.com/Jmemon/contextual-clarity-sub001/internal/logging"
	"github.com/Jmemon/contextual-clarity-sub001/internal/telemetry"
)

// RunParams configures the server loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.ResolvePath searches the standard locations.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// LogOutput receives logs. Defaults to stderr.
	LogOutput io.Writer
}

// LoadConfig resolves, loads and validates the configuration.
func LoadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.ResolvePath(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// NewLogger builds the redacting logger described by cfg.
func NewLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	return logging.New(cfg.Log, w, cfg.Secrets()...)
}

// Run loads configuration, starts the gateway, the cron jobs, the metrics
// exporter and the archiver, and blocks until ctx ends or a shutdown
// signal is received.
func Run(ctx context.Context, params RunParams) error {
	cfg, cfgPath, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := NewLogger(cfg, params.LogOutput)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "path", cfgPath, "version", params.Version)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	rt, err := Build(ctx, cfg, logger, BuildOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := gateway.NewRegistry(rt.NewOrchestrator, logger,
		gateway.WithMaxSessions(cfg.Gateway.RateLimit.MaxSessions))
	gw, err := gateway.New(cfg.Gateway, gateway.Deps{
		Registry: registry,
		Store:    rt.Store,
		Bus:      rt.Bus,
		Health:   rt.Chain,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	jobs, err := newCron(rt, registry, reg, logger)
	if err != nil {
		return err
	}

	application := core.NewApp(logger)
	application.Add("provider.chain", rt.Chain)
	application.Add("metrics.exporter", gateway.NewExporter(rt.Bus, reg))
	if cfg.Archive.Enabled() {
		archiver, err := newArchiver(ctx, rt, logger)
		if err != nil {
			return err
		}
		application.Add("archive", archiver)
	}
	application.Add("cron", jobs)
	application.Add("cron.warmup", startFunc(func() error {
		if _, err := jobs.RunNow(ctx, dueDigestJob); err != nil {
			logger.Warn("initial due digest failed", "error", err)
		}
		return nil
	}))
	application.Add("gateway", gw)

	return application.Run(ctx)
}

const dueDigestJob = "due_digest"

// startFunc adapts a function to core.Starter.
type startFunc func() error

func (f startFunc) Start() error { return f() }

func newCron(rt *Runtime, live cron.LiveChecker, reg prometheus.Registerer, logger *slog.Logger) (*cron.Scheduler, error) {
	s := cron.NewScheduler(logger)
	jobs := []cron.Job{
		&cron.DueDigestJob{
			Points:       rt.Store.Points,
			Sets:         rt.Store.Sets,
			Gauge:        cron.NewDueGauge(reg),
			Logger:       logger,
			ScheduleExpr: rt.Config.Cron.DueDigest,
		},
		&cron.StaleSessionJob{
			Sessions:     rt.Store.Sessions,
			Live:         live,
			StaleAfter:   rt.Config.Cron.StaleAfter,
			Logger:       logger,
			ScheduleExpr: rt.Config.Cron.StaleSessions,
		},
	}
	for _, j := range jobs {
		if err := s.RegisterJob(j); err != nil {
			return nil, fmt.Errorf("app: registering cron job: %w", err)
		}
	}
	return s, nil
}

func newArchiver(ctx context.Context, rt *Runtime, logger *slog.Logger) (*archive.Archiver, error) {
	objects, err := archive.NewMinIO(rt.Config.Archive)
	if err != nil {
		return nil, err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return archive.New(objects, rt.Store, rt.Bus, rt.Config.Archive, logger), nil
}
