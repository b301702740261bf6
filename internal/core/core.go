// Package core runs the long-lived components of the server process in
// order and shuts them down in reverse.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App manages the lifecycle of a set of components.
type App struct {
	components []instance
	logger     *slog.Logger
}

type instance struct {
	name      string
	component any
	started   bool
}

// NewApp creates an empty App.
func NewApp(logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &App{logger: logger.With("component", "core")}
}

// Add registers a component. Components implementing Starter are started in
// registration order; those implementing Stopper are stopped in reverse.
func (a *App) Add(name string, component any) {
	a.components = append(a.components, instance{name: name, component: component})
}

// Start starts every registered Starter in order.
// If any Start() fails, already-started components are stopped in reverse order.
func (a *App) Start() error {
	for i := range a.components {
		ci := &a.components[i]
		s, ok := ci.component.(Starter)
		if !ok {
			ci.started = true
			continue
		}
		a.logger.Info("starting component", "name", ci.name)
		if err := s.Start(); err != nil {
			a.logger.Error("component start failed", "name", ci.name, "error", err)
			a.stopFrom(i - 1)
			return fmt.Errorf("starting %s: %w", ci.name, err)
		}
		ci.started = true
	}
	a.logger.Info("all components started")
	return nil
}

// Stop stops all started components in reverse order with a timeout.
func (a *App) Stop() {
	a.stopFrom(len(a.components) - 1)
}

func (a *App) stopFrom(fromIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := fromIndex; i >= 0; i-- {
		ci := &a.components[i]
		if !ci.started {
			continue
		}
		if s, ok := ci.component.(Stopper); ok {
			a.logger.Info("stopping component", "name", ci.name)
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("component stop error", "name", ci.name, "error", err)
			}
		}
		ci.started = false
	}
}

// Run starts all components and blocks until ctx is done or a shutdown
// signal is received.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("shutdown requested")
	}

	a.Stop()
	a.logger.Info("shutdown complete")
	return nil
}
