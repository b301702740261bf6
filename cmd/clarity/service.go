package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/Jmemon/contextual-clarity-sub001/internal/config"
	"github.com/Jmemon/contextual-clarity-sub001/pkg/app"
)

const serviceStopTimeout = 30 * time.Second

func serviceCmd() *cobra.Command {
	actions := append([]string{"run", "status"}, service.ControlAction[:]...)
	return &cobra.Command{
		Use:       "service <action>",
		Short:     "Manage clarity as an OS service",
		Long:      fmt.Sprintf("Manage clarity as an OS service. Actions: %v.", actions),
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: actions,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ResolvePath(configFlag(cmd))
			if err != nil {
				return err
			}
			if path, err = filepath.Abs(path); err != nil {
				return err
			}

			prg := &program{params: app.RunParams{ConfigPath: path, Version: version}}
			svc, err := service.New(prg, serviceConfig(path))
			if err != nil {
				return err
			}

			switch action := args[0]; action {
			case "run":
				return svc.Run()
			case "status":
				st, err := svc.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusName(st))
				return nil
			default:
				if !slices.Contains(service.ControlAction[:], action) {
					return fmt.Errorf("unknown action %q", action)
				}
				if err := service.Control(svc, action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			}
		},
	}
}

func serviceConfig(configPath string) *service.Config {
	return &service.Config{
		Name:        "clarity",
		DisplayName: "Contextual Clarity",
		Description: "Conversational spaced-repetition gateway",
		Arguments:   []string{"service", "run", "--config", configPath},
	}
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// program adapts app.Run to the service lifecycle.
type program struct {
	params app.RunParams

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	logger, _ := s.Logger(nil)
	go func() {
		err := app.Run(ctx, p.params)
		if err != nil && logger != nil {
			_ = logger.Error(err)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-time.After(serviceStopTimeout):
		return errors.New("service: shutdown timed out")
	}
}
