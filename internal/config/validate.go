package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

var validRoles = []provider.Role{provider.RoleTutor, provider.RoleEvaluator, provider.RoleTangent, provider.RoleFallback}

// Validate checks the structural validity of a Config and returns every
// problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if err := cfg.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: log: %w", err))
	}

	switch cfg.Storage.Driver {
	case DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("config: storage.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, cfg.Storage.Driver))
	}

	errs = append(errs, validateProviders(cfg.Providers)...)

	if err := cfg.Orchestrator().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: session: %w", err))
	}
	if r := cfg.Scheduler.DesiredRetention; r != 0 && (r <= 0 || r >= 1) {
		errs = append(errs, fmt.Errorf("config: scheduler.desired_retention must be in (0, 1), got %g", r))
	}

	for _, v := range []interface{ Validate() error }{cfg.Gateway, cfg.Telemetry, cfg.Archive} {
		if err := v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}

	errs = append(errs, validateCron(cfg.Cron)...)

	for model, p := range cfg.Pricing {
		if p.Input < 0 || p.Output < 0 {
			errs = append(errs, fmt.Errorf("config: pricing %q: prices must be non-negative", model))
		}
	}

	return errors.Join(errs...)
}

func validateProviders(entries []ProviderConfig) []error {
	if len(entries) == 0 {
		return []error{errors.New("config: at least one provider must be configured")}
	}

	var errs []error
	names := make(map[string]bool, len(entries))
	tutor := false
	for i, p := range entries {
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("config: providers[%d]: duplicate name %q", i, p.Name))
		}
		names[p.Name] = true

		if p.Kind != KindAnthropic && p.Kind != KindOpenAI {
			errs = append(errs, fmt.Errorf("config: providers[%d]: unknown kind %q", i, p.Kind))
		}
		if !slices.Contains(validRoles, p.Role) {
			errs = append(errs, fmt.Errorf("config: providers[%d]: unknown role %q", i, p.Role))
		}
		for _, r := range p.FallbackFor {
			if r == provider.RoleFallback || !slices.Contains(validRoles, r) {
				errs = append(errs, fmt.Errorf("config: providers[%d]: invalid fallback_for role %q", i, r))
			}
		}
		if len(p.FallbackFor) > 0 && p.Role != provider.RoleFallback {
			errs = append(errs, fmt.Errorf("config: providers[%d]: fallback_for requires role %q", i, provider.RoleFallback))
		}

		if p.Role == provider.RoleTutor ||
			(p.Role == provider.RoleFallback && (len(p.FallbackFor) == 0 || slices.Contains(p.FallbackFor, provider.RoleTutor))) {
			tutor = true
		}
	}
	if !tutor {
		errs = append(errs, errors.New("config: no provider serves the tutor role"))
	}
	return errs
}

func validateCron(c CronConfig) []error {
	var errs []error
	for name, spec := range map[string]string{"due_digest": c.DueDigest, "stale_sessions": c.StaleSessions} {
		if spec == "" || spec == "off" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("config: cron.%s: %w", name, err))
		}
	}
	return errs
}
