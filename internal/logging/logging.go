// Package logging builds the process logger: a log/slog text or JSON handler
// wrapped so that API keys and configured secrets never reach the output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Config is the log section of the configuration file.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is text or json. Defaults to text.
	Format string `yaml:"format"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate reports an unknown level or format.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging: unknown format %q (want text or json)", c.Format)
	}
}

// New returns a logger writing to w. Every literal in secrets is redacted
// in addition to the built-in key patterns.
func New(cfg Config, w io.Writer, secrets ...string) (*slog.Logger, error) {
	cfg.Defaults()
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		inner = slog.NewJSONHandler(w, opts)
	case "text":
		inner = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q (want text or json)", cfg.Format)
	}

	r := NewRedactor()
	for _, s := range secrets {
		r.AddLiteral(s)
	}
	return slog.New(NewRedactingHandler(inner, r)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q", s)
	}
}
