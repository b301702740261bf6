package config

import (
	"path/filepath"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/metrics"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store/sqlite"
)

// Default cron schedules.
const (
	DefaultDueDigest     = "0 8 * * *"
	DefaultStaleSessions = "*/15 * * * *"
	DefaultStaleAfter    = 2 * time.Hour
)

// Defaults fills every unset field. Load calls it after decoding.
func (c *Config) Defaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.Log.Defaults()
	c.Storage.defaults()
	for i := range c.Providers {
		c.Providers[i].defaults()
	}
	c.Tangent.Defaults()
	c.Gateway.Defaults()
	c.Cron.defaults()
	c.Telemetry.Defaults()
	c.Archive.Defaults()
}

func (s *StorageConfig) defaults() {
	if s.Driver == "" {
		s.Driver = DriverSQLite
	}
}

func (p *ProviderConfig) defaults() {
	if p.Kind == "" {
		p.Kind = KindAnthropic
	}
	if p.Name == "" {
		p.Name = p.Kind + "-" + string(p.Role)
	}
}

func (c *CronConfig) defaults() {
	if c.DueDigest == "" {
		c.DueDigest = DefaultDueDigest
	}
	if c.StaleSessions == "" {
		c.StaleSessions = DefaultStaleSessions
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
}

// SQLite returns the store configuration, resolving a relative path
// against the data directory.
func (c *Config) SQLite() sqlite.Config {
	path := c.Storage.Path
	if path == "" {
		path = sqlite.DefaultFile
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.DataDir, path)
	}
	return sqlite.Config{Path: path, WAL: c.Storage.WAL, BusyTimeout: c.Storage.BusyTimeout}
}

// Orchestrator returns the session configuration.
func (c *Config) Orchestrator() orchestrator.Config {
	streaming := true
	if c.Session.Streaming != nil {
		streaming = *c.Session.Streaming
	}
	cfg := orchestrator.Config{
		RecallThreshold:     c.Session.RecallThreshold,
		RatingBands:         c.Session.RatingBands,
		MaxMessagesPerPoint: c.Session.MaxMessagesPerPoint,
		HistoryWindow:       c.Session.HistoryWindow,
		Streaming:           streaming,
		TangentCooldown:     c.Tangent.Cooldown,
		TutorMaxTokens:      c.Session.TutorMaxTokens,
		TutorTemperature:    c.Session.TutorTemperature,
	}
	cfg.Defaults()
	return cfg
}

// PriceTable returns the built-in prices overlaid with the pricing section.
func (c *Config) PriceTable() metrics.Pricing {
	return metrics.DefaultPricing().With(c.Pricing)
}

// Secrets returns every configured credential, for log redaction.
func (c *Config) Secrets() []string {
	var out []string
	for _, p := range c.Providers {
		out = append(out, p.APIKey)
	}
	out = append(out,
		c.Gateway.Auth.BearerToken,
		c.Gateway.Auth.BasicPass,
		c.Archive.SecretKey,
	)
	for _, v := range c.Telemetry.Headers {
		out = append(out, v)
	}
	return out
}
