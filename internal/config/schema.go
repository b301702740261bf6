// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for clarity.
package config

import (
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/archive"
	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/gateway"
	"github.com/Jmemon/contextual-clarity-sub001/internal/logging"
	"github.com/Jmemon/contextual-clarity-sub001/internal/metrics"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
	"github.com/Jmemon/contextual-clarity-sub001/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds the SQLite database when storage.path is relative.
	DataDir string `yaml:"data_dir"`

	Log       logging.Config           `yaml:"log"`
	Storage   StorageConfig            `yaml:"storage"`
	Providers []ProviderConfig         `yaml:"providers"`
	Evaluator evaluator.Config         `yaml:"evaluator"`
	Tangent   tangent.Config           `yaml:"tangent"`
	Session   SessionConfig            `yaml:"session"`
	Scheduler scheduler.Config         `yaml:"scheduler"`
	Gateway   gateway.Config           `yaml:"gateway"`
	Cron      CronConfig               `yaml:"cron"`
	Telemetry telemetry.Config         `yaml:"telemetry"`
	Archive   archive.Config           `yaml:"archive"`
	Pricing   map[string]metrics.Price `yaml:"pricing"`
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is sqlite (default) or memory.
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
	WAL         *bool  `yaml:"wal"`
}

// Provider kinds.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
)

// ProviderConfig is one entry of the provider chain.
type ProviderConfig struct {
	Name          string                `yaml:"name"`
	Kind          string                `yaml:"kind"`
	Role          provider.Role         `yaml:"role"`
	FallbackFor   []provider.Role       `yaml:"fallback_for"`
	Model         string                `yaml:"model"`
	APIKey        string                `yaml:"api_key"`
	APIKeyEnv     string                `yaml:"api_key_env"`
	BaseURL       string                `yaml:"base_url"`
	MaxTokens     int                   `yaml:"max_tokens"`
	ContextWindow int                   `yaml:"context_window"`
	Timeout       time.Duration         `yaml:"timeout"`
	Health        provider.HealthConfig `yaml:"health"`
}

// SessionConfig tunes the live session.
type SessionConfig struct {
	RecallThreshold     float64         `yaml:"recall_threshold"`
	RatingBands         evaluator.Bands `yaml:"rating_bands"`
	MaxMessagesPerPoint int             `yaml:"max_messages_per_point"`
	HistoryWindow       int             `yaml:"history_window"`
	// Streaming defaults to true.
	Streaming        *bool    `yaml:"streaming"`
	TutorMaxTokens   int      `yaml:"tutor_max_tokens"`
	TutorTemperature *float64 `yaml:"tutor_temperature"`
}

// CronConfig holds the periodic job schedules in 5-field cron syntax.
// The schedule "off" disables a job.
type CronConfig struct {
	DueDigest     string        `yaml:"due_digest"`
	StaleSessions string        `yaml:"stale_sessions"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}
