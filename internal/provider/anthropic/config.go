package anthropic

import "time"

const (
	defaultModel         = "claude-sonnet-4-5-20250929"
	defaultContextWindow = 200_000
	defaultMaxTokens     = 1024
	// defaultTimeout bounds the wait for response headers; a stream that
	// has started is not cut off.
	defaultTimeout = 30 * time.Second
)

// Config holds the YAML-decoded configuration for the Anthropic provider.
type Config struct {
	APIKey        string        `yaml:"api_key"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	MaxTokens     int           `yaml:"max_tokens"`
	ContextWindow int           `yaml:"context_window"`
	Timeout       time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

func (c *Config) contextWindow() int {
	if c.ContextWindow > 0 {
		return c.ContextWindow
	}
	return defaultContextWindow
}
