package gateway

import (
	"errors"
	"time"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins lists the browser origins accepted on the session
	// websocket. Empty accepts same-origin requests only.
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// Defaults fills zero values with sensible defaults.
func (c *Config) Defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	c.RateLimit.defaults()
}

// Validate rejects half-configured basic auth.
func (c Config) Validate() error {
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPass == "") {
		return errors.New("gateway: auth.basic_user and auth.basic_pass must be set together")
	}
	return nil
}

// AuthConfig configures authentication for the REST API.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
