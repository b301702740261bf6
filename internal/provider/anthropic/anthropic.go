// Package anthropic implements provider.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// Interface guards.
var (
	_ provider.Provider      = (*Client)(nil)
	_ provider.HealthChecker = (*Client)(nil)
)

// Client talks to the Anthropic Messages API.
type Client struct {
	config Config
	client sdkanthropic.Client
	logger *slog.Logger
}

// New creates a Client from cfg. An empty model selects the default.
// The API key falls back to the variable
// named by APIKeyEnv, then ANTHROPIC_API_KEY.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	opts := []option.RequestOption{
		// Retries belong to the provider chain.
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
		}),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		config: cfg,
		client: sdkanthropic.NewClient(opts...),
		logger: logger,
	}, nil
}

// Complete sends a synchronous completion request.
func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	msg, err := c.client.Messages.New(ctx, convertRequest(req, &c.config, c.logger))
	if err != nil {
		return provider.CompletionResponse{}, mapError(err)
	}

	resp := convertResponse(msg)
	if resp.Content == "" {
		return resp, provider.ErrEmptyResponse
	}
	return resp, nil
}

// HealthCheck sends a 1-token completion; the API has no health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(c.config.Model),
		MaxTokens: 1,
		Messages: []sdkanthropic.MessageParam{
			sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock("hi")),
		},
	})
	return mapError(err)
}

// ContextWindowSize implements provider.Provider.
func (c *Client) ContextWindowSize() int {
	return c.config.contextWindow()
}

// ModelName implements provider.Provider.
func (c *Client) ModelName() string {
	return c.config.Model
}
