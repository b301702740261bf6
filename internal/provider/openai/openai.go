// Package openai implements provider.Provider on the OpenAI Chat Completions
// API. Any compatible endpoint can be targeted through BaseURL.
package openai

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	sdkopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

const (
	defaultModel         = "gpt-4o-mini"
	defaultContextWindow = 128_000
	defaultMaxTokens     = 1024
	defaultTimeout       = 30 * time.Second
	streamBufferSize     = 16
)

// Config holds the YAML-decoded configuration for the OpenAI provider.
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
	if c.ContextWindow <= 0 {
		c.ContextWindow = defaultContextWindow
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Interface guards.
var (
	_ provider.Provider      = (*Client)(nil)
	_ provider.HealthChecker = (*Client)(nil)
)

// Client talks to the Chat Completions API.
type Client struct {
	config Config
	client sdkopenai.Client
	logger *slog.Logger
}

// New creates a Client from cfg. The API key falls back to the variable
// named by APIKeyEnv, then OPENAI_API_KEY.
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
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
		}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		config: cfg,
		client: sdkopenai.NewClient(opts...),
		logger: logger,
	}, nil
}

// Complete sends a synchronous chat completion.
func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return provider.CompletionResponse{}, mapError(err)
	}
	if len(completion.Choices) == 0 || strings.TrimSpace(completion.Choices[0].Message.Content) == "" {
		return provider.CompletionResponse{}, provider.ErrEmptyResponse
	}

	choice := completion.Choices[0]
	return provider.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: convertFinishReason(choice.FinishReason),
		Usage:        convertUsage(completion.Usage),
	}, nil
}

// Stream opens a streaming chat completion with usage reporting enabled.
func (c *Client) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	params := c.buildParams(req)
	params.StreamOptions = sdkopenai.ChatCompletionStreamOptionsParam{
		IncludeUsage: sdkopenai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, mapError(err)
		}
		return nil, provider.ErrEmptyResponse
	}
	first := stream.Current()

	ch := make(chan provider.StreamChunk, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		handle := func(chunk sdkopenai.ChatCompletionChunk) {
			var out provider.StreamChunk
			for _, choice := range chunk.Choices {
				out.Content += choice.Delta.Content
				if choice.FinishReason != "" {
					out.FinishReason = convertFinishReason(choice.FinishReason)
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				usage := convertUsage(chunk.Usage)
				out.Usage = &usage
			}
			if out.Content != "" || out.FinishReason != "" || out.Usage != nil {
				select {
				case ch <- out:
				case <-ctx.Done():
				}
			}
		}

		handle(first)
		for stream.Next() {
			if ctx.Err() != nil {
				return
			}
			handle(stream.Current())
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- provider.StreamChunk{Err: mapError(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// HealthCheck lists models, which needs a valid key but no tokens.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	return mapError(err)
}

// ContextWindowSize implements provider.Provider.
func (c *Client) ContextWindowSize() int {
	return c.config.ContextWindow
}

// ModelName implements provider.Provider.
func (c *Client) ModelName() string {
	return c.config.Model
}

func (c *Client) buildParams(req provider.CompletionRequest) sdkopenai.ChatCompletionNewParams {
	maxTokens := c.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := sdkopenai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.config.Model),
		MaxCompletionTokens: sdkopenai.Int(int64(maxTokens)),
		Messages:            convertMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = sdkopenai.Float(*req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.Stop = sdkopenai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params
}

func convertMessages(msgs []provider.LLMMessage) []sdkopenai.ChatCompletionMessageParamUnion {
	out := make([]sdkopenai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.MessageRoleSystem:
			out = append(out, sdkopenai.SystemMessage(m.Content))
		case provider.MessageRoleAssistant:
			out = append(out, sdkopenai.ChatCompletionMessageParamUnion{
				OfAssistant: &sdkopenai.ChatCompletionAssistantMessageParam{
					Content: sdkopenai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: sdkopenai.String(m.Content),
					},
				},
			})
		default:
			out = append(out, sdkopenai.UserMessage(m.Content))
		}
	}
	return out
}

func convertUsage(u sdkopenai.CompletionUsage) provider.TokenUsage {
	return provider.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "length":
		return provider.FinishReasonLength
	case "content_filter":
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}
