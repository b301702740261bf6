package tangent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// Defaults for tangent detection.
const (
	DefaultWindow     = 6
	DefaultCooldown   = 3
	detectMaxTokens   = 128
	detectTemperature = 0
)

// ErrMalformed is returned when the model output carries no verdict.
var ErrMalformed = errors.New("malformed tangent output")

// Config tunes tangent detection.
type Config struct {
	Window   int `yaml:"window"`
	Cooldown int `yaml:"cooldown"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Detector finds drift away from the current point and return to it.
type Detector interface {
	Detect(ctx context.Context, point model.RecallPoint, window []model.Message) (*Suggestion, error)
	CheckReturn(ctx context.Context, point model.RecallPoint, frame Frame, window []model.Message) (bool, error)
}

// LLM is the model-backed Detector.
type LLM struct {
	provider provider.Provider
	prompts  prompt.Builder
	config   Config
	logger   *slog.Logger
}

var _ Detector = (*LLM)(nil)

// NewLLM creates a model-backed Detector.
func NewLLM(p provider.Provider, prompts prompt.Builder, cfg Config, logger *slog.Logger) *LLM {
	cfg.Defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LLM{provider: p, prompts: prompts, config: cfg, logger: logger}
}

// Detect returns a suggestion when the recent window has drifted off point,
// or nil when it has not.
func (d *LLM) Detect(ctx context.Context, point model.RecallPoint, window []model.Message) (*Suggestion, error) {
	msgs, err := d.prompts.TangentDetection(point, prompt.Tail(window, d.config.Window))
	if err != nil {
		return nil, err
	}
	doc, err := d.ask(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("tangent: detect: %w", err)
	}
	verdict := doc.Get("tangent")
	if !verdict.Exists() {
		d.logMalformed("detect", doc.Raw)
		return nil, fmt.Errorf("tangent: detect: %w", ErrMalformed)
	}
	topic := strings.TrimSpace(doc.Get("topic").String())
	if !verdict.Bool() || topic == "" {
		return nil, nil
	}
	return &Suggestion{EventID: uuid.NewString(), Topic: topic}, nil
}

// CheckReturn reports whether the conversation came back from frame.
func (d *LLM) CheckReturn(ctx context.Context, point model.RecallPoint, frame Frame, window []model.Message) (bool, error) {
	msgs, err := d.prompts.TangentReturn(point, frame.Topic, prompt.Tail(window, d.config.Window))
	if err != nil {
		return false, err
	}
	doc, err := d.ask(ctx, msgs)
	if err != nil {
		return false, fmt.Errorf("tangent: check return: %w", err)
	}
	verdict := doc.Get("returned")
	if !verdict.Exists() {
		d.logMalformed("check return", doc.Raw)
		return false, fmt.Errorf("tangent: check return: %w", ErrMalformed)
	}
	return verdict.Bool(), nil
}

func (d *LLM) ask(ctx context.Context, msgs []provider.LLMMessage) (gjson.Result, error) {
	resp, err := d.provider.Complete(ctx, provider.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   detectMaxTokens,
		Temperature: provider.Float(detectTemperature),
	})
	if err != nil {
		return gjson.Result{}, err
	}
	start := strings.IndexByte(resp.Content, '{')
	end := strings.LastIndexByte(resp.Content, '}')
	if start < 0 || end <= start || !gjson.Valid(resp.Content[start:end+1]) {
		d.logMalformed("parse", resp.Content)
		return gjson.Result{}, ErrMalformed
	}
	return gjson.Parse(resp.Content[start : end+1]), nil
}

const maxLoggedReply = 200

// logMalformed records the raw model output that carried no verdict.
func (d *LLM) logMalformed(op, reply string) {
	if len(reply) > maxLoggedReply {
		reply = reply[:maxLoggedReply] + "..."
	}
	d.logger.Debug("tangent: malformed model output",
		"op", op, "model", d.provider.ModelName(), "reply", reply)
}
