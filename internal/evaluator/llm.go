package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// Defaults for the model-backed evaluator.
const (
	DefaultWindow      = 10
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 512
)

// Config tunes the model-backed evaluator.
type Config struct {
	Window int `yaml:"window"`
	// Temperature defaults to DefaultTemperature when unset. Zero is kept.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Temperature == nil || *c.Temperature < 0 {
		c.Temperature = provider.Float(DefaultTemperature)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
}

// LLM evaluates recall with a single model call. It never returns an error:
// every failure degrades to the default result.
type LLM struct {
	provider provider.Provider
	prompts  prompt.Builder
	config   Config
	logger   *slog.Logger
}

var _ Evaluator = (*LLM)(nil)

// NewLLM creates a model-backed evaluator.
func NewLLM(p provider.Provider, prompts prompt.Builder, cfg Config, logger *slog.Logger) *LLM {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LLM{provider: p, prompts: prompts, config: cfg, logger: logger}
}

// Evaluate implements Evaluator.
func (e *LLM) Evaluate(ctx context.Context, point model.RecallPoint, recent []model.Message) (Result, error) {
	msgs, err := e.prompts.Evaluation(point, prompt.Tail(recent, e.config.Window))
	if err != nil {
		return e.degrade(point.ID, err), nil
	}
	resp, err := e.provider.Complete(ctx, provider.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	})
	if err != nil {
		return e.degrade(point.ID, err), nil
	}
	res, err := Parse(resp.Content)
	if err != nil {
		return e.degrade(point.ID, err), nil
	}
	return res, nil
}

func (e *LLM) degrade(pointID string, err error) Result {
	e.logger.Warn("evaluator: degraded result", "point_id", pointID, "error", err)
	return Degrade(err.Error())
}

// ErrMalformed is returned by Parse when no usable judgment is found.
var ErrMalformed = errors.New("malformed evaluation output")

// Parse extracts a Result from model output. It tolerates code fences and
// surrounding prose, and accepts the confidence as a number or numeric
// string. A missing success field is an error.
func Parse(raw string) (Result, error) {
	body := extractObject(raw)
	if body == "" || !gjson.Valid(body) {
		return Result{}, fmt.Errorf("%w: no JSON object", ErrMalformed)
	}

	doc := gjson.Parse(body)
	success := doc.Get("success")
	if !success.Exists() {
		return Result{}, fmt.Errorf("%w: missing success", ErrMalformed)
	}

	res := Result{
		Success:    success.Bool(),
		Confidence: Sanitize(doc.Get("confidence").Float()),
		Reasoning:  doc.Get("reasoning").String(),
	}
	for _, v := range doc.Get("demonstrated").Array() {
		res.Demonstrated = append(res.Demonstrated, v.String())
	}
	for _, v := range doc.Get("missed").Array() {
		res.Missed = append(res.Missed, v.String())
	}
	if r, err := model.ParseRating(doc.Get("suggested_rating").String()); err == nil {
		res.SuggestedRating = r
	} else {
		res.SuggestedRating = RatingFromConfidence(res.Confidence, DefaultBands())
	}
	return res, nil
}

// extractObject returns the outermost {...} span of s, skipping any code
// fence or prose around it.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
