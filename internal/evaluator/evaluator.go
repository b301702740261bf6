// Package evaluator judges whether a learner has recalled a point from the
// recent dialogue, and maps confidence to a scheduling rating.
package evaluator

import (
	"context"
	"math"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Default rating bands. Each threshold is the inclusive lower edge of its band.
const (
	DefaultEasyThreshold = 0.85
	DefaultGoodThreshold = 0.6
	DefaultHardThreshold = 0.3
)

// Evaluator judges recall of one point.
type Evaluator interface {
	Evaluate(ctx context.Context, point model.RecallPoint, recent []model.Message) (Result, error)
}

// Result is a recall judgment.
type Result struct {
	Success         bool         `json:"success"`
	Confidence      float64      `json:"confidence"`
	Reasoning       string       `json:"reasoning,omitempty"`
	Demonstrated    []string     `json:"demonstrated,omitempty"`
	Missed          []string     `json:"missed,omitempty"`
	SuggestedRating model.Rating `json:"suggested_rating"`
	// Degraded marks a default result produced because evaluation failed.
	Degraded bool `json:"degraded,omitempty"`
}

// Qualifies reports whether r counts as a recall at threshold.
func (r Result) Qualifies(threshold float64) bool {
	return r.Success && Sanitize(r.Confidence) >= threshold
}

// Degrade returns the default result for a failed evaluation.
func Degrade(note string) Result {
	return Result{
		Success:         false,
		Confidence:      0,
		Reasoning:       "evaluation unavailable: " + note,
		SuggestedRating: model.RatingForgot,
		Degraded:        true,
	}
}

// Bands holds the rating thresholds.
type Bands struct {
	Easy float64 `yaml:"easy"`
	Good float64 `yaml:"good"`
	Hard float64 `yaml:"hard"`
}

// DefaultBands returns the default rating thresholds.
func DefaultBands() Bands {
	return Bands{Easy: DefaultEasyThreshold, Good: DefaultGoodThreshold, Hard: DefaultHardThreshold}
}

// Valid reports whether the bands are ordered within [0,1].
func (b Bands) Valid() bool {
	return b.Hard >= 0 && b.Hard <= b.Good && b.Good <= b.Easy && b.Easy <= 1
}

// RatingFromConfidence maps a confidence to a rating.
func RatingFromConfidence(c float64, b Bands) model.Rating {
	c = Sanitize(c)
	switch {
	case c >= b.Easy:
		return model.RatingEasy
	case c >= b.Good:
		return model.RatingGood
	case c >= b.Hard:
		return model.RatingHard
	default:
		return model.RatingForgot
	}
}

// Sanitize maps NaN to 0 and clamps c to [0,1].
func Sanitize(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
