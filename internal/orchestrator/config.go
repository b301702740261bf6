package orchestrator

import (
	"fmt"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

// Defaults for session behaviour.
const (
	DefaultRecallThreshold     = 0.6
	DefaultMaxMessagesPerPoint = 12
	DefaultTutorMaxTokens      = 600
	DefaultTutorTemperature    = 0.7
)

// Config tunes session behaviour.
type Config struct {
	// RecallThreshold is the inclusive minimum confidence for a successful
	// evaluation to count as a recall.
	RecallThreshold float64
	// RatingBands map confidence to the rating fed to the scheduler.
	RatingBands evaluator.Bands
	// MaxMessagesPerPoint force-resolves the current point after this many
	// learner messages without a qualifying evaluation.
	MaxMessagesPerPoint int
	// HistoryWindow is the number of trailing messages the tutor sees.
	HistoryWindow int
	// Streaming publishes tutor output chunk by chunk.
	Streaming bool
	// TangentCooldown is the number of learner messages without detection
	// after a declined suggestion.
	TangentCooldown int

	TutorMaxTokens int
	// TutorTemperature defaults to DefaultTutorTemperature when nil.
	TutorTemperature *float64
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.RecallThreshold <= 0 {
		c.RecallThreshold = DefaultRecallThreshold
	}
	if c.RatingBands == (evaluator.Bands{}) {
		c.RatingBands = evaluator.DefaultBands()
	}
	if c.MaxMessagesPerPoint <= 0 {
		c.MaxMessagesPerPoint = DefaultMaxMessagesPerPoint
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = prompt.DefaultHistoryWindow
	}
	if c.TangentCooldown <= 0 {
		c.TangentCooldown = tangent.DefaultCooldown
	}
	if c.TutorMaxTokens <= 0 {
		c.TutorMaxTokens = DefaultTutorMaxTokens
	}
	if c.TutorTemperature == nil || *c.TutorTemperature < 0 {
		c.TutorTemperature = provider.Float(DefaultTutorTemperature)
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.RecallThreshold < 0 || c.RecallThreshold > 1 {
		return fmt.Errorf("orchestrator: recall_threshold must be within [0,1], got %v", c.RecallThreshold)
	}
	if !c.RatingBands.Valid() {
		return fmt.Errorf("orchestrator: rating bands must satisfy 0 <= hard <= good <= easy <= 1, got %+v", c.RatingBands)
	}
	return nil
}
