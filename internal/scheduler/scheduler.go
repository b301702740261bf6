// Package scheduler advances per-point memory state through a pluggable
// spaced-repetition algorithm.
package scheduler

import (
	"fmt"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Algorithm computes the next memory state for a rating. Implementations must
// be deterministic for a fixed (state, rating, now).
type Algorithm interface {
	Next(state model.MemoryState, rating model.Rating, now time.Time) model.MemoryState
	Retrievability(state model.MemoryState, now time.Time) float64
}

// Scheduler wraps an Algorithm and enforces the bookkeeping invariants that
// do not depend on the algorithm: repetition and lapse counting, last review
// stamping, and leaving the new phase after the first review.
type Scheduler struct {
	algo Algorithm
}

// New creates a Scheduler backed by algo.
func New(algo Algorithm) *Scheduler {
	return &Scheduler{algo: algo}
}

// CreateInitialState returns the state of a never-reviewed point due now.
func (s *Scheduler) CreateInitialState(now time.Time) model.MemoryState {
	return model.MemoryState{
		Due:   now,
		Phase: model.PhaseNew,
	}
}

// Advance applies rating to state at now and returns the new state.
func (s *Scheduler) Advance(state model.MemoryState, rating model.Rating, now time.Time) (model.MemoryState, error) {
	if !rating.IsValid() {
		return state, fmt.Errorf("scheduler: advance: %w: %d", model.ErrInvalidRating, int(rating))
	}

	next := s.algo.Next(state, rating, now)

	next.Reps = state.Reps + 1
	next.Lapses = state.Lapses
	if rating == model.RatingForgot {
		next.Lapses++
	}
	reviewed := now
	next.LastReview = &reviewed
	if next.Phase == model.PhaseNew || next.Phase == "" {
		next.Phase = model.PhaseLearning
	}
	if next.Due.Before(now) {
		next.Due = now
	}
	return next, nil
}

// Retrievability returns the algorithm's probability of recall at now.
// Points never reviewed report 0.
func (s *Scheduler) Retrievability(state model.MemoryState, now time.Time) float64 {
	if state.LastReview == nil {
		return 0
	}
	return s.algo.Retrievability(state, now)
}
