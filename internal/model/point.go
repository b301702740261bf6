// Package model defines the entities shared by the scheduler, the session
// orchestrator and the persistence layer.
package model

import "time"

// Phase is the lifecycle phase of a point's memory state.
type Phase string

// Phase constants mirror the spaced-repetition card states.
const (
	PhaseNew        Phase = "new"
	PhaseLearning   Phase = "learning"
	PhaseReview     Phase = "review"
	PhaseRelearning Phase = "relearning"
)

// MemoryState is the per-point spaced-repetition state.
type MemoryState struct {
	Stability  float64    `json:"stability"`
	Difficulty float64    `json:"difficulty"`
	Due        time.Time  `json:"due"`
	Reps       int        `json:"reps"`
	Lapses     int        `json:"lapses"`
	Phase      Phase      `json:"phase"`
	LastReview *time.Time `json:"last_review,omitempty"`
}

// RecallAttempt is one resolved entry in a point's recall history.
type RecallAttempt struct {
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// RecallSet groups recall points studied together.
type RecallSet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecallPoint is a single fact the learner is meant to remember.
type RecallPoint struct {
	ID        string          `json:"id"`
	SetID     string          `json:"set_id"`
	Content   string          `json:"content"`
	Context   string          `json:"context,omitempty"`
	State     MemoryState     `json:"state"`
	History   []RecallAttempt `json:"history"`
	CreatedAt time.Time       `json:"created_at"`
}

// Clone returns a deep copy of p.
func (p RecallPoint) Clone() RecallPoint {
	if p.State.LastReview != nil {
		lr := *p.State.LastReview
		p.State.LastReview = &lr
	}
	if p.History != nil {
		h := make([]RecallAttempt, len(p.History))
		copy(h, p.History)
		p.History = h
	}
	return p
}
