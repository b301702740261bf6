package model

import "time"

// RecallOutcome is the persisted resolution of one point within a session.
// StartIndex and EndIndex are the inclusive message range that covered the
// point's discussion.
type RecallOutcome struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	PointID    string    `json:"point_id"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
	Rating     Rating    `json:"rating"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Forced     bool      `json:"forced"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionMetricsSummary is computed once at finalize time.
type SessionMetricsSummary struct {
	SessionID         string        `json:"session_id"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           time.Time     `json:"ended_at"`
	Duration          time.Duration `json:"duration_ns"`
	TotalMessages     int           `json:"total_messages"`
	UserMessages      int           `json:"user_messages"`
	AssistantMessages int           `json:"assistant_messages"`
	RecalledCount     int           `json:"recalled_count"`
	TotalPoints       int           `json:"total_points"`
	RecallRate        float64       `json:"recall_rate"`
	AvgConfidence     float64       `json:"avg_confidence"`
	InputTokens       int           `json:"input_tokens"`
	OutputTokens      int           `json:"output_tokens"`
	EstimatedCostUSD  float64       `json:"estimated_cost_usd"`
	TangentCount      int           `json:"tangent_count"`
	TangentsReturned  int           `json:"tangents_returned"`
	AvgResponseTime   time.Duration `json:"avg_response_time_ns"`
	EngagementScore   float64       `json:"engagement_score"`
}
