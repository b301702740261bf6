// Package event carries session events from the orchestrator to its
// subscribers: the websocket writer, the Prometheus exporter and the
// archiver.
package event

import (
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Type identifies an event.
type Type string

// Event types.
const (
	SessionStarted    Type = "session_started"
	SessionPaused     Type = "session_paused"
	SessionAbandoned  Type = "session_abandoned"
	SessionCompleted  Type = "session_completed"
	PointStarted      Type = "point_started"
	PointEvaluated    Type = "point_evaluated"
	PointRecalled     Type = "point_recalled"
	PointCompleted    Type = "point_completed"
	UserMessage       Type = "user_message"
	AssistantChunk    Type = "assistant_chunk"
	AssistantMessage  Type = "assistant_message"
	TangentSuggested  Type = "tangent_suggested"
	TangentDeclined   Type = "tangent_declined"
	TangentEntered    Type = "tangent_entered"
	TangentExited     Type = "tangent_exited"
	CompletionPending Type = "completion_pending"
)

// Event is one published occurrence. Payload holds the struct matching Type.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	SetID     string    `json:"set_id"`
	Time      time.Time `json:"time"`
	Payload   any       `json:"payload,omitempty"`
}

// Progress is the recall progress carried by several payloads.
type Progress struct {
	RecalledCount int `json:"recalled_count"`
	TotalPoints   int `json:"total_points"`
}

// SessionStartedPayload accompanies SessionStarted.
type SessionStartedPayload struct {
	Progress
	Resumed bool `json:"resumed"`
}

// SessionPausedPayload accompanies SessionPaused and SessionAbandoned.
type SessionPausedPayload struct {
	Progress
}

// SessionCompletedPayload accompanies SessionCompleted.
type SessionCompletedPayload struct {
	Summary model.SessionMetricsSummary `json:"summary"`
}

// PointStartedPayload accompanies PointStarted.
type PointStartedPayload struct {
	PointID string `json:"point_id"`
	Index   int    `json:"index"`
}

// PointEvaluatedPayload accompanies PointEvaluated.
type PointEvaluatedPayload struct {
	PointID    string  `json:"point_id"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	Qualified  bool    `json:"qualified"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// PointRecalledPayload accompanies PointRecalled. It is published once per
// resolved point; Forced marks a point resolved by the message cap or an
// explicit trigger without a qualifying evaluation.
type PointRecalledPayload struct {
	Progress
	PointID string `json:"point_id"`
	Success bool   `json:"success"`
	Forced  bool   `json:"forced,omitempty"`
}

// PointCompletedPayload accompanies PointCompleted.
type PointCompletedPayload struct {
	PointID string       `json:"point_id"`
	Rating  model.Rating `json:"rating"`
	NextDue time.Time    `json:"next_due"`
}

// Message kinds.
const (
	KindOpening = "opening"
	KindReply   = "reply"
)

// MessagePayload accompanies UserMessage and AssistantMessage.
type MessagePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Kind      string `json:"kind,omitempty"`
}

// ChunkPayload accompanies AssistantChunk.
type ChunkPayload struct {
	Content string `json:"content"`
}

// TangentPayload accompanies TangentSuggested, TangentDeclined and
// TangentEntered.
type TangentPayload struct {
	EventID          string `json:"event_id"`
	Topic            string `json:"topic"`
	Depth            int    `json:"depth,omitempty"`
	LearnerInitiated bool   `json:"learner_initiated,omitempty"`
}

// TangentExitedPayload accompanies TangentExited.
type TangentExitedPayload struct {
	EventID              string `json:"event_id"`
	Label                string `json:"label"`
	Returned             bool   `json:"returned"`
	PointsRecalledDuring int    `json:"points_recalled_during"`
	CompletionPending    bool   `json:"completion_pending"`
}

// CompletionPendingPayload accompanies CompletionPending.
type CompletionPendingPayload struct {
	Progress
	Message     string `json:"message,omitempty"`
	CanContinue bool   `json:"can_continue"`
}
