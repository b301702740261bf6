package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
)

// Inbound message types sent by the client.
const (
	MsgUserMessage       = "user_message"
	MsgLeaveSession      = "leave_session"
	MsgEnterRabbithole   = "enter_rabbithole"
	MsgExitRabbithole    = "exit_rabbithole"
	MsgDeclineRabbithole = "decline_rabbithole"
	MsgDismissOverlay    = "dismiss_overlay"
	MsgTriggerEvaluation = "trigger_evaluation"
	MsgPing              = "ping"
)

// Outbound message types sent by the server.
const (
	MsgSessionStarted         = "session_started"
	MsgAssistantChunk         = "assistant_chunk"
	MsgAssistantComplete      = "assistant_complete"
	MsgPointRecalled          = "point_recalled"
	MsgSessionCompleteOverlay = "session_complete_overlay"
	MsgSessionPaused          = "session_paused"
	MsgSessionComplete        = "session_complete"
	MsgRabbitholeDetected     = "rabbithole_detected"
	MsgRabbitholeEntered      = "rabbithole_entered"
	MsgRabbitholeExited       = "rabbithole_exited"
	MsgError                  = "error"
	MsgPong                   = "pong"
)

// Error codes carried by error frames.
const (
	CodeBadRequest    = "bad_request"
	CodeNoPointsDue   = "no_points_due"
	CodeTurnFailed    = "turn_failed"
	CodeSessionClosed = "session_closed"
	CodeRateLimited   = "rate_limited"
)

// Inbound is any client frame. Fields irrelevant to Type are ignored.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	EventID string `json:"eventId,omitempty"`
	Topic   string `json:"topic,omitempty"`
	// Force applies to trigger_evaluation; it defaults to true.
	Force *bool `json:"force,omitempty"`
}

var errUnknownType = errors.New("unknown message type")

// ParseInbound decodes a client frame.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("malformed frame: %w", err)
	}
	switch in.Type {
	case MsgUserMessage, MsgLeaveSession, MsgEnterRabbithole, MsgExitRabbithole,
		MsgDeclineRabbithole, MsgDismissOverlay, MsgTriggerEvaluation, MsgPing:
		return in, nil
	case "":
		return in, errors.New("missing type")
	default:
		return in, fmt.Errorf("%w %q", errUnknownType, in.Type)
	}
}

// SessionStartedFrame opens every connection.
type SessionStartedFrame struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId"`
	OpeningMessage string `json:"openingMessage,omitempty"`
	TotalPoints    int    `json:"totalPoints"`
	RecalledCount  int    `json:"recalledCount"`
}

// ChunkFrame is one piece of streamed tutor output.
type ChunkFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CompleteFrame carries a finished tutor reply.
type CompleteFrame struct {
	Type        string `json:"type"`
	FullContent string `json:"fullContent"`
}

// PointRecalledFrame reports one resolved point.
type PointRecalledFrame struct {
	Type          string `json:"type"`
	PointID       string `json:"pointId"`
	RecalledCount int    `json:"recalledCount"`
	TotalPoints   int    `json:"totalPoints"`
}

// OverlayFrame announces that every point is recalled.
type OverlayFrame struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId"`
	RecalledCount int    `json:"recalledCount"`
	TotalPoints   int    `json:"totalPoints"`
	Message       string `json:"message,omitempty"`
	CanContinue   bool   `json:"canContinue,omitempty"`
}

// PausedFrame reports a paused session.
type PausedFrame struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId"`
	RecalledCount int    `json:"recalledCount"`
	TotalPoints   int    `json:"totalPoints"`
}

// CompleteSessionFrame carries the finalized summary.
type CompleteSessionFrame struct {
	Type    string                      `json:"type"`
	Summary model.SessionMetricsSummary `json:"summary"`
}

// RabbitholeDetectedFrame offers a tangent.
type RabbitholeDetectedFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	EventID string `json:"eventId"`
}

// RabbitholeEnteredFrame confirms an entered tangent.
type RabbitholeEnteredFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// RabbitholeExitedFrame reports a tangent exit.
type RabbitholeExitedFrame struct {
	Type                 string `json:"type"`
	Label                string `json:"label"`
	PointsRecalledDuring int    `json:"pointsRecalledDuring"`
	CompletionPending    bool   `json:"completionPending"`
}

// ErrorFrame reports a failed request. The connection stays open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongFrame answers ping.
type PongFrame struct {
	Type string `json:"type"`
}

func errorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: MsgError, Code: code, Message: message}
}

// errorCode maps an orchestrator error to a protocol code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrNoPointsDue):
		return CodeNoPointsDue
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTooManySessions):
		return CodeRateLimited
	case errors.Is(err, orchestrator.ErrSessionClosed),
		errors.Is(err, orchestrator.ErrNoActiveSession):
		return CodeSessionClosed
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, orchestrator.ErrNoTangent),
		errors.Is(err, orchestrator.ErrIncomplete),
		errors.Is(err, orchestrator.ErrSessionPaused):
		return CodeBadRequest
	default:
		return CodeTurnFailed
	}
}

// Translate maps a session event to its outbound frame. Events with no
// client-facing meaning report false. Opening messages travel in
// session_started and are not repeated as assistant_complete.
func Translate(evt event.Event) (any, bool) {
	switch p := evt.Payload.(type) {
	case event.ChunkPayload:
		return ChunkFrame{Type: MsgAssistantChunk, Content: p.Content}, true

	case event.MessagePayload:
		if evt.Type != event.AssistantMessage || p.Kind == event.KindOpening {
			return nil, false
		}
		return CompleteFrame{Type: MsgAssistantComplete, FullContent: p.Content}, true

	case event.PointRecalledPayload:
		return PointRecalledFrame{
			Type:          MsgPointRecalled,
			PointID:       p.PointID,
			RecalledCount: p.RecalledCount,
			TotalPoints:   p.TotalPoints,
		}, true

	case event.CompletionPendingPayload:
		return OverlayFrame{
			Type:          MsgSessionCompleteOverlay,
			SessionID:     evt.SessionID,
			RecalledCount: p.RecalledCount,
			TotalPoints:   p.TotalPoints,
			Message:       p.Message,
			CanContinue:   p.CanContinue,
		}, true

	case event.SessionPausedPayload:
		if evt.Type == event.SessionAbandoned {
			return errorFrame(CodeSessionClosed, "session abandoned"), true
		}
		return PausedFrame{
			Type:          MsgSessionPaused,
			SessionID:     evt.SessionID,
			RecalledCount: p.RecalledCount,
			TotalPoints:   p.TotalPoints,
		}, true

	case event.SessionCompletedPayload:
		return CompleteSessionFrame{Type: MsgSessionComplete, Summary: p.Summary}, true

	case event.TangentPayload:
		switch evt.Type {
		case event.TangentSuggested:
			return RabbitholeDetectedFrame{Type: MsgRabbitholeDetected, Topic: p.Topic, EventID: p.EventID}, true
		case event.TangentEntered:
			return RabbitholeEnteredFrame{Type: MsgRabbitholeEntered, Topic: p.Topic}, true
		}
		return nil, false

	case event.TangentExitedPayload:
		return RabbitholeExitedFrame{
			Type:                 MsgRabbitholeExited,
			Label:                p.Label,
			PointsRecalledDuring: p.PointsRecalledDuring,
			CompletionPending:    p.CompletionPending,
		}, true
	}
	return nil, false
}
