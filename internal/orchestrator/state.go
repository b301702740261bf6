package orchestrator

import (
	"maps"
	"slices"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/metrics"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

// State is the authoritative value of a live session. The reducer never
// modifies a State in place; each transition works on a clone.
type State struct {
	Session  model.Session
	Points   map[string]model.RecallPoint
	Messages []model.Message

	Tangent tangent.State
	Metrics metrics.Collector

	CurrentPointID    string
	PointStartIndex   int
	PointUserMessages int
	LastEvaluation    map[string]evaluator.Result

	CompletionPending bool
	// CompletionAnnounced is set once completion_pending was published. The
	// announcement waits while a tangent is open.
	CompletionAnnounced bool
	OverlayDismissed    bool
}

// NewState builds the state of a session that has no checkpoint yet.
// The cursor starts at the first unrecalled target, after msgs, and the
// metrics collector is seeded with msgs.
func NewState(sess model.Session, points []model.RecallPoint, msgs []model.Message) State {
	s := State{
		Session:        sess.Clone(),
		Points:         make(map[string]model.RecallPoint, len(points)),
		Messages:       slices.Clone(msgs),
		Metrics:        metrics.Start(sess.ID, sess.StartedAt),
		LastEvaluation: make(map[string]evaluator.Result),
	}
	for _, p := range points {
		s.Points[p.ID] = p.Clone()
	}
	for _, m := range msgs {
		s.Metrics = s.Metrics.RecordMessage(m.Role, m.TokenCount, 0)
	}
	s.CurrentPointID = firstUnrecalled(s.Session)
	s.PointStartIndex = len(s.Messages)
	if s.CurrentPointID == "" && s.Session.AllRecalled() {
		s.CompletionPending = true
	}
	return s
}

func (s State) clone() State {
	out := s
	out.Session = s.Session.Clone()
	out.Points = maps.Clone(s.Points)
	out.Messages = slices.Clone(s.Messages)
	out.LastEvaluation = maps.Clone(s.LastEvaluation)
	if out.Points == nil {
		out.Points = make(map[string]model.RecallPoint)
	}
	if out.LastEvaluation == nil {
		out.LastEvaluation = make(map[string]evaluator.Result)
	}
	return out
}

// CurrentPoint returns the point being probed, if any.
func (s State) CurrentPoint() (model.RecallPoint, bool) {
	if s.CurrentPointID == "" {
		return model.RecallPoint{}, false
	}
	p, ok := s.Points[s.CurrentPointID]
	return p, ok
}

func (s State) progress() (recalled, total int) {
	return len(s.Session.RecalledPointIDs), len(s.Session.TargetPointIDs)
}

func firstUnrecalled(sess model.Session) string {
	if ids := sess.Unrecalled(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// Checkpoint is the persisted part of State that repositories do not
// already hold. It is saved after every transition so a session resumes
// with its tangent and metrics state intact.
type Checkpoint struct {
	Version             int                         `json:"version"`
	Tangent             tangent.State               `json:"tangent"`
	Metrics             metrics.Collector           `json:"metrics"`
	CurrentPointID      string                      `json:"current_point_id"`
	PointStartIndex     int                         `json:"point_start_index"`
	PointUserMessages   int                         `json:"point_user_messages"`
	LastEvaluation      map[string]evaluator.Result `json:"last_evaluation,omitempty"`
	CompletionPending   bool                        `json:"completion_pending"`
	CompletionAnnounced bool                        `json:"completion_announced"`
	OverlayDismissed    bool                        `json:"overlay_dismissed"`
}

const checkpointVersion = 1

// Checkpoint extracts the persisted part of s.
func (s State) Checkpoint() Checkpoint {
	return Checkpoint{
		Version:             checkpointVersion,
		Tangent:             s.Tangent,
		Metrics:             s.Metrics,
		CurrentPointID:      s.CurrentPointID,
		PointStartIndex:     s.PointStartIndex,
		PointUserMessages:   s.PointUserMessages,
		LastEvaluation:      maps.Clone(s.LastEvaluation),
		CompletionPending:   s.CompletionPending,
		CompletionAnnounced: s.CompletionAnnounced,
		OverlayDismissed:    s.OverlayDismissed,
	}
}

// Restore applies a checkpoint to s. A cursor that points at a resolved or
// unknown point is moved to the first unrecalled target.
func (s State) Restore(c Checkpoint) State {
	out := s.clone()
	out.Tangent = c.Tangent
	out.Metrics = c.Metrics
	if out.Metrics.SessionID == "" {
		out.Metrics = metrics.Start(s.Session.ID, s.Session.StartedAt)
	}
	out.CurrentPointID = c.CurrentPointID
	out.PointStartIndex = min(c.PointStartIndex, len(out.Messages))
	out.PointUserMessages = c.PointUserMessages
	if c.LastEvaluation != nil {
		out.LastEvaluation = maps.Clone(c.LastEvaluation)
	}
	out.CompletionPending = c.CompletionPending
	out.CompletionAnnounced = c.CompletionAnnounced
	out.OverlayDismissed = c.OverlayDismissed

	if _, ok := out.Points[out.CurrentPointID]; !ok || out.Session.IsRecalled(out.CurrentPointID) {
		out.CurrentPointID = firstUnrecalled(out.Session)
		out.PointStartIndex = len(out.Messages)
		out.PointUserMessages = 0
	}
	return out
}

// Snapshot is a read-only projection of a live session.
type Snapshot struct {
	SessionID         string              `json:"session_id"`
	SetID             string              `json:"set_id"`
	Status            model.SessionStatus `json:"status"`
	CurrentPointID    string              `json:"current_point_id,omitempty"`
	RecalledCount     int                 `json:"recalled_count"`
	TotalPoints       int                 `json:"total_points"`
	MessageCount      int                 `json:"message_count"`
	InTangent         bool                `json:"in_tangent"`
	TangentTopic      string              `json:"tangent_topic,omitempty"`
	PendingSuggestion *tangent.Suggestion `json:"pending_suggestion,omitempty"`
	CompletionPending bool                `json:"completion_pending"`
}

func (s State) snapshot() *Snapshot {
	recalled, total := s.progress()
	snap := &Snapshot{
		SessionID:         s.Session.ID,
		SetID:             s.Session.SetID,
		Status:            s.Session.Status,
		CurrentPointID:    s.CurrentPointID,
		RecalledCount:     recalled,
		TotalPoints:       total,
		MessageCount:      len(s.Messages),
		InTangent:         s.Tangent.Active(),
		CompletionPending: s.CompletionPending,
	}
	if f, ok := s.Tangent.Top(); ok {
		snap.TangentTopic = f.Topic
	}
	if s.Tangent.Pending != nil {
		p := *s.Tangent.Pending
		snap.PendingSuggestion = &p
	}
	return snap
}
