package model

import (
	"fmt"
	"slices"
	"time"
)

// SessionStatus is the top-level lifecycle status of a session.
type SessionStatus string

// SessionStatus constants.
const (
	StatusInProgress SessionStatus = "in_progress"
	StatusPaused     SessionStatus = "paused"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// CanTransition reports whether a session may move from s to next.
// Only in_progress and paused may alternate; completed and abandoned are final.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusInProgress:
		return next == StatusPaused || next == StatusCompleted || next == StatusAbandoned
	case StatusPaused:
		return next == StatusInProgress || next == StatusCompleted || next == StatusAbandoned
	default:
		return false
	}
}

// Session is one study session against a fixed list of target points.
type Session struct {
	ID               string        `json:"id"`
	SetID            string        `json:"set_id"`
	TargetPointIDs   []string      `json:"target_point_ids"`
	Status           SessionStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
	RecalledPointIDs []string      `json:"recalled_point_ids"`
	ActiveTangentID  string        `json:"active_tangent_id,omitempty"`
}

// Transition returns a copy of s moved to next, stamping EndedAt for
// terminal statuses.
func (s Session) Transition(next SessionStatus, now time.Time) (Session, error) {
	if !s.Status.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	out := s.Clone()
	out.Status = next
	out.UpdatedAt = now
	if next.Terminal() {
		ended := now
		out.EndedAt = &ended
	}
	return out, nil
}

// IsRecalled reports whether pointID has been resolved in this session.
func (s Session) IsRecalled(pointID string) bool {
	return slices.Contains(s.RecalledPointIDs, pointID)
}

// IsTarget reports whether pointID belongs to the session's target list.
func (s Session) IsTarget(pointID string) bool {
	return slices.Contains(s.TargetPointIDs, pointID)
}

// Unrecalled returns target ids not yet recalled, in target order.
func (s Session) Unrecalled() []string {
	var out []string
	for _, id := range s.TargetPointIDs {
		if !s.IsRecalled(id) {
			out = append(out, id)
		}
	}
	return out
}

// AllRecalled reports whether every target point has been recalled.
func (s Session) AllRecalled() bool {
	return len(s.TargetPointIDs) > 0 && len(s.Unrecalled()) == 0
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	s.TargetPointIDs = slices.Clone(s.TargetPointIDs)
	s.RecalledPointIDs = slices.Clone(s.RecalledPointIDs)
	if s.EndedAt != nil {
		e := *s.EndedAt
		s.EndedAt = &e
	}
	return s
}
