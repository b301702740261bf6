package model

import "slices"

// TangentStatus is the lifecycle status of a tangent event.
type TangentStatus string

// TangentStatus constants.
const (
	TangentActive    TangentStatus = "active"
	TangentReturned  TangentStatus = "returned"
	TangentAbandoned TangentStatus = "abandoned"
)

// MaxTangentDepth caps tangent nesting.
const MaxTangentDepth = 3

// TangentEvent records one conversational detour.
type TangentEvent struct {
	ID               string        `json:"id"`
	SessionID        string        `json:"session_id"`
	Topic            string        `json:"topic"`
	TriggerIndex     int           `json:"trigger_index"`
	ReturnIndex      *int          `json:"return_index,omitempty"`
	Depth            int           `json:"depth"`
	RelatedPointIDs  []string      `json:"related_point_ids,omitempty"`
	LearnerInitiated bool          `json:"learner_initiated"`
	Status           TangentStatus `json:"status"`
}

// Clone returns a deep copy of e.
func (e TangentEvent) Clone() TangentEvent {
	e.RelatedPointIDs = slices.Clone(e.RelatedPointIDs)
	if e.ReturnIndex != nil {
		ri := *e.ReturnIndex
		e.ReturnIndex = &ri
	}
	return e
}
