// Package tangent tracks conversational tangents: a pending suggestion, a
// stack of active tangents, and a cooldown after a declined suggestion.
package tangent

import (
	"slices"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Suggestion is a detected tangent awaiting the learner's decision.
type Suggestion struct {
	EventID string `json:"event_id"`
	Topic   string `json:"topic"`
}

// Frame is one active tangent.
type Frame struct {
	EventID        string   `json:"event_id"`
	Topic          string   `json:"topic"`
	Depth          int      `json:"depth"`
	TriggerIndex   int      `json:"trigger_index"`
	RecalledDuring []string `json:"recalled_during,omitempty"`
	// LearnerInitiated is set when the learner opened the tangent without a
	// detected suggestion.
	LearnerInitiated bool `json:"learner_initiated,omitempty"`
}

// State is the tangent state of a session. It is a value: every method
// returns a new State and leaves the receiver untouched.
type State struct {
	Pending  *Suggestion `json:"pending,omitempty"`
	Stack    []Frame     `json:"stack,omitempty"`
	Cooldown int         `json:"cooldown"`
}

// Active reports whether the session is inside a tangent.
func (s State) Active() bool {
	return len(s.Stack) > 0
}

// Top returns the innermost active tangent.
func (s State) Top() (Frame, bool) {
	if len(s.Stack) == 0 {
		return Frame{}, false
	}
	return s.Stack[len(s.Stack)-1], true
}

// Depth returns the current nesting depth.
func (s State) Depth() int {
	if f, ok := s.Top(); ok {
		return f.Depth
	}
	return 0
}

// Suggest records a pending suggestion, replacing any previous one.
func (s State) Suggest(sg Suggestion) State {
	out := s.clone()
	out.Pending = &sg
	return out
}

// Decline clears the pending suggestion and starts a cooldown of n learner
// messages.
func (s State) Decline(n int) State {
	out := s.clone()
	out.Pending = nil
	out.Cooldown = max(n, 0)
	return out
}

// Enter pushes a tangent accepted from a suggestion. Depth is capped at
// model.MaxTangentDepth.
func (s State) Enter(eventID, topic string, triggerIndex int) State {
	return s.push(eventID, topic, triggerIndex, false)
}

// EnterLearnerInitiated pushes a tangent the learner opened on their own.
func (s State) EnterLearnerInitiated(eventID, topic string, triggerIndex int) State {
	return s.push(eventID, topic, triggerIndex, true)
}

func (s State) push(eventID, topic string, triggerIndex int, learner bool) State {
	out := s.clone()
	out.Pending = nil
	out.Stack = append(out.Stack, Frame{
		EventID:          eventID,
		Topic:            topic,
		Depth:            min(len(s.Stack)+1, model.MaxTangentDepth),
		TriggerIndex:     triggerIndex,
		LearnerInitiated: learner,
	})
	return out
}

// Exit pops the innermost tangent. Exiting with an empty stack returns the
// zero Frame and an unchanged state.
func (s State) Exit() (Frame, State) {
	if len(s.Stack) == 0 {
		return Frame{}, s
	}
	out := s.clone()
	top := out.Stack[len(out.Stack)-1]
	out.Stack = out.Stack[:len(out.Stack)-1]
	return top, out
}

// Tick counts down the cooldown by one learner message.
func (s State) Tick() State {
	if s.Cooldown == 0 {
		return s
	}
	out := s.clone()
	out.Cooldown--
	return out
}

// NoteRecalled records pointID against every active tangent.
func (s State) NoteRecalled(pointID string) State {
	if len(s.Stack) == 0 {
		return s
	}
	out := s.clone()
	for i := range out.Stack {
		out.Stack[i].RecalledDuring = append(out.Stack[i].RecalledDuring, pointID)
	}
	return out
}

// Reset returns the empty state.
func (s State) Reset() State {
	return State{}
}

func (s State) clone() State {
	out := State{Cooldown: s.Cooldown}
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	if s.Stack != nil {
		out.Stack = make([]Frame, len(s.Stack))
		for i, f := range s.Stack {
			f.RecalledDuring = slices.Clone(f.RecalledDuring)
			out.Stack[i] = f
		}
	}
	return out
}
