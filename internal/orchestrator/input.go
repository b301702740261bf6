package orchestrator

import (
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/metrics"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

// Input is something that happened to a session. The concrete types below
// are the only implementations.
type Input interface{ isInput() }

// Begin announces a started or resumed session. A paused session moves
// back to in_progress.
type Begin struct {
	Resumed bool
	Now     time.Time
}

// UserMessage records a learner message.
type UserMessage struct {
	Message model.Message
}

// AssistantMessage records a tutor message and its model usage.
type AssistantMessage struct {
	Message      model.Message
	Kind         string
	InputTokens  int
	OutputTokens int
	ResponseTime time.Duration
}

// TangentSuggested records a detected tangent awaiting a decision.
type TangentSuggested struct {
	Suggestion tangent.Suggestion
	Now        time.Time
}

// TangentReturned records that the conversation came back from the
// innermost tangent.
type TangentReturned struct {
	Now time.Time
}

// EnterTangent accepts the pending suggestion, or opens a learner-initiated
// tangent when EventID does not match it. NewEventID names the tangent when
// EventID is empty.
type EnterTangent struct {
	EventID    string
	Topic      string
	NewEventID string
	Now        time.Time
}

// DeclineTangent rejects the pending suggestion.
type DeclineTangent struct {
	Now time.Time
}

// ExitTangent leaves the innermost tangent at the learner's request.
type ExitTangent struct {
	Now time.Time
}

// Evaluated carries the evaluator results of one pass, keyed by point id.
// Force resolves the current point with its last evaluation when it does
// not qualify.
type Evaluated struct {
	Results map[string]evaluator.Result
	Force   bool
	Now     time.Time
}

// DismissOverlay records that the learner chose to keep talking after
// completion.
type DismissOverlay struct{}

// Pause moves the session to paused.
type Pause struct {
	Now time.Time
}

// Abandon ends the session without completing it.
type Abandon struct {
	Now time.Time
}

// Finalize completes the session and computes its summary at Price.
type Finalize struct {
	Price metrics.Price
	Now   time.Time
}

func (Begin) isInput()            {}
func (UserMessage) isInput()      {}
func (AssistantMessage) isInput() {}
func (TangentSuggested) isInput() {}
func (TangentReturned) isInput()  {}
func (EnterTangent) isInput()     {}
func (DeclineTangent) isInput()   {}
func (ExitTangent) isInput()      {}
func (Evaluated) isInput()        {}
func (DismissOverlay) isInput()   {}
func (Pause) isInput()            {}
func (Abandon) isInput()          {}
func (Finalize) isInput()         {}

// Effect is I/O requested by the reducer, executed in order by the
// orchestrator.
type Effect interface{ isEffect() }

// SaveMessage appends a message to the transcript.
type SaveMessage struct{ Message model.Message }

// SavePoint writes a point's memory state and history.
type SavePoint struct{ Point model.RecallPoint }

// SaveOutcome records a resolved point.
type SaveOutcome struct{ Outcome model.RecallOutcome }

// SaveTangent inserts or updates a tangent event.
type SaveTangent struct{ Event model.TangentEvent }

// SaveSession writes the session row.
type SaveSession struct{ Session model.Session }

// SaveSnapshot persists the resume checkpoint.
type SaveSnapshot struct{ Checkpoint Checkpoint }

// SaveSummary persists the finalized metrics. Its failure is logged and
// does not abort the operation.
type SaveSummary struct{ Summary model.SessionMetricsSummary }

// Publish sends an event on the bus.
type Publish struct{ Event event.Event }

func (SaveMessage) isEffect()  {}
func (SavePoint) isEffect()    {}
func (SaveOutcome) isEffect()  {}
func (SaveTangent) isEffect()  {}
func (SaveSession) isEffect()  {}
func (SaveSnapshot) isEffect() {}
func (SaveSummary) isEffect()  {}
func (Publish) isEffect()      {}
