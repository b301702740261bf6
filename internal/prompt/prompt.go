// Package prompt builds the model conversations used by the tutor, the
// evaluator and the tangent detector.
package prompt

import (
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// Builder produces provider-ready message lists. Implementations must be
// deterministic for a given input.
type Builder interface {
	Opening(in OpeningInput) ([]provider.LLMMessage, error)
	Resume(in ResumeInput) ([]provider.LLMMessage, error)
	Tutor(in TutorInput) ([]provider.LLMMessage, error)
	Evaluation(point model.RecallPoint, recent []model.Message) ([]provider.LLMMessage, error)
	TangentDetection(point model.RecallPoint, window []model.Message) ([]provider.LLMMessage, error)
	TangentReturn(point model.RecallPoint, topic string, window []model.Message) ([]provider.LLMMessage, error)
}

// OpeningInput seeds the first tutor message of a fresh session.
type OpeningInput struct {
	Point       model.RecallPoint
	TotalPoints int
}

// ResumeInput seeds the welcome-back message of a resumed session.
type ResumeInput struct {
	Point         model.RecallPoint
	History       []model.Message
	RecalledCount int
	TotalPoints   int
}

// TutorInput describes the turn the tutor is replying to.
type TutorInput struct {
	Point   model.RecallPoint
	History []model.Message

	// Advanced is set when the previous point resolved this turn.
	Advanced bool
	// Previous is the point that just resolved, when Advanced.
	Previous *model.RecallPoint
	// PreviousSucceeded reports whether Previous was recalled or force-resolved.
	PreviousSucceeded bool

	TangentTopic      string
	CompletionPending bool
	RecalledCount     int
	TotalPoints       int
}
