// Package evaluatortest provides test doubles for the evaluator package.
package evaluatortest

import (
	"context"
	"sync"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Evaluator is a test double for evaluator.Evaluator.
type Evaluator struct {
	EvaluateFunc func(ctx context.Context, point model.RecallPoint, recent []model.Message) (evaluator.Result, error)

	mu    sync.Mutex
	Calls []string // point IDs, in call order
}

// Compile-time interface check.
var _ evaluator.Evaluator = (*Evaluator)(nil)

// Evaluate records the point ID and delegates to EvaluateFunc.
func (e *Evaluator) Evaluate(ctx context.Context, point model.RecallPoint, recent []model.Message) (evaluator.Result, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, point.ID)
	e.mu.Unlock()
	return e.EvaluateFunc(ctx, point, recent)
}

// CallCount returns the number of Evaluate calls so far.
func (e *Evaluator) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Scripted returns an Evaluator that answers from a per-point table.
// Points absent from the table are judged not recalled.
func Scripted(results map[string]evaluator.Result) *Evaluator {
	return &Evaluator{
		EvaluateFunc: func(_ context.Context, point model.RecallPoint, _ []model.Message) (evaluator.Result, error) {
			if r, ok := results[point.ID]; ok {
				return r, nil
			}
			return evaluator.Result{Success: false, Confidence: 0.1, SuggestedRating: model.RatingForgot}, nil
		},
	}
}

// Recalled returns a successful result at confidence c.
func Recalled(c float64) evaluator.Result {
	return evaluator.Result{
		Success:         true,
		Confidence:      c,
		Reasoning:       "learner stated the fact",
		SuggestedRating: evaluator.RatingFromConfidence(c, evaluator.DefaultBands()),
	}
}
