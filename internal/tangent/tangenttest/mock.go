// Package tangenttest provides test doubles for the tangent package.
package tangenttest

import (
	"context"
	"sync"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

// Detector is a test double for tangent.Detector. Unset funcs report no
// signal.
type Detector struct {
	DetectFunc      func(ctx context.Context, point model.RecallPoint, window []model.Message) (*tangent.Suggestion, error)
	CheckReturnFunc func(ctx context.Context, point model.RecallPoint, frame tangent.Frame, window []model.Message) (bool, error)

	mu          sync.Mutex
	DetectCalls int
	ReturnCalls int
}

// Compile-time interface check.
var _ tangent.Detector = (*Detector)(nil)

// Detect delegates to DetectFunc.
func (d *Detector) Detect(ctx context.Context, point model.RecallPoint, window []model.Message) (*tangent.Suggestion, error) {
	d.mu.Lock()
	d.DetectCalls++
	d.mu.Unlock()
	if d.DetectFunc == nil {
		return nil, nil
	}
	return d.DetectFunc(ctx, point, window)
}

// CheckReturn delegates to CheckReturnFunc.
func (d *Detector) CheckReturn(ctx context.Context, point model.RecallPoint, frame tangent.Frame, window []model.Message) (bool, error) {
	d.mu.Lock()
	d.ReturnCalls++
	d.mu.Unlock()
	if d.CheckReturnFunc == nil {
		return false, nil
	}
	return d.CheckReturnFunc(ctx, point, frame, window)
}

// Counts returns the number of Detect and CheckReturn calls so far.
func (d *Detector) Counts() (detect, checkReturn int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DetectCalls, d.ReturnCalls
}
