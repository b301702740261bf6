package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
)

// persist executes the storage effects in order and stops at the first
// failure. Writes already executed stay committed.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, effects []Effect) error {
	st := o.deps.Store
	for _, e := range effects {
		var err error
		switch e := e.(type) {
		case SaveMessage:
			err = st.Messages.Create(ctx, e.Message)
		case SavePoint:
			err = st.Points.UpdateMemoryState(ctx, e.Point)
		case SaveOutcome:
			err = st.Outcomes.Create(ctx, e.Outcome)
		case SaveTangent:
			err = st.Tangents.Save(ctx, e.Event)
		case SaveSession:
			err = st.Sessions.Update(ctx, e.Session)
		case SaveSnapshot:
			err = o.saveCheckpoint(ctx, sessionID, e.Checkpoint)
		case SaveSummary:
			if serr := st.Metrics.Save(ctx, e.Summary); serr != nil {
				o.logger.Warn("orchestrator: saving session summary failed",
					"session_id", e.Summary.SessionID, "error", serr)
			}
		case Publish:
		default:
			err = fmt.Errorf("unknown effect %T", e)
		}
		if err != nil {
			return fmt.Errorf("orchestrator: %s: %w", effectName(e), err)
		}
	}
	return nil
}

// publish sends the events among effects to the bus in order.
func (o *Orchestrator) publish(effects []Effect) {
	if o.deps.Bus == nil {
		return
	}
	for _, e := range effects {
		if p, ok := e.(Publish); ok {
			o.deps.Bus.Publish(p.Event)
		}
	}
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, sessionID string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return o.deps.Store.Snapshots.Save(ctx, sessionID, data)
}

func effectName(e Effect) string {
	switch e.(type) {
	case SaveMessage:
		return "save message"
	case SavePoint:
		return "save point"
	case SaveOutcome:
		return "save outcome"
	case SaveTangent:
		return "save tangent"
	case SaveSession:
		return "save session"
	case SaveSnapshot:
		return "save snapshot"
	case SaveSummary:
		return "save summary"
	case Publish:
		return "publish"
	default:
		return fmt.Sprintf("%T", e)
	}
}
