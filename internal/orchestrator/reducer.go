package orchestrator

import (
	"fmt"
	"slices"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/metrics"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

// CompletionMessage is shown with the completion overlay.
const CompletionMessage = "You've recalled every point in this session. End it now or keep discussing."

// Reducer is the session state machine. Apply is a pure function of its
// arguments: all time comes from the input and all I/O is returned as
// effects.
type Reducer struct {
	config    Config
	scheduler *scheduler.Scheduler
}

// NewReducer creates a Reducer. cfg is completed with defaults.
func NewReducer(sched *scheduler.Scheduler, cfg Config) *Reducer {
	cfg.Defaults()
	return &Reducer{config: cfg, scheduler: sched}
}

// Apply moves s through in. On error s is returned unchanged with no
// effects. Every successful transition ends with a SaveSnapshot.
func (r *Reducer) Apply(s State, in Input) (State, []Effect, error) {
	if err := guard(s.Session.Status, in); err != nil {
		return s, nil, err
	}

	t := &transition{r: r, next: s.clone()}
	var err error
	switch in := in.(type) {
	case Begin:
		t.begin(in)
	case UserMessage:
		t.userMessage(in)
	case AssistantMessage:
		t.assistantMessage(in)
	case TangentSuggested:
		t.tangentSuggested(in)
	case TangentReturned:
		err = t.exitTangent(in.Now)
	case ExitTangent:
		err = t.exitTangent(in.Now)
	case EnterTangent:
		err = t.enterTangent(in)
	case DeclineTangent:
		err = t.declineTangent(in)
	case Evaluated:
		err = t.evaluated(in)
	case DismissOverlay:
		t.next.OverlayDismissed = true
	case Pause:
		err = t.pause(in)
	case Abandon:
		err = t.abandon(in)
	case Finalize:
		err = t.finalize(in)
	default:
		err = fmt.Errorf("orchestrator: unknown input %T", in)
	}
	if err != nil {
		return s, nil, err
	}

	t.effects = append(t.effects, SaveSnapshot{Checkpoint: t.next.Checkpoint()})
	return t.next, t.effects, nil
}

// guard rejects inputs the session status does not accept.
func guard(status model.SessionStatus, in Input) error {
	if status.Terminal() {
		return ErrSessionClosed
	}
	switch in.(type) {
	case Begin, Pause, Abandon, Finalize:
		return nil
	}
	if status == model.StatusPaused {
		return ErrSessionPaused
	}
	return nil
}

// transition accumulates one Apply call.
type transition struct {
	r       *Reducer
	next    State
	effects []Effect
}

func (t *transition) emit(e Effect) {
	t.effects = append(t.effects, e)
}

func (t *transition) publish(typ event.Type, now time.Time, payload any) {
	t.emit(Publish{Event: event.Event{
		Type:      typ,
		SessionID: t.next.Session.ID,
		SetID:     t.next.Session.SetID,
		Time:      now,
		Payload:   payload,
	}})
}

func (t *transition) progress() event.Progress {
	recalled, total := t.next.progress()
	return event.Progress{RecalledCount: recalled, TotalPoints: total}
}

func (t *transition) saveSession(now time.Time) {
	if now.After(t.next.Session.UpdatedAt) {
		t.next.Session.UpdatedAt = now
	}
	t.emit(SaveSession{Session: t.next.Session.Clone()})
}

func (t *transition) lastIndex() int {
	return max(len(t.next.Messages)-1, 0)
}

func (t *transition) begin(in Begin) {
	if t.next.Session.Status == model.StatusPaused {
		// guard admitted Begin, and paused -> in_progress is always valid.
		t.next.Session, _ = t.next.Session.Transition(model.StatusInProgress, in.Now)
		t.saveSession(in.Now)
	}
	t.publish(event.SessionStarted, in.Now, event.SessionStartedPayload{
		Progress: t.progress(),
		Resumed:  in.Resumed,
	})
	t.pointStarted(in.Now)
	if t.next.CompletionPending && !t.next.Tangent.Active() {
		t.announceCompletion(in.Now)
	}
}

func (t *transition) pointStarted(now time.Time) {
	id := t.next.CurrentPointID
	if id == "" {
		return
	}
	t.publish(event.PointStarted, now, event.PointStartedPayload{
		PointID: id,
		Index:   slices.Index(t.next.Session.TargetPointIDs, id),
	})
}

func (t *transition) userMessage(in UserMessage) {
	msg := in.Message
	msg.Role = model.RoleUser
	t.next.Messages = append(t.next.Messages, msg)
	t.next.Metrics = t.next.Metrics.RecordMessage(model.RoleUser, msg.TokenCount, 0)
	t.next.PointUserMessages++
	t.emit(SaveMessage{Message: msg})
	t.saveSession(msg.Timestamp)
	t.publish(event.UserMessage, msg.Timestamp, event.MessagePayload{
		MessageID: msg.ID,
		Content:   msg.Content,
	})

	switch {
	case t.next.Tangent.Pending != nil:
		sg := *t.next.Tangent.Pending
		t.next.Tangent = t.next.Tangent.Decline(t.r.config.TangentCooldown)
		t.publish(event.TangentDeclined, msg.Timestamp, event.TangentPayload{
			EventID: sg.EventID,
			Topic:   sg.Topic,
		})
	case t.next.Tangent.Cooldown > 0:
		t.next.Tangent = t.next.Tangent.Tick()
	}
}

func (t *transition) assistantMessage(in AssistantMessage) {
	msg := in.Message
	msg.Role = model.RoleAssistant
	t.next.Messages = append(t.next.Messages, msg)
	t.next.Metrics = t.next.Metrics.
		RecordMessage(model.RoleAssistant, msg.TokenCount, in.ResponseTime).
		RecordUsage(in.InputTokens, in.OutputTokens)
	t.emit(SaveMessage{Message: msg})
	t.saveSession(msg.Timestamp)
	t.publish(event.AssistantMessage, msg.Timestamp, event.MessagePayload{
		MessageID: msg.ID,
		Content:   msg.Content,
		Kind:      in.Kind,
	})
}

func (t *transition) tangentSuggested(in TangentSuggested) {
	t.next.Tangent = t.next.Tangent.Suggest(in.Suggestion)
	t.publish(event.TangentSuggested, in.Now, event.TangentPayload{
		EventID: in.Suggestion.EventID,
		Topic:   in.Suggestion.Topic,
	})
}

func (t *transition) enterTangent(in EnterTangent) error {
	trigger := t.lastIndex()
	pending := t.next.Tangent.Pending
	var frame tangent.Frame
	switch {
	case pending != nil && (in.EventID == "" || in.EventID == pending.EventID):
		t.next.Tangent = t.next.Tangent.Enter(pending.EventID, pending.Topic, trigger)
	case in.Topic != "":
		id := in.EventID
		if id == "" {
			id = in.NewEventID
		}
		if id == "" {
			return fmt.Errorf("orchestrator: enter tangent: %w: no event id", ErrNoTangent)
		}
		t.next.Tangent = t.next.Tangent.EnterLearnerInitiated(id, in.Topic, trigger)
	default:
		return fmt.Errorf("orchestrator: enter tangent: %w", ErrNoTangent)
	}
	frame, _ = t.next.Tangent.Top()

	t.emit(SaveTangent{Event: model.TangentEvent{
		ID:               frame.EventID,
		SessionID:        t.next.Session.ID,
		Topic:            frame.Topic,
		TriggerIndex:     frame.TriggerIndex,
		Depth:            frame.Depth,
		LearnerInitiated: frame.LearnerInitiated,
		Status:           model.TangentActive,
	}})
	t.next.Session.ActiveTangentID = frame.EventID
	t.saveSession(in.Now)
	t.publish(event.TangentEntered, in.Now, event.TangentPayload{
		EventID:          frame.EventID,
		Topic:            frame.Topic,
		Depth:            frame.Depth,
		LearnerInitiated: frame.LearnerInitiated,
	})
	return nil
}

func (t *transition) declineTangent(in DeclineTangent) error {
	if t.next.Tangent.Pending == nil {
		return fmt.Errorf("orchestrator: decline tangent: %w", ErrNoTangent)
	}
	sg := *t.next.Tangent.Pending
	t.next.Tangent = t.next.Tangent.Decline(t.r.config.TangentCooldown)
	t.publish(event.TangentDeclined, in.Now, event.TangentPayload{
		EventID: sg.EventID,
		Topic:   sg.Topic,
	})
	return nil
}

func (t *transition) exitTangent(now time.Time) error {
	if !t.next.Tangent.Active() {
		return fmt.Errorf("orchestrator: exit tangent: %w", ErrNoTangent)
	}
	var frame tangent.Frame
	frame, t.next.Tangent = t.next.Tangent.Exit()

	ret := t.lastIndex()
	t.emit(SaveTangent{Event: t.tangentEvent(frame, model.TangentReturned, &ret)})
	t.next.Metrics = t.next.Metrics.RecordTangent(true)
	t.next.Session.ActiveTangentID = ""
	if top, ok := t.next.Tangent.Top(); ok {
		t.next.Session.ActiveTangentID = top.EventID
	}
	t.saveSession(now)
	t.publish(event.TangentExited, now, event.TangentExitedPayload{
		EventID:              frame.EventID,
		Label:                frame.Topic,
		Returned:             true,
		PointsRecalledDuring: len(frame.RecalledDuring),
		CompletionPending:    t.next.CompletionPending,
	})
	if t.next.CompletionPending && !t.next.CompletionAnnounced && !t.next.Tangent.Active() {
		t.announceCompletion(now)
	}
	return nil
}

func (t *transition) tangentEvent(f tangent.Frame, status model.TangentStatus, returnIndex *int) model.TangentEvent {
	return model.TangentEvent{
		ID:               f.EventID,
		SessionID:        t.next.Session.ID,
		Topic:            f.Topic,
		TriggerIndex:     f.TriggerIndex,
		ReturnIndex:      returnIndex,
		Depth:            f.Depth,
		RelatedPointIDs:  slices.Clone(f.RecalledDuring),
		LearnerInitiated: f.LearnerInitiated,
		Status:           status,
	}
}

// closeTangents persists every open tangent as abandoned, innermost first.
func (t *transition) closeTangents() {
	for i := len(t.next.Tangent.Stack) - 1; i >= 0; i-- {
		t.emit(SaveTangent{Event: t.tangentEvent(t.next.Tangent.Stack[i], model.TangentAbandoned, nil)})
		t.next.Metrics = t.next.Metrics.RecordTangent(false)
	}
	t.next.Tangent = t.next.Tangent.Reset()
	t.next.Session.ActiveTangentID = ""
}

func (t *transition) announceCompletion(now time.Time) {
	t.next.CompletionAnnounced = true
	t.publish(event.CompletionPending, now, event.CompletionPendingPayload{
		Progress:    t.progress(),
		Message:     CompletionMessage,
		CanContinue: true,
	})
}

func (t *transition) normalize(res evaluator.Result) evaluator.Result {
	res.Confidence = evaluator.Sanitize(res.Confidence)
	if !res.SuggestedRating.IsValid() {
		res.SuggestedRating = evaluator.RatingFromConfidence(res.Confidence, t.r.config.RatingBands)
	}
	return res
}

func (t *transition) evaluated(in Evaluated) error {
	resolved := false
	for _, id := range t.next.Session.Unrecalled() {
		res, ok := in.Results[id]
		if !ok {
			continue
		}
		res = t.normalize(res)
		t.next.LastEvaluation[id] = res
		qualified := res.Qualifies(t.r.config.RecallThreshold)
		t.publish(event.PointEvaluated, in.Now, event.PointEvaluatedPayload{
			PointID:    id,
			Success:    res.Success,
			Confidence: res.Confidence,
			Qualified:  qualified,
			Degraded:   res.Degraded,
		})
		if !qualified {
			continue
		}
		if err := t.resolve(id, res, false, in.Now); err != nil {
			return err
		}
		resolved = true
	}

	cur := t.next.CurrentPointID
	capped := t.next.PointUserMessages >= t.r.config.MaxMessagesPerPoint
	if cur != "" && !t.next.Session.IsRecalled(cur) && (in.Force || capped) {
		res, ok := t.next.LastEvaluation[cur]
		if !ok {
			res = t.normalize(evaluator.Degrade("no evaluation before forced resolution"))
		}
		if err := t.resolve(cur, res, true, in.Now); err != nil {
			return err
		}
		resolved = true
	}

	if !resolved {
		return nil
	}
	if t.next.Session.IsRecalled(t.next.CurrentPointID) || t.next.CurrentPointID == "" {
		t.next.CurrentPointID = firstUnrecalled(t.next.Session)
		t.next.PointStartIndex = len(t.next.Messages)
		t.next.PointUserMessages = 0
		t.pointStarted(in.Now)
	}
	t.saveSession(in.Now)

	if t.next.Session.AllRecalled() && !t.next.CompletionPending {
		t.next.CompletionPending = true
		if !t.next.Tangent.Active() {
			t.announceCompletion(in.Now)
		}
	}
	return nil
}

// resolve applies one resolution to point id: scheduler, history, outcome.
func (t *transition) resolve(id string, res evaluator.Result, forced bool, now time.Time) error {
	p, ok := t.next.Points[id]
	if !ok {
		return fmt.Errorf("orchestrator: resolve %q: point not loaded", id)
	}
	rating := evaluator.RatingFromConfidence(res.Confidence, t.r.config.RatingBands)
	st, err := t.r.scheduler.Advance(p.State, rating, now)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve %q: %w", id, err)
	}
	conf := res.Confidence
	p = p.Clone()
	p.State = st
	p.History = append(p.History, model.RecallAttempt{
		Timestamp:  now,
		Success:    res.Success,
		Confidence: &conf,
	})
	t.next.Points[id] = p
	t.next.Session.RecalledPointIDs = append(t.next.Session.RecalledPointIDs, id)

	end := t.lastIndex()
	start := min(t.next.PointStartIndex, end)
	outcome := model.RecallOutcome{
		ID:         t.next.Session.ID + ":" + id,
		SessionID:  t.next.Session.ID,
		PointID:    id,
		Success:    res.Success,
		Confidence: conf,
		Rating:     rating,
		Reasoning:  res.Reasoning,
		Forced:     forced,
		StartIndex: start,
		EndIndex:   end,
		CreatedAt:  now,
	}
	t.next.Metrics = t.next.Metrics.RecordRecallOutcome(metrics.Outcome{
		PointID:    id,
		Success:    res.Success,
		Confidence: conf,
		Rating:     rating,
		StartIndex: start,
		EndIndex:   end,
		Forced:     forced,
	})
	t.next.Tangent = t.next.Tangent.NoteRecalled(id)

	t.emit(SavePoint{Point: p.Clone()})
	t.emit(SaveOutcome{Outcome: outcome})
	t.publish(event.PointRecalled, now, event.PointRecalledPayload{
		Progress: t.progress(),
		PointID:  id,
		Success:  res.Success,
		Forced:   forced,
	})
	t.publish(event.PointCompleted, now, event.PointCompletedPayload{
		PointID: id,
		Rating:  rating,
		NextDue: st.Due,
	})
	return nil
}

func (t *transition) pause(in Pause) error {
	if t.next.Session.Status == model.StatusPaused {
		return nil
	}
	sess, err := t.next.Session.Transition(model.StatusPaused, in.Now)
	if err != nil {
		return fmt.Errorf("orchestrator: pause: %w", err)
	}
	t.next.Session = sess
	t.saveSession(in.Now)
	t.publish(event.SessionPaused, in.Now, event.SessionPausedPayload{Progress: t.progress()})
	return nil
}

func (t *transition) abandon(in Abandon) error {
	sess, err := t.next.Session.Transition(model.StatusAbandoned, in.Now)
	if err != nil {
		return fmt.Errorf("orchestrator: abandon: %w", err)
	}
	t.closeTangents()
	sess.ActiveTangentID = ""
	t.next.Session = sess
	t.saveSession(in.Now)
	t.publish(event.SessionAbandoned, in.Now, event.SessionPausedPayload{Progress: t.progress()})
	return nil
}

func (t *transition) finalize(in Finalize) error {
	if !t.next.Session.AllRecalled() {
		return fmt.Errorf("orchestrator: finalize: %w", ErrIncomplete)
	}
	sess, err := t.next.Session.Transition(model.StatusCompleted, in.Now)
	if err != nil {
		return fmt.Errorf("orchestrator: finalize: %w", err)
	}
	t.closeTangents()
	sess.ActiveTangentID = ""
	t.next.Session = sess
	t.next.CompletionPending = false

	summary := t.next.Metrics.Finalize(in.Now, len(sess.TargetPointIDs), in.Price)
	t.saveSession(in.Now)
	t.emit(SaveSummary{Summary: summary})
	t.publish(event.SessionCompleted, in.Now, event.SessionCompletedPayload{Summary: summary})
	return nil
}
