// Package orchestrator runs one conversational recall session: it feeds
// learner messages through tangent detection and continuous evaluation,
// advances the schedule of recalled points and generates tutor replies.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/metrics"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
)

const tracerName = "github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"

// Deps are the collaborators of an Orchestrator. Detector and Bus are
// optional.
type Deps struct {
	Store     *store.Store
	Tutor     provider.Provider
	Evaluator evaluator.Evaluator
	Detector  tangent.Detector
	Prompts   prompt.Builder
	Scheduler *scheduler.Scheduler
	Bus       *event.Bus
	Pricing   metrics.Pricing
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// TurnResult reports the outcome of one turn.
type TurnResult struct {
	Response         string              `json:"response"`
	PointAdvanced    bool                `json:"point_advanced"`
	RecalledThisTurn []string            `json:"recalled_this_turn"`
	RecalledCount    int                 `json:"recalled_count"`
	TotalPoints      int                 `json:"total_points"`
	Complete         bool                `json:"complete"`
	Suggestion       *tangent.Suggestion `json:"suggestion,omitempty"`
}

// Orchestrator drives a single session. All methods are safe for
// concurrent use; operations are serialized.
type Orchestrator struct {
	mu      sync.Mutex
	deps    Deps
	config  Config
	reducer *Reducer
	logger  *slog.Logger
	tracer  trace.Tracer
	state   *State
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Tutor == nil:
		return nil, errors.New("orchestrator: tutor provider is required")
	case deps.Evaluator == nil:
		return nil, errors.New("orchestrator: evaluator is required")
	case deps.Prompts == nil:
		return nil, errors.New("orchestrator: prompt builder is required")
	case deps.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = store.NewID
	}
	if deps.Pricing == nil {
		deps.Pricing = metrics.DefaultPricing()
	}
	return &Orchestrator{
		deps:    deps,
		config:  cfg,
		reducer: NewReducer(deps.Scheduler, cfg),
		logger:  deps.Logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

func (o *Orchestrator) now() time.Time {
	return o.deps.Now().UTC()
}

// apply runs in through the reducer, persists the effects and only then
// commits the new state and publishes its events. A failed write leaves the
// previous state in place so the same input can be retried; every write is
// keyed so a retry overwrites rather than duplicates.
func (o *Orchestrator) apply(ctx context.Context, in Input) ([]Effect, error) {
	next, effects, err := o.reducer.Apply(*o.state, in)
	if err != nil {
		return nil, err
	}
	if err := o.persist(ctx, next.Session.ID, effects); err != nil {
		return nil, err
	}
	o.state = &next
	o.publish(effects)
	return effects, nil
}

func (o *Orchestrator) active() error {
	if o.state == nil {
		return ErrNoActiveSession
	}
	return nil
}

// StartSession resumes the set's open session or creates a new one from
// the points due now.
func (o *Orchestrator) StartSession(ctx context.Context, setID string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	var (
		st      State
		resumed bool
	)
	sess, err := o.deps.Store.Sessions.FindResumable(ctx, setID)
	switch {
	case err == nil:
		st, err = o.resume(ctx, sess)
		resumed = true
	case errors.Is(err, store.ErrNotFound):
		st, err = o.create(ctx, setID, now)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("orchestrator: start session: %w", err)
	}

	o.state = &st
	if _, err := o.apply(ctx, Begin{Resumed: resumed, Now: now}); err != nil {
		o.state = nil
		return Snapshot{}, err
	}
	o.logger.Info("orchestrator: session started",
		"session_id", st.Session.ID, "set_id", setID, "resumed", resumed,
		"targets", len(st.Session.TargetPointIDs), "recalled", len(st.Session.RecalledPointIDs))
	return *o.state.snapshot(), nil
}

func (o *Orchestrator) create(ctx context.Context, setID string, now time.Time) (State, error) {
	if _, err := o.deps.Store.Sets.FindByID(ctx, setID); err != nil {
		return State{}, fmt.Errorf("set %q: %w", setID, err)
	}
	due, err := o.deps.Store.Points.FindDue(ctx, setID, now)
	if err != nil {
		return State{}, err
	}
	if len(due) == 0 {
		return State{}, ErrNoPointsDue
	}
	ids := make([]string, len(due))
	for i, p := range due {
		ids[i] = p.ID
	}
	sess := model.Session{
		ID:               o.deps.NewID(),
		SetID:            setID,
		TargetPointIDs:   ids,
		Status:           model.StatusInProgress,
		StartedAt:        now,
		UpdatedAt:        now,
		RecalledPointIDs: []string{},
	}
	if err := o.deps.Store.Sessions.Create(ctx, sess); err != nil {
		return State{}, err
	}
	return NewState(sess, due, nil), nil
}

func (o *Orchestrator) resume(ctx context.Context, sess model.Session) (State, error) {
	points := make([]model.RecallPoint, 0, len(sess.TargetPointIDs))
	for _, id := range sess.TargetPointIDs {
		p, err := o.deps.Store.Points.FindByID(ctx, id)
		if err != nil {
			return State{}, fmt.Errorf("point %q: %w", id, err)
		}
		points = append(points, p)
	}
	msgs, err := o.deps.Store.Messages.FindBySession(ctx, sess.ID)
	if err != nil {
		return State{}, err
	}
	st := NewState(sess, points, msgs)

	data, err := o.deps.Store.Snapshots.Load(ctx, sess.ID)
	switch {
	case err == nil:
		var cp Checkpoint
		if jerr := json.Unmarshal(data, &cp); jerr != nil {
			o.logger.Warn("orchestrator: discarding unreadable checkpoint",
				"session_id", sess.ID, "error", jerr)
			break
		}
		return st.Restore(cp), nil
	case !errors.Is(err, store.ErrNotFound):
		return State{}, err
	}

	// No checkpoint: rebuild what the outcome log can tell us.
	outcomes, err := o.deps.Store.Outcomes.FindBySession(ctx, sess.ID)
	if err != nil {
		return State{}, err
	}
	for _, oc := range outcomes {
		st.Metrics = st.Metrics.RecordRecallOutcome(metrics.Outcome{
			PointID:    oc.PointID,
			Success:    oc.Success,
			Confidence: oc.Confidence,
			Rating:     oc.Rating,
			StartIndex: oc.StartIndex,
			EndIndex:   oc.EndIndex,
			Forced:     oc.Forced,
		})
	}
	return st, nil
}

// OpeningMessage generates and persists the first tutor message, or a
// welcome-back message when the session already has history.
func (o *Orchestrator) OpeningMessage(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.active(); err != nil {
		return "", err
	}
	if err := guard(o.state.Session.Status, AssistantMessage{}); err != nil {
		return "", err
	}

	st := *o.state
	recalled, total := st.progress()
	point := o.anchor()
	var (
		msgs []provider.LLMMessage
		err  error
	)
	if len(st.Messages) > 0 {
		msgs, err = o.deps.Prompts.Resume(prompt.ResumeInput{
			Point:         point,
			History:       st.Messages,
			RecalledCount: recalled,
			TotalPoints:   total,
		})
	} else {
		msgs, err = o.deps.Prompts.Opening(prompt.OpeningInput{Point: point, TotalPoints: total})
	}
	if err != nil {
		return "", fmt.Errorf("orchestrator: opening prompt: %w", err)
	}
	return o.reply(ctx, msgs, event.KindOpening)
}

// anchor is the point the conversation is about: the current point, or the
// last target once every point is resolved.
func (o *Orchestrator) anchor() model.RecallPoint {
	if p, ok := o.state.CurrentPoint(); ok {
		return p
	}
	ids := o.state.Session.TargetPointIDs
	if len(ids) == 0 {
		return model.RecallPoint{}
	}
	return o.state.Points[ids[len(ids)-1]]
}

type detectMode int

const (
	detectNone detectMode = iota
	detectNew
	detectReturn
)

func modeFor(ts tangent.State) detectMode {
	switch {
	case ts.Active():
		return detectReturn
	case ts.Pending == nil && ts.Cooldown == 0:
		return detectNew
	default:
		return detectNone
	}
}

// ProcessUserMessage runs one turn for a learner message.
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.active(); err != nil {
		return TurnResult{}, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.turn",
		trace.WithAttributes(attribute.String("session.id", o.state.Session.ID)))
	defer span.End()

	res, err := o.turn(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}
	span.SetAttributes(
		attribute.Int("recalled.this_turn", len(res.RecalledThisTurn)),
		attribute.Int("recalled.count", res.RecalledCount),
	)
	return res, nil
}

func (o *Orchestrator) turn(ctx context.Context, text string) (TurnResult, error) {
	before := *o.state
	mode := modeFor(before.Tangent)

	now := o.now()
	msg := model.Message{
		ID:         store.NewMessageID(now),
		SessionID:  before.Session.ID,
		Role:       model.RoleUser,
		Content:    text,
		Timestamp:  now,
		TokenCount: metrics.EstimateTokens(text),
	}
	if _, err := o.apply(ctx, UserMessage{Message: msg}); err != nil {
		return TurnResult{}, err
	}
	if err := o.detectTangent(ctx, mode); err != nil {
		return TurnResult{}, err
	}
	return o.evaluateAndReply(ctx, before, false)
}

// TriggerEvaluation evaluates and replies without a new learner message.
// With force, the current point is resolved even if it does not qualify.
func (o *Orchestrator) TriggerEvaluation(ctx context.Context, force bool) (TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.active(); err != nil {
		return TurnResult{}, err
	}
	if err := guard(o.state.Session.Status, Evaluated{}); err != nil {
		return TurnResult{}, err
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.trigger",
		trace.WithAttributes(
			attribute.String("session.id", o.state.Session.ID),
			attribute.Bool("force", force),
		))
	defer span.End()

	res, err := o.evaluateAndReply(ctx, *o.state, force)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (o *Orchestrator) evaluateAndReply(ctx context.Context, before State, force bool) (TurnResult, error) {
	if err := o.evaluate(ctx, force); err != nil {
		return TurnResult{}, err
	}
	msgs, err := o.tutorPrompt(before)
	if err != nil {
		return TurnResult{}, err
	}
	response, err := o.reply(ctx, msgs, event.KindReply)
	if err != nil {
		return TurnResult{}, err
	}
	return o.result(before, response), nil
}

func (o *Orchestrator) detectTangent(ctx context.Context, mode detectMode) error {
	if o.deps.Detector == nil || mode == detectNone {
		return nil
	}
	point := o.anchor()
	now := o.now()

	switch mode {
	case detectReturn:
		frame, ok := o.state.Tangent.Top()
		if !ok {
			return nil
		}
		returned, err := o.deps.Detector.CheckReturn(ctx, point, frame, o.state.Messages)
		if err != nil {
			o.logger.Warn("orchestrator: tangent return check failed",
				"session_id", o.state.Session.ID, "error", err)
			return nil
		}
		if returned {
			_, err = o.apply(ctx, TangentReturned{Now: now})
		}
		return err
	default:
		if o.state.CurrentPointID == "" {
			return nil
		}
		sg, err := o.deps.Detector.Detect(ctx, point, o.state.Messages)
		if err != nil {
			o.logger.Warn("orchestrator: tangent detection failed",
				"session_id", o.state.Session.ID, "error", err)
			return nil
		}
		if sg != nil {
			_, err = o.apply(ctx, TangentSuggested{Suggestion: *sg, Now: now})
		}
		return err
	}
}

// evaluate judges every unrecalled target in order. Evaluator errors
// degrade to the default result.
func (o *Orchestrator) evaluate(ctx context.Context, force bool) error {
	pending := o.state.Session.Unrecalled()
	if len(pending) == 0 {
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.evaluate",
		trace.WithAttributes(attribute.Int("points", len(pending))))
	defer span.End()

	results := make(map[string]evaluator.Result, len(pending))
	for _, id := range pending {
		res, err := o.deps.Evaluator.Evaluate(ctx, o.state.Points[id], o.state.Messages)
		if err != nil {
			o.logger.Warn("orchestrator: evaluation failed, using default result",
				"session_id", o.state.Session.ID, "point_id", id, "error", err)
			res = evaluator.Degrade(err.Error())
		}
		results[id] = res
	}
	_, err := o.apply(ctx, Evaluated{Results: results, Force: force, Now: o.now()})
	return err
}

func (o *Orchestrator) tutorPrompt(before State) ([]provider.LLMMessage, error) {
	st := *o.state
	recalled, total := st.progress()
	in := prompt.TutorInput{
		Point:             o.anchor(),
		History:           prompt.Tail(st.Messages, o.config.HistoryWindow),
		CompletionPending: st.CompletionPending,
		RecalledCount:     recalled,
		TotalPoints:       total,
	}
	if prev := before.CurrentPointID; prev != "" && st.CurrentPointID != prev && st.Session.IsRecalled(prev) {
		p := st.Points[prev]
		in.Advanced = true
		in.Previous = &p
		if n := len(p.History); n > 0 {
			in.PreviousSucceeded = p.History[n-1].Success
		}
	}
	if f, ok := st.Tangent.Top(); ok {
		in.TangentTopic = f.Topic
	}
	msgs, err := o.deps.Prompts.Tutor(in)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: tutor prompt: %w", err)
	}
	return msgs, nil
}

// reply generates a tutor message and records it.
func (o *Orchestrator) reply(ctx context.Context, msgs []provider.LLMMessage, kind string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.reply",
		trace.WithAttributes(
			attribute.String("model", o.deps.Tutor.ModelName()),
			attribute.Bool("streaming", o.config.Streaming),
		))
	defer span.End()

	start := o.now()
	resp, err := o.generate(ctx, msgs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("orchestrator: tutor reply: %w", err)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("orchestrator: tutor reply: %w", provider.ErrEmptyResponse)
	}

	now := o.now()
	in, out := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if in == 0 && out == 0 {
		for _, m := range msgs {
			in += metrics.EstimateTokens(m.Content)
		}
		out = metrics.EstimateTokens(content)
	}
	span.SetAttributes(attribute.Int("tokens.input", in), attribute.Int("tokens.output", out))

	msg := model.Message{
		ID:         store.NewMessageID(now),
		SessionID:  o.state.Session.ID,
		Role:       model.RoleAssistant,
		Content:    content,
		Timestamp:  now,
		TokenCount: out,
	}
	if _, err := o.apply(ctx, AssistantMessage{
		Message:      msg,
		Kind:         kind,
		InputTokens:  in,
		OutputTokens: out,
		ResponseTime: now.Sub(start),
	}); err != nil {
		return "", err
	}
	return content, nil
}

func (o *Orchestrator) generate(ctx context.Context, msgs []provider.LLMMessage) (provider.CompletionResponse, error) {
	req := provider.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   o.config.TutorMaxTokens,
		Temperature: o.config.TutorTemperature,
	}
	if !o.config.Streaming {
		return o.deps.Tutor.Complete(ctx, req)
	}
	ch, err := o.deps.Tutor.Stream(ctx, req)
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	return provider.Collect(ch, o.publishChunk)
}

// publishChunk sends a streaming delta straight to the bus. Chunks are not
// part of the session state.
func (o *Orchestrator) publishChunk(content string) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(event.Event{
		Type:      event.AssistantChunk,
		SessionID: o.state.Session.ID,
		SetID:     o.state.Session.SetID,
		Payload:   event.ChunkPayload{Content: content},
	})
}

func (o *Orchestrator) result(before State, response string) TurnResult {
	st := *o.state
	recalled, total := st.progress()
	res := TurnResult{
		Response:         response,
		RecalledThisTurn: append([]string{}, st.Session.RecalledPointIDs[len(before.Session.RecalledPointIDs):]...),
		RecalledCount:    recalled,
		TotalPoints:      total,
		Complete:         st.CompletionPending,
	}
	res.PointAdvanced = len(res.RecalledThisTurn) > 0
	if p := st.Tangent.Pending; p != nil {
		sg := *p
		res.Suggestion = &sg
	}
	return res
}

// EnterTangent accepts the pending suggestion, or opens a learner-initiated
// tangent on topic when eventID does not name it.
func (o *Orchestrator) EnterTangent(ctx context.Context, eventID, topic string) error {
	return o.control(ctx, EnterTangent{
		EventID:    eventID,
		Topic:      strings.TrimSpace(topic),
		NewEventID: o.deps.NewID(),
		Now:        o.now(),
	})
}

// DeclineTangent rejects the pending suggestion and starts the cooldown.
func (o *Orchestrator) DeclineTangent(ctx context.Context) error {
	return o.control(ctx, DeclineTangent{Now: o.now()})
}

// ExitTangent leaves the innermost tangent.
func (o *Orchestrator) ExitTangent(ctx context.Context) error {
	return o.control(ctx, ExitTangent{Now: o.now()})
}

// DismissOverlay records that the learner keeps discussing after every
// point was recalled.
func (o *Orchestrator) DismissOverlay(ctx context.Context) error {
	return o.control(ctx, DismissOverlay{})
}

// PauseSession moves the session to paused. Pausing a paused session is a
// no-op.
func (o *Orchestrator) PauseSession(ctx context.Context) error {
	return o.control(ctx, Pause{Now: o.now()})
}

// AbandonSession ends the session without touching any point's schedule.
func (o *Orchestrator) AbandonSession(ctx context.Context) error {
	if err := o.control(ctx, Abandon{Now: o.now()}); err != nil {
		return err
	}
	o.logger.Info("orchestrator: session abandoned", "session_id", o.sessionID())
	return nil
}

func (o *Orchestrator) control(ctx context.Context, in Input) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.active(); err != nil {
		return err
	}
	_, err := o.apply(ctx, in)
	return err
}

// FinalizeSession completes a session whose points are all resolved and
// returns its metrics summary. Finalizing a completed session returns the
// stored summary again.
func (o *Orchestrator) FinalizeSession(ctx context.Context) (model.SessionMetricsSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.active(); err != nil {
		return model.SessionMetricsSummary{}, err
	}
	if o.state.Session.Status == model.StatusCompleted {
		summary, err := o.deps.Store.Metrics.FindBySession(ctx, o.state.Session.ID)
		if err != nil {
			return model.SessionMetricsSummary{}, fmt.Errorf("orchestrator: finalize: %w", err)
		}
		return summary, nil
	}

	price := o.deps.Pricing.Lookup(o.deps.Tutor.ModelName())
	effects, err := o.apply(ctx, Finalize{Price: price, Now: o.now()})
	if err != nil {
		return model.SessionMetricsSummary{}, err
	}
	for _, e := range effects {
		if s, ok := e.(SaveSummary); ok {
			o.logger.Info("orchestrator: session completed",
				"session_id", s.Summary.SessionID,
				"recall_rate", s.Summary.RecallRate,
				"engagement", s.Summary.EngagementScore,
				"cost_usd", s.Summary.EstimatedCostUSD)
			return s.Summary, nil
		}
	}
	return model.SessionMetricsSummary{}, errors.New("orchestrator: finalize produced no summary")
}

// SessionState returns a projection of the live session, or nil when there
// is none or it has ended.
func (o *Orchestrator) SessionState() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil || o.state.Session.Status.Terminal() {
		return nil
	}
	return o.state.snapshot()
}

func (o *Orchestrator) sessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return ""
	}
	return o.state.Session.ID
}
