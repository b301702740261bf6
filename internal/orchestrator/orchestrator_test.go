package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator/evaluatortest"
	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider/providertest"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent/tangenttest"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// clock advances one second per reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	store *store.Store
	tutor *providertest.MockProvider
	eval  *evaluatortest.Evaluator
	det   *tangenttest.Detector
	bus   *event.Bus
	sub   *event.Subscription
	orch  *orchestrator.Orchestrator
	cfg   orchestrator.Config
	clock *clock
}

type option func(*harness)

func withConfig(fn func(*orchestrator.Config)) option {
	return func(h *harness) { fn(&h.cfg) }
}

func withDetector(d *tangenttest.Detector) option {
	return func(h *harness) { h.det = d }
}

func withStore(st *store.Store) option {
	return func(h *harness) { h.store = st }
}

func newHarness(t *testing.T, eval *evaluatortest.Evaluator, opts ...option) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemory(),
		tutor: providertest.Reply("Nice recall. What else do you remember?"),
		eval:  eval,
		clock: &clock{t: base},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.bus = event.NewBus()
	h.sub = h.bus.Subscribe(event.Buffer(512))
	t.Cleanup(h.bus.Close)

	deps := orchestrator.Deps{
		Store:     h.store,
		Tutor:     h.tutor,
		Evaluator: h.eval,
		Prompts:   prompt.NewTemplateBuilder(prompt.DefaultHistoryWindow),
		Scheduler: scheduler.New(scheduler.NewFSRS(scheduler.Config{})),
		Bus:       h.bus,
		Now:       h.clock.Now,
	}
	if h.det != nil {
		deps.Detector = h.det
	}
	orch, err := orchestrator.New(deps, h.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

// seed creates set "set-1" with n points due before base, in id order.
func seed(t *testing.T, st *store.Store, n int) []string {
	t.Helper()
	ctx := context.Background()
	if err := st.Sets.Create(ctx, model.RecallSet{ID: "set-1", Name: "Biology", CreatedAt: base}); err != nil {
		t.Fatalf("create set: %v", err)
	}
	contents := []string{
		"Mitochondria produce ATP through oxidative phosphorylation.",
		"Ribosomes translate mRNA into protein.",
		"The nucleus stores the cell's DNA.",
	}
	var ids []string
	for i := range n {
		id := "p" + string(rune('1'+i))
		due := base.Add(-time.Duration(n-i) * time.Hour)
		p := model.RecallPoint{
			ID:        id,
			SetID:     "set-1",
			Content:   contents[i%len(contents)],
			State:     model.MemoryState{Due: due, Phase: model.PhaseNew},
			CreatedAt: due,
		}
		if err := st.Points.Create(ctx, p); err != nil {
			t.Fatalf("create point: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (h *harness) start(t *testing.T) orchestrator.Snapshot {
	t.Helper()
	snap, err := h.orch.StartSession(context.Background(), "set-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return snap
}

func (h *harness) say(t *testing.T, text string) orchestrator.TurnResult {
	t.Helper()
	res, err := h.orch.ProcessUserMessage(context.Background(), text)
	if err != nil {
		t.Fatalf("ProcessUserMessage(%q): %v", text, err)
	}
	return res
}

func (h *harness) point(t *testing.T, id string) model.RecallPoint {
	t.Helper()
	p, err := h.store.Points.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return p
}

// drain returns the events published so far.
func (h *harness) drain() []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-h.sub.C():
			out = append(out, e)
		default:
			return out
		}
	}
}

func countType(events []event.Event, typ event.Type) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestStartSession_NoPointsDue(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ctx := context.Background()
	_ = st.Sets.Create(ctx, model.RecallSet{ID: "set-1", Name: "Later", CreatedAt: base})
	_ = st.Points.Create(ctx, model.RecallPoint{
		ID: "p1", SetID: "set-1", Content: "x",
		State: model.MemoryState{Due: base.Add(48 * time.Hour), Phase: model.PhaseNew},
	})

	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	_, err := h.orch.StartSession(ctx, "set-1")
	if !errors.Is(err, orchestrator.ErrNoPointsDue) {
		t.Fatalf("StartSession error = %v, want ErrNoPointsDue", err)
	}
	if h.orch.SessionState() != nil {
		t.Error("SessionState should be nil without a session")
	}
}

func TestStartSession_UnknownSet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, evaluatortest.Scripted(nil))
	_, err := h.orch.StartSession(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("StartSession error = %v, want ErrNotFound", err)
	}
}

func TestOperations_RequireSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, evaluatortest.Scripted(nil))
	ctx := context.Background()
	if _, err := h.orch.ProcessUserMessage(ctx, "hi"); !errors.Is(err, orchestrator.ErrNoActiveSession) {
		t.Errorf("ProcessUserMessage error = %v", err)
	}
	if _, err := h.orch.OpeningMessage(ctx); !errors.Is(err, orchestrator.ErrNoActiveSession) {
		t.Errorf("OpeningMessage error = %v", err)
	}
	if err := h.orch.AbandonSession(ctx); !errors.Is(err, orchestrator.ErrNoActiveSession) {
		t.Errorf("AbandonSession error = %v", err)
	}
	if _, err := h.orch.ProcessUserMessage(ctx, "   "); !errors.Is(err, orchestrator.ErrEmptyMessage) {
		t.Errorf("blank message error = %v", err)
	}
}

func TestStartSession_TargetsInDueOrder(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 3)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	snap := h.start(t)

	if snap.TotalPoints != 3 || snap.RecalledCount != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.CurrentPointID != ids[0] {
		t.Errorf("current point = %q, want %q", snap.CurrentPointID, ids[0])
	}
	sess, err := st.Sessions.FindByID(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if strings.Join(sess.TargetPointIDs, ",") != strings.Join(ids, ",") {
		t.Errorf("targets = %v, want %v", sess.TargetPointIDs, ids)
	}

	events := h.drain()
	if len(events) < 2 || events[0].Type != event.SessionStarted || events[1].Type != event.PointStarted {
		t.Fatalf("first events = %v", events)
	}
}

func TestOpeningMessage_PersistsAssistantMessage(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	snap := h.start(t)
	h.drain()

	text, err := h.orch.OpeningMessage(context.Background())
	if err != nil {
		t.Fatalf("OpeningMessage: %v", err)
	}
	if text == "" {
		t.Fatal("empty opening")
	}
	msgs, _ := st.Messages.FindBySession(context.Background(), snap.SessionID)
	if len(msgs) != 1 || msgs[0].Role != model.RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}

	req := h.tutor.Requests[0]
	var joined strings.Builder
	for _, m := range req.Messages {
		joined.WriteString(m.Content)
	}
	if !strings.Contains(joined.String(), "Mitochondria") {
		t.Error("opening prompt should be seeded from the first point")
	}

	events := h.drain()
	if len(events) != 1 || events[0].Type != event.AssistantMessage {
		t.Fatalf("events = %v", events)
	}
	if p := events[0].Payload.(event.MessagePayload); p.Kind != event.KindOpening {
		t.Errorf("kind = %q, want opening", p.Kind)
	}
}

func TestProcessUserMessage_RecallsTwoPointsInOneTurn(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	eval := evaluatortest.Scripted(map[string]evaluator.Result{
		ids[0]: evaluatortest.Recalled(0.85),
		ids[1]: evaluatortest.Recalled(0.85),
	})
	h := newHarness(t, eval, withStore(st))
	snap := h.start(t)

	res := h.say(t, "Mitochondria make ATP and ribosomes build proteins.")
	if res.RecalledCount != 2 || res.TotalPoints != 2 {
		t.Fatalf("progress = %d/%d, want 2/2", res.RecalledCount, res.TotalPoints)
	}
	if !res.Complete || !res.PointAdvanced {
		t.Errorf("Complete=%v PointAdvanced=%v, want both true", res.Complete, res.PointAdvanced)
	}
	if strings.Join(res.RecalledThisTurn, ",") != "p1,p2" {
		t.Errorf("recalled this turn = %v", res.RecalledThisTurn)
	}

	for _, id := range ids {
		p := h.point(t, id)
		if p.State.Reps != 1 || len(p.History) != 1 {
			t.Errorf("%s: reps=%d history=%d, want 1/1", id, p.State.Reps, len(p.History))
		}
		if !p.History[0].Success || *p.History[0].Confidence != 0.85 {
			t.Errorf("%s: history = %+v", id, p.History[0])
		}
		if !p.State.Due.After(base) {
			t.Errorf("%s: due %v not advanced", id, p.State.Due)
		}
	}

	// Completion is pending, not finalized.
	sess, _ := st.Sessions.FindByID(context.Background(), snap.SessionID)
	if sess.Status != model.StatusInProgress {
		t.Errorf("status = %s, want in_progress until finalize", sess.Status)
	}
	events := h.drain()
	if n := countType(events, event.PointRecalled); n != 2 {
		t.Errorf("point_recalled events = %d, want 2", n)
	}
	if n := countType(events, event.CompletionPending); n != 1 {
		t.Errorf("completion_pending events = %d, want 1", n)
	}

	outcomes, _ := st.Outcomes.FindBySession(context.Background(), snap.SessionID)
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Rating != model.RatingEasy || o.Forced {
			t.Errorf("outcome = %+v, want easy and not forced", o)
		}
		if o.StartIndex > o.EndIndex {
			t.Errorf("outcome range [%d,%d] inverted", o.StartIndex, o.EndIndex)
		}
	}

	summary, err := h.orch.FinalizeSession(context.Background())
	if err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	if summary.RecallRate != 1 || summary.RecalledCount != 2 {
		t.Errorf("summary = %+v", summary)
	}
	sess, _ = st.Sessions.FindByID(context.Background(), snap.SessionID)
	if sess.Status != model.StatusCompleted || sess.EndedAt == nil {
		t.Errorf("session = %+v, want completed with end time", sess)
	}
	if _, err := st.Metrics.FindBySession(context.Background(), snap.SessionID); err != nil {
		t.Errorf("summary not persisted: %v", err)
	}
	if h.orch.SessionState() != nil {
		t.Error("SessionState should be nil after finalize")
	}
	h.drain()
	again, err := h.orch.FinalizeSession(context.Background())
	if err != nil {
		t.Fatalf("second FinalizeSession: %v", err)
	}
	if again.SessionID != summary.SessionID || again.RecallRate != summary.RecallRate {
		t.Errorf("second finalize = %+v, want stored %+v", again, summary)
	}
	if n := countType(h.drain(), event.SessionCompleted); n != 0 {
		t.Errorf("second finalize published %d session_completed events", n)
	}
}

func TestFinalizeAbandonedSessionIsClosed(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	h.start(t)
	if err := h.orch.AbandonSession(context.Background()); err != nil {
		t.Fatalf("AbandonSession: %v", err)
	}
	if _, err := h.orch.FinalizeSession(context.Background()); !errors.Is(err, orchestrator.ErrSessionClosed) {
		t.Errorf("finalize after abandon = %v, want ErrSessionClosed", err)
	}
}

func TestProcessUserMessage_LowConfidenceNeverRecalls(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	low := evaluator.Result{Success: false, Confidence: 0.4, SuggestedRating: model.RatingHard}
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: low, ids[1]: low})
	h := newHarness(t, eval, withStore(st))
	h.start(t)

	for i := range 5 {
		res := h.say(t, "I'm not sure.")
		if res.RecalledCount != 0 || res.PointAdvanced {
			t.Fatalf("turn %d: result = %+v, want nothing recalled", i, res)
		}
	}
	for _, id := range ids {
		p := h.point(t, id)
		if p.State.Reps != 0 || len(p.History) != 0 || p.State.LastReview != nil {
			t.Errorf("%s mutated: %+v", id, p)
		}
	}
	if n := eval.CallCount(); n != 10 {
		t.Errorf("evaluator calls = %d, want 10 (every unrecalled point every turn)", n)
	}
	if _, err := h.orch.FinalizeSession(context.Background()); !errors.Is(err, orchestrator.ErrIncomplete) {
		t.Errorf("FinalizeSession error = %v, want ErrIncomplete", err)
	}
}

func TestRecallThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		result     evaluator.Result
		wantRecall bool
	}{
		{"exactly threshold", evaluator.Result{Success: true, Confidence: 0.6}, true},
		{"just below", evaluator.Result{Success: true, Confidence: 0.5999}, false},
		{"confident failure", evaluator.Result{Success: false, Confidence: 0.95}, false},
		{"out of range clamps to 1", evaluator.Result{Success: true, Confidence: 7}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := store.NewMemory()
			ids := seed(t, st, 1)
			h := newHarness(t, evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: tt.result}), withStore(st))
			h.start(t)

			res := h.say(t, "answer")
			if got := res.RecalledCount == 1; got != tt.wantRecall {
				t.Errorf("recalled = %v, want %v", got, tt.wantRecall)
			}
		})
	}
}

func TestRecalledIDsMonotoneSubset(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 3)
	turn := 0
	eval := &evaluatortest.Evaluator{
		EvaluateFunc: func(_ context.Context, p model.RecallPoint, _ []model.Message) (evaluator.Result, error) {
			// p1 on turn 1, p3 on turn 3, p2 on turn 4.
			switch {
			case p.ID == ids[0] && turn >= 1,
				p.ID == ids[2] && turn >= 3,
				p.ID == ids[1] && turn >= 4:
				return evaluatortest.Recalled(0.7), nil
			}
			return evaluator.Result{Confidence: 0.2}, nil
		},
	}
	h := newHarness(t, eval, withStore(st))
	snap := h.start(t)

	prev := 0
	for turn = 1; turn <= 4; turn++ {
		res := h.say(t, "turn")
		if res.RecalledCount < prev {
			t.Fatalf("turn %d: recalled count went from %d to %d", turn, prev, res.RecalledCount)
		}
		prev = res.RecalledCount
		sess, _ := st.Sessions.FindByID(context.Background(), snap.SessionID)
		for _, id := range sess.RecalledPointIDs {
			if !sess.IsTarget(id) {
				t.Fatalf("recalled id %q not a target", id)
			}
		}
		if turn < 4 && sess.Status == model.StatusCompleted {
			t.Fatal("completed before every point was recalled")
		}
	}
	if prev != 3 {
		t.Fatalf("final recalled = %d, want 3", prev)
	}
	for _, id := range ids {
		if p := h.point(t, id); p.State.Reps != 1 {
			t.Errorf("%s reps = %d, want 1", id, p.State.Reps)
		}
	}
}

func TestAbandonSession_LeavesPointsUntouched(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 1)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	snap := h.start(t)
	h.say(t, "um")

	if err := h.orch.AbandonSession(context.Background()); err != nil {
		t.Fatalf("AbandonSession: %v", err)
	}
	sess, _ := st.Sessions.FindByID(context.Background(), snap.SessionID)
	if sess.Status != model.StatusAbandoned || sess.EndedAt == nil {
		t.Errorf("session = %+v, want abandoned with end time", sess)
	}
	if p := h.point(t, ids[0]); p.State.Reps != 0 || len(p.History) != 0 {
		t.Errorf("point mutated by abandon: %+v", p)
	}
	if h.orch.SessionState() != nil {
		t.Error("SessionState should be nil after abandon")
	}
	if _, err := h.orch.ProcessUserMessage(context.Background(), "again"); !errors.Is(err, orchestrator.ErrSessionClosed) {
		t.Errorf("message after abandon error = %v, want ErrSessionClosed", err)
	}
	if err := h.orch.PauseSession(context.Background()); !errors.Is(err, orchestrator.ErrSessionClosed) {
		t.Errorf("pause after abandon error = %v, want ErrSessionClosed", err)
	}
}

func TestPerPointCapForcesResolution(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	eval := evaluatortest.Scripted(map[string]evaluator.Result{
		ids[0]: {Success: false, Confidence: 0.4},
	})
	h := newHarness(t, eval, withStore(st), withConfig(func(c *orchestrator.Config) {
		c.MaxMessagesPerPoint = 2
	}))
	snap := h.start(t)

	if res := h.say(t, "no idea"); res.RecalledCount != 0 {
		t.Fatalf("first turn recalled %d", res.RecalledCount)
	}
	res := h.say(t, "still no idea")
	if res.RecalledCount != 1 || res.RecalledThisTurn[0] != ids[0] {
		t.Fatalf("second turn = %+v, want p1 force-resolved", res)
	}

	p := h.point(t, ids[0])
	if p.State.Reps != 1 || len(p.History) != 1 || p.History[0].Success {
		t.Errorf("forced point = %+v, want one failed attempt", p)
	}
	outcomes, _ := st.Outcomes.FindBySession(context.Background(), snap.SessionID)
	if len(outcomes) != 1 || !outcomes[0].Forced || outcomes[0].Success {
		t.Fatalf("outcomes = %+v, want one forced failure", outcomes)
	}
	if outcomes[0].Rating != model.RatingHard {
		t.Errorf("rating = %s, want hard for confidence 0.4", outcomes[0].Rating)
	}
	if s := h.orch.SessionState(); s.CurrentPointID != ids[1] {
		t.Errorf("current point = %q, want %q", s.CurrentPointID, ids[1])
	}
}

func TestTriggerEvaluation_ForceResolvesCurrentPoint(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	h.start(t)
	h.say(t, "I think I've got it")

	res, err := h.orch.TriggerEvaluation(context.Background(), false)
	if err != nil {
		t.Fatalf("TriggerEvaluation: %v", err)
	}
	if res.RecalledCount != 0 {
		t.Fatalf("unforced trigger recalled %d", res.RecalledCount)
	}

	res, err = h.orch.TriggerEvaluation(context.Background(), true)
	if err != nil {
		t.Fatalf("TriggerEvaluation(force): %v", err)
	}
	if res.RecalledCount != 1 || res.RecalledThisTurn[0] != ids[0] {
		t.Fatalf("forced trigger = %+v", res)
	}
	if p := h.point(t, ids[0]); p.State.Lapses != 1 {
		t.Errorf("lapses = %d, want 1 for a forgotten point", p.State.Lapses)
	}
}

func TestEvaluatorErrorDegrades(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	eval := &evaluatortest.Evaluator{
		EvaluateFunc: func(context.Context, model.RecallPoint, []model.Message) (evaluator.Result, error) {
			return evaluator.Result{}, errors.New("evaluator crashed")
		},
	}
	h := newHarness(t, eval, withStore(st))
	h.start(t)
	h.drain()

	res := h.say(t, "answer")
	if res.RecalledCount != 0 || res.Response == "" {
		t.Fatalf("result = %+v", res)
	}
	var found bool
	for _, e := range h.drain() {
		if e.Type != event.PointEvaluated {
			continue
		}
		found = true
		if p := e.Payload.(event.PointEvaluatedPayload); !p.Degraded || p.Qualified {
			t.Errorf("payload = %+v, want degraded and unqualified", p)
		}
	}
	if !found {
		t.Error("no point_evaluated event")
	}
}

func TestTutorFailureAbortsTurnKeepsCommittedState(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: evaluatortest.Recalled(0.9)})
	h := newHarness(t, eval, withStore(st))
	h.start(t)

	good := h.tutor.CompleteFunc
	h.tutor.CompleteFunc = func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
		return provider.CompletionResponse{}, provider.ErrRateLimit
	}
	_, err := h.orch.ProcessUserMessage(context.Background(), "mitochondria make ATP")
	if !errors.Is(err, provider.ErrRateLimit) {
		t.Fatalf("error = %v, want ErrRateLimit", err)
	}
	if p := h.point(t, ids[0]); p.State.Reps != 1 {
		t.Fatalf("reps after aborted turn = %d, want 1 (committed)", p.State.Reps)
	}

	h.tutor.CompleteFunc = good
	res := h.say(t, "retrying")
	if res.RecalledCount != 1 || len(res.RecalledThisTurn) != 0 {
		t.Errorf("retry result = %+v, want no new recall", res)
	}
	if p := h.point(t, ids[0]); p.State.Reps != 1 || len(p.History) != 1 {
		t.Errorf("point resolved twice: %+v", p)
	}
}

// flakyPoints fails UpdateMemoryState while UpdateFunc returns an error.
type flakyPoints struct {
	store.PointRepository
	UpdateFunc func(p model.RecallPoint) error
}

func (f *flakyPoints) UpdateMemoryState(ctx context.Context, p model.RecallPoint) error {
	if f.UpdateFunc != nil {
		if err := f.UpdateFunc(p); err != nil {
			return err
		}
	}
	return f.PointRepository.UpdateMemoryState(ctx, p)
}

type flakyOutcomes struct {
	store.OutcomeRepository
	CreateFunc func(o model.RecallOutcome) error
}

func (f *flakyOutcomes) Create(ctx context.Context, o model.RecallOutcome) error {
	if f.CreateFunc != nil {
		if err := f.CreateFunc(o); err != nil {
			return err
		}
	}
	return f.OutcomeRepository.Create(ctx, o)
}

func failOnce(err error) func() error {
	var once sync.Once
	return func() error {
		var out error
		once.Do(func() { out = err })
		return out
	}
}

func TestFailedPointWriteIsRetried(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk full")
	st := store.NewMemory()
	ids := seed(t, st, 2)
	fail := failOnce(errDisk)
	st.Points = &flakyPoints{
		PointRepository: st.Points,
		UpdateFunc:      func(model.RecallPoint) error { return fail() },
	}
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: evaluatortest.Recalled(0.9)})
	h := newHarness(t, eval, withStore(st))
	h.start(t)
	h.drain()

	_, err := h.orch.ProcessUserMessage(context.Background(), "mitochondria make ATP")
	if !errors.Is(err, errDisk) {
		t.Fatalf("error = %v, want disk failure", err)
	}
	if n := countType(h.drain(), event.PointRecalled); n != 0 {
		t.Errorf("point_recalled published %d times for an unsaved recall", n)
	}
	if snap := h.orch.SessionState(); snap.RecalledCount != 0 || snap.CurrentPointID != ids[0] {
		t.Fatalf("state after failed write = %+v, want %s still current", snap, ids[0])
	}

	res := h.say(t, "mitochondria make ATP")
	if len(res.RecalledThisTurn) != 1 || res.RecalledThisTurn[0] != ids[0] {
		t.Fatalf("retry recalled %v, want [%s]", res.RecalledThisTurn, ids[0])
	}
	if p := h.point(t, ids[0]); p.State.Reps != 1 || len(p.History) != 1 {
		t.Errorf("persisted point = reps %d history %d, want 1 and 1", p.State.Reps, len(p.History))
	}
	outs, err := st.Outcomes.FindBySession(context.Background(), h.orch.SessionState().SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 {
		t.Errorf("outcomes = %d, want 1", len(outs))
	}
}

func TestFailedOutcomeWriteDoesNotAdvanceTwice(t *testing.T) {
	t.Parallel()

	errDisk := errors.New("disk full")
	st := store.NewMemory()
	ids := seed(t, st, 2)
	fail := failOnce(errDisk)
	st.Outcomes = &flakyOutcomes{
		OutcomeRepository: st.Outcomes,
		CreateFunc:        func(model.RecallOutcome) error { return fail() },
	}
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: evaluatortest.Recalled(0.9)})
	h := newHarness(t, eval, withStore(st))
	h.start(t)

	if _, err := h.orch.ProcessUserMessage(context.Background(), "mitochondria"); !errors.Is(err, errDisk) {
		t.Fatalf("error = %v, want disk failure", err)
	}
	res := h.say(t, "mitochondria make ATP")
	if len(res.RecalledThisTurn) != 1 {
		t.Fatalf("retry recalled %v, want one point", res.RecalledThisTurn)
	}
	if p := h.point(t, ids[0]); p.State.Reps != 1 || len(p.History) != 1 {
		t.Errorf("point advanced twice: reps %d history %d", p.State.Reps, len(p.History))
	}
}

func TestTutorTemperature(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		set  *float64
		want float64
	}{
		{"default", nil, orchestrator.DefaultTutorTemperature},
		{"zero", provider.Float(0), 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := store.NewMemory()
			seed(t, st, 1)
			h := newHarness(t, evaluatortest.Scripted(nil), withStore(st),
				withConfig(func(c *orchestrator.Config) { c.TutorTemperature = tt.set }))
			h.start(t)
			h.say(t, "something about energy")
			got := h.tutor.Requests[len(h.tutor.Requests)-1].Temperature
			if got == nil || *got != tt.want {
				t.Errorf("temperature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmptyTutorReply(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	h.tutor.CompleteFunc = func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
		return provider.CompletionResponse{Content: "  "}, nil
	}
	h.start(t)
	if _, err := h.orch.ProcessUserMessage(context.Background(), "hi"); !errors.Is(err, provider.ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestStreamingChunksPrecedeAssistantMessage(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st), withConfig(func(c *orchestrator.Config) {
		c.Streaming = true
	}))
	h.start(t)
	h.drain()

	res := h.say(t, "hello")
	events := h.drain()

	var chunks strings.Builder
	var sawComplete bool
	var lastSeq uint64
	for _, e := range events {
		if e.Seq <= lastSeq {
			t.Fatalf("sequence not increasing: %d after %d", e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		switch e.Type {
		case event.AssistantChunk:
			if sawComplete {
				t.Fatal("chunk after assistant_message")
			}
			chunks.WriteString(e.Payload.(event.ChunkPayload).Content)
		case event.AssistantMessage:
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatal("no assistant_message")
	}
	if chunks.String() != res.Response {
		t.Errorf("chunks = %q, want %q", chunks.String(), res.Response)
	}
	if h.tutor.StreamCalls != 1 || h.tutor.CompleteCalls != 0 {
		t.Errorf("stream=%d complete=%d", h.tutor.StreamCalls, h.tutor.CompleteCalls)
	}
}

func suggesting(topic string) *tangenttest.Detector {
	var n int
	return &tangenttest.Detector{
		DetectFunc: func(context.Context, model.RecallPoint, []model.Message) (*tangent.Suggestion, error) {
			n++
			return &tangent.Suggestion{EventID: "tan-" + string(rune('0'+n)), Topic: topic}, nil
		},
	}
}

func TestTangentDeclineCooldownSuppressesDetection(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	det := suggesting("cell history")
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st), withDetector(det),
		withConfig(func(c *orchestrator.Config) { c.TangentCooldown = 3 }))
	h.start(t)

	res := h.say(t, "who discovered cells?")
	if res.Suggestion == nil || res.Suggestion.Topic != "cell history" {
		t.Fatalf("suggestion = %+v", res.Suggestion)
	}

	// The next message declines the pending suggestion implicitly.
	res = h.say(t, "anyway, mitochondria")
	if res.Suggestion != nil {
		t.Fatalf("suggestion still pending: %+v", res.Suggestion)
	}
	for range 3 {
		h.say(t, "cooling down")
	}
	if d, _ := det.Counts(); d != 1 {
		t.Fatalf("detect calls during cooldown = %d, want 1", d)
	}
	h.say(t, "after cooldown")
	if d, _ := det.Counts(); d != 2 {
		t.Errorf("detect calls after cooldown = %d, want 2", d)
	}

	var declined int
	for _, e := range h.drain() {
		if e.Type == event.TangentDeclined {
			declined++
		}
	}
	if declined != 1 {
		t.Errorf("tangent_declined events = %d, want 1", declined)
	}
}

func TestTangentEnterAndReturnIsPersisted(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	det := suggesting("Krebs cycle")
	returnChecks := 0
	det.CheckReturnFunc = func(context.Context, model.RecallPoint, tangent.Frame, []model.Message) (bool, error) {
		returnChecks++
		return returnChecks == 2, nil
	}
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: evaluatortest.Recalled(0.7)})
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st), withDetector(det))
	snap := h.start(t)

	res := h.say(t, "how does the Krebs cycle work?")
	if res.Suggestion == nil {
		t.Fatal("expected a suggestion")
	}
	ctx := context.Background()
	if err := h.orch.EnterTangent(ctx, res.Suggestion.EventID, ""); err != nil {
		t.Fatalf("EnterTangent: %v", err)
	}
	if s := h.orch.SessionState(); !s.InTangent || s.TangentTopic != "Krebs cycle" {
		t.Fatalf("state = %+v, want inside Krebs cycle", s)
	}

	// Points recalled inside the tangent are credited to it.
	h.eval.EvaluateFunc = eval.EvaluateFunc
	h.say(t, "it feeds the mitochondria, which make ATP")
	h.say(t, "ok, back to the list")

	if s := h.orch.SessionState(); s.InTangent {
		t.Fatal("still inside tangent after return")
	}
	events, _ := st.Tangents.FindBySession(ctx, snap.SessionID)
	if len(events) != 1 {
		t.Fatalf("tangent events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != model.TangentReturned || ev.ReturnIndex == nil {
		t.Errorf("tangent = %+v, want returned with index", ev)
	}
	if len(ev.RelatedPointIDs) != 1 || ev.RelatedPointIDs[0] != ids[0] {
		t.Errorf("related points = %v, want [%s]", ev.RelatedPointIDs, ids[0])
	}

	var exited *event.TangentExitedPayload
	for _, e := range h.drain() {
		if e.Type == event.TangentExited {
			p := e.Payload.(event.TangentExitedPayload)
			exited = &p
		}
	}
	if exited == nil || exited.Label != "Krebs cycle" || exited.PointsRecalledDuring != 1 {
		t.Errorf("tangent_exited = %+v", exited)
	}
}

func TestTangentControlsWithoutTangent(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	seed(t, st, 1)
	h := newHarness(t, evaluatortest.Scripted(nil), withStore(st))
	h.start(t)
	ctx := context.Background()

	if err := h.orch.DeclineTangent(ctx); !errors.Is(err, orchestrator.ErrNoTangent) {
		t.Errorf("DeclineTangent error = %v", err)
	}
	if err := h.orch.ExitTangent(ctx); !errors.Is(err, orchestrator.ErrNoTangent) {
		t.Errorf("ExitTangent error = %v", err)
	}
	if err := h.orch.EnterTangent(ctx, "", ""); !errors.Is(err, orchestrator.ErrNoTangent) {
		t.Errorf("EnterTangent without topic error = %v", err)
	}
}

func TestFinalizeAbandonsOpenTangentAndDefersOverlay(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 2)
	eval := evaluatortest.Scripted(map[string]evaluator.Result{
		ids[0]: evaluatortest.Recalled(0.9),
		ids[1]: evaluatortest.Recalled(0.9),
	})
	h := newHarness(t, eval, withStore(st))
	snap := h.start(t)
	ctx := context.Background()

	if err := h.orch.EnterTangent(ctx, "", "Roman medicine"); err != nil {
		t.Fatalf("EnterTangent: %v", err)
	}
	res := h.say(t, "both facts at once")
	if !res.Complete {
		t.Fatal("expected completion pending")
	}
	if n := countType(h.drain(), event.CompletionPending); n != 0 {
		t.Errorf("completion_pending inside tangent = %d, want deferred", n)
	}

	summary, err := h.orch.FinalizeSession(ctx)
	if err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	if summary.TangentCount != 1 || summary.TangentsReturned != 0 {
		t.Errorf("tangents = %d returned %d, want 1/0", summary.TangentCount, summary.TangentsReturned)
	}
	events, _ := st.Tangents.FindBySession(ctx, snap.SessionID)
	if len(events) != 1 || events[0].Status != model.TangentAbandoned || events[0].ReturnIndex != nil {
		t.Fatalf("tangents = %+v, want one abandoned", events)
	}
	if !events[0].LearnerInitiated {
		t.Error("tangent should be learner-initiated")
	}
}

func TestOverlayAnnouncedOnTangentExit(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 1)
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: evaluatortest.Recalled(0.9)})
	h := newHarness(t, eval, withStore(st))
	h.start(t)
	ctx := context.Background()

	_ = h.orch.EnterTangent(ctx, "", "electron transport")
	h.say(t, "ATP from mitochondria")
	h.drain()

	if err := h.orch.ExitTangent(ctx); err != nil {
		t.Fatalf("ExitTangent: %v", err)
	}
	events := h.drain()
	if len(events) != 2 || events[0].Type != event.TangentExited || events[1].Type != event.CompletionPending {
		t.Fatalf("events = %v, want tangent_exited then completion_pending", events)
	}
	if p := events[0].Payload.(event.TangentExitedPayload); !p.CompletionPending {
		t.Error("tangent_exited should report completion pending")
	}
	if err := h.orch.DismissOverlay(ctx); err != nil {
		t.Fatalf("DismissOverlay: %v", err)
	}
	if s := h.orch.SessionState(); !s.CompletionPending {
		t.Error("completion pending cleared by dismiss")
	}
}

func TestResumeRestoresTangentAndMetrics(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	ids := seed(t, st, 1)
	ctx := context.Background()

	first := newHarness(t, evaluatortest.Scripted(nil), withStore(st), withDetector(suggesting("organelles")),
		withConfig(func(c *orchestrator.Config) { c.TangentCooldown = 3 }))
	snap := first.start(t)
	if res := first.say(t, "what other organelles are there?"); res.Suggestion == nil {
		t.Fatal("expected a suggestion")
	}
	if err := first.orch.DeclineTangent(ctx); err != nil {
		t.Fatalf("DeclineTangent: %v", err)
	}
	if err := first.orch.PauseSession(ctx); err != nil {
		t.Fatalf("PauseSession: %v", err)
	}
	if _, err := first.orch.ProcessUserMessage(ctx, "hello?"); !errors.Is(err, orchestrator.ErrSessionPaused) {
		t.Fatalf("message while paused error = %v", err)
	}

	det := suggesting("organelles")
	eval := evaluatortest.Scripted(map[string]evaluator.Result{ids[0]: evaluatortest.Recalled(0.9)})
	second := newHarness(t, eval, withStore(st), withDetector(det))
	resumed := second.start(t)
	if resumed.SessionID != snap.SessionID || resumed.Status != model.StatusInProgress {
		t.Fatalf("resumed = %+v, want same session in progress", resumed)
	}
	if resumed.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", resumed.MessageCount)
	}
	started := second.drain()[0]
	if p := started.Payload.(event.SessionStartedPayload); !p.Resumed {
		t.Error("session_started should be marked resumed")
	}

	welcome, err := second.orch.OpeningMessage(ctx)
	if err != nil || welcome == "" {
		t.Fatalf("OpeningMessage on resume: %q, %v", welcome, err)
	}

	second.say(t, "mitochondria make ATP")
	if d, _ := det.Counts(); d != 0 {
		t.Errorf("detect calls = %d, want 0 (cooldown carried over)", d)
	}

	summary, err := second.orch.FinalizeSession(ctx)
	if err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	if summary.UserMessages != 2 || summary.AssistantMessages != 3 {
		t.Errorf("messages user=%d assistant=%d, want 2/3 across both processes",
			summary.UserMessages, summary.AssistantMessages)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := orchestrator.New(orchestrator.Deps{}, orchestrator.Config{})
	if err == nil {
		t.Fatal("expected error for missing deps")
	}
	_, err = orchestrator.New(orchestrator.Deps{
		Store:     store.NewMemory(),
		Tutor:     providertest.Reply("x"),
		Evaluator: evaluatortest.Scripted(nil),
		Prompts:   prompt.NewTemplateBuilder(0),
		Scheduler: scheduler.New(scheduler.NewFSRS(scheduler.Config{})),
	}, orchestrator.Config{RecallThreshold: 1.5})
	if err == nil {
		t.Fatal("expected error for threshold above 1")
	}
}
