// Package storetest holds the behaviour every store.Store implementation
// must satisfy, runnable against any backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// Run exercises every repository of the store returned by open. open is
// called once per subtest and must return an empty store.
func Run(t *testing.T, open func(t *testing.T) *store.Store) {
	t.Helper()

	t.Run("Sets", func(t *testing.T) { testSets(t, open(t)) })
	t.Run("Points", func(t *testing.T) { testPoints(t, open(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("OutcomesAndTangents", func(t *testing.T) { testOutcomesAndTangents(t, open(t)) })
	t.Run("MetricsAndSnapshots", func(t *testing.T) { testMetricsAndSnapshots(t, open(t)) })
}

func testSets(t *testing.T, s *store.Store) {
	ctx := context.Background()

	a := model.RecallSet{ID: "set-a", Name: "Biology", Description: "cells", CreatedAt: t0}
	b := model.RecallSet{ID: "set-b", Name: "History", CreatedAt: t0.Add(time.Minute)}
	for _, set := range []model.RecallSet{b, a} {
		if err := s.Sets.Create(ctx, set); err != nil {
			t.Fatalf("Create(%s): %v", set.ID, err)
		}
	}
	if err := s.Sets.Create(ctx, a); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate Create err = %v, want ErrDuplicate", err)
	}

	got, err := s.Sets.FindByID(ctx, "set-a")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Name != "Biology" || got.Description != "cells" || !got.CreatedAt.Equal(t0) {
		t.Errorf("FindByID = %+v", got)
	}
	if _, err := s.Sets.FindByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing FindByID err = %v, want ErrNotFound", err)
	}

	list, err := s.Sets.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "set-a" {
		t.Errorf("List = %+v, want set-a first", list)
	}
}

func newPoint(id, setID string, due time.Time) model.RecallPoint {
	return model.RecallPoint{
		ID:        id,
		SetID:     setID,
		Content:   "content " + id,
		Context:   "context " + id,
		State:     model.MemoryState{Due: due, Phase: model.PhaseNew},
		CreatedAt: t0,
	}
}

func testPoints(t *testing.T, s *store.Store) {
	ctx := context.Background()

	points := []model.RecallPoint{
		newPoint("p-late", "set-a", t0.Add(-time.Hour)),
		newPoint("p-early", "set-a", t0.Add(-48*time.Hour)),
		newPoint("p-future", "set-a", t0.Add(24*time.Hour)),
		newPoint("p-other", "set-b", t0.Add(-time.Minute)),
	}
	for _, p := range points {
		if err := s.Points.Create(ctx, p); err != nil {
			t.Fatalf("Create(%s): %v", p.ID, err)
		}
	}

	due, err := s.Points.FindDue(ctx, "set-a", t0)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(due) != 2 || due[0].ID != "p-early" || due[1].ID != "p-late" {
		t.Fatalf("FindDue = %v, want [p-early p-late]", ids(due))
	}

	all, err := s.Points.FindBySet(ctx, "set-a")
	if err != nil {
		t.Fatalf("FindBySet: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("FindBySet = %d points, want 3", len(all))
	}

	counts, err := s.Points.CountDue(ctx, t0)
	if err != nil {
		t.Fatalf("CountDue: %v", err)
	}
	if counts["set-a"] != 2 || counts["set-b"] != 1 {
		t.Errorf("CountDue = %v", counts)
	}

	p := due[0]
	conf := 0.9
	reviewed := t0
	p.State = model.MemoryState{
		Stability: 3.2, Difficulty: 5.1, Due: t0.Add(72 * time.Hour),
		Reps: 1, Phase: model.PhaseReview, LastReview: &reviewed,
	}
	p.History = append(p.History, model.RecallAttempt{Timestamp: t0, Success: true, Confidence: &conf})
	if err := s.Points.UpdateMemoryState(ctx, p); err != nil {
		t.Fatalf("UpdateMemoryState: %v", err)
	}

	got, err := s.Points.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.State.Reps != 1 || got.State.Phase != model.PhaseReview || got.State.LastReview == nil || !got.State.Due.Equal(t0.Add(72*time.Hour)) {
		t.Errorf("state = %+v", got.State)
	}
	if len(got.History) != 1 || got.History[0].Confidence == nil || *got.History[0].Confidence != 0.9 {
		t.Errorf("history = %+v", got.History)
	}
	if got.Content != "content p-early" {
		t.Errorf("content changed: %q", got.Content)
	}

	if err := s.Points.UpdateMemoryState(ctx, newPoint("ghost", "set-a", t0)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
}

func testSessions(t *testing.T, s *store.Store) {
	ctx := context.Background()

	done := model.Session{ID: "s-done", SetID: "set-a", TargetPointIDs: []string{"p1"}, Status: model.StatusCompleted, StartedAt: t0.Add(-2 * time.Hour), UpdatedAt: t0.Add(-2 * time.Hour)}
	live := model.Session{ID: "s-live", SetID: "set-a", TargetPointIDs: []string{"p1", "p2"}, Status: model.StatusInProgress, StartedAt: t0.Add(-time.Hour), UpdatedAt: t0.Add(-time.Hour)}
	for _, sess := range []model.Session{done, live} {
		if err := s.Sessions.Create(ctx, sess); err != nil {
			t.Fatalf("Create(%s): %v", sess.ID, err)
		}
	}

	got, err := s.Sessions.FindResumable(ctx, "set-a")
	if err != nil {
		t.Fatalf("FindResumable: %v", err)
	}
	if got.ID != "s-live" || len(got.TargetPointIDs) != 2 {
		t.Errorf("FindResumable = %+v", got)
	}
	if _, err := s.Sessions.FindResumable(ctx, "set-b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindResumable(set-b) err = %v, want ErrNotFound", err)
	}

	stale, err := s.Sessions.ListByStatus(ctx, model.StatusInProgress, t0.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(stale) != 1 {
		t.Errorf("ListByStatus = %d sessions, want 1", len(stale))
	}
	fresh, err := s.Sessions.ListByStatus(ctx, model.StatusInProgress, t0.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("ListByStatus(older) = %d sessions, want 0", len(fresh))
	}

	got.RecalledPointIDs = []string{"p2"}
	got.ActiveTangentID = "tan-1"
	got, err = got.Transition(model.StatusPaused, t0)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.Sessions.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	reloaded, err := s.Sessions.FindByID(ctx, "s-live")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if reloaded.Status != model.StatusPaused || len(reloaded.RecalledPointIDs) != 1 || reloaded.ActiveTangentID != "tan-1" || !reloaded.UpdatedAt.Equal(t0) {
		t.Errorf("reloaded = %+v", reloaded)
	}
	if reloaded.EndedAt != nil {
		t.Error("paused session should have no end time")
	}

	if err := s.Sessions.Update(ctx, model.Session{ID: "ghost"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("update missing err = %v, want ErrNotFound", err)
	}
}

func testMessages(t *testing.T, s *store.Store) {
	ctx := context.Background()

	for i, content := range []string{"hello", "hi there", "mitochondria"} {
		ts := t0.Add(time.Duration(i) * time.Second)
		role := model.RoleAssistant
		if i%2 == 1 {
			role = model.RoleUser
		}
		m := model.Message{ID: store.NewMessageID(ts), SessionID: "s1", Role: role, Content: content, Timestamp: ts, TokenCount: i + 1}
		if err := s.Messages.Create(ctx, m); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	msgs, err := s.Messages.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "hello" || msgs[2].Content != "mitochondria" {
		t.Fatalf("FindBySession = %+v", msgs)
	}
	if msgs[1].Role != model.RoleUser || msgs[1].TokenCount != 2 {
		t.Errorf("message[1] = %+v", msgs[1])
	}
	if other, _ := s.Messages.FindBySession(ctx, "s2"); len(other) != 0 {
		t.Errorf("unexpected messages for s2: %+v", other)
	}
}

func testOutcomesAndTangents(t *testing.T, s *store.Store) {
	ctx := context.Background()

	o := model.RecallOutcome{ID: "o1", SessionID: "s1", PointID: "p1", Success: true, Confidence: 0.85, Rating: model.RatingEasy, Reasoning: "named it", StartIndex: 1, EndIndex: 4, CreatedAt: t0}
	if err := s.Outcomes.Create(ctx, o); err != nil {
		t.Fatalf("Outcomes.Create: %v", err)
	}
	outs, err := s.Outcomes.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("Outcomes.FindBySession: %v", err)
	}
	if len(outs) != 1 || outs[0].Rating != model.RatingEasy || outs[0].EndIndex != 4 {
		t.Errorf("outcomes = %+v", outs)
	}

	o.Rating = model.RatingGood
	o.EndIndex = 5
	if err := s.Outcomes.Create(ctx, o); err != nil {
		t.Fatalf("Outcomes.Create again: %v", err)
	}
	outs, _ = s.Outcomes.FindBySession(ctx, "s1")
	if len(outs) != 1 || outs[0].Rating != model.RatingGood || outs[0].EndIndex != 5 {
		t.Errorf("outcomes after rewrite = %+v, want one replaced outcome", outs)
	}

	e := model.TangentEvent{ID: "t1", SessionID: "s1", Topic: "krebs", TriggerIndex: 3, Depth: 1, Status: model.TangentActive, LearnerInitiated: true}
	if err := s.Tangents.Save(ctx, e); err != nil {
		t.Fatalf("Tangents.Save: %v", err)
	}
	ret := 6
	e.Status = model.TangentReturned
	e.ReturnIndex = &ret
	e.RelatedPointIDs = []string{"p2"}
	if err := s.Tangents.Save(ctx, e); err != nil {
		t.Fatalf("Tangents.Save update: %v", err)
	}
	events, err := s.Tangents.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("Tangents.FindBySession: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("tangents = %d, want 1 after upsert", len(events))
	}
	got := events[0]
	if got.Status != model.TangentReturned || got.ReturnIndex == nil || *got.ReturnIndex != 6 || len(got.RelatedPointIDs) != 1 || !got.LearnerInitiated {
		t.Errorf("tangent = %+v", got)
	}
}

func testMetricsAndSnapshots(t *testing.T, s *store.Store) {
	ctx := context.Background()

	if _, err := s.Metrics.FindBySession(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing summary err = %v, want ErrNotFound", err)
	}
	sum := model.SessionMetricsSummary{
		SessionID: "s1", StartedAt: t0, EndedAt: t0.Add(time.Minute), Duration: time.Minute,
		RecalledCount: 2, TotalPoints: 2, RecallRate: 1, EngagementScore: 87.5,
	}
	if err := s.Metrics.Save(ctx, sum); err != nil {
		t.Fatalf("Metrics.Save: %v", err)
	}
	got, err := s.Metrics.FindBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("Metrics.FindBySession: %v", err)
	}
	if got.EngagementScore != 87.5 || got.Duration != time.Minute {
		t.Errorf("summary = %+v", got)
	}

	if _, err := s.Snapshots.Load(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing snapshot err = %v, want ErrNotFound", err)
	}
	for _, data := range []string{`{"v":1}`, `{"v":2}`} {
		if err := s.Snapshots.Save(ctx, "s1", []byte(data)); err != nil {
			t.Fatalf("Snapshots.Save: %v", err)
		}
	}
	data, err := s.Snapshots.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshots.Load: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("snapshot = %s", data)
	}
}

func ids(points []model.RecallPoint) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}
