package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/catalog"
	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator/evaluatortest"
	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/prompt"
	"github.com/Jmemon/contextual-clarity-sub001/internal/provider/providertest"
	"github.com/Jmemon/contextual-clarity-sub001/internal/scheduler"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newStudy seeds one set with the given points and returns a loop over
// stdin, plus its output buffer.
func newStudy(t *testing.T, stdin string, results func(ids []string) map[string]evaluator.Result, contents ...string) (*studyLoop, model.RecallSet, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	bus := event.NewBus()
	t.Cleanup(bus.Close)
	now := func() time.Time { return base }
	sched := scheduler.New(scheduler.NewFSRS(scheduler.Config{}))

	cat := catalog.New(st, sched, now)
	set, err := cat.CreateSet(ctx, "Cell Biology", "")
	if err != nil {
		t.Fatalf("CreateSet: %v", err)
	}
	var ids []string
	for _, c := range contents {
		p, err := cat.AddPoint(ctx, set.ID, c, "")
		if err != nil {
			t.Fatalf("AddPoint: %v", err)
		}
		ids = append(ids, p.ID)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Tutor:     providertest.Reply("What do you remember?"),
		Evaluator: evaluatortest.Scripted(results(ids)),
		Prompts:   prompt.NewTemplateBuilder(prompt.DefaultHistoryWindow),
		Scheduler: sched,
		Bus:       bus,
		Logger:    slog.New(slog.DiscardHandler),
		Now:       now,
	}, orchestrator.Config{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	var out bytes.Buffer
	return &studyLoop{orch: orch, in: strings.NewReader(stdin), out: &out, render: plainRenderer}, set, &out
}

func noneRecalled([]string) map[string]evaluator.Result { return nil }

func allRecalled(ids []string) map[string]evaluator.Result {
	m := make(map[string]evaluator.Result, len(ids))
	for _, id := range ids {
		m[id] = evaluatortest.Recalled(0.95)
	}
	return m
}

func TestStudyLoop_CompletesAndFinalizes(t *testing.T) {
	t.Parallel()
	loop, set, out := newStudy(t, "Mitochondria make ATP.\n/quit\n", allRecalled, "Mitochondria produce ATP.")

	if err := loop.run(context.Background(), set); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	for _, want := range []string{"What do you remember?", "[1 of 1 recalled]", "Session complete: 1 of 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestStudyLoop_EOFPauses(t *testing.T) {
	t.Parallel()
	loop, set, out := newStudy(t, "I forget.\n", noneRecalled, "Mitochondria produce ATP.", "The nucleus stores DNA.")

	if err := loop.run(context.Background(), set); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Session paused at 0 of 2") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestStudyLoop_Commands(t *testing.T) {
	t.Parallel()
	loop, set, out := newStudy(t, "/help\n/enter\n/exit\n/status\n/bogus\n/quit\n", noneRecalled, "Mitochondria produce ATP.")

	if err := loop.run(context.Background(), set); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Commands:",
		"No tangent is suggested right now.",
		"No tangent to act on.",
		"0 of 1 recalled",
		"Unknown command /bogus",
		"Session paused",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestStudyLoop_NothingDue(t *testing.T) {
	t.Parallel()
	loop, set, out := newStudy(t, "", noneRecalled)

	if err := loop.run(context.Background(), set); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Nothing is due") {
		t.Errorf("output:\n%s", out.String())
	}
}
