package gateway

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
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
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// newTestChain creates a Chain for testing.
func newTestChain(t *testing.T, entries []provider.ChainEntry) *provider.Chain {
	t.Helper()
	chain, err := provider.NewChain(entries)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain
}

// testEnv is a gateway over an in-memory store with scripted models.
type testEnv struct {
	store *store.Store
	bus   *event.Bus
	reg   *Registry
	gw    *Gateway
	tutor *providertest.MockProvider
	eval  *evaluatortest.Evaluator
	det   tangent.Detector
	cfg   Config
}

type envOption func(*testEnv)

func withAuth(a AuthConfig) envOption { return func(e *testEnv) { e.cfg.Auth = a } }

func withRateLimit(rl RateLimitConfig) envOption {
	return func(e *testEnv) { e.cfg.RateLimit = rl }
}

func withResults(results map[string]evaluator.Result) envOption {
	return func(e *testEnv) { e.eval = evaluatortest.Scripted(results) }
}

func withDetector(d tangent.Detector) envOption { return func(e *testEnv) { e.det = d } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	e := &testEnv{
		store: store.NewMemory(),
		bus:   event.NewBus(),
		tutor: providertest.Reply("Tell me what you remember about it."),
		eval:  evaluatortest.Scripted(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	t.Cleanup(e.bus.Close)

	now := func() time.Time { return base }
	e.reg = NewRegistry(func() (*orchestrator.Orchestrator, error) {
		return orchestrator.New(orchestrator.Deps{
			Store:     e.store,
			Tutor:     e.tutor,
			Evaluator: e.eval,
			Detector:  e.det,
			Prompts:   prompt.NewTemplateBuilder(prompt.DefaultHistoryWindow),
			Scheduler: scheduler.New(scheduler.NewFSRS(scheduler.Config{})),
			Bus:       e.bus,
			Logger:    discard(),
			Now:       now,
		}, orchestrator.Config{Streaming: true})
	}, discard(), WithMaxSessions(e.cfg.RateLimit.MaxSessions))

	gw, err := New(e.cfg, Deps{
		Registry: e.reg,
		Store:    e.store,
		Bus:      e.bus,
		Logger:   discard(),
		Now:      now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.gw = gw
	return e
}

// server starts an httptest server over the gateway handler.
func (e *testEnv) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(e.gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// seedSet creates set id with n points already due.
func seedSet(t *testing.T, st *store.Store, id string, n int) []string {
	t.Helper()
	ctx := context.Background()
	if err := st.Sets.Create(ctx, model.RecallSet{ID: id, Name: strings.ToUpper(id), CreatedAt: base}); err != nil {
		t.Fatalf("create set: %v", err)
	}
	facts := []string{
		"Mitochondria produce ATP.",
		"Ribosomes translate mRNA into protein.",
		"The nucleus stores DNA.",
	}
	var ids []string
	for i := range n {
		pid := id + "-p" + string(rune('1'+i))
		due := base.Add(-time.Duration(n-i) * time.Hour)
		p := model.RecallPoint{
			ID:        pid,
			SetID:     id,
			Content:   facts[i%len(facts)],
			State:     model.MemoryState{Due: due, Phase: model.PhaseNew},
			CreatedAt: due,
		}
		if err := st.Points.Create(ctx, p); err != nil {
			t.Fatalf("create point: %v", err)
		}
		ids = append(ids, pid)
	}
	return ids
}
