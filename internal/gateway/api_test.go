package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPI_ListSets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 2)
	seedSet(t, env.store, "chem", 1)

	rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sets")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var sets []setJSON
	if err := json.NewDecoder(rr.Body).Decode(&sets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	due := map[string]int{}
	for _, s := range sets {
		due[s.ID] = s.Due
	}
	if due["bio"] != 2 || due["chem"] != 1 {
		t.Errorf("due = %v, want bio:2 chem:1", due)
	}
}

func TestAPI_DuePoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ids := seedSet(t, env.store, "bio", 3)

	rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sets/bio/due")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var points []model.RecallPoint
	if err := json.NewDecoder(rr.Body).Decode(&points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 3 || points[0].ID != ids[0] {
		t.Errorf("points = %d (first %q), want 3 starting with %q", len(points), firstID(points), ids[0])
	}

	if rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sets/missing/due"); rr.Code != http.StatusNotFound {
		t.Errorf("missing set: status = %d, want 404", rr.Code)
	}
}

func firstID(points []model.RecallPoint) string {
	if len(points) == 0 {
		return ""
	}
	return points[0].ID
}

func TestAPI_GetSessionReportsLive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 1)
	l, _, err := env.reg.Acquire(context.Background(), "bio")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer env.reg.Release(context.Background(), l)

	rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sessions/"+l.SessionID)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got sessionJSON
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Live || got.Status != model.StatusInProgress || got.SetID != "bio" {
		t.Errorf("session = %+v, want live in_progress session of bio", got)
	}

	if rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sessions/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d, want 404", rr.Code)
	}
}

func TestAPI_SummaryNotFoundBeforeCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 1)
	l, _, err := env.reg.Acquire(context.Background(), "bio")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer env.reg.Release(context.Background(), l)

	rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sessions/"+l.SessionID+"/summary")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAPI_AbandonLiveSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 2)
	l, _, err := env.reg.Acquire(context.Background(), "bio")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer env.reg.Release(context.Background(), l)

	rr := serve(t, env.gw.Handler(), http.MethodPost, "/api/sessions/"+l.SessionID+"/abandon")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if l.Orch.SessionState() != nil {
		t.Error("orchestrator still reports an active session")
	}
	sess, err := env.store.Sessions.FindByID(context.Background(), l.SessionID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if sess.Status != model.StatusAbandoned {
		t.Errorf("status = %q, want abandoned", sess.Status)
	}

	rr = serve(t, env.gw.Handler(), http.MethodPost, "/api/sessions/"+l.SessionID+"/abandon")
	if rr.Code != http.StatusConflict {
		t.Errorf("second abandon: status = %d, want 409", rr.Code)
	}
}

func TestAPI_AbandonStoredSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 1)
	ctx := context.Background()
	sess := model.Session{ID: "s-paused", SetID: "bio", Status: model.StatusPaused, StartedAt: base, UpdatedAt: base}
	if err := env.store.Sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := serve(t, env.gw.Handler(), http.MethodPost, "/api/sessions/s-paused/abandon")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	got, _ := env.store.Sessions.FindByID(ctx, "s-paused")
	if got.Status != model.StatusAbandoned || got.EndedAt == nil {
		t.Errorf("session = %+v, want abandoned with end time", got)
	}
}

func TestAPI_RequiresAuthWhenConfigured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, withAuth(AuthConfig{BearerToken: "secret-token"}))

	if rr := serve(t, env.gw.Handler(), http.MethodGet, "/api/sets"); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sets", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rr.Code)
	}

	if rr := serve(t, env.gw.Handler(), http.MethodGet, "/health"); rr.Code != http.StatusOK {
		t.Errorf("/health should stay public, got %d", rr.Code)
	}
}
