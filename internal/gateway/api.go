// Package gateway provides the HTTP front of the study service: health,
// Prometheus metrics, a small REST API over the store and the real-time
// session websocket. It binds to loopback by default.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

// setJSON is a recall set with its due count.
type setJSON struct {
	model.RecallSet
	Due int `json:"due"`
}

// sessionJSON is a stored session plus whether a connection holds it.
type sessionJSON struct {
	model.Session
	Live bool `json:"live"`
}

// handleListSets returns every recall set with its number of due points.
func (g *Gateway) handleListSets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sets, err := g.store.Sets.List(r.Context())
		if err != nil {
			g.internalError(w, "listing sets", err)
			return
		}
		due, err := g.store.Points.CountDue(r.Context(), g.now())
		if err != nil {
			g.internalError(w, "counting due points", err)
			return
		}

		out := make([]setJSON, 0, len(sets))
		for _, s := range sets {
			out = append(out, setJSON{RecallSet: s, Due: due[s.ID]})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleDuePoints returns the points of a set due now, most overdue first.
func (g *Gateway) handleDuePoints() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := g.store.Sets.FindByID(r.Context(), id); err != nil {
			g.lookupError(w, "set", err)
			return
		}
		points, err := g.store.Points.FindDue(r.Context(), id, g.now())
		if err != nil {
			g.internalError(w, "finding due points", err)
			return
		}
		if points == nil {
			points = []model.RecallPoint{}
		}
		writeJSON(w, http.StatusOK, points)
	}
}

// handleGetSession returns one stored session.
func (g *Gateway) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, err := g.store.Sessions.FindByID(r.Context(), id)
		if err != nil {
			g.lookupError(w, "session", err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON{Session: sess, Live: g.registry.IsLive(id)})
	}
}

// handleSessionSummary returns the finalized metrics of a completed session.
func (g *Gateway) handleSessionSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := g.store.Metrics.FindBySession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			g.lookupError(w, "summary", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// handleAbandonSession abandons a session. A live session is abandoned
// through its orchestrator so connected clients are told; otherwise the
// stored row is transitioned directly. Terminal sessions answer 409.
func (g *Gateway) handleAbandonSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if l, ok := g.registry.BySession(id); ok {
			err := l.Orch.AbandonSession(r.Context())
			switch {
			case err == nil:
				w.WriteHeader(http.StatusNoContent)
				return
			case !errors.Is(err, orchestrator.ErrSessionClosed) && !errors.Is(err, orchestrator.ErrNoActiveSession):
				g.internalError(w, "abandoning live session", err)
				return
			}
			// The orchestrator already finished; fall through to the store.
		}

		sess, err := g.store.Sessions.FindByID(r.Context(), id)
		if err != nil {
			g.lookupError(w, "session", err)
			return
		}
		next, err := sess.Transition(model.StatusAbandoned, g.now())
		if err != nil {
			http.Error(w, "session already "+string(sess.Status), http.StatusConflict)
			return
		}
		if err := g.store.Sessions.Update(r.Context(), next); err != nil {
			g.internalError(w, "abandoning session", err)
			return
		}
		g.logger.Info("gateway: session abandoned", "session_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) lookupError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	g.internalError(w, "loading "+what, err)
}

func (g *Gateway) internalError(w http.ResponseWriter, action string, err error) {
	g.logger.Error("gateway: "+action, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
