package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))

	// Protected when auth is configured.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.logger))
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/sets", g.handleListSets())
			r.Get("/sets/{id}/due", g.handleDuePoints())
			r.Get("/sessions/{id}", g.handleGetSession())
			r.Get("/sessions/{id}/summary", g.handleSessionSummary())
			r.Post("/sessions/{id}/abandon", g.handleAbandonSession())
		})
		r.Get("/ws/sets/{setID}/session", g.handleSessionSocket())
	})

	return r
}
