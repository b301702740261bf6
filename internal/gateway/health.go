package gateway

import (
	"net/http"

	"github.com/Jmemon/contextual-clarity-sub001/internal/provider"
)

// HealthReporter reports provider chain health.
type HealthReporter interface {
	HealthReport() []provider.Status
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string            `json:"status"` // "ok" or "degraded"
	Sessions  int               `json:"sessions"`
	Providers []provider.Status `json:"providers"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 if all providers are available, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Providers: []provider.Status{}}

		if g.registry != nil {
			resp.Sessions = g.registry.Len()
		}

		if g.health != nil {
			resp.Providers = g.health.HealthReport()
			for _, p := range resp.Providers {
				if !p.Available {
					resp.Status = "degraded"
					break
				}
			}
		}

		status := http.StatusOK
		if resp.Status == "degraded" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
