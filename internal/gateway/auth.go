package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// authMiddleware returns a chi-compatible middleware that validates Bearer token
// or Basic auth credentials using constant-time comparison. Browsers cannot
// set headers on a websocket upgrade, so upgrades may carry the bearer token
// in the access_token query parameter instead. Failures are logged with the
// remote address.
func authMiddleware(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" && isUpgrade(r) {
				if tok := r.URL.Query().Get("access_token"); tok != "" {
					auth = "Bearer " + tok
				}
			}
			if auth == "" {
				authFailure(logger, r, "missing authorization header")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if cfg.BearerToken != "" {
				if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
					if constantTimeEqual(after, cfg.BearerToken) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			if cfg.BasicUser != "" && cfg.BasicPass != "" {
				user, pass, ok := r.BasicAuth()
				if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
					next.ServeHTTP(w, r)
					return
				}
			}

			authFailure(logger, r, "invalid credentials")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
}

func authFailure(logger *slog.Logger, r *http.Request, detail string) {
	logger.Warn("gateway: auth failure",
		"detail", detail,
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
	)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
