package gateway

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	both := AuthConfig{BearerToken: "study-token", BasicUser: "learner", BasicPass: "pass123"}
	bearer := AuthConfig{BearerToken: "study-token"}

	tests := []struct {
		name    string
		cfg     AuthConfig
		target  string
		prepare func(r *http.Request)
		want    int
	}{
		{"bearer", bearer, "/api/sets", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer study-token")
		}, http.StatusOK},
		{"wrong bearer", bearer, "/api/sets", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer other")
		}, http.StatusUnauthorized},
		{"no header", bearer, "/api/sets", func(*http.Request) {}, http.StatusUnauthorized},
		{"basic", both, "/api/sets", func(r *http.Request) {
			r.SetBasicAuth("learner", "pass123")
		}, http.StatusOK},
		{"wrong basic", both, "/api/sets", func(r *http.Request) {
			r.SetBasicAuth("learner", "nope")
		}, http.StatusUnauthorized},
		{"bearer when both configured", both, "/api/sets", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer study-token")
		}, http.StatusOK},
		{"query token on upgrade", bearer, "/ws/sets/bio/session?access_token=study-token", func(r *http.Request) {
			r.Header.Set("Upgrade", "websocket")
		}, http.StatusOK},
		{"wrong query token on upgrade", bearer, "/ws/sets/bio/session?access_token=other", func(r *http.Request) {
			r.Header.Set("Upgrade", "websocket")
		}, http.StatusUnauthorized},
		{"query token without upgrade", bearer, "/api/sets?access_token=study-token", func(*http.Request) {}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			tt.prepare(req)
			rr := httptest.NewRecorder()
			authMiddleware(tt.cfg, discard())(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  AuthConfig
		want bool
	}{
		{AuthConfig{}, false},
		{AuthConfig{BearerToken: "tok"}, true},
		{AuthConfig{BasicUser: "u", BasicPass: "p"}, true},
		{AuthConfig{BasicUser: "u"}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.IsConfigured(); got != tt.want {
			t.Errorf("IsConfigured(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestAuthMiddleware_LogsFailureWithoutSecret(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := authMiddleware(AuthConfig{BearerToken: "right-token"}, logger)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/sets", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "auth failure") || !strings.Contains(out, "path=/api/sets") {
		t.Errorf("log = %q, want auth failure for /api/sets", out)
	}
	if strings.Contains(out, "wrong-token") || strings.Contains(out, "right-token") {
		t.Errorf("log leaks a token: %q", out)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"no auth", Config{}, false},
		{"bearer", Config{Auth: AuthConfig{BearerToken: "t"}}, false},
		{"basic pair", Config{Auth: AuthConfig{BasicUser: "u", BasicPass: "p"}}, false},
		{"user without pass", Config{Auth: AuthConfig{BasicUser: "u"}}, true},
		{"pass without user", Config{Auth: AuthConfig{BasicPass: "p"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.Defaults()
	if cfg.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want loopback default", cfg.Bind)
	}
	if cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		t.Errorf("timeouts not defaulted: %+v", cfg)
	}
	if cfg.RateLimit.MaxSessions == 0 || cfg.RateLimit.MessagesPerMin == 0 {
		t.Errorf("rate limits not defaulted: %+v", cfg.RateLimit)
	}
}
