package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

// Deps are the collaborators the gateway serves.
type Deps struct {
	Registry *Registry
	Store    *store.Store
	Bus      *event.Bus
	// Health reports provider availability on /health. Optional.
	Health HealthReporter
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Gateway is the HTTP front of the study service. It serves health,
// metrics, the REST API and the session websocket.
type Gateway struct {
	config   Config
	logger   *slog.Logger
	registry *Registry
	store    *store.Store
	bus      *event.Bus
	health   HealthReporter
	gatherer prometheus.Gatherer
	now      func() time.Time

	mu      sync.Mutex
	server  *http.Server
	addr    net.Addr
	handler http.Handler
}

// New creates a gateway. cfg is defaulted.
func New(cfg Config, deps Deps) (*Gateway, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Store == nil || deps.Bus == nil {
		return nil, errors.New("gateway: registry, store and bus are required")
	}
	g := &Gateway{
		config:   cfg,
		logger:   deps.Logger,
		registry: deps.Registry,
		store:    deps.Store,
		bus:      deps.Bus,
		health:   deps.Health,
		gatherer: deps.Gatherer,
		now:      deps.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.gatherer == nil {
		g.gatherer = prometheus.DefaultGatherer
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.handler = g.buildRouter()
	return g, nil
}

// Handler returns the routed handler, for embedding and tests.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Addr returns the bound listener address once started.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	g.server = &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: g.config.ReadTimeout,
		ReadTimeout:       g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
	}
	g.addr = ln.Addr()

	go func(srv *http.Server) {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}(g.server)

	return nil
}

// Stop shuts the server down within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	g.server = nil
	g.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return srv.Shutdown(shutdownCtx)
}
