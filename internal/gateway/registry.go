package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
)

// Factory builds a fresh orchestrator for one session.
type Factory func() (*orchestrator.Orchestrator, error)

// Live is an orchestrator held by one or more connections.
type Live struct {
	Orch      *orchestrator.Orchestrator
	SetID     string
	SessionID string

	refs int
}

// Registry keeps the live orchestrators keyed by set id, so that every
// connection to a set shares one session. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	live     map[string]*Live
	starting map[string]*pendingStart
	factory  Factory
	logger   *slog.Logger
	max      int
}

// pendingStart is a session being started outside the lock. done closes
// once err is set or the session is in live.
type pendingStart struct {
	done chan struct{}
	err  error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessions caps the number of live sessions. Zero means no cap.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.max = n }
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		live:     make(map[string]*Live),
		starting: make(map[string]*pendingStart),
		factory:  factory,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the live session of setID, starting or resuming one when
// none is held. created reports whether this call started it. Every
// successful Acquire must be paired with Release. The registry lock is
// never held across orchestrator calls: a slow start only delays callers
// for the same set.
func (r *Registry) Acquire(ctx context.Context, setID string) (l *Live, created bool, err error) {
	for {
		r.mu.Lock()
		if l, ok := r.live[setID]; ok {
			l.refs++
			r.mu.Unlock()
			if l.Orch.SessionState() != nil {
				return l, false, nil
			}
			r.forget(l)
			continue
		}
		if p, ok := r.starting[setID]; ok {
			r.mu.Unlock()
			select {
			case <-p.done:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			if p.err != nil {
				return nil, false, p.err
			}
			continue
		}
		if r.max > 0 && len(r.live)+len(r.starting) >= r.max {
			r.mu.Unlock()
			return nil, false, ErrTooManySessions
		}
		p := &pendingStart{done: make(chan struct{})}
		r.starting[setID] = p
		r.mu.Unlock()

		l, err := r.start(ctx, setID)

		r.mu.Lock()
		delete(r.starting, setID)
		if err == nil {
			r.live[setID] = l
		}
		p.err = err
		close(p.done)
		r.mu.Unlock()
		if err != nil {
			return nil, false, err
		}
		r.logger.Info("gateway: session live", "set_id", setID, "session_id", l.SessionID)
		return l, true, nil
	}
}

func (r *Registry) start(ctx context.Context, setID string) (*Live, error) {
	orch, err := r.factory()
	if err != nil {
		return nil, err
	}
	snap, err := orch.StartSession(ctx, setID)
	if err != nil {
		return nil, err
	}
	return &Live{Orch: orch, SetID: setID, SessionID: snap.SessionID, refs: 1}, nil
}

// forget drops a reference taken on an ended session and unmaps it.
func (r *Registry) forget(l *Live) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if r.live[l.SetID] == l {
		delete(r.live, l.SetID)
	}
}

// Release drops one reference. The last release pauses a session that is
// still in progress and forgets it.
func (r *Registry) Release(ctx context.Context, l *Live) {
	r.mu.Lock()
	l.refs--
	last := l.refs <= 0
	if last && r.live[l.SetID] == l {
		delete(r.live, l.SetID)
	}
	r.mu.Unlock()

	if !last {
		return
	}
	if snap := l.Orch.SessionState(); snap != nil && snap.Status == model.StatusInProgress {
		if err := l.Orch.PauseSession(ctx); err != nil {
			r.logger.Error("gateway: pausing released session", "session_id", l.SessionID, "error", err)
			return
		}
		r.logger.Info("gateway: session paused on disconnect", "session_id", l.SessionID)
	}
}

// BySession returns the live entry holding sessionID.
func (r *Registry) BySession(sessionID string) (*Live, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.live {
		if l.SessionID == sessionID {
			return l, true
		}
	}
	return nil, false
}

// IsLive reports whether a connection holds sessionID.
func (r *Registry) IsLive(sessionID string) bool {
	_, ok := r.BySession(sessionID)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
