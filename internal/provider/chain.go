package provider

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ChainEntry configures a single provider in the chain.
type ChainEntry struct {
	Name        string
	Provider    Provider
	Role        Role
	Health      HealthConfig
	FallbackFor []Role // empty = fallback for all roles
}

type chainEntry struct {
	ChainEntry
	health *healthTracker
}

// Status is a point-in-time health view of one chain entry.
type Status struct {
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Model     string `json:"model"`
	State     string `json:"state"`
	Available bool   `json:"available"`
	Failures  int    `json:"failures"`
}

// ChainOption configures optional Chain behavior.
type ChainOption func(*Chain)

// WithLogger injects a structured logger into the Chain.
func WithLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// Chain routes requests by role and fails over across providers.
// Use For to obtain a Provider bound to one role.
type Chain struct {
	entries []chainEntry
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChain creates a chain from the given entries.
func NewChain(entries []ChainEntry, opts ...ChainOption) (*Chain, error) {
	if len(entries) == 0 {
		return nil, ErrNoProvider
	}

	c := &Chain{entries: make([]chainEntry, len(entries))}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	for i, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("%w: entry %q has nil provider", ErrNoProvider, e.Name)
		}
		c.entries[i] = chainEntry{ChainEntry: e, health: newHealthTracker(e.Health)}

		name, logger := e.Name, c.logger
		c.entries[i].health.onStateChange = func(from, to healthState) {
			switch to {
			case stateCooldown:
				logger.Warn("provider: entered cooldown", "provider", name)
			case stateDead:
				logger.Error("provider: marked dead", "provider", name)
			case stateHealthy:
				logger.Info("provider: revived", "provider", name, "previous_state", from.String())
			}
		}
	}

	return c, nil
}

// Start launches the background health probe loop.
func (c *Chain) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.runHealthChecks(ctx, c.minCheckInterval())
	return nil
}

// Stop cancels the background health probe loop.
func (c *Chain) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}

// Complete sends req to the best available provider for role, failing over
// on retryable errors.
func (c *Chain) Complete(ctx context.Context, role Role, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error
	for _, e := range c.candidates(role) {
		if err := ctx.Err(); err != nil {
			return CompletionResponse{}, err
		}
		if !e.health.IsAvailable() {
			continue
		}

		resp, err := e.Provider.Complete(ctx, req)
		if err == nil {
			e.health.RecordSuccess()
			return resp, nil
		}
		if !IsRetryable(err) {
			return CompletionResponse{}, err
		}

		lastErr = err
		e.health.RecordFailure()
		c.logger.Warn("provider: failed, failing over", "provider", e.Name, "role", role, "error", err)
	}
	return CompletionResponse{}, c.exhausted(role, lastErr)
}

// Stream opens a stream on the best available provider for role, failing
// over on retryable connection errors.
func (c *Chain) Stream(ctx context.Context, role Role, req CompletionRequest) (<-chan StreamChunk, error) {
	var lastErr error
	for _, e := range c.candidates(role) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.health.IsAvailable() {
			continue
		}

		ch, err := e.Provider.Stream(ctx, req)
		if err == nil {
			return c.wrapStream(ch, e), nil
		}
		if !IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		e.health.RecordFailure()
		c.logger.Warn("provider: stream failed, failing over", "provider", e.Name, "role", role, "error", err)
	}
	return nil, c.exhausted(role, lastErr)
}

// For returns a Provider that routes every call through the chain for role.
func (c *Chain) For(role Role) Provider {
	return &roleProvider{chain: c, role: role}
}

// HealthReport returns the health of every entry in configuration order.
func (c *Chain) HealthReport() []Status {
	out := make([]Status, 0, len(c.entries))
	for i := range c.entries {
		e := &c.entries[i]
		state, failures, _ := e.health.snapshot()
		out = append(out, Status{
			Name:      e.Name,
			Role:      e.Role,
			Model:     e.Provider.ModelName(),
			State:     state.String(),
			Available: e.health.IsAvailable(),
			Failures:  failures,
		})
	}
	return out
}

func (c *Chain) exhausted(role Role, lastErr error) error {
	if lastErr != nil {
		c.logger.Error("provider: all providers exhausted", "role", role, "last_error", lastErr)
		return fmt.Errorf("%w: last error: %w", ErrAllProviders, lastErr)
	}
	if len(c.candidates(role)) == 0 {
		return fmt.Errorf("%w for role %q", ErrNoProvider, role)
	}
	return fmt.Errorf("%w for role %q: all candidates unavailable", ErrAllProviders, role)
}

// wrapStream defers the health verdict until the stream completes.
func (c *Chain) wrapStream(src <-chan StreamChunk, e *chainEntry) <-chan StreamChunk {
	out := make(chan StreamChunk, cap(src))
	go func() {
		defer close(out)
		failed := false
		for chunk := range src {
			if chunk.Err != nil && IsRetryable(chunk.Err) {
				failed = true
			}
			out <- chunk
		}
		if failed {
			e.health.RecordFailure()
			return
		}
		e.health.RecordSuccess()
	}()
	return out
}

// candidates returns entries serving role, direct matches first.
func (c *Chain) candidates(role Role) []*chainEntry {
	var direct, fallbacks []*chainEntry
	for i := range c.entries {
		e := &c.entries[i]
		switch {
		case e.Role == role:
			direct = append(direct, e)
		case e.Role == RoleFallback && (len(e.FallbackFor) == 0 || slices.Contains(e.FallbackFor, role)):
			fallbacks = append(fallbacks, e)
		}
	}
	return append(direct, fallbacks...)
}

func (c *Chain) minCheckInterval() time.Duration {
	interval := 10 * time.Second
	for i := range c.entries {
		if d := c.entries[i].Health.CheckInterval; d > 0 && d < interval {
			interval = d
		}
	}
	return interval
}

func (c *Chain) runHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := range c.entries {
				e := &c.entries[i]
				if !e.health.ShouldHealthCheck() {
					continue
				}
				checker, ok := e.Provider.(HealthChecker)
				if !ok {
					continue
				}
				if err := checker.HealthCheck(ctx); err == nil {
					e.health.RecordSuccess()
				}
			}
		}
	}
}

// roleProvider adapts a Chain to the Provider interface for one role.
type roleProvider struct {
	chain *Chain
	role  Role
}

var _ Provider = (*roleProvider)(nil)

func (r *roleProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return r.chain.Complete(ctx, r.role, req)
}

func (r *roleProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	return r.chain.Stream(ctx, r.role, req)
}

// ContextWindowSize reports the smallest window among candidates.
func (r *roleProvider) ContextWindowSize() int {
	size := 0
	for _, e := range r.chain.candidates(r.role) {
		if w := e.Provider.ContextWindowSize(); size == 0 || w < size {
			size = w
		}
	}
	return size
}

// ModelName reports the first available candidate's model.
func (r *roleProvider) ModelName() string {
	cands := r.chain.candidates(r.role)
	for _, e := range cands {
		if e.health.IsAvailable() {
			return e.Provider.ModelName()
		}
	}
	if len(cands) > 0 {
		return cands[0].Provider.ModelName()
	}
	return ""
}
