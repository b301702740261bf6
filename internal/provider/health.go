package provider

import (
	"sync"
	"time"
)

// healthState is the availability state of a chain entry.
type healthState int

const (
	stateHealthy  healthState = iota
	stateCooldown             // transient failure, backing off
	stateDead                 // too many consecutive failures
)

// String returns a human-readable label for the health state.
func (s healthState) String() string {
	switch s {
	case stateHealthy:
		return "healthy"
	case stateCooldown:
		return "cooldown"
	case stateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// HealthConfig controls health tracking behavior.
type HealthConfig struct {
	// InitialBackoff is the cooldown after the first failure. Default: 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff. Default: 60s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxFailures is the number of consecutive failures before the entry
	// is marked dead. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// CheckInterval is how often dead or cooled-down entries are probed.
	// Default: 10s.
	CheckInterval time.Duration `yaml:"check_interval"`
}

func (c *HealthConfig) defaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
}

// healthTracker applies exponential backoff on failures and marks the
// entry dead after MaxFailures consecutive failures.
type healthTracker struct {
	cfg HealthConfig

	// onStateChange is called outside the lock on every state transition.
	onStateChange func(from, to healthState)

	mu              sync.Mutex
	state           healthState
	failures        int
	backoff         time.Duration
	cooldownExpires time.Time

	now func() time.Time
}

func newHealthTracker(cfg HealthConfig) *healthTracker {
	cfg.defaults()
	return &healthTracker{cfg: cfg, now: time.Now}
}

// IsAvailable reports whether the entry can accept requests.
func (h *healthTracker) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case stateHealthy:
		return true
	case stateCooldown:
		return !h.now().Before(h.cooldownExpires)
	default:
		return false
	}
}

// RecordSuccess resets the tracker to healthy.
func (h *healthTracker) RecordSuccess() {
	h.mu.Lock()
	prev := h.state
	h.state, h.failures, h.backoff = stateHealthy, 0, 0
	h.mu.Unlock()

	h.notify(prev, stateHealthy)
}

// RecordFailure moves the tracker to cooldown, or dead after MaxFailures.
func (h *healthTracker) RecordFailure() {
	h.mu.Lock()
	prev := h.state
	h.failures++
	if h.failures >= h.cfg.MaxFailures {
		h.state = stateDead
	} else {
		h.state = stateCooldown
		h.backoff = min(max(h.backoff*2, h.cfg.InitialBackoff), h.cfg.MaxBackoff)
		h.cooldownExpires = h.now().Add(h.backoff)
	}
	next := h.state
	h.mu.Unlock()

	h.notify(prev, next)
}

// ShouldHealthCheck reports whether the entry needs an active probe.
func (h *healthTracker) ShouldHealthCheck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case stateDead:
		return true
	case stateCooldown:
		return !h.now().Before(h.cooldownExpires)
	default:
		return false
	}
}

func (h *healthTracker) snapshot() (healthState, int, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.failures, h.backoff
}

func (h *healthTracker) notify(from, to healthState) {
	if from != to && h.onStateChange != nil {
		h.onStateChange(from, to)
	}
}
