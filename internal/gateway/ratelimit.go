package gateway

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimited is returned when a connection sends model-invoking
	// frames faster than the configured rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTooManySessions is returned when starting a session would exceed
	// the live session cap.
	ErrTooManySessions = errors.New("too many live sessions")
)

// RateLimitConfig bounds the load one gateway accepts.
type RateLimitConfig struct {
	// MaxSessions caps concurrently live sessions. Zero means the default.
	MaxSessions int `yaml:"max_sessions"`
	// MessagesPerMin caps user_message and trigger_evaluation frames per
	// connection. Zero means the default.
	MessagesPerMin int `yaml:"messages_per_min"`
}

func (c *RateLimitConfig) defaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 64
	}
	if c.MessagesPerMin <= 0 {
		c.MessagesPerMin = 30
	}
}

// limiter is a sliding window over one connection's recent frames.
type limiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	events []time.Time
	now    func() time.Time
}

func newLimiter(limit int, window time.Duration, now func() time.Time) *limiter {
	if now == nil {
		now = time.Now
	}
	return &limiter{window: window, limit: limit, now: now}
}

// Allow records an event, or returns ErrRateLimited when the window is
// full.
func (l *limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	if len(l.events) >= l.limit {
		return ErrRateLimited
	}
	l.events = append(l.events, now)
	return nil
}

// evict drops events older than the window. Events are chronological.
func (l *limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.events) && l.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.events = l.events[i:]
	}
}

// costly reports whether a frame type invokes a model.
func costly(typ string) bool {
	return typ == MsgUserMessage || typ == MsgTriggerEvaluation
}
