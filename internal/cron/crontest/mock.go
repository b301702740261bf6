// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/cron"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// LiveSet is a cron.LiveChecker over a fixed set of session ids.
type LiveSet map[string]bool

// Compile-time interface check.
var _ cron.LiveChecker = LiveSet(nil)

// IsLive implements cron.LiveChecker.
func (l LiveSet) IsLive(sessionID string) bool { return l[sessionID] }

// MockSessions is a Func-field test double for cron.SessionStore.
type MockSessions struct {
	ListByStatusFunc func(ctx context.Context, status model.SessionStatus, olderThan time.Time) ([]model.Session, error)
	UpdateFunc       func(ctx context.Context, s model.Session) error

	mu      sync.Mutex
	Updated []model.Session
}

// Compile-time interface check.
var _ cron.SessionStore = (*MockSessions)(nil)

// ListByStatus implements cron.SessionStore.
func (m *MockSessions) ListByStatus(ctx context.Context, status model.SessionStatus, olderThan time.Time) ([]model.Session, error) {
	if m.ListByStatusFunc == nil {
		return nil, nil
	}
	return m.ListByStatusFunc(ctx, status, olderThan)
}

// Update implements cron.SessionStore and records the session.
func (m *MockSessions) Update(ctx context.Context, s model.Session) error {
	m.mu.Lock()
	m.Updated = append(m.Updated, s)
	m.mu.Unlock()
	if m.UpdateFunc == nil {
		return nil
	}
	return m.UpdateFunc(ctx, s)
}
