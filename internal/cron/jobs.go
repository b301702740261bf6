package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Default job schedules.
const (
	DefaultDueDigestSchedule     = "0 8 * * *"
	DefaultStaleSessionsSchedule = "*/15 * * * *"
)

// DueCounter reports due points per set.
type DueCounter interface {
	CountDue(ctx context.Context, asOf time.Time) (map[string]int, error)
}

// SetLister lists recall sets.
type SetLister interface {
	List(ctx context.Context) ([]model.RecallSet, error)
}

// NewDueGauge creates the clarity_points_due gauge and registers it with reg
// when reg is non-nil.
func NewDueGauge(reg prometheus.Registerer) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clarity_points_due",
		Help: "Recall points due for review, per set.",
	}, []string{"set_id"})
	if reg != nil {
		reg.MustRegister(g)
	}
	return g
}

// DueDigestJob refreshes the due-points gauge and logs the count per set.
type DueDigestJob struct {
	Points       DueCounter
	Sets         SetLister
	Gauge        *prometheus.GaugeVec
	Logger       *slog.Logger
	Now          func() time.Time
	ScheduleExpr string // empty = DefaultDueDigestSchedule
}

// Compile-time interface check.
var _ Job = (*DueDigestJob)(nil)

// Name implements Job.
func (j *DueDigestJob) Name() string { return "due_digest" }

// Schedule implements Job.
func (j *DueDigestJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultDueDigestSchedule
}

// Run counts due points and publishes them.
func (j *DueDigestJob) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	counts, err := j.Points.CountDue(ctx, now())
	if err != nil {
		return fmt.Errorf("cron: counting due points: %w", err)
	}
	sets, err := j.Sets.List(ctx)
	if err != nil {
		return fmt.Errorf("cron: listing sets: %w", err)
	}

	if j.Gauge != nil {
		j.Gauge.Reset()
	}
	total := 0
	for _, set := range sets {
		n := counts[set.ID]
		total += n
		if j.Gauge != nil {
			j.Gauge.WithLabelValues(set.ID).Set(float64(n))
		}
		if n > 0 {
			j.Logger.Info("cron: points due", "set_id", set.ID, "set", set.Name, "due", n)
		}
	}
	j.Logger.Info("cron: due digest", "sets", len(sets), "due", total)
	return nil
}

// SessionStore is the session persistence the stale-session job needs.
type SessionStore interface {
	ListByStatus(ctx context.Context, status model.SessionStatus, olderThan time.Time) ([]model.Session, error)
	Update(ctx context.Context, s model.Session) error
}

// LiveChecker reports whether a session is held by a connected client.
type LiveChecker interface {
	IsLive(sessionID string) bool
}

// StaleSessionJob pauses in_progress sessions idle longer than StaleAfter
// that no live client holds.
type StaleSessionJob struct {
	Sessions     SessionStore
	Live         LiveChecker // nil = nothing is live
	StaleAfter   time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
	ScheduleExpr string // empty = DefaultStaleSessionsSchedule
}

// Compile-time interface check.
var _ Job = (*StaleSessionJob)(nil)

// Name implements Job.
func (j *StaleSessionJob) Name() string { return "stale_sessions" }

// Schedule implements Job.
func (j *StaleSessionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultStaleSessionsSchedule
}

// Run pauses stale sessions.
func (j *StaleSessionJob) Run(ctx context.Context) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	at := now()
	stale, err := j.Sessions.ListByStatus(ctx, model.StatusInProgress, at.Add(-j.StaleAfter))
	if err != nil {
		return fmt.Errorf("cron: listing stale sessions: %w", err)
	}

	paused := 0
	for _, sess := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j.Live != nil && j.Live.IsLive(sess.ID) {
			continue
		}
		next, err := sess.Transition(model.StatusPaused, at)
		if err != nil {
			continue
		}
		if err := j.Sessions.Update(ctx, next); err != nil {
			return fmt.Errorf("cron: pausing session %s: %w", sess.ID, err)
		}
		paused++
	}
	if paused > 0 {
		j.Logger.Info("cron: paused stale sessions", "count", paused, "stale_after", j.StaleAfter)
	}
	return nil
}
