// Package store defines the persistence contracts of the study service and
// an in-memory implementation. The SQLite implementation lives in
// store/sqlite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// Sentinel errors shared by every implementation.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate id")
)

// SetRepository persists recall sets.
type SetRepository interface {
	Create(ctx context.Context, set model.RecallSet) error
	FindByID(ctx context.Context, id string) (model.RecallSet, error)
	List(ctx context.Context) ([]model.RecallSet, error)
}

// PointRepository persists recall points and their memory state.
type PointRepository interface {
	Create(ctx context.Context, p model.RecallPoint) error
	FindByID(ctx context.Context, id string) (model.RecallPoint, error)
	FindBySet(ctx context.Context, setID string) ([]model.RecallPoint, error)
	// FindDue returns the points of setID due at or before asOf, ordered by
	// due date ascending.
	FindDue(ctx context.Context, setID string, asOf time.Time) ([]model.RecallPoint, error)
	// UpdateMemoryState writes p's memory state and history.
	UpdateMemoryState(ctx context.Context, p model.RecallPoint) error
	// CountDue returns the number of due points per set id.
	CountDue(ctx context.Context, asOf time.Time) (map[string]int, error)
}

// SessionRepository persists study sessions.
type SessionRepository interface {
	Create(ctx context.Context, s model.Session) error
	FindByID(ctx context.Context, id string) (model.Session, error)
	// FindResumable returns the most recent in_progress or paused session
	// of setID, or ErrNotFound.
	FindResumable(ctx context.Context, setID string) (model.Session, error)
	Update(ctx context.Context, s model.Session) error
	// ListByStatus returns sessions with status last updated before
	// olderThan. A zero olderThan matches every session.
	ListByStatus(ctx context.Context, status model.SessionStatus, olderThan time.Time) ([]model.Session, error)
}

// MessageRepository persists the conversation transcript.
type MessageRepository interface {
	Create(ctx context.Context, m model.Message) error
	// FindBySession returns messages in creation order.
	FindBySession(ctx context.Context, sessionID string) ([]model.Message, error)
}

// OutcomeRepository persists resolved recall outcomes. Create replaces an
// existing outcome with the same id.
type OutcomeRepository interface {
	Create(ctx context.Context, o model.RecallOutcome) error
	FindBySession(ctx context.Context, sessionID string) ([]model.RecallOutcome, error)
}

// TangentRepository persists tangent events. Save inserts or replaces.
type TangentRepository interface {
	Save(ctx context.Context, e model.TangentEvent) error
	FindBySession(ctx context.Context, sessionID string) ([]model.TangentEvent, error)
}

// MetricsRepository persists finalized session summaries.
type MetricsRepository interface {
	Save(ctx context.Context, s model.SessionMetricsSummary) error
	FindBySession(ctx context.Context, sessionID string) (model.SessionMetricsSummary, error)
}

// SnapshotRepository persists opaque per-session state for resume.
type SnapshotRepository interface {
	Save(ctx context.Context, sessionID string, data []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
}

// Store bundles every repository over one backend.
type Store struct {
	Sets      SetRepository
	Points    PointRepository
	Sessions  SessionRepository
	Messages  MessageRepository
	Outcomes  OutcomeRepository
	Tangents  TangentRepository
	Metrics   MetricsRepository
	Snapshots SnapshotRepository

	closer func() error
}

// New assembles a Store. closer may be nil.
func New(closer func() error) *Store {
	return &Store{closer: closer}
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
