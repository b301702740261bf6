package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
)

// memDB is the shared state behind the in-memory repositories.
type memDB struct {
	mu        sync.RWMutex
	sets      map[string]model.RecallSet
	points    map[string]model.RecallPoint
	sessions  map[string]model.Session
	messages  map[string][]model.Message
	outcomes  map[string][]model.RecallOutcome
	tangents  map[string][]model.TangentEvent
	summaries map[string]model.SessionMetricsSummary
	snapshots map[string][]byte
}

// NewMemory returns a Store kept entirely in memory. It is safe for
// concurrent use and returns copies, never shared references.
func NewMemory() *Store {
	db := &memDB{
		sets:      make(map[string]model.RecallSet),
		points:    make(map[string]model.RecallPoint),
		sessions:  make(map[string]model.Session),
		messages:  make(map[string][]model.Message),
		outcomes:  make(map[string][]model.RecallOutcome),
		tangents:  make(map[string][]model.TangentEvent),
		summaries: make(map[string]model.SessionMetricsSummary),
		snapshots: make(map[string][]byte),
	}
	s := New(nil)
	s.Sets = memSets{db}
	s.Points = memPoints{db}
	s.Sessions = memSessions{db}
	s.Messages = memMessages{db}
	s.Outcomes = memOutcomes{db}
	s.Tangents = memTangents{db}
	s.Metrics = memMetrics{db}
	s.Snapshots = memSnapshots{db}
	return s
}

type memSets struct{ db *memDB }

func (r memSets) Create(_ context.Context, set model.RecallSet) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sets[set.ID]; ok {
		return fmt.Errorf("%w: set %s", ErrDuplicate, set.ID)
	}
	r.db.sets[set.ID] = set
	return nil
}

func (r memSets) FindByID(_ context.Context, id string) (model.RecallSet, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	set, ok := r.db.sets[id]
	if !ok {
		return model.RecallSet{}, fmt.Errorf("%w: set %s", ErrNotFound, id)
	}
	return set, nil
}

func (r memSets) List(_ context.Context) ([]model.RecallSet, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.RecallSet, 0, len(r.db.sets))
	for _, set := range r.db.sets {
		out = append(out, set)
	}
	slices.SortFunc(out, func(a, b model.RecallSet) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

type memPoints struct{ db *memDB }

func (r memPoints) Create(_ context.Context, p model.RecallPoint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.points[p.ID]; ok {
		return fmt.Errorf("%w: point %s", ErrDuplicate, p.ID)
	}
	r.db.points[p.ID] = p.Clone()
	return nil
}

func (r memPoints) FindByID(_ context.Context, id string) (model.RecallPoint, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.points[id]
	if !ok {
		return model.RecallPoint{}, fmt.Errorf("%w: point %s", ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (r memPoints) FindBySet(_ context.Context, setID string) ([]model.RecallPoint, error) {
	return r.filter(setID, func(model.RecallPoint) bool { return true }, byCreated), nil
}

func (r memPoints) FindDue(_ context.Context, setID string, asOf time.Time) ([]model.RecallPoint, error) {
	due := func(p model.RecallPoint) bool { return !p.State.Due.After(asOf) }
	return r.filter(setID, due, byDue), nil
}

func (r memPoints) UpdateMemoryState(_ context.Context, p model.RecallPoint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.points[p.ID]
	if !ok {
		return fmt.Errorf("%w: point %s", ErrNotFound, p.ID)
	}
	p = p.Clone()
	cur.State = p.State
	cur.History = p.History
	r.db.points[p.ID] = cur
	return nil
}

func (r memPoints) CountDue(_ context.Context, asOf time.Time) (map[string]int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make(map[string]int)
	for _, p := range r.db.points {
		if !p.State.Due.After(asOf) {
			out[p.SetID]++
		}
	}
	return out, nil
}

func (r memPoints) filter(setID string, keep func(model.RecallPoint) bool, order func(a, b model.RecallPoint) int) []model.RecallPoint {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []model.RecallPoint
	for _, p := range r.db.points {
		if p.SetID == setID && keep(p) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, order)
	return out
}

func byCreated(a, b model.RecallPoint) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func byDue(a, b model.RecallPoint) int {
	return cmp.Or(a.State.Due.Compare(b.State.Due), byCreated(a, b))
}

type memSessions struct{ db *memDB }

func (r memSessions) Create(_ context.Context, s model.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sessions[s.ID]; ok {
		return fmt.Errorf("%w: session %s", ErrDuplicate, s.ID)
	}
	r.db.sessions[s.ID] = s.Clone()
	return nil
}

func (r memSessions) FindByID(_ context.Context, id string) (model.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (r memSessions) FindResumable(_ context.Context, setID string) (model.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var best *model.Session
	for _, s := range r.db.sessions {
		if s.SetID != setID || s.Status.Terminal() {
			continue
		}
		if best == nil || s.StartedAt.After(best.StartedAt) {
			s := s
			best = &s
		}
	}
	if best == nil {
		return model.Session{}, fmt.Errorf("%w: resumable session for set %s", ErrNotFound, setID)
	}
	return best.Clone(), nil
}

func (r memSessions) Update(_ context.Context, s model.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sessions[s.ID]; !ok {
		return fmt.Errorf("%w: session %s", ErrNotFound, s.ID)
	}
	r.db.sessions[s.ID] = s.Clone()
	return nil
}

func (r memSessions) ListByStatus(_ context.Context, status model.SessionStatus, olderThan time.Time) ([]model.Session, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []model.Session
	for _, s := range r.db.sessions {
		if s.Status != status {
			continue
		}
		if !olderThan.IsZero() && !s.UpdatedAt.Before(olderThan) {
			continue
		}
		out = append(out, s.Clone())
	}
	slices.SortFunc(out, func(a, b model.Session) int { return a.StartedAt.Compare(b.StartedAt) })
	return out, nil
}

type memMessages struct{ db *memDB }

func (r memMessages) Create(_ context.Context, m model.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.messages[m.SessionID] = append(r.db.messages[m.SessionID], m)
	return nil
}

func (r memMessages) FindBySession(_ context.Context, sessionID string) ([]model.Message, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return slices.Clone(r.db.messages[sessionID]), nil
}

type memOutcomes struct{ db *memDB }

func (r memOutcomes) Create(_ context.Context, o model.RecallOutcome) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	list := r.db.outcomes[o.SessionID]
	if i := slices.IndexFunc(list, func(x model.RecallOutcome) bool { return x.ID == o.ID }); i >= 0 {
		list[i] = o
		return nil
	}
	r.db.outcomes[o.SessionID] = append(list, o)
	return nil
}

func (r memOutcomes) FindBySession(_ context.Context, sessionID string) ([]model.RecallOutcome, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return slices.Clone(r.db.outcomes[sessionID]), nil
}

type memTangents struct{ db *memDB }

func (r memTangents) Save(_ context.Context, e model.TangentEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	events := r.db.tangents[e.SessionID]
	for i := range events {
		if events[i].ID == e.ID {
			events[i] = e.Clone()
			return nil
		}
	}
	r.db.tangents[e.SessionID] = append(events, e.Clone())
	return nil
}

func (r memTangents) FindBySession(_ context.Context, sessionID string) ([]model.TangentEvent, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	events := r.db.tangents[sessionID]
	out := make([]model.TangentEvent, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out, nil
}

type memMetrics struct{ db *memDB }

func (r memMetrics) Save(_ context.Context, s model.SessionMetricsSummary) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.summaries[s.SessionID] = s
	return nil
}

func (r memMetrics) FindBySession(_ context.Context, sessionID string) (model.SessionMetricsSummary, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.summaries[sessionID]
	if !ok {
		return model.SessionMetricsSummary{}, fmt.Errorf("%w: summary for session %s", ErrNotFound, sessionID)
	}
	return s, nil
}

type memSnapshots struct{ db *memDB }

func (r memSnapshots) Save(_ context.Context, sessionID string, data []byte) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.snapshots[sessionID] = slices.Clone(data)
	return nil
}

func (r memSnapshots) Load(_ context.Context, sessionID string) ([]byte, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	data, ok := r.db.snapshots[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot for session %s", ErrNotFound, sessionID)
	}
	return slices.Clone(data), nil
}
