package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

// Interface guards.
var (
	_ store.MessageRepository  = messages{}
	_ store.OutcomeRepository  = outcomes{}
	_ store.TangentRepository  = tangents{}
	_ store.MetricsRepository  = summaries{}
	_ store.SnapshotRepository = snapshots{}
)

type messages struct{ db *sql.DB }

func (r messages) Create(ctx context.Context, m model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, m.TokenCount, formatTime(m.Timestamp))
	return classify(err, "message "+m.ID)
}

func (r messages) FindBySession(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, token_count, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		var role, created string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.TokenCount, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		m.Role = model.MessageRole(role)
		if m.Timestamp, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: find messages rows: %w", err)
	}
	return out, nil
}

type outcomes struct{ db *sql.DB }

func (r outcomes) Create(ctx context.Context, o model.RecallOutcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recall_outcomes (id, session_id, point_id, success, confidence, rating, reasoning, forced, start_index, end_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			success = excluded.success, confidence = excluded.confidence, rating = excluded.rating,
			reasoning = excluded.reasoning, forced = excluded.forced,
			start_index = excluded.start_index, end_index = excluded.end_index`,
		o.ID, o.SessionID, o.PointID, boolInt(o.Success), o.Confidence, o.Rating.String(),
		o.Reasoning, boolInt(o.Forced), o.StartIndex, o.EndIndex, formatTime(o.CreatedAt))
	return classify(err, "outcome "+o.ID)
}

func (r outcomes) FindBySession(ctx context.Context, sessionID string) ([]model.RecallOutcome, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, point_id, success, confidence, rating, reasoning, forced, start_index, end_index, created_at
		FROM recall_outcomes WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RecallOutcome
	for rows.Next() {
		var o model.RecallOutcome
		var success, forced int
		var rating, created string
		if err := rows.Scan(&o.ID, &o.SessionID, &o.PointID, &success, &o.Confidence, &rating,
			&o.Reasoning, &forced, &o.StartIndex, &o.EndIndex, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan outcome: %w", err)
		}
		o.Success = success != 0
		o.Forced = forced != 0
		if o.Rating, err = model.ParseRating(rating); err != nil {
			return nil, fmt.Errorf("sqlite: outcome %s: %w", o.ID, err)
		}
		if o.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: find outcomes rows: %w", err)
	}
	return out, nil
}

type tangents struct{ db *sql.DB }

func (r tangents) Save(ctx context.Context, e model.TangentEvent) error {
	related, err := encodeJSON(nonNilStrings(e.RelatedPointIDs))
	if err != nil {
		return err
	}
	var ret sql.NullInt64
	if e.ReturnIndex != nil {
		ret = sql.NullInt64{Int64: int64(*e.ReturnIndex), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tangent_events (id, session_id, topic, trigger_index, return_index, depth, related_point_ids, learner_initiated, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			topic = excluded.topic,
			return_index = excluded.return_index,
			depth = excluded.depth,
			related_point_ids = excluded.related_point_ids,
			status = excluded.status`,
		e.ID, e.SessionID, e.Topic, e.TriggerIndex, ret, e.Depth, related, boolInt(e.LearnerInitiated), string(e.Status))
	return classify(err, "tangent "+e.ID)
}

func (r tangents) FindBySession(ctx context.Context, sessionID string) ([]model.TangentEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, topic, trigger_index, return_index, depth, related_point_ids, learner_initiated, status
		FROM tangent_events WHERE session_id = ? ORDER BY trigger_index, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find tangents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.TangentEvent
	for rows.Next() {
		var e model.TangentEvent
		var ret sql.NullInt64
		var related, status string
		var learner int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Topic, &e.TriggerIndex, &ret, &e.Depth, &related, &learner, &status); err != nil {
			return nil, fmt.Errorf("sqlite: scan tangent: %w", err)
		}
		if ret.Valid {
			idx := int(ret.Int64)
			e.ReturnIndex = &idx
		}
		if err := decodeJSON(related, &e.RelatedPointIDs); err != nil {
			return nil, err
		}
		if len(e.RelatedPointIDs) == 0 {
			e.RelatedPointIDs = nil
		}
		e.LearnerInitiated = learner != 0
		e.Status = model.TangentStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: find tangents rows: %w", err)
	}
	return out, nil
}

type summaries struct{ db *sql.DB }

func (r summaries) Save(ctx context.Context, s model.SessionMetricsSummary) error {
	data, err := encodeJSON(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_summaries (session_id, summary) VALUES (?, ?)`, s.SessionID, data)
	return classify(err, "summary "+s.SessionID)
}

func (r summaries) FindBySession(ctx context.Context, sessionID string) (model.SessionMetricsSummary, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT summary FROM session_summaries WHERE session_id = ?`, sessionID).Scan(&data)
	if err != nil {
		return model.SessionMetricsSummary{}, classify(err, "summary for session "+sessionID)
	}
	var s model.SessionMetricsSummary
	if err := decodeJSON(data, &s); err != nil {
		return model.SessionMetricsSummary{}, err
	}
	return s, nil
}

type snapshots struct{ db *sql.DB }

func (r snapshots) Save(ctx context.Context, sessionID string, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, data, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sessionID, data)
	return classify(err, "snapshot "+sessionID)
}

func (r snapshots) Load(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM session_snapshots WHERE session_id = ?`, sessionID).Scan(&data)
	if err != nil {
		return nil, classify(err, "snapshot for session "+sessionID)
	}
	return data, nil
}
