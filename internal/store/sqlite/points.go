package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

var _ store.PointRepository = points{}

type points struct{ db *sql.DB }

const pointColumns = `id, set_id, content, context, stability, difficulty, due, reps, lapses, phase, last_review, history, created_at`

func (r points) Create(ctx context.Context, p model.RecallPoint) error {
	history, err := encodeJSON(nonNilHistory(p.History))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO recall_points (`+pointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SetID, p.Content, p.Context,
		p.State.Stability, p.State.Difficulty, formatTime(p.State.Due),
		p.State.Reps, p.State.Lapses, string(p.State.Phase), formatTimePtr(p.State.LastReview),
		history, formatTime(p.CreatedAt))
	return classify(err, "point "+p.ID)
}

func (r points) FindByID(ctx context.Context, id string) (model.RecallPoint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+pointColumns+` FROM recall_points WHERE id = ?`, id)
	p, err := scanPoint(row)
	if err != nil {
		return model.RecallPoint{}, classify(err, "point "+id)
	}
	return p, nil
}

func (r points) FindBySet(ctx context.Context, setID string) ([]model.RecallPoint, error) {
	return r.query(ctx, "find points by set",
		`SELECT `+pointColumns+` FROM recall_points WHERE set_id = ? ORDER BY created_at, id`, setID)
}

func (r points) FindDue(ctx context.Context, setID string, asOf time.Time) ([]model.RecallPoint, error) {
	return r.query(ctx, "find due points",
		`SELECT `+pointColumns+` FROM recall_points WHERE set_id = ? AND due <= ? ORDER BY due, created_at, id`,
		setID, formatTime(asOf))
}

func (r points) UpdateMemoryState(ctx context.Context, p model.RecallPoint) error {
	history, err := encodeJSON(nonNilHistory(p.History))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE recall_points
		SET stability = ?, difficulty = ?, due = ?, reps = ?, lapses = ?, phase = ?, last_review = ?, history = ?
		WHERE id = ?`,
		p.State.Stability, p.State.Difficulty, formatTime(p.State.Due),
		p.State.Reps, p.State.Lapses, string(p.State.Phase), formatTimePtr(p.State.LastReview),
		history, p.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update point %s: %w", p.ID, err)
	}
	return requireAffected(res, "point "+p.ID)
}

func (r points) CountDue(ctx context.Context, asOf time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT set_id, COUNT(*) FROM recall_points WHERE due <= ? GROUP BY set_id`, formatTime(asOf))
	if err != nil {
		return nil, fmt.Errorf("sqlite: count due: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var setID string
		var n int
		if err := rows.Scan(&setID, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scan due count: %w", err)
		}
		out[setID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: count due rows: %w", err)
	}
	return out, nil
}

func (r points) query(ctx context.Context, what, q string, args ...any) ([]model.RecallPoint, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", what, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RecallPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %s: %w", what, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s rows: %w", what, err)
	}
	return out, nil
}

func scanPoint(s rowScanner) (model.RecallPoint, error) {
	var (
		p                   model.RecallPoint
		phase, due, created string
		history             string
		lastReview          sql.NullString
	)
	if err := s.Scan(&p.ID, &p.SetID, &p.Content, &p.Context,
		&p.State.Stability, &p.State.Difficulty, &due, &p.State.Reps, &p.State.Lapses,
		&phase, &lastReview, &history, &created); err != nil {
		return model.RecallPoint{}, err
	}

	var err error
	p.State.Phase = model.Phase(phase)
	if p.State.Due, err = parseTime(due); err != nil {
		return model.RecallPoint{}, err
	}
	if p.State.LastReview, err = parseTimePtr(lastReview); err != nil {
		return model.RecallPoint{}, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.RecallPoint{}, err
	}
	if err := decodeJSON(history, &p.History); err != nil {
		return model.RecallPoint{}, err
	}
	return p, nil
}

func nonNilHistory(h []model.RecallAttempt) []model.RecallAttempt {
	if h == nil {
		return []model.RecallAttempt{}
	}
	return h
}
