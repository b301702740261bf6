package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

var _ store.SessionRepository = sessions{}

type sessions struct{ db *sql.DB }

const sessionColumns = `id, set_id, target_point_ids, status, started_at, ended_at, updated_at, recalled_point_ids, active_tangent_id`

func (r sessions) Create(ctx context.Context, s model.Session) error {
	targets, recalled, err := sessionLists(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SetID, targets, string(s.Status), formatTime(s.StartedAt),
		formatTimePtr(s.EndedAt), formatTime(s.UpdatedAt), recalled, s.ActiveTangentID)
	return classify(err, "session "+s.ID)
}

func (r sessions) FindByID(ctx context.Context, id string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		return model.Session{}, classify(err, "session "+id)
	}
	return s, nil
}

func (r sessions) FindResumable(ctx context.Context, setID string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE set_id = ? AND status IN (?, ?)
		ORDER BY started_at DESC
		LIMIT 1`,
		setID, string(model.StatusInProgress), string(model.StatusPaused))
	s, err := scanSession(row)
	if err != nil {
		return model.Session{}, classify(err, "resumable session for set "+setID)
	}
	return s, nil
}

func (r sessions) Update(ctx context.Context, s model.Session) error {
	targets, recalled, err := sessionLists(s)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET target_point_ids = ?, status = ?, ended_at = ?, updated_at = ?, recalled_point_ids = ?, active_tangent_id = ?
		WHERE id = ?`,
		targets, string(s.Status), formatTimePtr(s.EndedAt), formatTime(s.UpdatedAt),
		recalled, s.ActiveTangentID, s.ID)
	if err != nil {
		return fmt.Errorf("sqlite: update session %s: %w", s.ID, err)
	}
	return requireAffected(res, "session "+s.ID)
}

func (r sessions) ListByStatus(ctx context.Context, status model.SessionStatus, olderThan time.Time) ([]model.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = ?`
	args := []any{string(status)}
	if !olderThan.IsZero() {
		q += ` AND updated_at < ?`
		args = append(args, formatTime(olderThan))
	}
	q += ` ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sessions rows: %w", err)
	}
	return out, nil
}

func sessionLists(s model.Session) (targets, recalled string, err error) {
	if targets, err = encodeJSON(nonNilStrings(s.TargetPointIDs)); err != nil {
		return "", "", err
	}
	if recalled, err = encodeJSON(nonNilStrings(s.RecalledPointIDs)); err != nil {
		return "", "", err
	}
	return targets, recalled, nil
}

func scanSession(sc rowScanner) (model.Session, error) {
	var (
		s                        model.Session
		targets, recalled        string
		status, started, updated string
		ended                    sql.NullString
	)
	if err := sc.Scan(&s.ID, &s.SetID, &targets, &status, &started, &ended, &updated, &recalled, &s.ActiveTangentID); err != nil {
		return model.Session{}, err
	}

	var err error
	s.Status = model.SessionStatus(status)
	if s.StartedAt, err = parseTime(started); err != nil {
		return model.Session{}, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Session{}, err
	}
	if s.EndedAt, err = parseTimePtr(ended); err != nil {
		return model.Session{}, err
	}
	if err := decodeJSON(targets, &s.TargetPointIDs); err != nil {
		return model.Session{}, err
	}
	if err := decodeJSON(recalled, &s.RecalledPointIDs); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
