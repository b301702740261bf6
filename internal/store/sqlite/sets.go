package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

var _ store.SetRepository = sets{}

type sets struct{ db *sql.DB }

func (r sets) Create(ctx context.Context, set model.RecallSet) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recall_sets (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		set.ID, set.Name, set.Description, formatTime(set.CreatedAt))
	return classify(err, "set "+set.ID)
}

func (r sets) FindByID(ctx context.Context, id string) (model.RecallSet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM recall_sets WHERE id = ?`, id)
	set, err := scanSet(row)
	if err != nil {
		return model.RecallSet{}, classify(err, "set "+id)
	}
	return set, nil
}

func (r sets) List(ctx context.Context) ([]model.RecallSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM recall_sets ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.RecallSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan set: %w", err)
		}
		out = append(out, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list sets rows: %w", err)
	}
	return out, nil
}

func scanSet(s rowScanner) (model.RecallSet, error) {
	var set model.RecallSet
	var created string
	if err := s.Scan(&set.ID, &set.Name, &set.Description, &created); err != nil {
		return model.RecallSet{}, err
	}
	t, err := parseTime(created)
	if err != nil {
		return model.RecallSet{}, err
	}
	set.CreatedAt = t
	return set, nil
}
