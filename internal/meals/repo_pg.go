package meals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var mealColumns = []string{
	"id", "user_id", "image_url", "image_key", "image_mime", "request_id",
	"description", "source", "low_confidence", "analysis", "created_at",
}

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a meal.
func (r *PGRepo) Create(ctx context.Context, meal Meal) error {
	payload, err := json.Marshal(meal.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	query, args, err := psql.Insert("meals").
		Columns(mealColumns...).
		Values(
			meal.ID,
			meal.UserID,
			meal.ImageURL,
			meal.ImageKey,
			meal.ImageMIME,
			meal.RequestID,
			meal.Description,
			meal.Source,
			meal.LowConfidence,
			payload,
			meal.CreatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, args...)
	return err
}

// GetByID returns a meal by ID.
func (r *PGRepo) GetByID(ctx context.Context, mealID string) (Meal, error) {
	query, args, err := psql.Select(mealColumns...).
		From("meals").
		Where(sq.Eq{"id": mealID}).
		Limit(1).
		ToSql()
	if err != nil {
		return Meal{}, err
	}
	meal, err := scanMeal(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Meal{}, ErrNotFound
	}
	return meal, err
}

// ListByUser returns a user's meals newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]Meal, error) {
	builder := psql.Select(mealColumns...).
		From("meals").
		Where(sq.Eq{"user_id": userID})
	if !opts.Before.IsZero() {
		builder = builder.Where(sq.Lt{"created_at": opts.Before})
	}
	query, args, err := builder.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(opts.limit())).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Meal{}
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meal)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeal(row rowScanner) (Meal, error) {
	var m Meal
	var payload []byte
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.ImageURL,
		&m.ImageKey,
		&m.ImageMIME,
		&m.RequestID,
		&m.Description,
		&m.Source,
		&m.LowConfidence,
		&payload,
		&m.CreatedAt,
	); err != nil {
		return Meal{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m.Analysis); err != nil {
			return Meal{}, fmt.Errorf("decode analysis for meal %s: %w", m.ID, err)
		}
	}
	return m, nil
}

var _ Repo = (*PGRepo)(nil)
