package settings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists settings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns every setting ordered by key.
func (r *Repository) List(ctx context.Context) ([]Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSetting)
}

// Get loads one setting.
func (r *Repository) Get(ctx context.Context, key string) (Setting, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value, updated_at FROM settings WHERE key = $1`, key)
	if err != nil {
		return Setting{}, err
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSetting)
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, ErrNotFound
	}
	return s, err
}

// Upsert stores value under key, replacing any previous value.
func (r *Repository) Upsert(ctx context.Context, key string, value []byte) (Setting, error) {
	rows, err := r.pool.Query(ctx, `INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
RETURNING key, value, updated_at`, key, value)
	if err != nil {
		return Setting{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanSetting)
}

// Delete removes key.
func (r *Repository) Delete(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSetting(row pgx.CollectableRow) (Setting, error) {
	var s Setting
	var raw []byte
	if err := row.Scan(&s.Key, &raw, &s.UpdatedAt); err != nil {
		return Setting{}, err
	}
	s.Value = raw
	return s, nil
}
