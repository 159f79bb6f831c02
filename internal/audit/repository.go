package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

// Repository provides read access to audit_logs.
type Repository interface {
	Window(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

// PgRepository reads audit_logs through pgx.
type PgRepository struct {
	db db.Querier
}

// NewRepository constructs a PgRepository.
func NewRepository(q db.Querier) *PgRepository {
	return &PgRepository{db: q}
}

const timelineSQL = `SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
  AND ($6::text IS NULL OR entity_id = $6)
ORDER BY occurred_at DESC, id DESC
OFFSET $7
LIMIT $8`

// Window returns rows matching params, newest first. A non-positive Limit
// returns every matching row.
func (r *PgRepository) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	var limit *int
	if params.Limit > 0 {
		limit = &params.Limit
	}
	rows, err := r.db.Query(ctx, timelineSQL,
		params.From, params.To, params.ActorID,
		params.Entity, params.Action, params.EntityID,
		params.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var t TimelineRow
		err := row.Scan(&t.ID, &t.At, &t.ActorID, &t.Action, &t.Entity, &t.EntityID, &t.Meta)
		return t, err
	})
}
