package menu

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

// treeLockKey serialises every structural change of the menu forest.
const treeLockKey int64 = 0x6d656e75

const nodeColumns = `id, title, route, icon, permission, parent_id, sort_order, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the statements that must run inside one transaction.
type TxRepository interface {
	LockTree(ctx context.Context) error
	All(ctx context.Context) ([]Node, error)
	Insert(ctx context.Context, n Node) (Node, error)
	Update(ctx context.Context, n Node) (Node, error)
	Delete(ctx context.Context, id int64) error
	Place(ctx context.Context, plan []Placement) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a transaction; any error rolls everything back.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// All returns the flat node set in one statement, so readers see either the
// state before or after a reorder.
func (r *Repository) All(ctx context.Context) ([]Node, error) {
	return all(ctx, r.pool)
}

func (t *txRepo) LockTree(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, treeLockKey)
	return err
}

func (t *txRepo) All(ctx context.Context) ([]Node, error) {
	return all(ctx, t.tx)
}

func (t *txRepo) Insert(ctx context.Context, n Node) (Node, error) {
	rows, err := t.tx.Query(ctx,
		`INSERT INTO menu_nodes (title, route, icon, permission, parent_id, sort_order)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+nodeColumns,
		n.Title, n.Route, n.Icon, n.Permission, n.ParentID, n.Order)
	if err != nil {
		return Node{}, mapWriteError(err)
	}
	node, err := pgx.CollectExactlyOneRow(rows, scanNode)
	return node, mapWriteError(err)
}

func (t *txRepo) Update(ctx context.Context, n Node) (Node, error) {
	rows, err := t.tx.Query(ctx,
		`UPDATE menu_nodes SET title = $2, route = $3, icon = $4, permission = $5, parent_id = $6,
		        sort_order = $7, updated_at = NOW()
		 WHERE id = $1 RETURNING `+nodeColumns,
		n.ID, n.Title, n.Route, n.Icon, n.Permission, n.ParentID, n.Order)
	if err != nil {
		return Node{}, mapWriteError(err)
	}
	node, err := pgx.CollectExactlyOneRow(rows, scanNode)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	return node, mapWriteError(err)
}

// Delete removes the node; descendants follow through ON DELETE CASCADE.
func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM menu_nodes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Place applies every placement with a single statement.
func (t *txRepo) Place(ctx context.Context, plan []Placement) error {
	if len(plan) == 0 {
		return nil
	}
	ids := make([]int64, len(plan))
	parents := make([]*int64, len(plan))
	orders := make([]int32, len(plan))
	for i, p := range plan {
		ids[i] = p.ID
		parents[i] = p.ParentID
		orders[i] = int32(p.Order)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE menu_nodes m
		 SET parent_id = p.parent_id, sort_order = p.sort_order, updated_at = NOW()
		 FROM unnest($1::bigint[], $2::bigint[], $3::int[]) AS p(id, parent_id, sort_order)
		 WHERE m.id = p.id`,
		ids, parents, orders)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() != int64(len(plan)) {
		return ErrInvalidTree
	}
	return nil
}

func all(ctx context.Context, q db.Querier) ([]Node, error) {
	rows, err := q.Query(ctx, `SELECT `+nodeColumns+` FROM menu_nodes ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanNode)
}

func scanNode(row pgx.CollectableRow) (Node, error) {
	var n Node
	err := row.Scan(&n.ID, &n.Title, &n.Route, &n.Icon, &n.Permission, &n.ParentID, &n.Order, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func mapWriteError(err error) error {
	if err != nil && db.IsForeignKeyViolation(err) {
		return ErrParentNotFound
	}
	return err
}
