package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

const permissionColumns = `id, name, guard_name, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for permissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns every permission ordered by guard then name.
func (r *Repository) List(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY guard_name, name, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

// Get loads one permission.
func (r *Repository) Get(ctx context.Context, id int64) (rbac.Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	if err != nil {
		return rbac.Permission{}, err
	}
	perm, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Permission{}, ErrNotFound
	}
	return perm, err
}

// NameTaken reports whether name is used in guard by a permission other than excludeID.
func (r *Repository) NameTaken(ctx context.Context, name, guard string, excludeID int64) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1 AND guard_name = $2 AND id <> $3)`,
		name, guard, excludeID).Scan(&taken)
	return taken, err
}

// Insert stores a new permission.
func (r *Repository) Insert(ctx context.Context, name, guard string) (rbac.Permission, error) {
	rows, err := r.pool.Query(ctx,
		`INSERT INTO permissions (name, guard_name) VALUES ($1, $2) RETURNING `+permissionColumns,
		name, guard)
	if err != nil {
		return rbac.Permission{}, mapWriteError(err)
	}
	perm, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	return perm, mapWriteError(err)
}

// Rename updates the name of a permission.
func (r *Repository) Rename(ctx context.Context, id int64, name string) (rbac.Permission, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE permissions SET name = $2, updated_at = NOW() WHERE id = $1 RETURNING `+permissionColumns,
		id, name)
	if err != nil {
		return rbac.Permission{}, mapWriteError(err)
	}
	perm, err := pgx.CollectExactlyOneRow(rows, scanPermission)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Permission{}, ErrNotFound
	}
	return perm, mapWriteError(err)
}

// Delete removes a permission. role_permissions and user_permissions rows
// go with it through their foreign keys.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPermission(row pgx.CollectableRow) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Guard, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", rbac.ErrDuplicateName, err)
	}
	return err
}
