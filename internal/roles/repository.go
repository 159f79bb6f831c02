package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

const roleColumns = `id, name, guard_name, created_at, updated_at`

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
	GetForUpdate(ctx context.Context, id int64) (rbac.Role, error)
	NameTaken(ctx context.Context, name, guard string, excludeID int64) (bool, error)
	PermissionsByIDs(ctx context.Context, guard string, ids []int64) ([]rbac.Permission, error)
	Insert(ctx context.Context, name, guard string) (rbac.Role, error)
	Update(ctx context.Context, id int64, name, guard string) (rbac.Role, error)
	ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	CountUsers(ctx context.Context, roleID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
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

// List returns every role with its permissions.
func (r *Repository) List(ctx context.Context) ([]rbac.Role, error) {
	return queryRoles(ctx, r.pool, `SELECT `+roleColumns+` FROM roles ORDER BY guard_name, name, id`)
}

// Get loads a role with its permissions.
func (r *Repository) Get(ctx context.Context, id int64) (rbac.Role, error) {
	return queryRole(ctx, r.pool, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// FindByName loads the role called name in guard.
func (r *Repository) FindByName(ctx context.Context, name, guard string) (rbac.Role, error) {
	return queryRole(ctx, r.pool, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND guard_name = $2`, name, guard)
}

// Search matches q as a case-insensitive substring of the name or guard.
func (r *Repository) Search(ctx context.Context, q string) ([]rbac.Role, error) {
	return queryRoles(ctx, r.pool,
		`SELECT `+roleColumns+` FROM roles
		 WHERE name ILIKE $1 ESCAPE '\' OR guard_name ILIKE $1 ESCAPE '\'
		 ORDER BY guard_name, name, id`,
		containsPattern(q))
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (rbac.Role, error) {
	return queryRole(ctx, t.tx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 FOR UPDATE`, id)
}

func (t *txRepo) NameTaken(ctx context.Context, name, guard string, excludeID int64) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1 AND guard_name = $2 AND id <> $3)`,
		name, guard, excludeID).Scan(&taken)
	return taken, err
}

func (t *txRepo) PermissionsByIDs(ctx context.Context, guard string, ids []int64) ([]rbac.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT id, name, guard_name, created_at, updated_at FROM permissions
		 WHERE id = ANY($1) AND guard_name = $2 ORDER BY name, id FOR SHARE`,
		ids, guard)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Permission, error) {
		var p rbac.Permission
		err := row.Scan(&p.ID, &p.Name, &p.Guard, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
}

func (t *txRepo) Insert(ctx context.Context, name, guard string) (rbac.Role, error) {
	role, err := scanOne(ctx, t.tx,
		`INSERT INTO roles (name, guard_name) VALUES ($1, $2) RETURNING `+roleColumns, name, guard)
	return role, mapWriteError(err)
}

func (t *txRepo) Update(ctx context.Context, id int64, name, guard string) (rbac.Role, error) {
	role, err := scanOne(ctx, t.tx,
		`UPDATE roles SET name = $2, guard_name = $3, updated_at = NOW() WHERE id = $1 RETURNING `+roleColumns,
		id, name, guard)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, ErrNotFound
	}
	return role, mapWriteError(err)
}

func (t *txRepo) ReplacePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if len(permissionIDs) > 0 {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id) SELECT $1, unnest($2::bigint[])`,
			roleID, permissionIDs); err != nil {
			if db.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: %v", rbac.ErrUnknownPermission, err)
			}
			return err
		}
	}
	_, err := t.tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
	return err
}

func (t *txRepo) CountUsers(ctx context.Context, roleID int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadPermissions fills the Permissions of every role in one round trip.
func LoadPermissions(ctx context.Context, q db.Querier, roles []rbac.Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, len(roles))
	index := make(map[int64][]int, len(roles))
	for i := range roles {
		ids[i] = roles[i].ID
		roles[i].Permissions = []rbac.Permission{}
		index[roles[i].ID] = append(index[roles[i].ID], i)
	}
	rows, err := q.Query(ctx,
		`SELECT rp.role_id, p.id, p.name, p.guard_name, p.created_at, p.updated_at
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ANY($1) ORDER BY p.name, p.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var p rbac.Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Guard, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		for _, i := range index[roleID] {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return rows.Err()
}

func scanRole(row pgx.CollectableRow) (rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanOne(ctx context.Context, q db.Querier, sql string, args ...any) (rbac.Role, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return rbac.Role{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanRole)
}

func queryRole(ctx context.Context, q db.Querier, sql string, args ...any) (rbac.Role, error) {
	role, err := scanOne(ctx, q, sql, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	list := []rbac.Role{role}
	if err := LoadPermissions(ctx, q, list); err != nil {
		return rbac.Role{}, err
	}
	return list[0], nil
}

func queryRoles(ctx context.Context, q db.Querier, sql string, args ...any) ([]rbac.Role, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, scanRole)
	if err != nil {
		return nil, err
	}
	if err := LoadPermissions(ctx, q, list); err != nil {
		return nil, err
	}
	return list, nil
}

func mapWriteError(err error) error {
	if err != nil && db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", rbac.ErrDuplicateName, err)
	}
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(q)) + "%"
}
