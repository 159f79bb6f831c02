package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/roles"
)

const userColumns = `id, name, email, password_hash, deleted_at, created_at, updated_at`

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
	Lock(ctx context.Context, id int64, scope Scope) (User, error)
	Load(ctx context.Context, id int64) (User, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	Role(ctx context.Context, id int64) (rbac.Role, error)
	PermissionsByIDs(ctx context.Context, guard string, ids []int64) ([]rbac.Permission, error)
	Insert(ctx context.Context, name, email, passwordHash string) (User, error)
	Update(ctx context.Context, id int64, name, email string, passwordHash *string) error
	ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error
	ReplacePermissions(ctx context.Context, userID int64, permissionIDs []int64) error
	SetDeletedAt(ctx context.Context, id int64, at *time.Time) error
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

// List returns users in scope with roles and permissions eager-loaded.
func (r *Repository) List(ctx context.Context, scope Scope) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE `+scopeClause(scope)+` ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, r.pool, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get loads one user in scope.
func (r *Repository) Get(ctx context.Context, id int64, scope Scope) (User, error) {
	return queryUser(ctx, r.pool, `SELECT `+userColumns+` FROM users WHERE id = $1 AND `+scopeClause(scope), id)
}

// FindActiveByEmail loads a non-deleted user by email for authentication.
func (r *Repository) FindActiveByEmail(ctx context.Context, email string) (User, error) {
	return queryUser(ctx, r.pool,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`, email)
}

func (t *txRepo) Lock(ctx context.Context, id int64, scope Scope) (User, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND `+scopeClause(scope)+` FOR UPDATE`, id)
	if err != nil {
		return User{}, err
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (t *txRepo) Load(ctx context.Context, id int64) (User, error) {
	return queryUser(ctx, t.tx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (t *txRepo) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1) AND id <> $2)`,
		email, excludeID).Scan(&taken)
	return taken, err
}

func (t *txRepo) Role(ctx context.Context, id int64) (rbac.Role, error) {
	var role rbac.Role
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, guard_name, created_at, updated_at FROM roles WHERE id = $1 FOR SHARE`, id).
		Scan(&role.ID, &role.Name, &role.Guard, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, rbac.ErrUnknownRole
	}
	return role, err
}

func (t *txRepo) PermissionsByIDs(ctx context.Context, guard string, ids []int64) ([]rbac.Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT id, name, guard_name, created_at, updated_at FROM permissions
		 WHERE id = ANY($1) AND guard_name = $2 ORDER BY name, id FOR SHARE`, ids, guard)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanPermission)
}

func (t *txRepo) Insert(ctx context.Context, name, email, passwordHash string) (User, error) {
	rows, err := t.tx.Query(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING `+userColumns,
		name, email, passwordHash)
	if err != nil {
		return User{}, mapWriteError(err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	return u, mapWriteError(err)
}

func (t *txRepo) Update(ctx context.Context, id int64, name, email string, passwordHash *string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE users SET name = $2, email = $3, password_hash = COALESCE($4, password_hash), updated_at = NOW()
		 WHERE id = $1`,
		id, name, email, passwordHash)
	return mapWriteError(err)
}

func (t *txRepo) ReplaceRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) SELECT $1, unnest($2::bigint[])`, userID, roleIDs)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: %v", rbac.ErrUnknownRole, err)
	}
	return err
}

func (t *txRepo) ReplacePermissions(ctx context.Context, userID int64, permissionIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_permissions (user_id, permission_id) SELECT $1, unnest($2::bigint[])`, userID, permissionIDs)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: %v", rbac.ErrUnknownPermission, err)
	}
	return err
}

func (t *txRepo) SetDeletedAt(ctx context.Context, id int64, at *time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET deleted_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func (t *txRepo) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scopeClause(scope Scope) string {
	switch scope {
	case ScopeTrashed:
		return "deleted_at IS NOT NULL"
	case ScopeAll:
		return "TRUE"
	default:
		return "deleted_at IS NULL"
	}
}

func queryUser(ctx context.Context, q db.Querier, sql string, args ...any) (User, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return User{}, err
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	list := []User{u}
	if err := hydrate(ctx, q, list); err != nil {
		return User{}, err
	}
	return list[0], nil
}

// hydrate loads roles, role permissions and direct permissions for list.
func hydrate(ctx context.Context, q db.Querier, list []User) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	index := make(map[int64]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		index[list[i].ID] = i
		list[i].Roles = []rbac.Role{}
		list[i].Permissions = []rbac.Permission{}
	}

	rows, err := q.Query(ctx,
		`SELECT ur.user_id, r.id, r.name, r.guard_name, r.created_at, r.updated_at
		 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = ANY($1) ORDER BY r.id`, ids)
	if err != nil {
		return err
	}
	type assignment struct {
		user int
		role rbac.Role
	}
	var assignments []assignment
	var allRoles []rbac.Role
	for rows.Next() {
		var userID int64
		var role rbac.Role
		if err := rows.Scan(&userID, &role.ID, &role.Name, &role.Guard, &role.CreatedAt, &role.UpdatedAt); err != nil {
			rows.Close()
			return err
		}
		assignments = append(assignments, assignment{user: index[userID], role: role})
		allRoles = append(allRoles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if err := roles.LoadPermissions(ctx, q, allRoles); err != nil {
		return err
	}
	for i, a := range assignments {
		list[a.user].Roles = append(list[a.user].Roles, allRoles[i])
	}

	rows, err = q.Query(ctx,
		`SELECT up.user_id, p.id, p.name, p.guard_name, p.created_at, p.updated_at
		 FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
		 WHERE up.user_id = ANY($1) ORDER BY p.name, p.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var userID int64
		var p rbac.Permission
		if err := rows.Scan(&userID, &p.ID, &p.Name, &p.Guard, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		list[index[userID]].Permissions = append(list[index[userID]].Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range list {
		list[i].deriveRoleID()
	}
	return nil
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanPermission(row pgx.CollectableRow) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Guard, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func mapWriteError(err error) error {
	if err != nil && db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateEmail, err)
	}
	return err
}
