package roles

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context) ([]rbac.Role, error)
	Get(ctx context.Context, id int64) (rbac.Role, error)
	FindByName(ctx context.Context, name, guard string) (rbac.Role, error)
	Search(ctx context.Context, q string) ([]rbac.Role, error)
}

// Service handles role business logic.
type Service struct {
	repo   RepositoryPort
	events shared.Publisher
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, events shared.Publisher) *Service {
	return &Service{repo: repo, events: shared.PublisherOrNop(events)}
}

// List returns all roles with their permissions.
func (s *Service) List(ctx context.Context) ([]rbac.Role, error) {
	return s.repo.List(ctx)
}

// Get returns one role with its permissions.
func (s *Service) Get(ctx context.Context, id int64) (rbac.Role, error) {
	return s.repo.Get(ctx, id)
}

// FindByName looks a role up by name. An empty guard means the default guard.
func (s *Service) FindByName(ctx context.Context, name, guard string) (rbac.Role, error) {
	return s.repo.FindByName(ctx, strings.TrimSpace(name), rbac.NormalizeGuard(guard))
}

// Search returns roles whose name or guard contains q, ignoring case. An
// empty query lists every role.
func (s *Service) Search(ctx context.Context, q string) ([]rbac.Role, error) {
	if strings.TrimSpace(q) == "" {
		return s.repo.List(ctx)
	}
	return s.repo.Search(ctx, q)
}

// Create stores a role together with its initial permission set.
func (s *Service) Create(ctx context.Context, input Input) (rbac.Role, error) {
	name, err := rbac.NormalizeName(input.Name)
	if err != nil {
		return rbac.Role{}, err
	}
	guard := rbac.NormalizeGuard(input.Guard)
	var created rbac.Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureNameFree(ctx, tx, name, guard, 0); err != nil {
			return err
		}
		perms, err := resolvePermissions(ctx, tx, guard, input.PermissionIDs)
		if err != nil {
			return err
		}
		role, err := tx.Insert(ctx, name, guard)
		if err != nil {
			return err
		}
		if err := tx.ReplacePermissions(ctx, role.ID, permissionIDs(perms)); err != nil {
			return err
		}
		role.Permissions = perms
		created = role
		return nil
	})
	if err != nil {
		return rbac.Role{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityRole, ActionCreated, created.ID, map[string]any{
		"name":        created.Name,
		"guard_name":  created.Guard,
		"permissions": created.PermissionNames(),
	}))
	return created, nil
}

// Update changes the name and guard of a role and replaces its permission set.
// The guard stays fixed while any user holds the role.
func (s *Service) Update(ctx context.Context, id int64, input Input) (rbac.Role, error) {
	name, err := rbac.NormalizeName(input.Name)
	if err != nil {
		return rbac.Role{}, err
	}
	guard := rbac.NormalizeGuard(input.Guard)
	var updated rbac.Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Guard != guard {
			holders, err := tx.CountUsers(ctx, id)
			if err != nil {
				return err
			}
			if holders > 0 {
				return ErrGuardInUse
			}
		}
		if err := ensureNameFree(ctx, tx, name, guard, id); err != nil {
			return err
		}
		perms, err := resolvePermissions(ctx, tx, guard, input.PermissionIDs)
		if err != nil {
			return err
		}
		role, err := tx.Update(ctx, id, name, guard)
		if err != nil {
			return err
		}
		if err := tx.ReplacePermissions(ctx, id, permissionIDs(perms)); err != nil {
			return err
		}
		role.Permissions = perms
		updated = role
		return nil
	})
	if err != nil {
		return rbac.Role{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityRole, ActionUpdated, updated.ID, map[string]any{
		"name":        updated.Name,
		"guard_name":  updated.Guard,
		"permissions": updated.PermissionNames(),
	}))
	return updated, nil
}

// SyncPermissions replaces the permission set of a role. Either every id is
// valid and the new set is stored, or nothing changes.
func (s *Service) SyncPermissions(ctx context.Context, roleID int64, ids []int64) (rbac.Role, error) {
	var synced rbac.Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetForUpdate(ctx, roleID)
		if err != nil {
			return err
		}
		perms, err := resolvePermissions(ctx, tx, role.Guard, ids)
		if err != nil {
			return err
		}
		if err := tx.ReplacePermissions(ctx, roleID, permissionIDs(perms)); err != nil {
			return err
		}
		role.Permissions = perms
		synced = role
		return nil
	})
	if err != nil {
		return rbac.Role{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityRole, ActionPermissionsSynced, roleID, map[string]any{
		"permissions": synced.PermissionNames(),
	}))
	return synced, nil
}

// Delete removes a role. Users holding it keep their account and lose the role.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var (
		deleted  rbac.Role
		detached int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if detached, err = tx.CountUsers(ctx, id); err != nil {
			return err
		}
		deleted = role
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityRole, ActionDeleted, id, map[string]any{
		"name":           deleted.Name,
		"guard_name":     deleted.Guard,
		"users_detached": detached,
	}))
	return nil
}

func ensureNameFree(ctx context.Context, tx TxRepository, name, guard string, excludeID int64) error {
	taken, err := tx.NameTaken(ctx, name, guard, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return rbac.ErrDuplicateName
	}
	return nil
}

// resolvePermissions loads ids within guard and fails when any is missing or
// belongs to another guard.
func resolvePermissions(ctx context.Context, tx TxRepository, guard string, ids []int64) ([]rbac.Permission, error) {
	for _, id := range ids {
		if id <= 0 {
			return nil, rbac.ErrUnknownPermission
		}
	}
	unique := rbac.UniqueIDs(ids)
	if len(unique) == 0 {
		return []rbac.Permission{}, nil
	}
	perms, err := tx.PermissionsByIDs(ctx, guard, unique)
	if err != nil {
		return nil, err
	}
	if len(perms) != len(unique) {
		return nil, rbac.ErrUnknownPermission
	}
	return perms, nil
}

func permissionIDs(perms []rbac.Permission) []int64 {
	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	return ids
}
