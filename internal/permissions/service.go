package permissions

import (
	"context"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for permissions.
type RepositoryPort interface {
	List(ctx context.Context) ([]rbac.Permission, error)
	Get(ctx context.Context, id int64) (rbac.Permission, error)
	NameTaken(ctx context.Context, name, guard string, excludeID int64) (bool, error)
	Insert(ctx context.Context, name, guard string) (rbac.Permission, error)
	Rename(ctx context.Context, id int64, name string) (rbac.Permission, error)
	Delete(ctx context.Context, id int64) error
}

// Service handles permission business logic.
type Service struct {
	repo   RepositoryPort
	events shared.Publisher
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, events shared.Publisher) *Service {
	return &Service{repo: repo, events: shared.PublisherOrNop(events)}
}

// List returns all permissions.
func (s *Service) List(ctx context.Context) ([]rbac.Permission, error) {
	return s.repo.List(ctx)
}

// Get returns a single permission.
func (s *Service) Get(ctx context.Context, id int64) (rbac.Permission, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a permission unique within its guard.
func (s *Service) Create(ctx context.Context, input CreateInput) (rbac.Permission, error) {
	name, err := rbac.NormalizeName(input.Name)
	if err != nil {
		return rbac.Permission{}, err
	}
	guard := rbac.NormalizeGuard(input.Guard)
	taken, err := s.repo.NameTaken(ctx, name, guard, 0)
	if err != nil {
		return rbac.Permission{}, err
	}
	if taken {
		return rbac.Permission{}, rbac.ErrDuplicateName
	}
	perm, err := s.repo.Insert(ctx, name, guard)
	if err != nil {
		return rbac.Permission{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityPermission, ActionCreated, perm.ID, map[string]any{
		"name":       perm.Name,
		"guard_name": perm.Guard,
	}))
	return perm, nil
}

// Update renames a permission.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (rbac.Permission, error) {
	name, err := rbac.NormalizeName(input.Name)
	if err != nil {
		return rbac.Permission{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return rbac.Permission{}, err
	}
	if current.Name == name {
		return current, nil
	}
	taken, err := s.repo.NameTaken(ctx, name, current.Guard, id)
	if err != nil {
		return rbac.Permission{}, err
	}
	if taken {
		return rbac.Permission{}, rbac.ErrDuplicateName
	}
	perm, err := s.repo.Rename(ctx, id, name)
	if err != nil {
		return rbac.Permission{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityPermission, ActionUpdated, perm.ID, map[string]any{
		"name":     perm.Name,
		"previous": current.Name,
	}))
	return perm, nil
}

// Delete removes a permission and detaches it from every role and user.
func (s *Service) Delete(ctx context.Context, id int64) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityPermission, ActionDeleted, id, map[string]any{
		"name":       current.Name,
		"guard_name": current.Guard,
	}))
	return nil
}
