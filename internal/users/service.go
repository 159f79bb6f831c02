package users

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, scope Scope) ([]User, error)
	Get(ctx context.Context, id int64, scope Scope) (User, error)
	FindActiveByEmail(ctx context.Context, email string) (User, error)
}

// Service handles user business logic. It is the only place where the
// one-role-per-user rule is applied; storage keeps a many-to-many relation.
type Service struct {
	repo     RepositoryPort
	events   shared.Publisher
	hashCost int
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithHashCost overrides the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

// WithClock overrides the clock used for soft deletes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, events shared.Publisher, opts ...Option) *Service {
	s := &Service{repo: repo, events: shared.PublisherOrNop(events), hashCost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActive returns users that are not soft-deleted.
func (s *Service) ListActive(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx, ScopeActive)
}

// ListTrashed returns soft-deleted users.
func (s *Service) ListTrashed(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx, ScopeTrashed)
}

// ListAll returns every user including trashed ones.
func (s *Service) ListAll(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx, ScopeAll)
}

// Get returns a user regardless of lifecycle state.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id, ScopeAll)
}

// FindActive returns a non-deleted user with its grants.
func (s *Service) FindActive(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.Get(ctx, id, ScopeActive)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindActiveByEmail returns a non-deleted user by email.
func (s *Service) FindActiveByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.FindActiveByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Subject loads the authorization subject of an active user.
func (s *Service) Subject(ctx context.Context, id int64) (rbac.Subject, error) {
	u, err := s.FindActive(ctx, id)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create registers a user holding exactly one role.
func (s *Service) Create(ctx context.Context, input CreateInput) (User, error) {
	name, email, err := normalizeIdentity(input.Name, input.Email)
	if err != nil {
		return User{}, err
	}
	if input.Password == "" {
		return User{}, ErrPasswordRequired
	}
	if input.RoleID <= 0 {
		return User{}, rbac.ErrUnknownRole
	}
	hash, err := s.hash(input.Password)
	if err != nil {
		return User{}, err
	}
	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureEmailFree(ctx, tx, email, 0); err != nil {
			return err
		}
		if _, err := assignableRole(ctx, tx, input.RoleID); err != nil {
			return err
		}
		u, err := tx.Insert(ctx, name, email, hash)
		if err != nil {
			return err
		}
		if err := tx.ReplaceRoles(ctx, u.ID, []int64{input.RoleID}); err != nil {
			return err
		}
		created, err = tx.Load(ctx, u.ID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.publish(ctx, ActionCreated, created, map[string]any{"email": created.Email, "role_id": input.RoleID})
	return created, nil
}

// Update edits an active user. The password hash changes only when a new
// password is supplied.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (User, error) {
	name, email, err := normalizeIdentity(input.Name, input.Email)
	if err != nil {
		return User{}, err
	}
	var hash *string
	if input.Password != "" {
		h, err := s.hash(input.Password)
		if err != nil {
			return User{}, err
		}
		hash = &h
	}
	var updated User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Lock(ctx, id, ScopeActive); err != nil {
			return err
		}
		if err := ensureEmailFree(ctx, tx, email, id); err != nil {
			return err
		}
		if input.RoleID != nil {
			if _, err := assignableRole(ctx, tx, *input.RoleID); err != nil {
				return err
			}
			if err := tx.ReplaceRoles(ctx, id, []int64{*input.RoleID}); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, id, name, email, hash); err != nil {
			return err
		}
		updated, err = tx.Load(ctx, id)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.publish(ctx, ActionUpdated, updated, map[string]any{
		"email":            updated.Email,
		"password_changed": hash != nil,
	})
	return updated, nil
}

// AssignRole replaces the role set of a user with the single given role.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) (User, error) {
	var assigned User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Lock(ctx, userID, ScopeActive); err != nil {
			return err
		}
		if _, err := assignableRole(ctx, tx, roleID); err != nil {
			return err
		}
		if err := tx.ReplaceRoles(ctx, userID, []int64{roleID}); err != nil {
			return err
		}
		var err error
		assigned, err = tx.Load(ctx, userID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.publish(ctx, ActionRoleAssigned, assigned, map[string]any{"role_id": roleID})
	return assigned, nil
}

// GrantPermissions replaces the direct permissions of a user.
func (s *Service) GrantPermissions(ctx context.Context, userID int64, ids []int64) (User, error) {
	for _, id := range ids {
		if id <= 0 {
			return User{}, rbac.ErrUnknownPermission
		}
	}
	unique := rbac.UniqueIDs(ids)
	var granted User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Lock(ctx, userID, ScopeActive); err != nil {
			return err
		}
		perms, err := tx.PermissionsByIDs(ctx, rbac.DefaultGuard, unique)
		if err != nil {
			return err
		}
		if len(perms) != len(unique) {
			return rbac.ErrUnknownPermission
		}
		if err := tx.ReplacePermissions(ctx, userID, unique); err != nil {
			return err
		}
		granted, err = tx.Load(ctx, userID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	names := make([]string, 0, len(granted.Permissions))
	for _, p := range granted.Permissions {
		names = append(names, p.Name)
	}
	s.publish(ctx, ActionPermissionsGranted, granted, map[string]any{"permissions": names})
	return granted, nil
}

// SoftDelete marks an active user as deleted.
func (s *Service) SoftDelete(ctx context.Context, id int64) error {
	return s.transition(ctx, id, ScopeActive, ActionDeleted, func(ctx context.Context, tx TxRepository) error {
		at := s.now().UTC()
		return tx.SetDeletedAt(ctx, id, &at)
	})
}

// Restore clears the deletion mark of a trashed user.
func (s *Service) Restore(ctx context.Context, id int64) error {
	return s.transition(ctx, id, ScopeTrashed, ActionRestored, func(ctx context.Context, tx TxRepository) error {
		return tx.SetDeletedAt(ctx, id, nil)
	})
}

// ForceDelete removes the user row; role and permission links cascade.
func (s *Service) ForceDelete(ctx context.Context, id int64) error {
	return s.transition(ctx, id, ScopeAll, ActionForceDeleted, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
}

func (s *Service) transition(ctx context.Context, id int64, from Scope, action string, apply func(context.Context, TxRepository) error) error {
	var target User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.Lock(ctx, id, from)
		if err != nil {
			return err
		}
		target = u
		return apply(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, action, target, map[string]any{"email": target.Email})
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) publish(ctx context.Context, action string, u User, meta map[string]any) {
	s.events.Publish(ctx, shared.NewEvent(shared.EntityUser, action, u.ID, meta))
}

func normalizeIdentity(name, email string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", rbac.ErrNameRequired
	}
	email = NormalizeEmail(email)
	if email == "" {
		return "", "", shared.ErrValidation
	}
	return name, email, nil
}

func ensureEmailFree(ctx context.Context, tx TxRepository, email string, excludeID int64) error {
	taken, err := tx.EmailTaken(ctx, email, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateEmail
	}
	return nil
}

// assignableRole loads a role a user may hold. Users authenticate under the
// default guard, so roles of other guards are unknown to them.
func assignableRole(ctx context.Context, tx TxRepository, roleID int64) (rbac.Role, error) {
	if roleID <= 0 {
		return rbac.Role{}, rbac.ErrUnknownRole
	}
	role, err := tx.Role(ctx, roleID)
	if err != nil {
		return rbac.Role{}, err
	}
	if rbac.NormalizeGuard(role.Guard) != rbac.DefaultGuard {
		return rbac.Role{}, rbac.ErrUnknownRole
	}
	return role, nil
}
