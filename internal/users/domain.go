package users

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

var (
	// ErrNotFound indicates the user does not exist in the requested lifecycle state.
	ErrNotFound = fmt.Errorf("users: user not found: %w", shared.ErrNotFound)
	// ErrDuplicateEmail indicates another account, active or trashed, owns the email.
	ErrDuplicateEmail = fmt.Errorf("users: email already registered: %w", shared.ErrDuplicate)
	// ErrPasswordRequired indicates a create request without password.
	ErrPasswordRequired = fmt.Errorf("users: password required: %w", shared.ErrValidation)
)

// Event actions published by the store.
const (
	ActionCreated            = "created"
	ActionUpdated            = "updated"
	ActionDeleted            = "deleted"
	ActionRestored           = "restored"
	ActionForceDeleted       = "force_deleted"
	ActionRoleAssigned       = "role_assigned"
	ActionPermissionsGranted = "permissions_granted"
)

// Scope selects users by lifecycle state.
type Scope int

const (
	// ScopeActive excludes soft-deleted users.
	ScopeActive Scope = iota
	// ScopeTrashed only returns soft-deleted users.
	ScopeTrashed
	// ScopeAll ignores deleted_at.
	ScopeAll
)

// User is a back-office account together with its grants.
type User struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Roles        []rbac.Role       `json:"roles"`
	Permissions  []rbac.Permission `json:"permissions"`
	RoleID       *int64            `json:"role_id"`
	DeletedAt    *time.Time        `json:"deleted_at"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Trashed reports whether the user is soft-deleted.
func (u *User) Trashed() bool {
	return u != nil && u.DeletedAt != nil
}

// SubjectID implements rbac.Subject. Nil users are guests.
func (u *User) SubjectID() int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

// GuardName implements rbac.Subject.
func (u *User) GuardName() string {
	return rbac.DefaultGuard
}

// AssignedRoles implements rbac.Subject.
func (u *User) AssignedRoles() []rbac.Role {
	if u == nil {
		return nil
	}
	return u.Roles
}

// DirectPermissions implements rbac.Subject.
func (u *User) DirectPermissions() []rbac.Permission {
	if u == nil {
		return nil
	}
	return u.Permissions
}

// deriveRoleID points RoleID at the authoritative role, the lowest id when
// legacy rows hold several.
func (u *User) deriveRoleID() {
	u.RoleID = nil
	if len(u.Roles) == 0 {
		return
	}
	sort.Slice(u.Roles, func(i, j int) bool { return u.Roles[i].ID < u.Roles[j].ID })
	id := u.Roles[0].ID
	u.RoleID = &id
}

// CreateInput carries the fields of a new account.
type CreateInput struct {
	Name     string `json:"name" validate:"required,max=191"`
	Email    string `json:"email" validate:"required,email,max=191"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	RoleID   int64  `json:"role_id" validate:"required,gt=0"`
}

// UpdateInput carries editable account fields. An empty Password keeps the
// stored hash; a nil RoleID keeps the current role.
type UpdateInput struct {
	Name     string `json:"name" validate:"required,max=191"`
	Email    string `json:"email" validate:"required,email,max=191"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
	RoleID   *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

// AssignRoleInput selects the single role of a user.
type AssignRoleInput struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

// GrantInput replaces the direct permission set of a user.
type GrantInput struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// NormalizeEmail trims and lower-cases an address so comparisons ignore case.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}
