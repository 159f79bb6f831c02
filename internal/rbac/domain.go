package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// DefaultGuard is the authorization partition used by back-office users.
const DefaultGuard = "web"

var (
	// ErrDuplicateName indicates a role or permission name already used in the guard.
	ErrDuplicateName = fmt.Errorf("rbac: name already taken in guard: %w", shared.ErrDuplicate)
	// ErrUnknownPermission indicates a permission id that does not exist in the guard.
	ErrUnknownPermission = fmt.Errorf("rbac: unknown permission: %w", shared.ErrInvalidReference)
	// ErrUnknownRole indicates a role id that does not exist in the guard.
	ErrUnknownRole = fmt.Errorf("rbac: unknown role: %w", shared.ErrInvalidReference)
	// ErrNameRequired indicates an empty role or permission name.
	ErrNameRequired = fmt.Errorf("rbac: name required: %w", shared.ErrValidation)
)

// Permission represents an atomic capability.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Guard       string       `json:"guard_name"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PermissionNames lists the names of the role's permissions.
func (r Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// Subject describes the authenticated actor whose grants are resolved.
// Implementations must tolerate nil receivers and report SubjectID 0 for
// guests.
type Subject interface {
	SubjectID() int64
	GuardName() string
	AssignedRoles() []Role
	DirectPermissions() []Permission
}

// NormalizeGuard trims the guard and falls back to DefaultGuard.
func NormalizeGuard(guard string) string {
	guard = strings.TrimSpace(guard)
	if guard == "" {
		return DefaultGuard
	}
	return guard
}

// NormalizeName trims a role or permission name and rejects empty values.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	return name, nil
}

// UniqueIDs drops duplicates and non-positive ids, keeping first-seen order.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
