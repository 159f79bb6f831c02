package roles

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// ErrNotFound indicates the role does not exist.
var ErrNotFound = fmt.Errorf("roles: role not found: %w", shared.ErrNotFound)

// ErrGuardInUse rejects moving a role to another guard while users hold it.
var ErrGuardInUse = fmt.Errorf("roles: guard cannot change while users hold the role: %w", shared.ErrConflict)

// Event actions published by the store.
const (
	ActionCreated           = "created"
	ActionUpdated           = "updated"
	ActionDeleted           = "deleted"
	ActionPermissionsSynced = "permissions_synced"
)

// Input carries the editable fields of a role. PermissionIDs replaces the
// whole permission set.
type Input struct {
	Name          string  `json:"name" validate:"required,max=191"`
	Guard         string  `json:"guard_name" validate:"omitempty,max=64"`
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

// SyncInput replaces the permission set of a role.
type SyncInput struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}
