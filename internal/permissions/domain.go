package permissions

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// ErrNotFound indicates the permission id does not exist.
var ErrNotFound = fmt.Errorf("permissions: permission not found: %w", shared.ErrNotFound)

// Event actions published by the store.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// CreateInput carries the fields accepted when creating a permission.
type CreateInput struct {
	Name  string `json:"name" validate:"required,max=191"`
	Guard string `json:"guard_name" validate:"omitempty,max=64"`
}

// UpdateInput renames a permission. The guard is fixed at creation.
type UpdateInput struct {
	Name string `json:"name" validate:"required,max=191"`
}
