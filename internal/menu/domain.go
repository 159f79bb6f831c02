package menu

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

var (
	// ErrNotFound indicates the menu node does not exist.
	ErrNotFound = fmt.Errorf("menu: node not found: %w", shared.ErrNotFound)
	// ErrParentNotFound indicates the requested parent does not exist.
	ErrParentNotFound = fmt.Errorf("menu: parent not found: %w", shared.ErrInvalidReference)
	// ErrCyclicParent indicates the new parent is the node itself or one of its descendants.
	ErrCyclicParent = fmt.Errorf("menu: parent would create a cycle: %w", shared.ErrConflict)
	// ErrTitleRequired indicates an empty node title.
	ErrTitleRequired = fmt.Errorf("menu: title required: %w", shared.ErrValidation)
	// ErrInvalidTree indicates a malformed reorder payload.
	ErrInvalidTree = fmt.Errorf("menu: invalid tree: %w", shared.ErrValidation)
	// ErrOrderOutOfRange indicates an order that does not fit the sort_order column.
	ErrOrderOutOfRange = fmt.Errorf("menu: order out of range: %w", shared.ErrValidation)
)

// Bounds of the sort_order INTEGER column.
const (
	minOrder = math.MinInt32
	maxOrder = math.MaxInt32
)

func orderInRange(order int) bool {
	return order >= minOrder && order <= maxOrder
}

// Event actions published by the store.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionReordered = "reordered"
)

// Node is one entry of the navigation forest. Storage is flat; Children is
// only populated on projections built from the flat set.
type Node struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Route      *string   `json:"route"`
	Icon       *string   `json:"icon"`
	Permission *string   `json:"permission"`
	ParentID   *int64    `json:"parent_id"`
	Order      int       `json:"order"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Children   []*Node   `json:"children,omitempty"`
}

// Input carries the editable fields of a node. A nil Order appends the node
// after its last sibling on create and keeps the current order on update.
type Input struct {
	Title      string  `json:"title" validate:"required,max=191"`
	Route      *string `json:"route" validate:"omitempty,max=255"`
	Icon       *string `json:"icon" validate:"omitempty,max=64"`
	Permission *string `json:"permission" validate:"omitempty,max=191"`
	ParentID   *int64  `json:"parent_id" validate:"omitempty,gt=0"`
	Order      *int    `json:"order" validate:"omitempty,min=-2147483648,max=2147483647"`
}

// ReorderItem is one node of a drag-and-drop tree description. Nesting
// defines the parent of every listed node.
type ReorderItem struct {
	ID       *int64        `json:"id" validate:"required,gt=0"`
	Order    *int          `json:"order" validate:"required,min=-2147483648,max=2147483647"`
	Children []ReorderItem `json:"children" validate:"omitempty,dive"`
}

// ReorderInput wraps the forest submitted by the editor.
type ReorderInput struct {
	Tree []ReorderItem `json:"tree" validate:"required,dive"`
}

// Placement is the parent and order computed for one node by a reorder.
type Placement struct {
	ID       int64
	ParentID *int64
	Order    int
}

func optional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
