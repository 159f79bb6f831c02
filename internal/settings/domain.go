package settings

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

var (
	// ErrNotFound indicates the setting key is not stored.
	ErrNotFound = fmt.Errorf("settings: setting not found: %w", shared.ErrNotFound)
	// ErrInvalidKey indicates a key outside the accepted alphabet.
	ErrInvalidKey = fmt.Errorf("settings: invalid key: %w", shared.ErrValidation)
	// ErrInvalidValue indicates a value that is not a JSON document.
	ErrInvalidValue = fmt.Errorf("settings: value must be valid JSON: %w", shared.ErrValidation)
)

// Event actions published by the store.
const (
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Setting is one key/value pair. Value holds arbitrary JSON.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpdateInput replaces the value of a setting.
type UpdateInput struct {
	Value json.RawMessage `json:"value" validate:"required"`
}
