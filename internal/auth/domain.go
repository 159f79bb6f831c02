package auth

import (
	"context"

	"github.com/odyssey-erp/odyssey-admin/internal/users"
)

// UserFinder looks up accounts that may sign in. Soft-deleted users are
// never returned.
type UserFinder interface {
	FindActiveByEmail(ctx context.Context, email string) (*users.User, error)
	FindActive(ctx context.Context, id int64) (*users.User, error)
}

// LoginInput carries the login credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SessionView is returned after login and by /auth/me.
type SessionView struct {
	User      *users.User `json:"user"`
	CSRFToken string      `json:"csrf_token"`
}
