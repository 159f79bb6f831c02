package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/internal/users"
)

// Service wraps authentication business rules.
type Service struct {
	repo  Repository
	users UserFinder
}

// NewService constructs a new Service.
func NewService(repo Repository, finder UserFinder) *Service {
	return &Service{repo: repo, users: finder}
}

// Authenticate validates email/password credentials. Unknown, soft-deleted
// and wrong-password logins fail identically.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*users.User, error) {
	user, err := s.users.FindActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// CurrentUser returns the active user behind a session.
func (s *Service) CurrentUser(ctx context.Context, id int64) (*users.User, error) {
	user, err := s.users.FindActive(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, shared.ErrUnauthenticated
	}
	return user, err
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
