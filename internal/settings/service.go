package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for settings.
type RepositoryPort interface {
	List(ctx context.Context) ([]Setting, error)
	Get(ctx context.Context, key string) (Setting, error)
	Upsert(ctx context.Context, key string, value []byte) (Setting, error)
	Delete(ctx context.Context, key string) error
}

// Service handles settings business logic.
type Service struct {
	repo     RepositoryPort
	cache    *Cache
	events   shared.Publisher
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service instance. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, events shared.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		events:   shared.PublisherOrNop(events),
		validate: validator.New(),
		logger:   logger,
	}
}

// List returns every setting.
func (s *Service) List(ctx context.Context) ([]Setting, error) {
	return s.cache.Load(ctx, s.repo.List)
}

// Get returns the setting stored under key.
func (s *Service) Get(ctx context.Context, key string) (Setting, error) {
	key, err := s.normalizeKey(key)
	if err != nil {
		return Setting{}, err
	}
	all, err := s.List(ctx)
	if err != nil {
		return Setting{}, err
	}
	for _, setting := range all {
		if setting.Key == key {
			return setting, nil
		}
	}
	return Setting{}, ErrNotFound
}

// Put stores value under key.
func (s *Service) Put(ctx context.Context, key string, input UpdateInput) (Setting, error) {
	key, err := s.normalizeKey(key)
	if err != nil {
		return Setting{}, err
	}
	if !json.Valid(input.Value) {
		return Setting{}, ErrInvalidValue
	}
	setting, err := s.repo.Upsert(ctx, key, input.Value)
	if err != nil {
		return Setting{}, err
	}
	s.invalidate(ctx)
	s.events.Publish(ctx, shared.Event{Entity: shared.EntitySetting, Action: ActionUpdated, EntityID: key})
	return setting, nil
}

// Delete removes key.
func (s *Service) Delete(ctx context.Context, key string) error {
	key, err := s.normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.events.Publish(ctx, shared.Event{Entity: shared.EntitySetting, Action: ActionDeleted, EntityID: key})
	return nil
}

func (s *Service) normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if err := s.validate.Var(key, "required,max=128,lowercase,excludesall= /\\"); err != nil {
		return "", ErrInvalidKey
	}
	return key, nil
}

// invalidate drops the cache after a committed write. A failure only delays
// visibility until the TTL lapses.
func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("settings cache invalidate", slog.Any("error", err))
	}
}
