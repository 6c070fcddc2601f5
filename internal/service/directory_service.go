package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assignment-review-api/internal/models"
	appErrors "github.com/noah-isme/assignment-review-api/pkg/errors"
)

type userStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListReviewers(ctx context.Context, departmentID string) ([]models.User, error)
}

type jsonCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// DirectoryService resolves actors and reviewer candidates, caching lookups in Redis.
type DirectoryService struct {
	users   userStore
	cache   jsonCache
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewDirectoryService constructs the directory. A nil cache disables caching.
func NewDirectoryService(users userStore, cache jsonCache, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{users: users, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

// ResolveActor returns the directory record for id.
func (s *DirectoryService) ResolveActor(ctx context.Context, id string) (*models.User, error) {
	key := "user:" + id
	var user models.User
	if s.lookup(ctx, key, &user) {
		return &user, nil
	}
	found, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve user")
	}
	s.store(ctx, key, found)
	return found, nil
}

// ListReviewers returns the active reviewers of a department.
func (s *DirectoryService) ListReviewers(ctx context.Context, departmentID string) ([]models.User, error) {
	key := "reviewers:" + departmentID
	var users []models.User
	if s.lookup(ctx, key, &users) {
		return users, nil
	}
	users, err := s.users.ListReviewers(ctx, departmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviewers")
	}
	s.store(ctx, key, users)
	return users, nil
}

// Flush drops every cached directory entry. It runs at boot so role or
// department changes made while the service was down are picked up.
func (s *DirectoryService) Flush(ctx context.Context) {
	if s.cache == nil {
		return
	}
	removed, err := s.cache.DeleteByPattern(ctx, "*")
	if err != nil {
		s.logger.Warn("directory cache flush failed", zap.Error(err))
		return
	}
	s.logger.Debug("directory cache flushed", zap.Int("keys", removed))
}

func (s *DirectoryService) lookup(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil || s.ttl <= 0 {
		return false
	}
	err := s.cache.Get(ctx, key, dest)
	hit := err == nil
	s.metrics.RecordCacheOperation(hit)
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("directory cache read failed", zap.String("key", key), zap.Error(err))
	}
	return hit
}

func (s *DirectoryService) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}
