package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// PreferenceService reads preferences through the Redis cache and writes
// them to Postgres.
type PreferenceService struct {
	store  domain.PreferenceStore
	cache  domain.PreferenceCache
	logger *slog.Logger
}

// NewPreferenceService creates a PreferenceService. cache may be nil.
func NewPreferenceService(store domain.PreferenceStore, cache domain.PreferenceCache, logger *slog.Logger) *PreferenceService {
	return &PreferenceService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "preference_service")),
	}
}

// Get returns a user's preference, checking the cache first and back-filling
// it on a miss.
func (s *PreferenceService) Get(ctx context.Context, userID string) (domain.Preference, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "preference_service: cache get failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return domain.Preference{}, fmt.Errorf("preference_service: get %s: %w", userID, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "preference_service: cache set failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// Update validates and stores p, then drops the cached copy.
func (s *PreferenceService) Update(ctx context.Context, p domain.Preference) (domain.Preference, error) {
	if p.UserID == "" {
		return domain.Preference{}, fmt.Errorf("preference_service: %w: user_id is required", domain.ErrInvalidInput)
	}
	for _, t := range p.MutedTypes {
		if !t.Valid() {
			return domain.Preference{}, fmt.Errorf("preference_service: %w: unknown notification type %q", domain.ErrInvalidInput, t)
		}
	}
	if p.EmailEnabled && p.Email == "" {
		return domain.Preference{}, fmt.Errorf("preference_service: %w: email is required when email is enabled", domain.ErrInvalidInput)
	}
	if p.SMSEnabled && p.Phone == "" {
		return domain.Preference{}, fmt.Errorf("preference_service: %w: phone is required when sms is enabled", domain.ErrInvalidInput)
	}

	if err := s.store.Upsert(ctx, p); err != nil {
		return domain.Preference{}, fmt.Errorf("preference_service: upsert %s: %w", p.UserID, err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, p.UserID); err != nil {
			s.logger.WarnContext(ctx, "preference_service: cache invalidate failed",
				slog.String("user_id", p.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.store.Get(ctx, p.UserID)
}
