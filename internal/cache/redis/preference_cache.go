package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// DefaultPreferenceTTL applies when the configured TTL is not positive.
const DefaultPreferenceTTL = 15 * time.Minute

// PreferenceCache implements domain.PreferenceCache by storing each user's
// preference as a JSON string with a TTL.
type PreferenceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPreferenceCache creates a PreferenceCache backed by the given Client.
func NewPreferenceCache(c *Client, ttl time.Duration) *PreferenceCache {
	if ttl <= 0 {
		ttl = DefaultPreferenceTTL
	}
	return &PreferenceCache{c: c, ttl: ttl}
}

func (pc *PreferenceCache) key(userID string) string {
	return pc.c.Key("pref", userID)
}

// Get returns the cached preference or domain.ErrNotFound on a miss.
func (pc *PreferenceCache) Get(ctx context.Context, userID string) (domain.Preference, error) {
	data, err := pc.c.Underlying().Get(ctx, pc.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Preference{}, domain.ErrNotFound
		}
		return domain.Preference{}, fmt.Errorf("redis: get preference %s: %w", userID, err)
	}

	var p domain.Preference
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Preference{}, fmt.Errorf("redis: decode preference %s: %w", userID, err)
	}
	return p, nil
}

// Set stores the preference for its TTL.
func (pc *PreferenceCache) Set(ctx context.Context, p domain.Preference) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: encode preference %s: %w", p.UserID, err)
	}
	if err := pc.c.Underlying().Set(ctx, pc.key(p.UserID), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set preference %s: %w", p.UserID, err)
	}
	return nil
}

// Invalidate drops the cached preference for userID.
func (pc *PreferenceCache) Invalidate(ctx context.Context, userID string) error {
	if err := pc.c.Underlying().Del(ctx, pc.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate preference %s: %w", userID, err)
	}
	return nil
}

var _ domain.PreferenceCache = (*PreferenceCache)(nil)
