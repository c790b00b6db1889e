package domain

import (
	"context"
	"time"
)

// PreferenceCache provides fast preference lookups ahead of the store.
type PreferenceCache interface {
	Get(ctx context.Context, userID string) (Preference, error)
	Set(ctx context.Context, p Preference) error
	Invalidate(ctx context.Context, userID string) error
}

// RateDecision is the outcome of one rate limit check. RetryAfter is set
// only when the request was denied.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub used for realtime fan-out.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Signal bus channel names.
const (
	ChannelDeliveryPrefix = "ch:delivery:"
	ChannelModeration     = "ch:moderation"
	ChannelBilling        = "ch:billing"
)

// DeliveryChannel returns the per-user delivery update channel.
func DeliveryChannel(userID string) string {
	return ChannelDeliveryPrefix + userID
}
