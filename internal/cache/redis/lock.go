package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/coparent/internal/domain"
)

// releaseTimeout bounds the unlock round trip. Release runs on a fresh
// context because the caller's is often already cancelled.
const releaseTimeout = 5 * time.Second

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager implements domain.LockManager. A lock is a key set with NX and
// a TTL whose value is a random token owned by the holder.
type LockManager struct {
	c *Client
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{c: c}
}

// Acquire takes the named lock for at most ttl or returns domain.ErrLockHeld.
// The returned release func may be called any number of times; it never
// deletes a lock that expired and was taken by someone else.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := lm.c.Key("lock", name)
	token := uuid.NewString()

	acquired, err := lm.c.Underlying().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: lock %s: %w", name, err)
	}
	if !acquired {
		return nil, fmt.Errorf("redis: lock %s: %w", name, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = compareAndDelete.Run(rctx, lm.c.Underlying(), []string{key}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
