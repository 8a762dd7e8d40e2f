package calls

import (
	"context"
	"time"

	"callpilot/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter caps concurrently active calls.
type SlotLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// activeSlotKey is the Redis counter behind the cap. The TTL is a safety
// net for crashed processes that never release.
const (
	activeSlotKey = "calls:active"
	activeSlotTTL = 30 * time.Minute
)

// RedisSlotLimiter is the shared-across-instances implementation; the
// acquire and release scripts are atomic, so two instances cannot both
// take the last slot.
type RedisSlotLimiter struct {
	rdb   *redis.Client
	limit int
}

func NewRedisSlotLimiter(rdb *redis.Client, limit int) *RedisSlotLimiter {
	return &RedisSlotLimiter{rdb: rdb, limit: limit}
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireCallSlot(ctx, l.rdb, activeSlotKey, l.limit, activeSlotTTL)
}

func (l *RedisSlotLimiter) Release(ctx context.Context) error {
	return utils.ReleaseCallSlot(ctx, l.rdb, activeSlotKey)
}
