package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrClipNotFound means a clip expired or never existed.
var ErrClipNotFound = errors.New("voice: clip not found")

// clipTTL comfortably outlives one gather cycle; clips are single-use.
const clipTTL = 10 * time.Minute

// Cache holds synthesized clips in Redis long enough for the telephony
// gateway to fetch them via the public audio endpoint.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func clipKey(id string) string { return "voice:clip:" + id }

// Store saves a clip and returns its opaque id.
func (c *Cache) Store(ctx context.Context, clip Clip) (string, error) {
	if c.rdb == nil {
		return "", fmt.Errorf("voice: redis client is nil")
	}
	id := uuid.NewString()
	if err := c.rdb.Set(ctx, clipKey(id), clip.Audio, clipTTL).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// Load fetches a clip's audio bytes by id.
func (c *Cache) Load(ctx context.Context, id string) ([]byte, error) {
	if c.rdb == nil {
		return nil, fmt.Errorf("voice: redis client is nil")
	}
	b, err := c.rdb.Get(ctx, clipKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrClipNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
