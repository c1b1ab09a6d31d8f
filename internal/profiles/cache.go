package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-messaging/internal/models"
)

const adminCacheKey = "profile:admin"

// CachedLookup keeps profiles in Redis in front of another Lookup. Redis
// failures fall through to the wrapped lookup.
type CachedLookup struct {
	next Lookup
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCachedLookup(next Lookup, rdb redis.Cmdable, ttl time.Duration) *CachedLookup {
	return &CachedLookup{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedLookup) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	return c.cached(ctx, "profile:"+userID, func() (models.Profile, error) {
		return c.next.GetProfile(ctx, userID)
	})
}

func (c *CachedLookup) GetAdmin(ctx context.Context) (models.Profile, error) {
	return c.cached(ctx, adminCacheKey, func() (models.Profile, error) {
		return c.next.GetAdmin(ctx)
	})
}

func (c *CachedLookup) cached(ctx context.Context, key string, load func() (models.Profile, error)) (models.Profile, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p models.Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return p, nil
		}
		log.Printf("profile cache: dropping undecodable entry key=%s", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("profile cache get failed key=%s: %v", key, err)
	}

	p, err := load()
	if err != nil {
		return models.Profile{}, err
	}
	if body, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
			log.Printf("profile cache set failed key=%s: %v", key, err)
		}
	}
	return p, nil
}
