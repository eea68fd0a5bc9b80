package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/redis"
)

const keyPrefix = "link_"

// CachedLink is the projection stored under link_{code}. It is populated
// only from already-filtered (active, non-expired) query results; the
// expiry is kept so a hit can still fail closed before the TTL lapses.
type CachedLink struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	Destination    string     `json:"destination"`
	RedirectStatus int        `json:"redirect_status"`
	Limited        bool       `json:"limited"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func (l *CachedLink) Expired() bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(time.Now())
}

// LinkCache is a read-through cache over Redis with a bounded TTL.
type LinkCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zerolog.Logger
}

func NewLinkCache(rdb *redis.Client, ttl time.Duration, log *zerolog.Logger) *LinkCache {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &LinkCache{
		rdb: rdb,
		ttl: ttl,
		log: log,
	}
}

func (c *LinkCache) Get(ctx context.Context, code string) (*CachedLink, bool) {
	data, err := c.rdb.Get(ctx, keyPrefix+code)
	if err != nil {
		return nil, false
	}

	var link CachedLink
	if err := json.Unmarshal([]byte(data), &link); err != nil {
		c.log.Warn().Msgf("failed to decode cached link %s: %v", code, err)
		c.Invalidate(ctx, code)
		return nil, false
	}
	if link.Expired() {
		c.Invalidate(ctx, code)
		return nil, false
	}
	return &link, true
}

func (c *LinkCache) Put(ctx context.Context, link *CachedLink) {
	data, err := json.Marshal(link)
	if err != nil {
		c.log.Warn().Msgf("failed to encode link %s for cache: %v", link.Code, err)
		return
	}
	if err := c.rdb.Client.Set(ctx, keyPrefix+link.Code, string(data), c.ttl).Err(); err != nil {
		c.log.Warn().Msgf("failed to cache link %s: %v", link.Code, err)
	}
}

func (c *LinkCache) Invalidate(ctx context.Context, code string) {
	if err := c.rdb.Client.Del(ctx, keyPrefix+code).Err(); err != nil {
		c.log.Warn().Msgf("failed to invalidate cached link %s: %v", code, err)
	}
}
