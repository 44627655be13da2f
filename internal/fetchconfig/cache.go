package fetchconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crm-platform/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "leads:fetchcfg:"
	cacheMiss      = "-"
)

// CachedRepo fronts a Repository with redis. Both hits and misses are cached
// so the default tier does not cost three round trips per fetch. Writes go
// through to the backing repository and drop the affected keys. A redis
// outage degrades to uncached reads.
type CachedRepo struct {
	next Repository
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCachedRepo(next Repository, rdb redis.Cmdable, ttl time.Duration) *CachedRepo {
	return &CachedRepo{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedRepo) Lookup(ctx context.Context, k Key) (Row, bool, error) {
	key := cacheKeyPrefix + k.CacheKey()

	raw, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if raw == cacheMiss {
			return Row{}, false, nil
		}
		var row Row
		if jerr := json.Unmarshal([]byte(raw), &row); jerr == nil {
			return row, true, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.From(ctx).Warn("fetch config cache read failed", "key", key, "err", err)
	}

	row, ok, err := c.next.Lookup(ctx, k)
	if err != nil {
		return Row{}, false, err
	}
	val := cacheMiss
	if ok {
		b, _ := json.Marshal(row)
		val = string(b)
	}
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		logger.From(ctx).Warn("fetch config cache write failed", "key", key, "err", err)
	}
	return row, ok, nil
}

func (c *CachedRepo) List(ctx context.Context) ([]Row, error)        { return c.next.List(ctx) }
func (c *CachedRepo) Get(ctx context.Context, id int64) (Row, error) { return c.next.Get(ctx, id) }

func (c *CachedRepo) Create(ctx context.Context, row Row) (Row, error) {
	out, err := c.next.Create(ctx, row)
	if err == nil {
		c.invalidate(ctx, out.Key)
	}
	return out, err
}

func (c *CachedRepo) Update(ctx context.Context, row Row) (Row, error) {
	before, err := c.next.Get(ctx, row.ID)
	if err != nil {
		return Row{}, err
	}
	out, err := c.next.Update(ctx, row)
	if err == nil {
		c.invalidate(ctx, before.Key, out.Key)
	}
	return out, err
}

func (c *CachedRepo) Delete(ctx context.Context, id int64) (Row, error) {
	out, err := c.next.Delete(ctx, id)
	if err == nil {
		c.invalidate(ctx, out.Key)
	}
	return out, err
}

func (c *CachedRepo) invalidate(ctx context.Context, keys ...Key) {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, cacheKeyPrefix+k.CacheKey())
	}
	if err := c.rdb.Del(ctx, names...).Err(); err != nil {
		logger.From(ctx).Warn("fetch config cache invalidation failed", "keys", names, "err", err)
	}
}
