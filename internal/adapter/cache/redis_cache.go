package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
)

var _ port.Cache = (*RedisCache)(nil)

// RedisCache implements port.Cache on plain Redis strings. Increments use the
// server's INCR so concurrent callers never lose updates.
type RedisCache struct {
	client *redis.Client
	log    *logger.Log
}

func NewRedisCache(addr string, password string, db int, log *logger.Log) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, log: log}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("redis %s %q: %w: %v", op, key, domain.ErrCacheUnavailable, err)
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", key, err)
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl for %q must be positive", domain.ErrInvalidInput, key)
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

// incrExpire increments KEYS[1] and sets its ttl to ARGV[1] ms unless it
// already has one.
var incrExpire = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

func (c *RedisCache) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl for %q must be positive", domain.ErrInvalidInput, key)
	}
	n, err := incrExpire.Run(ctx, c.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", key, err)
	}
	return n, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	c.log.WithComponent("redis_cache").Info("closing redis client")
	return c.client.Close()
}
