package port

import (
	"context"
	"time"
)

// Cache is a shared expiring key-value store. Backend connectivity failures
// are returned wrapped in domain.ErrCacheUnavailable; the caller decides
// whether to bypass or fail.
type Cache interface {
	// Get returns ok=false when the key is missing or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value until now+ttl, replacing any previous value and ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically adds one to the integer at key and returns the new value.
	// The key should be created with Set first so that it carries a ttl.
	Incr(ctx context.Context, key string) (int64, error)
	// IncrExpire is Incr that also gives the key ttl when the key has none,
	// in one atomic step, so a counter can never be left without expiry.
	IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
