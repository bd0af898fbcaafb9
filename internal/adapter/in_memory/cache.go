package in_memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

// Cache is a process-local port.Cache for single-node runs and tests.
// Expired entries are dropped lazily on access and by Sweep.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

var _ port.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return NewCacheWithClock(time.Now)
}

func NewCacheWithClock(now func() time.Time) *Cache {
	return &Cache{entries: make(map[string]entry), now: now}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// live returns the entry at key if present and not expired. Callers hold mu.
func (c *Cache) live(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl for %q must be positive", domain.ErrInvalidInput, key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Incr behaves like Redis INCR: a missing key starts from zero and has no expiry.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incr(key, 0)
}

func (c *Cache) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl for %q must be positive", domain.ErrInvalidInput, key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incr(key, ttl)
}

// incr adds one to key, setting ttl when it is positive and the key has no
// expiry. Callers hold mu.
func (c *Cache) incr(key string, ttl time.Duration) (int64, error) {
	var n int64
	e, ok := c.live(key)
	if ok {
		v, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %q: value is not an integer", key)
		}
		n = v
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	if ttl > 0 && e.expiresAt.IsZero() {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return n, nil
}

// Sweep removes expired entries and reports how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	dropped := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

func (c *Cache) Ping(ctx context.Context) error { return nil }

func (c *Cache) Close() error { return nil }
