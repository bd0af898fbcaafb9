package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

// RejectMessage is returned to clients that exceed their window.
const RejectMessage = "Too many requests, please slow down."

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Count     int64
}

// Limiter is a fixed-window request counter per client identity, kept in
// the shared cache so every replica sees the same counts. A counter starts
// with Set(key, 1, window) and is removed only by ttl expiry.
type Limiter struct {
	cache  port.Cache
	limit  int
	window time.Duration
	prefix string
}

func New(cache port.Cache, limit int, window time.Duration) *Limiter {
	return &Limiter{cache: cache, limit: limit, window: window, prefix: "rate_limit:"}
}

func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) key(identity string) string {
	return l.prefix + strings.TrimSpace(identity)
}

// Allow admits or rejects one request. Cache failures are returned as errors
// wrapping domain.ErrCacheUnavailable and the request must be denied.
func (l *Limiter) Allow(ctx context.Context, identity string) (Decision, error) {
	key := l.key(identity)
	d := Decision{Limit: l.limit}

	raw, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		return d, err
	}
	if !ok {
		if err := l.cache.Set(ctx, key, []byte("1"), l.window); err != nil {
			return d, err
		}
		d.Allowed, d.Count = true, 1
		d.Remaining = l.remaining(1)
		return d, nil
	}

	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return d, fmt.Errorf("%w: counter %q holds %q", domain.ErrCacheUnavailable, key, raw)
	}
	if count >= int64(l.limit) {
		d.Count = count
		return d, nil
	}

	// IncrExpire covers a window that expired between Get and here: the
	// recreated counter gets its ttl in the same step. A request that loses
	// the race to the last slot still bumps the counter before it is
	// rejected; that only shortens the rest of an already exhausted window.
	count, err = l.cache.IncrExpire(ctx, key, l.window)
	if err != nil {
		return d, err
	}
	d.Count = count
	if count > int64(l.limit) {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = l.remaining(count)
	return d, nil
}

func (l *Limiter) remaining(count int64) int {
	if r := int64(l.limit) - count; r > 0 {
		return int(r)
	}
	return 0
}
