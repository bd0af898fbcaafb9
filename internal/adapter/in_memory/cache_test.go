package in_memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/olyamironova/quote-engine/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCacheSetGetExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCacheWithClock(clock.Now)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	v, ok, _ := c.Get(ctx, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("Get = %q, %v; want v, true", v, ok)
	}

	clock.Advance(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry must be absent once now >= expires_at")
	}
}

func TestCacheIncrKeepsExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCacheWithClock(clock.Now)
	ctx := context.Background()

	_ = c.Set(ctx, "n", []byte("1"), time.Minute)
	if n, err := c.Incr(ctx, "n"); err != nil || n != 2 {
		t.Fatalf("Incr = %d, %v; want 2, nil", n, err)
	}
	clock.Advance(time.Minute)
	if _, ok, _ := c.Get(ctx, "n"); ok {
		t.Fatal("counter must expire with its original ttl")
	}
	if n, _ := c.Incr(ctx, "n"); n != 1 {
		t.Fatalf("Incr on expired key = %d, want 1", n)
	}
}

func TestCacheIncrConcurrent(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	_ = c.Set(ctx, "n", []byte("0"), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "n")
		}()
	}
	wg.Wait()

	v, _, _ := c.Get(ctx, "n")
	if string(v) != "50" {
		t.Fatalf("counter = %s, want 50", v)
	}
}

func TestCacheIncrNonInteger(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("abc"), time.Minute)
	if _, err := c.Incr(ctx, "k"); err == nil {
		t.Fatal("expected error incrementing a non-integer value")
	}
}

func TestCacheRejectsMissingTTL(t *testing.T) {
	c := NewCache()
	if err := c.Set(context.Background(), "k", []byte("v"), -time.Second); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("Set error = %v, want ErrInvalidInput", err)
	}
}

func TestCacheSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCacheWithClock(clock.Now)
	ctx := context.Background()
	_ = c.Set(ctx, "a", []byte("1"), time.Second)
	_ = c.Set(ctx, "b", []byte("1"), time.Hour)

	clock.Advance(2 * time.Second)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep dropped %d entries, want 1", n)
	}
}

func TestCacheIncrExpireCreatesExpiringCounter(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := NewCacheWithClock(clock.Now)
	ctx := context.Background()

	if n, err := c.IncrExpire(ctx, "n", time.Minute); err != nil || n != 1 {
		t.Fatalf("IncrExpire = %d, %v; want 1, nil", n, err)
	}
	clock.Advance(30 * time.Second)
	if n, _ := c.IncrExpire(ctx, "n", time.Minute); n != 2 {
		t.Fatalf("IncrExpire = %d, want 2", n)
	}
	// the second call must not have pushed the expiry out
	clock.Advance(30 * time.Second)
	if _, ok, _ := c.Get(ctx, "n"); ok {
		t.Fatal("counter outlived its first ttl")
	}

	_, _ = c.Incr(ctx, "bare")
	_, _ = c.IncrExpire(ctx, "bare", time.Second)
	clock.Advance(time.Second)
	if _, ok, _ := c.Get(ctx, "bare"); ok {
		t.Fatal("counter without expiry must pick up the ttl")
	}

	if _, err := c.IncrExpire(ctx, "n", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("zero ttl error = %v", err)
	}
}
