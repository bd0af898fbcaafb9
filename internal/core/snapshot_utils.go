package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
)

// loadCached decodes key into out. Any cache or decode failure is a miss.
func loadCached(ctx context.Context, cache port.Cache, log *logger.Log, key string, out interface{}) bool {
	if cache == nil {
		return false
	}
	data, ok, err := cache.Get(ctx, key)
	if err != nil {
		log.WithComponent("engine").WithFields(logger.Fields{"key": key}).
			WithError(err).Warn("cache read failed, recomputing")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.WithComponent("engine").WithFields(logger.Fields{"key": key}).
			WithError(err).Warn("discarding undecodable cache entry")
		return false
	}
	return true
}

// storeCached is best effort; a zero ttl disables memoization.
func storeCached(ctx context.Context, cache port.Cache, log *logger.Log, key string, v interface{}, ttl time.Duration) {
	if cache == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.WithComponent("engine").WithFields(logger.Fields{"key": key}).WithError(err).Error("encode cache entry")
		return
	}
	if err := cache.Set(ctx, key, data, ttl); err != nil {
		log.WithComponent("engine").WithFields(logger.Fields{"key": key}).
			WithError(err).Warn("cache write failed")
	}
}
