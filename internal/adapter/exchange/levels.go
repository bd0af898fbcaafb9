package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/olyamironova/quote-engine/internal/domain"
)

// parseLevels converts [price, volume, ...] string rows into float tuples.
func parseLevels(rows [][]string) ([][]float64, error) {
	out := make([][]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level %d: expected [price, volume], got %d fields", i, len(row))
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("level %d: price: %w", i, err)
		}
		volume, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("level %d: volume: %w", i, err)
		}
		out = append(out, []float64{price, volume})
	}
	return out, nil
}

func optFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func mustFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", domain.ErrExchangeUnavailable, s)
	}
	return v, nil
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%w: throttled: %v", domain.ErrExchangeUnavailable, err)
	}
	return nil
}

func unavailable(exchange, op string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", exchange, op, domain.ErrExchangeUnavailable, err)
}

func msToRFC3339(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// concatSymbol turns "BTC/USDT" into the "BTCUSDT" form most REST APIs use.
func concatSymbol(symbol string) (string, error) {
	base, quote, err := domain.SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}
