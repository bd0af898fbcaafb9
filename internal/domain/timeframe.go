package domain

import (
	"math"
	"strconv"
	"time"
)

const DefaultCandleTTL = time.Hour

// ParseTimeframe parses "<n>m", "<n>h" and "<n>d" timeframes. Lengths that
// do not fit in a time.Duration are not recognized.
func ParseTimeframe(tf string) (time.Duration, bool) {
	if len(tf) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(tf[:len(tf)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	var unit time.Duration
	switch tf[len(tf)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// CandleTTL is how long cached candles for tf stay fresh: one bar length,
// or an hour for timeframes it does not recognize.
func CandleTTL(tf string) time.Duration {
	if d, ok := ParseTimeframe(tf); ok {
		return d
	}
	return DefaultCandleTTL
}
