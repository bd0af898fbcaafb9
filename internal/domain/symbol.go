package domain

import (
	"fmt"
	"strings"
)

// NormalizeSymbol turns 6-character concatenated pairs into BASE/QUOTE form
// ("BTCUSD" -> "BTC/USD"). Any other input is returned unchanged.
func NormalizeSymbol(symbol string) string {
	if len(symbol) == 6 && !strings.Contains(symbol, "/") {
		return symbol[:3] + "/" + symbol[3:]
	}
	return symbol
}

// SplitSymbol normalizes symbol and returns its upper-cased base and quote.
func SplitSymbol(symbol string) (base, quote string, err error) {
	norm := NormalizeSymbol(strings.TrimSpace(symbol))
	parts := strings.Split(norm, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: symbol %q", ErrInvalidInput, symbol)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
