package port

import (
	"context"

	"github.com/olyamironova/quote-engine/internal/domain"
)

// Connection is a live handle to one exchange, opened for a single request
// and released with Close. Symbols are passed in BASE/QUOTE form.
type Connection interface {
	Name() string
	FetchOrderBook(ctx context.Context, symbol string) (*domain.RawOrderBook, error)
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since *int64) ([]domain.Candle, error)
	FetchMarkets(ctx context.Context) ([]domain.Market, error)
	Close() error
}

// ConnectorRegistry resolves credentials to live connections.
type ConnectorRegistry interface {
	ListCredentials(ctx context.Context) []domain.ExchangeCredential
	Default(ctx context.Context) domain.ExchangeCredential
	Resolve(cred domain.ExchangeCredential) (Connection, error)
	ResolveByName(ctx context.Context, name string) (Connection, error)
	Has(ctx context.Context, name string) bool
}
