package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

type fakeConn struct {
	name    string
	book    *domain.RawOrderBook
	bookErr error
	block   bool
	ticker  *domain.Ticker
	candles []domain.Candle
	markets []domain.Market
	closed  *atomic.Int32
	calls   *atomic.Int32
}

func (c *fakeConn) Name() string { return c.name }

func (c *fakeConn) FetchOrderBook(ctx context.Context, symbol string) (*domain.RawOrderBook, error) {
	c.calls.Add(1)
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.bookErr != nil {
		return nil, c.bookErr
	}
	b := *c.book
	return &b, nil
}

func (c *fakeConn) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	c.calls.Add(1)
	if c.ticker == nil {
		return nil, fmt.Errorf("%w: no ticker", domain.ErrExchangeUnavailable)
	}
	t := *c.ticker
	t.Symbol = symbol
	return &t, nil
}

func (c *fakeConn) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *int64) ([]domain.Candle, error) {
	c.calls.Add(1)
	return append([]domain.Candle(nil), c.candles...), nil
}

func (c *fakeConn) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	c.calls.Add(1)
	return append([]domain.Market(nil), c.markets...), nil
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// fakeRegistry hands out fakeConn templates keyed by lower-case name.
type fakeRegistry struct {
	mu     sync.Mutex
	creds  []domain.ExchangeCredential
	conns  map[string]*fakeConn
	closed atomic.Int32
	calls  atomic.Int32
}

var _ port.ConnectorRegistry = (*fakeRegistry)(nil)

func newFakeRegistry(conns ...*fakeConn) *fakeRegistry {
	r := &fakeRegistry{conns: map[string]*fakeConn{}}
	for _, c := range conns {
		r.creds = append(r.creds, domain.ExchangeCredential{ExchangeName: c.name})
		c.closed = &r.closed
		c.calls = &r.calls
		r.conns[strings.ToLower(c.name)] = c
	}
	return r
}

func (r *fakeRegistry) ListCredentials(context.Context) []domain.ExchangeCredential {
	return append([]domain.ExchangeCredential(nil), r.creds...)
}

func (r *fakeRegistry) Default(ctx context.Context) domain.ExchangeCredential {
	return r.creds[0]
}

func (r *fakeRegistry) Resolve(cred domain.ExchangeCredential) (port.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[strings.ToLower(cred.ExchangeName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, cred.ExchangeName)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRegistry) ResolveByName(ctx context.Context, name string) (port.Connection, error) {
	return r.Resolve(domain.ExchangeCredential{ExchangeName: name})
}

func (r *fakeRegistry) Has(ctx context.Context, name string) bool {
	_, ok := r.conns[strings.ToLower(name)]
	return ok
}

func bookConn(name string, bids, asks [][]float64) *fakeConn {
	return &fakeConn{name: name, book: &domain.RawOrderBook{Bids: bids, Asks: asks}}
}

func failingConn(name string) *fakeConn {
	return &fakeConn{name: name, bookErr: errors.New("connection reset")}
}
