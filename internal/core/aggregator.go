package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
)

// Aggregator builds the cross-exchange best bid/ask view for a symbol.
type Aggregator struct {
	registry       port.ConnectorRegistry
	callTimeout    time.Duration
	maxConcurrency int
	log            *logger.Log
}

func NewAggregator(registry port.ConnectorRegistry, callTimeout time.Duration, maxConcurrency int, log *logger.Log) *Aggregator {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Aggregator{registry: registry, callTimeout: callTimeout, maxConcurrency: maxConcurrency, log: log}
}

// Aggregate queries every configured exchange and reduces the books. Failed
// exchanges are logged and left out; if none succeeds the result is
// domain.ErrNotFound.
func (a *Aggregator) Aggregate(ctx context.Context, symbol string) (*domain.AggregatedMarketView, error) {
	symbol = domain.NormalizeSymbol(symbol)
	creds := a.registry.ListCredentials(ctx)

	// one slot per credential so the reduction order never depends on
	// which fetch finished first
	slots := make([]*domain.OrderBookSnapshot, len(creds))
	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)
	for i, cred := range creds {
		g.Go(func() error {
			snap, err := a.fetch(ctx, cred, symbol)
			if err != nil {
				a.log.WithComponent("aggregator").WithFields(logger.Fields{
					"exchange": cred.ExchangeName,
					"symbol":   symbol,
				}).WithError(err).Warn("exchange excluded from aggregate")
				return nil
			}
			slots[i] = snap
			return nil
		})
	}
	_ = g.Wait()

	return Reduce(symbol, slots)
}

func (a *Aggregator) fetch(ctx context.Context, cred domain.ExchangeCredential, symbol string) (*domain.OrderBookSnapshot, error) {
	conn, err := a.registry.Resolve(cred)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	started := time.Now()
	snap, err := fetchSnapshot(ctx, conn, symbol, a.callTimeout)
	logger.LogDuration(a.log.WithComponent("aggregator"), "fetch_order_book", started, logger.Fields{
		"exchange": conn.Name(),
		"symbol":   symbol,
	})
	return snap, err
}

// fetchSnapshot pulls one book under the per-call timeout and normalizes it.
func fetchSnapshot(ctx context.Context, conn port.Connection, symbol string, timeout time.Duration) (*domain.OrderBookSnapshot, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	raw, err := conn.FetchOrderBook(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s returned no book", domain.ErrExchangeUnavailable, conn.Name())
	}
	raw.Exchange = conn.Name()
	raw.Symbol = symbol
	return NormalizeOrderBook(raw)
}

// Reduce picks the best bid (highest price) and best ask (lowest price)
// across snapshots, walking them in order with strict comparisons so the
// first exchange to quote a price keeps it on ties. Nil entries are skipped.
func Reduce(symbol string, snapshots []*domain.OrderBookSnapshot) (*domain.AggregatedMarketView, error) {
	view := &domain.AggregatedMarketView{Symbol: symbol, Timestamp: time.Now().UTC()}
	for _, s := range snapshots {
		if s == nil {
			continue
		}
		if s.TopBid != nil && (view.BestBid == nil || s.TopBid.Price > view.BestBid.Price) {
			view.BestBid = &domain.BestPriceQuote{PriceVolumePair: *s.TopBid, Exchange: s.Exchange}
		}
		if s.TopAsk != nil && (view.BestAsk == nil || s.TopAsk.Price < view.BestAsk.Price) {
			view.BestAsk = &domain.BestPriceQuote{PriceVolumePair: *s.TopAsk, Exchange: s.Exchange}
		}
		view.PerExchange = append(view.PerExchange, *s)
	}
	if len(view.PerExchange) == 0 {
		return nil, fmt.Errorf("%w: no exchange returned an order book for %s", domain.ErrNotFound, symbol)
	}

	sort.SliceStable(view.PerExchange, func(i, j int) bool {
		bi, bj := view.PerExchange[i].TopBid, view.PerExchange[j].TopBid
		switch {
		case bi == nil:
			return false
		case bj == nil:
			return true
		}
		return bi.Price > bj.Price
	})
	return view, nil
}
