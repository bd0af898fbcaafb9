package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/port"
)

const (
	DefaultDepth = 5
	feePlaces    = 5
)

type Options struct {
	CallTimeout    time.Duration
	MaxConcurrency int
	AggregateTTL   time.Duration
	OrderBookTTL   time.Duration
	// ExtraTakerFee and ExtraMakerFee are fractional markups applied to
	// exchange fees in market listings (0.1 adds 10%).
	ExtraTakerFee float64
	ExtraMakerFee float64
	// Supported is the allow-list reported by Exchanges.
	Supported []string
}

// ExchangeList describes which exchanges the service can and does query.
type ExchangeList struct {
	Supported  []string `json:"supported"`
	Configured []string `json:"configured"`
	Default    string   `json:"default"`
}

// Engine serves market-data queries on top of the connector registry, with
// results memoized in the expiring cache.
type Engine struct {
	registry   port.ConnectorRegistry
	cache      port.Cache
	aggregator *Aggregator
	opts       Options
	log        *logger.Log
}

func NewEngine(registry port.ConnectorRegistry, cache port.Cache, opts Options, log *logger.Log) *Engine {
	return &Engine{
		registry:   registry,
		cache:      cache,
		aggregator: NewAggregator(registry, opts.CallTimeout, opts.MaxConcurrency, log),
		opts:       opts,
		log:        log,
	}
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

// open resolves exchange by name, or the default exchange when name is empty.
func (e *Engine) open(ctx context.Context, name string) (port.Connection, error) {
	if strings.TrimSpace(name) == "" {
		return e.registry.Resolve(e.registry.Default(ctx))
	}
	return e.registry.ResolveByName(ctx, name)
}

// Ticker returns the default exchange's ticker for symbol.
func (e *Engine) Ticker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return e.ExchangeTicker(ctx, "", symbol)
}

func (e *Engine) ExchangeTicker(ctx context.Context, exchangeName, symbol string) (*domain.Ticker, error) {
	symbol = domain.NormalizeSymbol(symbol)
	conn, err := e.open(ctx, exchangeName)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	t, err := conn.FetchTicker(cctx, symbol)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: no ticker for %s on %s", domain.ErrNotFound, symbol, conn.Name())
	}
	return t, nil
}

// HistoricalKey is the cache key for one candle query.
func HistoricalKey(symbol, timeframe string, since *int64) string {
	s := "none"
	if since != nil {
		s = strconv.FormatInt(*since, 10)
	}
	return fmt.Sprintf("historical_data:%s:%s:%s", symbol, timeframe, s)
}

// Historical returns candles from the default exchange. Results are cached
// for one bar length of the timeframe.
func (e *Engine) Historical(ctx context.Context, symbol, timeframe string, since *int64) ([]domain.Candle, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if timeframe == "" {
		timeframe = "1h"
	}
	key := HistoricalKey(symbol, timeframe, since)

	var candles []domain.Candle
	if loadCached(ctx, e.cache, e.log, key, &candles) {
		return candles, nil
	}

	conn, err := e.open(ctx, "")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	candles, err = conn.FetchOHLCV(cctx, symbol, timeframe, since)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s %s", domain.ErrNotFound, symbol, timeframe)
	}
	storeCached(ctx, e.cache, e.log, key, candles, domain.CandleTTL(timeframe))
	return candles, nil
}

// OrderBook returns the normalized book of one exchange.
func (e *Engine) OrderBook(ctx context.Context, exchangeName, symbol string) (*domain.OrderBookSnapshot, error) {
	symbol = domain.NormalizeSymbol(symbol)
	key := fmt.Sprintf("order_book:%s:%s", strings.ToLower(exchangeName), symbol)

	var snap domain.OrderBookSnapshot
	if loadCached(ctx, e.cache, e.log, key, &snap) {
		return &snap, nil
	}

	conn, err := e.registry.ResolveByName(ctx, exchangeName)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err := fetchSnapshot(ctx, conn, symbol, e.opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	storeCached(ctx, e.cache, e.log, key, res, e.opts.OrderBookTTL)
	return res, nil
}

// Aggregated returns the cross-exchange view, memoized under aggregated:{symbol}.
func (e *Engine) Aggregated(ctx context.Context, symbol string) (*domain.AggregatedMarketView, error) {
	symbol = domain.NormalizeSymbol(symbol)
	key := "aggregated:" + symbol

	var view domain.AggregatedMarketView
	if loadCached(ctx, e.cache, e.log, key, &view) {
		return &view, nil
	}
	res, err := e.aggregator.Aggregate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	storeCached(ctx, e.cache, e.log, key, res, e.opts.AggregateTTL)
	return res, nil
}

// TickerDepth returns one exchange's ticker together with the top depth
// levels of its book.
func (e *Engine) TickerDepth(ctx context.Context, exchangeName, symbol string, depth int) (*domain.TickerDepth, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: depth must be positive, got %d", domain.ErrInvalidInput, depth)
	}
	symbol = domain.NormalizeSymbol(symbol)
	conn, err := e.registry.ResolveByName(ctx, exchangeName)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	ticker, err := conn.FetchTicker(cctx, symbol)
	if err != nil {
		return nil, err
	}
	snap, err := fetchSnapshot(ctx, conn, symbol, e.opts.CallTimeout)
	if err != nil {
		return nil, err
	}
	return &domain.TickerDepth{Ticker: ticker, OrderBook: snap.TopDepth(depth)}, nil
}

// Markets lists an exchange's markets (the default exchange when name is
// empty) with fees marked up and rounded to 5 places.
func (e *Engine) Markets(ctx context.Context, exchangeName string) ([]domain.Market, error) {
	conn, err := e.open(ctx, exchangeName)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cctx, cancel := e.withTimeout(ctx)
	defer cancel()
	markets, err := conn.FetchMarkets(cctx)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: %s lists no markets", domain.ErrNotFound, conn.Name())
	}
	for i := range markets {
		markets[i].Taker = markup(markets[i].Taker, e.opts.ExtraTakerFee)
		markets[i].Maker = markup(markets[i].Maker, e.opts.ExtraMakerFee)
	}
	return markets, nil
}

func markup(fee, extra float64) float64 {
	f, _ := decimal.NewFromFloat(fee).Mul(decimal.NewFromFloat(1 + extra)).Round(feePlaces).Float64()
	return f
}

// Exchanges reports the allow-list and the configured exchanges. Secrets
// never leave the registry.
func (e *Engine) Exchanges(ctx context.Context) ExchangeList {
	creds := e.registry.ListCredentials(ctx)
	configured := make([]string, 0, len(creds))
	for _, c := range creds {
		configured = append(configured, strings.ToLower(c.ExchangeName))
	}
	return ExchangeList{
		Supported:  append([]string(nil), e.opts.Supported...),
		Configured: configured,
		Default:    strings.ToLower(e.registry.Default(ctx).ExchangeName),
	}
}

// Ping checks the cache backend.
func (e *Engine) Ping(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Ping(ctx)
}
