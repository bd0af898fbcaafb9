package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/olyamironova/quote-engine/internal/adapter/in_memory"
	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/logger"
)

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, domain.ErrCacheUnavailable
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return domain.ErrCacheUnavailable
}
func (brokenCache) Incr(context.Context, string) (int64, error) { return 0, domain.ErrCacheUnavailable }
func (brokenCache) IncrExpire(context.Context, string, time.Duration) (int64, error) {
	return 0, domain.ErrCacheUnavailable
}
func (brokenCache) Ping(context.Context) error { return domain.ErrCacheUnavailable }
func (brokenCache) Close() error               { return nil }

func testOptions() Options {
	return Options{
		CallTimeout:    time.Second,
		MaxConcurrency: 4,
		AggregateTTL:   time.Minute,
		OrderBookTTL:   time.Minute,
		ExtraTakerFee:  0.1,
		ExtraMakerFee:  0.5,
		Supported:      []string{"a", "b"},
	}
}

func TestAggregatedIsMemoized(t *testing.T) {
	reg := newFakeRegistry(bookConn("A", [][]float64{{100, 1}}, [][]float64{{101, 1}}))
	cache := in_memory.NewCache()
	e := NewEngine(reg, cache, testOptions(), logger.Discard())

	first, err := e.Aggregated(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("Aggregated: %v", err)
	}
	second, err := e.Aggregated(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("Aggregated: %v", err)
	}
	if reg.calls.Load() != 1 {
		t.Fatalf("exchange called %d times, want 1", reg.calls.Load())
	}
	if second.BestBid.Price != first.BestBid.Price || second.BestBid.Exchange != "A" {
		t.Fatalf("cached view differs: %+v", second.BestBid)
	}
	if _, ok, _ := cache.Get(context.Background(), "aggregated:BTC/USD"); !ok {
		t.Fatal("aggregate not stored under aggregated:{symbol}")
	}
}

func TestCacheFailureFallsBackToRecompute(t *testing.T) {
	reg := newFakeRegistry(bookConn("A", [][]float64{{100, 1}}, nil))
	e := NewEngine(reg, brokenCache{}, testOptions(), logger.Discard())

	for i := 0; i < 2; i++ {
		if _, err := e.Aggregated(context.Background(), "BTC/USD"); err != nil {
			t.Fatalf("Aggregated with broken cache: %v", err)
		}
	}
	if reg.calls.Load() != 2 {
		t.Fatalf("exchange called %d times, want 2", reg.calls.Load())
	}
}

func TestHistoricalCachesWithTimeframeTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := in_memory.NewCacheWithClock(func() time.Time { return now })
	conn := &fakeConn{name: "A", candles: []domain.Candle{{Timestamp: 1, Close: 10}}}
	reg := newFakeRegistry(conn)
	e := NewEngine(reg, cache, testOptions(), logger.Discard())

	since := int64(42)
	for i := 0; i < 2; i++ {
		candles, err := e.Historical(context.Background(), "BTCUSD", "15m", &since)
		if err != nil || len(candles) != 1 || candles[0].Close != 10 {
			t.Fatalf("Historical: %v %+v", err, candles)
		}
	}
	if reg.calls.Load() != 1 {
		t.Fatalf("exchange called %d times, want 1", reg.calls.Load())
	}
	if _, ok, _ := cache.Get(context.Background(), "historical_data:BTC/USD:15m:42"); !ok {
		t.Fatal("candles not cached under the historical key")
	}

	now = now.Add(15*time.Minute + time.Second)
	if _, err := e.Historical(context.Background(), "BTCUSD", "15m", &since); err != nil {
		t.Fatalf("Historical: %v", err)
	}
	if reg.calls.Load() != 2 {
		t.Fatalf("entry should have expired after 15m, calls = %d", reg.calls.Load())
	}
}

func TestHistoricalEmptyIsNotFound(t *testing.T) {
	e := NewEngine(newFakeRegistry(&fakeConn{name: "A"}), nil, testOptions(), logger.Discard())
	if _, err := e.Historical(context.Background(), "BTC/USD", "1h", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTickerUsesDefaultExchange(t *testing.T) {
	reg := newFakeRegistry(
		&fakeConn{name: "A", ticker: &domain.Ticker{Exchange: "A", Last: domain.Float(1)}},
		&fakeConn{name: "B", ticker: &domain.Ticker{Exchange: "B", Last: domain.Float(2)}},
	)
	e := NewEngine(reg, nil, testOptions(), logger.Discard())

	tk, err := e.Ticker(context.Background(), "ETHUSD")
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if tk.Exchange != "A" || tk.Symbol != "ETH/USD" {
		t.Fatalf("ticker = %+v", tk)
	}
	if reg.closed.Load() != 1 {
		t.Fatal("connection not released")
	}
}

func TestOrderBookUnknownExchange(t *testing.T) {
	e := NewEngine(newFakeRegistry(bookConn("A", nil, nil)), nil, testOptions(), logger.Discard())
	if _, err := e.OrderBook(context.Background(), "nope", "BTC/USD"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTickerDepth(t *testing.T) {
	conn := bookConn("A", [][]float64{{1, 1}, {3, 1}, {2, 1}}, [][]float64{{5, 1}, {4, 1}})
	conn.ticker = &domain.Ticker{Exchange: "A"}
	e := NewEngine(newFakeRegistry(conn), nil, testOptions(), logger.Discard())

	td, err := e.TickerDepth(context.Background(), "a", "BTC/USD", 2)
	if err != nil {
		t.Fatalf("TickerDepth: %v", err)
	}
	if len(td.OrderBook.Bids) != 2 || td.OrderBook.Bids[0].Price != 3 || td.OrderBook.Bids[1].Price != 2 {
		t.Fatalf("bids = %+v", td.OrderBook.Bids)
	}
	if len(td.OrderBook.Asks) != 2 || td.OrderBook.Asks[0].Price != 4 {
		t.Fatalf("asks = %+v", td.OrderBook.Asks)
	}
	if _, err := e.TickerDepth(context.Background(), "a", "BTC/USD", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero depth, got %v", err)
	}
}

func TestMarketsApplyFeeMarkup(t *testing.T) {
	conn := &fakeConn{name: "A", markets: []domain.Market{{Symbol: "BTC/USD", Taker: 0.0026, Maker: 0.0016}}}
	e := NewEngine(newFakeRegistry(conn), nil, testOptions(), logger.Discard())

	markets, err := e.Markets(context.Background(), "")
	if err != nil {
		t.Fatalf("Markets: %v", err)
	}
	if markets[0].Taker != 0.00286 || markets[0].Maker != 0.0024 {
		t.Fatalf("fees = %v / %v", markets[0].Taker, markets[0].Maker)
	}
}

func TestExchangesListsConfiguredNames(t *testing.T) {
	e := NewEngine(newFakeRegistry(bookConn("A", nil, nil), bookConn("B", nil, nil)), nil, testOptions(), logger.Discard())
	list := e.Exchanges(context.Background())
	if len(list.Configured) != 2 || list.Configured[0] != "a" || list.Default != "a" || len(list.Supported) != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
}
