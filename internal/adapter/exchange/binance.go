package exchange

import (
	"context"
	"fmt"
	"net/http"

	binance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

// Spot fees before any markup.
const binanceDefaultFee = 0.001

type binanceConn struct {
	client    *binance.Client
	http      *http.Client
	limiter   *rate.Limiter
	bookLimit int
}

func newBinance(cred domain.ExchangeCredential, opts Options) port.Connection {
	client := binance.NewClient(cred.APIKey, cred.APISecret)
	client.HTTPClient = opts.HTTPClient
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	return &binanceConn{client: client, http: opts.HTTPClient, limiter: opts.Limiter, bookLimit: opts.BookLimit}
}

func (c *binanceConn) Name() string { return "binance" }

func (c *binanceConn) FetchOrderBook(ctx context.Context, symbol string) (*domain.RawOrderBook, error) {
	sym, err := concatSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	svc := c.client.NewDepthService().Symbol(sym)
	if c.bookLimit > 0 {
		svc = svc.Limit(c.bookLimit)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, unavailable("binance", "depth", err)
	}

	bids := make([][]string, 0, len(res.Bids))
	for _, b := range res.Bids {
		bids = append(bids, []string{b.Price, b.Quantity})
	}
	asks := make([][]string, 0, len(res.Asks))
	for _, a := range res.Asks {
		asks = append(asks, []string{a.Price, a.Quantity})
	}
	book := &domain.RawOrderBook{Exchange: "binance", Symbol: symbol}
	if book.Bids, err = parseLevels(bids); err != nil {
		return nil, unavailable("binance", "depth bids", err)
	}
	if book.Asks, err = parseLevels(asks); err != nil {
		return nil, unavailable("binance", "depth asks", err)
	}
	return book, nil
}

func (c *binanceConn) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	sym, err := concatSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	stats, err := c.client.NewListPriceChangeStatsService().Symbol(sym).Do(ctx)
	if err != nil {
		return nil, unavailable("binance", "ticker", err)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("%w: binance has no ticker for %s", domain.ErrNotFound, symbol)
	}
	s := stats[0]
	return &domain.Ticker{
		Exchange:      "binance",
		Symbol:        symbol,
		High:          optFloat(s.HighPrice),
		Low:           optFloat(s.LowPrice),
		Bid:           optFloat(s.BidPrice),
		BidVolume:     optFloat(s.BidQty),
		Ask:           optFloat(s.AskPrice),
		AskVolume:     optFloat(s.AskQty),
		VWAP:          optFloat(s.WeightedAvgPrice),
		Open:          optFloat(s.OpenPrice),
		Close:         optFloat(s.LastPrice),
		Last:          optFloat(s.LastPrice),
		PreviousClose: optFloat(s.PrevClosePrice),
		Change:        optFloat(s.PriceChange),
		Percentage:    optFloat(s.PriceChangePercent),
		BaseVolume:    optFloat(s.Volume),
		QuoteVolume:   optFloat(s.QuoteVolume),
		Datetime:      msToRFC3339(s.CloseTime),
	}, nil
}

func (c *binanceConn) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *int64) ([]domain.Candle, error) {
	sym, err := concatSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if _, ok := domain.ParseTimeframe(timeframe); !ok {
		return nil, fmt.Errorf("%w: timeframe %q", domain.ErrInvalidInput, timeframe)
	}
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	svc := c.client.NewKlinesService().Symbol(sym).Interval(timeframe)
	if since != nil {
		svc = svc.StartTime(*since)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, unavailable("binance", "klines", err)
	}
	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candle := domain.Candle{Timestamp: k.OpenTime}
		for _, f := range []struct {
			dst *float64
			src string
		}{
			{&candle.Open, k.Open},
			{&candle.High, k.High},
			{&candle.Low, k.Low},
			{&candle.Close, k.Close},
			{&candle.Volume, k.Volume},
		} {
			if *f.dst, err = mustFloat(f.src); err != nil {
				return nil, err
			}
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *binanceConn) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, unavailable("binance", "exchange info", err)
	}
	markets := make([]domain.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		markets = append(markets, domain.Market{
			Exchange: "binance",
			Symbol:   s.BaseAsset + "/" + s.QuoteAsset,
			Base:     s.BaseAsset,
			Quote:    s.QuoteAsset,
			Active:   s.Status == "TRADING",
			Maker:    binanceDefaultFee,
			Taker:    binanceDefaultFee,
		})
	}
	return markets, nil
}

func (c *binanceConn) Close() error {
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	return nil
}

