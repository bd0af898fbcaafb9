package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"golang.org/x/time/rate"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

const (
	bybitMainnet    = "https://api.bybit.com"
	bybitDefaultFee = 0.001
	bybitMaxBook    = 200
)

type bybitConn struct {
	client    *bybit.Client
	http      *http.Client
	limiter   *rate.Limiter
	bookLimit int
}

func newBybit(cred domain.ExchangeCredential, opts Options) port.Connection {
	base := opts.BaseURL
	if base == "" {
		base = bybitMainnet
	}
	client := bybit.NewBybitHttpClient(cred.APIKey, cred.APISecret, bybit.WithBaseURL(base))
	client.HTTPClient = opts.HTTPClient
	limit := opts.BookLimit
	if limit <= 0 || limit > bybitMaxBook {
		limit = bybitMaxBook
	}
	return &bybitConn{client: client, http: opts.HTTPClient, limiter: opts.Limiter, bookLimit: limit}
}

// bybitEnvelope mirrors the v5 response shape. The SDK hands back Result as
// interface{}, so responses are re-encoded and decoded into typed structs.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func decodeBybit(resp interface{}, out interface{}) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	var env bybitEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	if env.RetCode != 0 {
		return fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}
	return json.Unmarshal(env.Result, out)
}

// bybitInterval maps "15m"/"4h"/"1d" style timeframes to v5 kline intervals.
func bybitInterval(timeframe string) (string, error) {
	d, ok := domain.ParseTimeframe(timeframe)
	switch {
	case !ok:
	case d < 24*time.Hour:
		return strconv.Itoa(int(d / time.Minute)), nil
	case d == 24*time.Hour:
		return "D", nil
	case d == 7*24*time.Hour:
		return "W", nil
	}
	return "", fmt.Errorf("%w: timeframe %q", domain.ErrInvalidInput, timeframe)
}

func (c *bybitConn) Name() string { return "bybit" }

func (c *bybitConn) FetchOrderBook(ctx context.Context, symbol string) (*domain.RawOrderBook, error) {
	sym, err := concatSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	params := map[string]interface{}{"category": "spot", "symbol": sym, "limit": c.bookLimit}
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetOrderBookInfo(ctx)
	if err != nil {
		return nil, unavailable("bybit", "orderbook", err)
	}
	var result struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}
	if err := decodeBybit(resp, &result); err != nil {
		return nil, unavailable("bybit", "orderbook", err)
	}
	book := &domain.RawOrderBook{Exchange: "bybit", Symbol: symbol}
	if book.Bids, err = parseLevels(result.Bids); err != nil {
		return nil, unavailable("bybit", "orderbook bids", err)
	}
	if book.Asks, err = parseLevels(result.Asks); err != nil {
		return nil, unavailable("bybit", "orderbook asks", err)
	}
	return book, nil
}

type bybitTicker struct {
	Symbol       string `json:"symbol"`
	Bid1Price    string `json:"bid1Price"`
	Bid1Size     string `json:"bid1Size"`
	Ask1Price    string `json:"ask1Price"`
	Ask1Size     string `json:"ask1Size"`
	LastPrice    string `json:"lastPrice"`
	PrevPrice24h string `json:"prevPrice24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Turnover24h  string `json:"turnover24h"`
	Volume24h    string `json:"volume24h"`
}

func (t bybitTicker) toDomain(symbol string) *domain.Ticker {
	out := &domain.Ticker{
		Exchange:      "bybit",
		Symbol:        symbol,
		High:          optFloat(t.HighPrice24h),
		Low:           optFloat(t.LowPrice24h),
		Bid:           optFloat(t.Bid1Price),
		BidVolume:     optFloat(t.Bid1Size),
		Ask:           optFloat(t.Ask1Price),
		AskVolume:     optFloat(t.Ask1Size),
		Open:          optFloat(t.PrevPrice24h),
		Close:         optFloat(t.LastPrice),
		Last:          optFloat(t.LastPrice),
		PreviousClose: optFloat(t.PrevPrice24h),
		BaseVolume:    optFloat(t.Volume24h),
		QuoteVolume:   optFloat(t.Turnover24h),
	}
	if out.Last != nil && out.Open != nil {
		out.Change = domain.Float(*out.Last - *out.Open)
	}
	if p := optFloat(t.Price24hPcnt); p != nil {
		out.Percentage = domain.Float(*p * 100)
	}
	if out.BaseVolume != nil && out.QuoteVolume != nil && *out.BaseVolume > 0 {
		out.VWAP = domain.Float(*out.QuoteVolume / *out.BaseVolume)
	}
	return out
}

func (c *bybitConn) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	sym, err := concatSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	params := map[string]interface{}{"category": "spot", "symbol": sym}
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, unavailable("bybit", "tickers", err)
	}
	var result struct {
		List []bybitTicker `json:"list"`
	}
	if err := decodeBybit(resp, &result); err != nil {
		return nil, unavailable("bybit", "tickers", err)
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("%w: bybit has no ticker for %s", domain.ErrNotFound, symbol)
	}
	ticker := result.List[0].toDomain(symbol)
	ticker.Datetime = time.Now().UTC().Format(time.RFC3339Nano)
	return ticker, nil
}

// parseBybitKlines converts the newest-first kline list into ascending candles.
func parseBybitKlines(rows [][]string) ([]domain.Candle, error) {
	candles := make([]domain.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: kline row has %d fields", domain.ErrExchangeUnavailable, len(row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: kline start %q", domain.ErrExchangeUnavailable, row[0])
		}
		candle := domain.Candle{Timestamp: ts}
		for j, dst := range []*float64{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume} {
			if *dst, err = mustFloat(row[j+1]); err != nil {
				return nil, err
			}
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *bybitConn) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *int64) ([]domain.Candle, error) {
	sym, err := concatSymbol(symbol)
	if err != nil {
		return nil, err
	}
	interval, err := bybitInterval(timeframe)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	params := map[string]interface{}{"category": "spot", "symbol": sym, "interval": interval, "limit": 200}
	if since != nil {
		params["start"] = *since
	}
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, unavailable("bybit", "kline", err)
	}
	var result struct {
		List [][]string `json:"list"`
	}
	if err := decodeBybit(resp, &result); err != nil {
		return nil, unavailable("bybit", "kline", err)
	}
	return parseBybitKlines(result.List)
}

func (c *bybitConn) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	if err := wait(ctx, c.limiter); err != nil {
		return nil, err
	}
	params := map[string]interface{}{"category": "spot"}
	resp, err := c.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, unavailable("bybit", "instruments", err)
	}
	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	}
	if err := decodeBybit(resp, &result); err != nil {
		return nil, unavailable("bybit", "instruments", err)
	}
	markets := make([]domain.Market, 0, len(result.List))
	for _, in := range result.List {
		markets = append(markets, domain.Market{
			Exchange: "bybit",
			Symbol:   in.BaseCoin + "/" + in.QuoteCoin,
			Base:     in.BaseCoin,
			Quote:    in.QuoteCoin,
			Active:   strings.EqualFold(in.Status, "Trading"),
			Maker:    bybitDefaultFee,
			Taker:    bybitDefaultFee,
		})
	}
	return markets, nil
}

func (c *bybitConn) Close() error {
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
	return nil
}
