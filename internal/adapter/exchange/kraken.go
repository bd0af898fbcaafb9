package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/olyamironova/quote-engine/internal/domain"
	"github.com/olyamironova/quote-engine/internal/port"
)

const krakenMainnet = "https://api.kraken.com"

// Kraken spells a few assets differently.
var krakenAliases = map[string]string{"BTC": "XBT", "DOGE": "XDG"}

// OHLC intervals Kraken accepts, in minutes.
var krakenIntervals = map[int]bool{1: true, 5: true, 15: true, 30: true, 60: true, 240: true, 1440: true, 10080: true, 21600: true}

type krakenConn struct {
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	bookLimit int
}

func newKraken(_ domain.ExchangeCredential, opts Options) port.Connection {
	base := opts.BaseURL
	if base == "" {
		base = krakenMainnet
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &krakenConn{base: base, http: client, limiter: opts.Limiter, bookLimit: opts.BookLimit}
}

func krakenAsset(a string) string {
	if alias, ok := krakenAliases[a]; ok {
		return alias
	}
	return a
}

func fromKrakenAsset(a string) string {
	for std, alias := range krakenAliases {
		if a == alias {
			return std
		}
	}
	return a
}

func krakenPair(symbol string) (string, error) {
	base, quote, err := domain.SplitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return krakenAsset(base) + krakenAsset(quote), nil
}

func (c *krakenConn) Name() string { return "kraken" }

// get calls a public endpoint and decodes the "result" member into out.
func (c *krakenConn) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := wait(ctx, c.limiter); err != nil {
		return err
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return unavailable("kraken", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return unavailable("kraken", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return unavailable("kraken", path, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	var env struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return unavailable("kraken", path, err)
	}
	if len(env.Error) > 0 {
		msg := strings.Join(env.Error, "; ")
		if strings.Contains(msg, "Unknown asset pair") {
			return fmt.Errorf("%w: kraken: %s", domain.ErrNotFound, msg)
		}
		return unavailable("kraken", path, fmt.Errorf("%s", msg))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return unavailable("kraken", path, err)
	}
	return nil
}

// krakenRows converts mixed [string, string, number] rows into string rows.
func krakenRows(rows [][]interface{}) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		strs := make([]string, 0, len(row))
		for _, v := range row {
			switch t := v.(type) {
			case string:
				strs = append(strs, t)
			case float64:
				strs = append(strs, strconv.FormatFloat(t, 'f', -1, 64))
			default:
				strs = append(strs, "")
			}
		}
		out = append(out, strs)
	}
	return out
}

// firstPair returns the single entry of a pair-keyed result map.
func firstPair[T any](m map[string]T) (T, bool) {
	for k, v := range m {
		if k == "last" {
			continue
		}
		return v, true
	}
	var zero T
	return zero, false
}

func (c *krakenConn) FetchOrderBook(ctx context.Context, symbol string) (*domain.RawOrderBook, error) {
	pair, err := krakenPair(symbol)
	if err != nil {
		return nil, err
	}
	q := url.Values{"pair": {pair}}
	if c.bookLimit > 0 {
		q.Set("count", strconv.Itoa(c.bookLimit))
	}
	var result map[string]struct {
		Asks [][]interface{} `json:"asks"`
		Bids [][]interface{} `json:"bids"`
	}
	if err := c.get(ctx, "/0/public/Depth", q, &result); err != nil {
		return nil, err
	}
	depth, ok := firstPair(result)
	if !ok {
		return nil, fmt.Errorf("%w: kraken has no book for %s", domain.ErrNotFound, symbol)
	}
	book := &domain.RawOrderBook{Exchange: "kraken", Symbol: symbol}
	if book.Bids, err = parseLevels(krakenRows(depth.Bids)); err != nil {
		return nil, unavailable("kraken", "depth bids", err)
	}
	if book.Asks, err = parseLevels(krakenRows(depth.Asks)); err != nil {
		return nil, unavailable("kraken", "depth asks", err)
	}
	return book, nil
}

type krakenTicker struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Closed []string `json:"c"`
	Volume []string `json:"v"`
	VWAP   []string `json:"p"`
	Low    []string `json:"l"`
	High   []string `json:"h"`
	Open   string   `json:"o"`
}

func at(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}

func (t krakenTicker) toDomain(symbol string) *domain.Ticker {
	out := &domain.Ticker{
		Exchange:   "kraken",
		Symbol:     symbol,
		High:       optFloat(at(t.High, 1)),
		Low:        optFloat(at(t.Low, 1)),
		Bid:        optFloat(at(t.Bid, 0)),
		BidVolume:  optFloat(at(t.Bid, 2)),
		Ask:        optFloat(at(t.Ask, 0)),
		AskVolume:  optFloat(at(t.Ask, 2)),
		VWAP:       optFloat(at(t.VWAP, 1)),
		Open:       optFloat(t.Open),
		Close:      optFloat(at(t.Closed, 0)),
		Last:       optFloat(at(t.Closed, 0)),
		BaseVolume: optFloat(at(t.Volume, 1)),
		Datetime:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if out.Last != nil && out.Open != nil {
		out.Change = domain.Float(*out.Last - *out.Open)
		if *out.Open != 0 {
			out.Percentage = domain.Float(*out.Change / *out.Open * 100)
		}
	}
	if out.VWAP != nil && out.BaseVolume != nil {
		out.QuoteVolume = domain.Float(*out.VWAP * *out.BaseVolume)
	}
	return out
}

func (c *krakenConn) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := krakenPair(symbol)
	if err != nil {
		return nil, err
	}
	var result map[string]krakenTicker
	if err := c.get(ctx, "/0/public/Ticker", url.Values{"pair": {pair}}, &result); err != nil {
		return nil, err
	}
	t, ok := firstPair(result)
	if !ok {
		return nil, fmt.Errorf("%w: kraken has no ticker for %s", domain.ErrNotFound, symbol)
	}
	return t.toDomain(symbol), nil
}

func (c *krakenConn) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *int64) ([]domain.Candle, error) {
	pair, err := krakenPair(symbol)
	if err != nil {
		return nil, err
	}
	d, ok := domain.ParseTimeframe(timeframe)
	minutes := int(d / time.Minute)
	if !ok || !krakenIntervals[minutes] {
		return nil, fmt.Errorf("%w: timeframe %q", domain.ErrInvalidInput, timeframe)
	}
	q := url.Values{"pair": {pair}, "interval": {strconv.Itoa(minutes)}}
	if since != nil {
		q.Set("since", strconv.FormatInt(*since/1000, 10))
	}
	var result map[string]json.RawMessage
	if err := c.get(ctx, "/0/public/OHLC", q, &result); err != nil {
		return nil, err
	}
	raw, ok := firstPair(result)
	if !ok {
		return nil, fmt.Errorf("%w: kraken has no candles for %s", domain.ErrNotFound, symbol)
	}
	var rows [][]interface{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, unavailable("kraken", "ohlc", err)
	}
	return parseKrakenCandles(krakenRows(rows))
}

// parseKrakenCandles reads [time, open, high, low, close, vwap, volume, count]
// rows; time is in unix seconds.
func parseKrakenCandles(rows [][]string) ([]domain.Candle, error) {
	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("%w: ohlc row has %d fields", domain.ErrExchangeUnavailable, len(row))
		}
		secs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ohlc time %q", domain.ErrExchangeUnavailable, row[0])
		}
		candle := domain.Candle{Timestamp: secs * 1000}
		for j, dst := range []*float64{&candle.Open, &candle.High, &candle.Low, &candle.Close} {
			if *dst, err = mustFloat(row[j+1]); err != nil {
				return nil, err
			}
		}
		if candle.Volume, err = mustFloat(row[6]); err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *krakenConn) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	var result map[string]struct {
		Wsname    string      `json:"wsname"`
		Status    string      `json:"status"`
		Fees      [][]float64 `json:"fees"`
		FeesMaker [][]float64 `json:"fees_maker"`
	}
	if err := c.get(ctx, "/0/public/AssetPairs", nil, &result); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	markets := make([]domain.Market, 0, len(result))
	for _, k := range keys {
		p := result[k]
		parts := strings.Split(p.Wsname, "/")
		if len(parts) != 2 {
			continue
		}
		base, quote := fromKrakenAsset(parts[0]), fromKrakenAsset(parts[1])
		markets = append(markets, domain.Market{
			Exchange: "kraken",
			Symbol:   base + "/" + quote,
			Base:     base,
			Quote:    quote,
			Active:   p.Status == "" || p.Status == "online",
			Maker:    firstTier(p.FeesMaker),
			Taker:    firstTier(p.Fees),
		})
	}
	return markets, nil
}

// firstTier returns the lowest-volume fee tier as a fraction.
func firstTier(tiers [][]float64) float64 {
	if len(tiers) == 0 || len(tiers[0]) < 2 {
		return 0
	}
	return tiers[0][1] / 100
}

func (c *krakenConn) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
