package domain

// ExchangeCredential is immutable once loaded.
type ExchangeCredential struct {
	ExchangeName string `json:"exchange_name" yaml:"exchange_name"`
	APIKey       string `json:"-" yaml:"api_key"`
	APISecret    string `json:"-" yaml:"api_secret"`
}

type Ticker struct {
	Exchange      string   `json:"exchange"`
	Symbol        string   `json:"symbol"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	Bid           *float64 `json:"bid"`
	BidVolume     *float64 `json:"bidVolume"`
	Ask           *float64 `json:"ask"`
	AskVolume     *float64 `json:"askVolume"`
	VWAP          *float64 `json:"vwap"`
	Open          *float64 `json:"open"`
	Close         *float64 `json:"close"`
	Last          *float64 `json:"last"`
	PreviousClose *float64 `json:"previousClose"`
	Change        *float64 `json:"change"`
	Percentage    *float64 `json:"percentage"`
	BaseVolume    *float64 `json:"baseVolume"`
	QuoteVolume   *float64 `json:"quoteVolume"`
	Datetime      string   `json:"datetime"`
}

// Candle is one OHLCV bar; Timestamp is the bar open time in unix milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Market describes a tradable pair and its maker/taker fee rates (fractions, 0.001 = 0.1%).
type Market struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Base     string  `json:"base"`
	Quote    string  `json:"quote"`
	Active   bool    `json:"active"`
	Maker    float64 `json:"maker"`
	Taker    float64 `json:"taker"`
}

// Float returns a pointer to v; used for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

// TickerDepth pairs a ticker with the top levels of the same exchange's book.
type TickerDepth struct {
	Ticker    *Ticker `json:"ticker"`
	OrderBook Depth   `json:"order_book"`
}
