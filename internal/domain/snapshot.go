package domain

import "time"

type PriceVolumePair struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// RawOrderBook is a venue order book as returned by a connector: unsorted
// [price, volume, ...] tuples per side.
type RawOrderBook struct {
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Bids      [][]float64 `json:"bids"`
	Asks      [][]float64 `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

type Depth struct {
	Bids []PriceVolumePair `json:"bids"`
	Asks []PriceVolumePair `json:"asks"`
}

// OrderBookSnapshot is the canonical, sorted view of one exchange's book.
// Bids are sorted by price descending, asks ascending. Optional fields are nil
// when the value is unknown (empty side, zero volume).
type OrderBookSnapshot struct {
	Exchange       string           `json:"exchange"`
	Symbol         string           `json:"symbol"`
	TopBid         *PriceVolumePair `json:"top_bid"`
	TopAsk         *PriceVolumePair `json:"top_ask"`
	Spread         *float64         `json:"spread"`
	TotalBidVolume float64          `json:"total_bid_volume"`
	TotalAskVolume float64          `json:"total_ask_volume"`
	VWAPBid        *float64         `json:"vwap_bid"`
	VWAPAsk        *float64         `json:"vwap_ask"`
	BidCount       int              `json:"bid_count"`
	AskCount       int              `json:"ask_count"`
	Depth          Depth            `json:"depth_of_book"`
	Timestamp      time.Time        `json:"timestamp"`
}

// TopDepth returns the first n levels of each side.
func (s *OrderBookSnapshot) TopDepth(n int) Depth {
	if n < 0 {
		n = 0
	}
	bids, asks := s.Depth.Bids, s.Depth.Asks
	if len(bids) > n {
		bids = bids[:n]
	}
	if len(asks) > n {
		asks = asks[:n]
	}
	return Depth{
		Bids: append([]PriceVolumePair{}, bids...),
		Asks: append([]PriceVolumePair{}, asks...),
	}
}

type BestPriceQuote struct {
	PriceVolumePair
	Exchange string `json:"exchange"`
}

// AggregatedMarketView is the cross-exchange reduction for one symbol.
// PerExchange is sorted by top bid price descending; books without a bid go last.
type AggregatedMarketView struct {
	Symbol      string              `json:"symbol"`
	BestBid     *BestPriceQuote     `json:"best_bid"`
	BestAsk     *BestPriceQuote     `json:"best_ask"`
	PerExchange []OrderBookSnapshot `json:"exchange_data"`
	Timestamp   time.Time           `json:"timestamp"`
}
