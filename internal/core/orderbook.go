package core

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/olyamironova/quote-engine/internal/domain"
)

const spreadPlaces = 5

// NormalizeOrderBook sorts a raw book (bids descending, asks ascending, ties
// keep their original order) and derives top of book, spread, totals and
// VWAP. A malformed level fails the whole book.
func NormalizeOrderBook(raw *domain.RawOrderBook) (*domain.OrderBookSnapshot, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil order book", domain.ErrExchangeUnavailable)
	}
	bids, err := toLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("%s bids: %w", raw.Exchange, err)
	}
	asks, err := toLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("%s asks: %w", raw.Exchange, err)
	}

	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	snap := &domain.OrderBookSnapshot{
		Exchange:  raw.Exchange,
		Symbol:    raw.Symbol,
		BidCount:  len(bids),
		AskCount:  len(asks),
		Depth:     domain.Depth{Bids: bids, Asks: asks},
		Timestamp: ts,
	}
	if len(bids) > 0 {
		top := bids[0]
		snap.TopBid = &top
	}
	if len(asks) > 0 {
		top := asks[0]
		snap.TopAsk = &top
	}
	if snap.TopBid != nil && snap.TopAsk != nil {
		snap.Spread = domain.Float(roundSpread(snap.TopAsk.Price, snap.TopBid.Price))
	}
	snap.TotalBidVolume, snap.VWAPBid = sideStats(bids)
	snap.TotalAskVolume, snap.VWAPAsk = sideStats(asks)
	return snap, nil
}

func toLevels(rows [][]float64) ([]domain.PriceVolumePair, error) {
	levels := make([]domain.PriceVolumePair, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: level %d has %d fields", domain.ErrExchangeUnavailable, i, len(row))
		}
		if !finite(row[0]) || !finite(row[1]) {
			return nil, fmt.Errorf("%w: level %d is not finite", domain.ErrExchangeUnavailable, i)
		}
		levels = append(levels, domain.PriceVolumePair{Price: row[0], Volume: row[1]})
	}
	return levels, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// sideStats returns the total volume of a side and its VWAP, which is nil
// when the total volume is zero.
func sideStats(levels []domain.PriceVolumePair) (float64, *float64) {
	var volume, notional float64
	for _, l := range levels {
		volume += l.Volume
		notional += l.Price * l.Volume
	}
	if volume == 0 {
		return 0, nil
	}
	return volume, domain.Float(notional / volume)
}

func roundSpread(ask, bid float64) float64 {
	f, _ := decimal.NewFromFloat(ask).Sub(decimal.NewFromFloat(bid)).Round(spreadPlaces).Float64()
	return f
}
