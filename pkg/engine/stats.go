package engine

import (
	"github.com/shopspring/decimal"
)

// PairStats is the per-pair breakdown backing the markets endpoint.
type PairStats struct {
	Pair      string          `json:"pair"`
	BidCount  int             `json:"bidCount"`
	AskCount  int             `json:"askCount"`
	BestBid   decimal.Decimal `json:"bestBid"`
	BestAsk   decimal.Decimal `json:"bestAsk"`
	Spread    decimal.Decimal `json:"spread"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Notional  decimal.Decimal `json:"notional"`
	Active    bool            `json:"active"`
}

// Stats aggregates engine health. TotalVolume is Σ price·remaining across
// all resting orders: a depth proxy, not an executed-volume metric.
// ActivePairs counts pairs quoting both sides right now.
type Stats struct {
	TotalPairs    int             `json:"totalPairs"`
	ActivePairs   int             `json:"activePairs"`
	TotalOrders   int             `json:"totalOrders"`
	TotalVolume   decimal.Decimal `json:"totalVolume"`
	AverageSpread decimal.Decimal `json:"averageSpread"`
	Status        string          `json:"status"`
	Pairs         []PairStats     `json:"pairs"`
}

// GetStats walks every book under its own lock. Pair order follows Pairs().
func (e *LiquidityEngine) GetStats() Stats {
	stats := Stats{
		TotalVolume:   decimal.Zero,
		AverageSpread: decimal.Zero,
	}

	spreadSum := decimal.Zero
	spreadCount := 0

	for _, pair := range e.Pairs() {
		b, ok := e.book(pair)
		if !ok {
			continue
		}

		b.mu.Lock()
		ps := PairStats{
			Pair:      b.pair,
			BidCount:  len(b.bids),
			AskCount:  len(b.asks),
			LastPrice: b.lastPrice,
			Notional:  b.notionalLocked(),
		}
		if bid, ok := b.bestBidLocked(); ok {
			ps.BestBid = bid.Price
		}
		if ask, ok := b.bestAskLocked(); ok {
			ps.BestAsk = ask.Price
		}
		b.mu.Unlock()

		if ps.BidCount > 0 && ps.AskCount > 0 {
			ps.Active = true
			ps.Spread = ps.BestAsk.Sub(ps.BestBid)
			spreadSum = spreadSum.Add(ps.Spread)
			spreadCount++
			stats.ActivePairs++
		}

		stats.TotalPairs++
		stats.TotalOrders += ps.BidCount + ps.AskCount
		stats.TotalVolume = stats.TotalVolume.Add(ps.Notional)
		stats.Pairs = append(stats.Pairs, ps)
	}

	if spreadCount > 0 {
		stats.AverageSpread = spreadSum.Div(decimal.NewFromInt(int64(spreadCount)))
	}
	if stats.ActivePairs == stats.TotalPairs && stats.TotalPairs > 0 {
		stats.Status = "operational"
	} else {
		stats.Status = "degraded"
	}
	return stats
}
