package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Trade records one crossing step. Price is the midpoint of the two resting
// prices (maker-price averaging). Synthetic marks house-trader consumption,
// which has no real counter-order and exists for the feed and stats only.
type Trade struct {
	ID          string          `json:"id"`
	Pair        string          `json:"pair"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	BuyOrderID  string          `json:"buyOrderId,omitempty"`
	SellOrderID string          `json:"sellOrderId,omitempty"`
	Synthetic   bool            `json:"synthetic,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// matchLocked crosses the book under price-time priority until no tradable
// overlap remains. Calling it on an uncrossed book is a no-op. It never
// fails: malformed orders are rejected before they reach the book.
//
// When the two top orders share an origin the engine skips to the next ask
// level instead of halting the cycle, so a user dominating the top of book
// cannot leave crossed prices of other users sitting unmatched.
func (b *book) matchLocked(now time.Time) []Trade {
	var trades []Trade

	i := 0
	for i < len(b.bids) {
		bid := b.bids[i]

		j := 0
		for j < len(b.asks) && bid.Remaining().IsPositive() {
			ask := b.asks[j]
			if bid.Price.LessThan(ask.Price) {
				break // no overlap at this level or deeper
			}
			if sameOrigin(bid.UserID, ask.UserID) {
				j++
				continue
			}

			qty := decimal.Min(bid.Remaining(), ask.Remaining())
			price := bid.Price.Add(ask.Price).Div(two)

			bid.fill(qty)
			ask.fill(qty)
			b.lastPrice = price

			trades = append(trades, Trade{
				ID:          uuid.NewString(),
				Pair:        b.pair,
				Price:       price,
				Amount:      qty,
				BuyOrderID:  bid.ID,
				SellOrderID: ask.ID,
				Timestamp:   now,
			})

			if !ask.Remaining().IsPositive() {
				b.removeAskAt(j) // next ask shifts into j
			}
		}

		if bid.Remaining().IsPositive() {
			// Blocked only by price or same-origin asks. Deeper bids cross
			// strictly less, but a different owner may still match a level
			// this bid had to skip.
			i++
		} else {
			b.removeBidAt(i)
		}
	}

	return trades
}
