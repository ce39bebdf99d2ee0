package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// tradeRingCap bounds the per-pair recent trade history kept for the API.
const tradeRingCap = 200

// DepthLevel is one aggregated row of book depth: the resting size at a
// price, net of fills, and the cumulative size at or better than it.
type DepthLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Total  decimal.Decimal `json:"total"`
}

// DepthSnapshot is the externally consumable view of one pair's book.
type DepthSnapshot struct {
	Pair      string       `json:"pair"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// book holds one pair's resting orders. bids are sorted by price descending,
// asks by price ascending; ties on price keep arrival order (oldest first).
// The mutex serializes every mutator on this pair: user order submission,
// market-maker refresh, house-trader ticks and cancels. Cross-pair
// operations never share a book and run in parallel.
type book struct {
	mu   sync.Mutex
	pair string

	bids []*Order
	asks []*Order
	byID map[string]*Order

	seq       uint64
	touched   bool // pair has seen at least one real user order
	lastPrice decimal.Decimal
	trades    []Trade
}

func newBook(pair string) *book {
	return &book{
		pair: pair,
		byID: make(map[string]*Order),
	}
}

// insertLocked places an order at its price-time position. sort.Search finds
// the first strictly-worse price, so equal prices keep arrival order.
func (b *book) insertLocked(o *Order) {
	b.seq++
	o.seq = b.seq

	if o.Side == Buy {
		i := sort.Search(len(b.bids), func(i int) bool {
			return b.bids[i].Price.LessThan(o.Price)
		})
		b.bids = append(b.bids, nil)
		copy(b.bids[i+1:], b.bids[i:])
		b.bids[i] = o
	} else {
		i := sort.Search(len(b.asks), func(i int) bool {
			return b.asks[i].Price.GreaterThan(o.Price)
		})
		b.asks = append(b.asks, nil)
		copy(b.asks[i+1:], b.asks[i:])
		b.asks[i] = o
	}
	b.byID[o.ID] = o
}

func (b *book) removeBidAt(i int) {
	delete(b.byID, b.bids[i].ID)
	b.bids = append(b.bids[:i], b.bids[i+1:]...)
}

func (b *book) removeAskAt(i int) {
	delete(b.byID, b.asks[i].ID)
	b.asks = append(b.asks[:i], b.asks[i+1:]...)
}

// removeByIDLocked drops a resting order from whichever side holds it.
func (b *book) removeByIDLocked(id string) bool {
	o, ok := b.byID[id]
	if !ok {
		return false
	}
	if o.Side == Buy {
		for i, r := range b.bids {
			if r.ID == id {
				b.removeBidAt(i)
				return true
			}
		}
	} else {
		for i, r := range b.asks {
			if r.ID == id {
				b.removeAskAt(i)
				return true
			}
		}
	}
	return false
}

func (b *book) bestBidLocked() (*Order, bool) {
	if len(b.bids) == 0 {
		return nil, false
	}
	return b.bids[0], true
}

func (b *book) bestAskLocked() (*Order, bool) {
	if len(b.asks) == 0 {
		return nil, false
	}
	return b.asks[0], true
}

// depthLocked aggregates resting size per price, net of fills, with a
// running cumulative total. levels <= 0 means all levels.
func (b *book) depthLocked(levels int) ([]DepthLevel, []DepthLevel) {
	return aggregateLevels(b.bids, levels), aggregateLevels(b.asks, levels)
}

func aggregateLevels(orders []*Order, levels int) []DepthLevel {
	hint := levels
	if hint <= 0 || hint > len(orders) {
		hint = len(orders)
	}
	out := make([]DepthLevel, 0, hint)
	total := decimal.Zero
	for i := 0; i < len(orders); {
		price := orders[i].Price
		size := decimal.Zero
		for i < len(orders) && orders[i].Price.Equal(price) {
			size = size.Add(orders[i].Remaining())
			i++
		}
		total = total.Add(size)
		out = append(out, DepthLevel{Price: price, Amount: size, Total: total})
		if levels > 0 && len(out) >= levels {
			break
		}
	}
	return out
}

// recordTradesLocked appends to the bounded recent-trade ring, newest last.
func (b *book) recordTradesLocked(trades []Trade) {
	b.trades = append(b.trades, trades...)
	if n := len(b.trades); n > tradeRingCap {
		b.trades = append(b.trades[:0:0], b.trades[n-tradeRingCap:]...)
	}
}

// notionalLocked is the depth proxy Σ price·remaining across both sides.
// It is not an executed-volume metric.
func (b *book) notionalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, o := range b.bids {
		total = total.Add(o.Price.Mul(o.Remaining()))
	}
	for _, o := range b.asks {
		total = total.Add(o.Price.Mul(o.Remaining()))
	}
	return total
}
