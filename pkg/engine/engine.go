// Package engine implements the hybrid liquidity engine: an in-memory,
// per-pair order book crossed under price-time priority and continuously
// topped up by a synthetic market maker and a house trader.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/PabloMarzol/nebu-debug-sub015/pkg/util"
)

var (
	ErrInvalidOrder  = errors.New("invalid order")
	ErrUnknownPair   = errors.New("unknown pair")
	ErrOrderNotFound = errors.New("order not found")
)

// TradeListener receives every trade the engine emits, including synthetic
// house-trader consumption. Listeners are invoked outside the pair lock.
type TradeListener func(Trade)

// LiquidityEngine owns one order book per configured pair and exposes the
// public trading surface. Construct one per process and inject it; it keeps
// no global state. All book state is memory-only and lost on restart.
type LiquidityEngine struct {
	log   *zap.Logger
	clock util.Clock

	mu    sync.RWMutex // guards the pair map only; books carry their own lock
	books map[string]*book

	listenerMu sync.RWMutex
	listeners  []TradeListener
}

// New creates an engine with an empty book for every pair. Pair symbols are
// normalized, so "BTC-USDT" and "BTC/USDT" configure the same book.
func New(pairs []string, logger *zap.Logger, clock util.Clock) *LiquidityEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	e := &LiquidityEngine{
		log:   logger.Named("engine"),
		clock: clock,
		books: make(map[string]*book, len(pairs)),
	}
	for _, p := range pairs {
		sym := NormalizePair(p)
		if _, dup := e.books[sym]; !dup {
			e.books[sym] = newBook(sym)
		}
	}
	return e
}

// OnTrade registers a listener for the trade feed.
func (e *LiquidityEngine) OnTrade(fn TradeListener) {
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

func (e *LiquidityEngine) publish(trades []Trade) {
	if len(trades) == 0 {
		return
	}
	e.listenerMu.RLock()
	defer e.listenerMu.RUnlock()
	for _, t := range trades {
		for _, fn := range e.listeners {
			fn(t)
		}
	}
}

func (e *LiquidityEngine) book(pair string) (*book, bool) {
	e.mu.RLock()
	b, ok := e.books[NormalizePair(pair)]
	e.mu.RUnlock()
	return b, ok
}

// Pairs lists the configured pair symbols, sorted.
func (e *LiquidityEngine) Pairs() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.books))
	for p := range e.books {
		out = append(out, p)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// AddOrder validates, inserts and matches a limit order, returning a
// snapshot of the order after matching settled. The call is synchronous
// end-to-end: the caller always observes a consistent post-trade book.
// Funds availability is the settlement boundary's job and is assumed
// checked upstream.
func (e *LiquidityEngine) AddOrder(pair string, side Side, price, amount decimal.Decimal, userID string) (Order, error) {
	if side != Buy && side != Sell {
		return Order{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, side)
	}
	if !price.IsPositive() {
		return Order{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, price)
	}
	if !amount.IsPositive() {
		return Order{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidOrder, amount)
	}
	if userID == "" {
		return Order{}, fmt.Errorf("%w: missing user id", ErrInvalidOrder)
	}

	b, ok := e.book(pair)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownPair, NormalizePair(pair))
	}

	o := newOrder(b.pair, side, price, amount, userID, e.clock.Now())

	b.mu.Lock()
	if !syntheticOwner(userID) {
		b.touched = true
	}
	b.insertLocked(o)
	trades := b.matchLocked(e.clock.Now())
	b.recordTradesLocked(trades)
	snap := o.snapshot()
	b.mu.Unlock()

	if len(trades) > 0 {
		e.log.Info("order matched",
			zap.String("pair", b.pair),
			zap.String("order_id", o.ID),
			zap.Int("trades", len(trades)))
	}
	e.publish(trades)

	return snap, nil
}

// CancelOrder removes a resting order and returns its final snapshot. The
// snapshot is taken under the pair lock, so its Remaining is exact at cancel
// time and safe to settle against. ok is false when the order is unknown,
// already filled, or belongs to another pair; cancelling twice is false the
// second time.
func (e *LiquidityEngine) CancelOrder(pair, orderID string) (Order, bool) {
	b, ok := e.book(pair)
	if !ok {
		return Order{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.byID[orderID]
	if !ok {
		return Order{}, false
	}
	if o.Status != StatusOpen && o.Status != StatusPartiallyFilled {
		return Order{}, false
	}
	if !b.removeByIDLocked(orderID) {
		return Order{}, false
	}
	o.Status = StatusCancelled
	return o.snapshot(), true
}

// GetOrder returns a snapshot of a resting order. Filled and cancelled
// orders leave the book and are no longer visible here.
func (e *LiquidityEngine) GetOrder(pair, orderID string) (Order, bool) {
	b, ok := e.book(pair)
	if !ok {
		return Order{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.byID[orderID]
	if !ok {
		return Order{}, false
	}
	return o.snapshot(), true
}

// GetOrderBook returns aggregated depth, net of fills. levels <= 0 falls
// back to 20. The snapshot is independent of the live book: calling it
// twice with no intervening mutation yields identical output.
func (e *LiquidityEngine) GetOrderBook(pair string, levels int) (DepthSnapshot, error) {
	b, ok := e.book(pair)
	if !ok {
		return DepthSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownPair, NormalizePair(pair))
	}
	if levels <= 0 {
		levels = 20
	}

	b.mu.Lock()
	bids, asks := b.depthLocked(levels)
	b.mu.Unlock()

	return DepthSnapshot{
		Pair:      b.pair,
		Bids:      bids,
		Asks:      asks,
		Timestamp: e.clock.Now(),
	}, nil
}

// RecentTrades returns up to limit most recent trades for a pair, newest
// first.
func (e *LiquidityEngine) RecentTrades(pair string, limit int) []Trade {
	b, ok := e.book(pair)
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.trades)
	if limit > n {
		limit = n
	}
	out := make([]Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, b.trades[i])
	}
	return out
}
