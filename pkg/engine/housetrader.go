package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HouseTraderConfig controls synthetic consumption of resting liquidity.
type HouseTraderConfig struct {
	Interval time.Duration
	// Probability is the per-pair chance of a trade on each tick.
	Probability float64
	// Randomized consumed volume range, in base currency. The volume is
	// always clamped to the targeted order's remaining size.
	MinVolume decimal.Decimal
	MaxVolume decimal.Decimal
}

// DefaultHouseTraderConfig returns the demo trading profile.
func DefaultHouseTraderConfig() HouseTraderConfig {
	return HouseTraderConfig{
		Interval:    5 * time.Second,
		Probability: 0.15,
		MinVolume:   decimal.NewFromFloat(0.05),
		MaxVolume:   decimal.NewFromFloat(0.5),
	}
}

// HouseTrader simulates organic trading pressure by periodically eating into
// the best resting order on a random side. It holds no inventory and posts
// no counter-order, so consumption bypasses the matcher entirely and is
// recorded as a synthetic trade for the feed and stats only.
type HouseTrader struct {
	engine *LiquidityEngine
	cfg    HouseTraderConfig
	log    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHouseTrader builds a house trader. rng is injectable for deterministic
// tests; nil falls back to a time-seeded source.
func NewHouseTrader(e *LiquidityEngine, cfg HouseTraderConfig, rng *rand.Rand, logger *zap.Logger) *HouseTrader {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HouseTrader{
		engine: e,
		cfg:    cfg,
		log:    logger.Named("house_trader"),
		rng:    rng,
	}
}

// Run ticks every pair until the context is cancelled.
func (h *HouseTrader) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range h.engine.Pairs() {
				h.tickPair(pair)
			}
		}
	}
}

// tickPair runs one probabilistic consumption cycle for a pair. Like the
// market maker, it skips the cycle when the pair lock is contended and
// contains panics so one pair cannot take down the scheduler.
func (h *HouseTrader) tickPair(pair string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("tick panicked", zap.String("pair", pair), zap.Any("panic", r))
		}
	}()

	h.mu.Lock()
	trade := h.rng.Float64() < h.cfg.Probability
	buySide := h.rng.Intn(2) == 0
	volF := h.rng.Float64()
	h.mu.Unlock()
	if !trade {
		return
	}

	b, ok := h.engine.book(pair)
	if !ok {
		return
	}
	if !b.mu.TryLock() {
		h.log.Debug("pair busy, skipping tick", zap.String("pair", pair))
		return
	}
	t, ok := h.consumeLocked(b, buySide, volF)
	if !ok {
		return
	}

	orderID := t.BuyOrderID
	if orderID == "" {
		orderID = t.SellOrderID
	}
	h.log.Debug("consumed liquidity",
		zap.String("pair", pair),
		zap.String("order_id", orderID),
		zap.String("volume", t.Amount.String()))
	h.engine.publish([]Trade{t})
}

// consumeLocked eats into the best order on one side. The caller holds the
// pair lock; it is released on return, panic included, so a failed tick can
// never wedge the pair's synchronous order path.
func (h *HouseTrader) consumeLocked(b *book, buySide bool, volF float64) (Trade, bool) {
	defer b.mu.Unlock()

	var target *Order
	var ok bool
	if buySide {
		target, ok = h.engine.bestOf(b, Buy)
	} else {
		target, ok = h.engine.bestOf(b, Sell)
	}
	if !ok {
		return Trade{}, false
	}

	span := h.cfg.MaxVolume.Sub(h.cfg.MinVolume)
	vol := h.cfg.MinVolume.Add(span.Mul(decimal.NewFromFloat(volF))).Round(4)
	vol = decimal.Min(vol, target.Remaining())
	if !vol.IsPositive() {
		return Trade{}, false
	}

	target.fill(vol)
	t := Trade{
		ID:        uuid.NewString(),
		Pair:      b.pair,
		Price:     target.Price,
		Amount:    vol,
		Synthetic: true,
		Timestamp: h.engine.clock.Now(),
	}
	if target.Side == Buy {
		t.BuyOrderID = target.ID
	} else {
		t.SellOrderID = target.ID
	}
	if !target.Remaining().IsPositive() {
		b.removeByIDLocked(target.ID)
	}
	b.lastPrice = target.Price
	b.recordTradesLocked([]Trade{t})
	return t, true
}

// bestOf returns the top order of one side. Caller holds the book lock.
func (e *LiquidityEngine) bestOf(b *book, side Side) (*Order, bool) {
	if side == Buy {
		return b.bestBidLocked()
	}
	return b.bestAskLocked()
}
