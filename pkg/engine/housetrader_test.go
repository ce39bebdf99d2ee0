package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrader(t *testing.T, e *LiquidityEngine, cfg HouseTraderConfig) *HouseTrader {
	t.Helper()
	return NewHouseTrader(e, cfg, rand.New(rand.NewSource(1)), nil)
}

func TestHouseTraderConsumesBestOrder(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Probability = 1

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	_, err := e.AddOrder("BTC/USDT", Buy, d("99"), d("3"), "userA")
	require.NoError(t, err)
	_, err = e.AddOrder("BTC/USDT", Sell, d("101"), d("3"), "userB")
	require.NoError(t, err)

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)
	before := totalRemaining(b)

	trader.tickPair("BTC/USDT")

	trades := e.RecentTrades("BTC/USDT", 10)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.True(t, tr.Synthetic)
	assert.True(t, tr.Amount.IsPositive())
	assert.True(t, tr.Amount.LessThanOrEqual(cfg.MaxVolume))
	// Consumption happens at the resting order's own price, not a midpoint.
	assert.True(t, tr.Price.Equal(d("99")) || tr.Price.Equal(d("101")), "got %s", tr.Price)
	assert.True(t, before.Sub(totalRemaining(b)).Equal(tr.Amount))

	b.mu.Lock()
	assert.True(t, b.lastPrice.Equal(tr.Price))
	b.mu.Unlock()
}

func TestHouseTraderClampsToRemaining(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Probability = 1
	cfg.MinVolume = decimal.NewFromFloat(5)
	cfg.MaxVolume = decimal.NewFromFloat(10)

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	// Both sides thinner than MinVolume, so whichever side is picked the
	// target is consumed whole and removed.
	_, err := e.AddOrder("BTC/USDT", Buy, d("99"), d("0.01"), "userA")
	require.NoError(t, err)
	_, err = e.AddOrder("BTC/USDT", Sell, d("101"), d("0.01"), "userB")
	require.NoError(t, err)

	trader.tickPair("BTC/USDT")

	trades := e.RecentTrades("BTC/USDT", 10)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Amount.Equal(d("0.01")))

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, len(b.bids)+len(b.asks), "fully consumed order leaves the book")
}

func TestHouseTraderEmptyBookNoop(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Probability = 1

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	trader.tickPair("BTC/USDT")
	trader.tickPair("DOGE/USDT") // unknown pair

	assert.Empty(t, e.RecentTrades("BTC/USDT", 10))
}

func TestHouseTraderRespectsProbabilityGate(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Probability = 0

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	_, err := e.AddOrder("BTC/USDT", Buy, d("99"), d("1"), "userA")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		trader.tickPair("BTC/USDT")
	}
	assert.Empty(t, e.RecentTrades("BTC/USDT", 10))
}

func TestHouseTraderSkipsBusyPair(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Probability = 1

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	_, err := e.AddOrder("BTC/USDT", Buy, d("99"), d("1"), "userA")
	require.NoError(t, err)

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)

	b.mu.Lock()
	trader.tickPair("BTC/USDT") // must not block on the held lock
	b.mu.Unlock()

	assert.Empty(t, e.RecentTrades("BTC/USDT", 10))
}

func TestHouseTraderRecoveredPanicReleasesPairLock(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Probability = 1

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)

	// A corrupted top of book on either side makes the tick blow up
	// mid-cycle.
	b.mu.Lock()
	b.bids = append([]*Order{nil}, b.bids...)
	b.asks = append([]*Order{nil}, b.asks...)
	b.mu.Unlock()

	trader.tickPair("BTC/USDT")

	require.True(t, b.mu.TryLock(), "pair mutex must be free after a recovered tick panic")
	b.bids = b.bids[1:]
	b.asks = b.asks[1:]
	b.mu.Unlock()

	// The synchronous order path stays usable.
	_, err := e.AddOrder("BTC/USDT", Buy, d("50"), d("1"), "userA")
	require.NoError(t, err)
}

func TestHouseTraderRunStopsOnCancel(t *testing.T) {
	cfg := DefaultHouseTraderConfig()
	cfg.Interval = time.Millisecond

	e := newTestEngine(t)
	trader := newTestTrader(t, e, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		trader.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
