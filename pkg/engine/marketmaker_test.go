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

func testMakerConfig() MarketMakerConfig {
	cfg := DefaultMarketMakerConfig()
	cfg.Levels = 5
	cfg.Spread = decimal.NewFromFloat(0.1)
	cfg.Decay = decimal.NewFromFloat(0.5)
	cfg.RefreshInterval = time.Hour // loops are driven by hand in tests
	return cfg
}

func newTestMaker(t *testing.T, e *LiquidityEngine, cfg MarketMakerConfig, refs map[string]decimal.Decimal) *MarketMaker {
	t.Helper()
	return NewMarketMaker(e, refs, cfg, rand.New(rand.NewSource(1)), nil)
}

func TestMarketMakerSeedGeometry(t *testing.T) {
	e := newTestEngine(t)
	m := newTestMaker(t, e, testMakerConfig(), map[string]decimal.Decimal{"BTC/USDT": d("100")})

	m.SeedAll()

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)
	b.mu.Lock()
	defer b.mu.Unlock()

	require.Len(t, b.bids, 5)
	require.Len(t, b.asks, 5)
	requireSorted(t, b)

	// offset_i = 100·0.1·(1+0.5i): 10, 15, 20, 25, 30.
	wantBids := []string{"90", "85", "80", "75", "70"}
	wantAsks := []string{"110", "115", "120", "125", "130"}
	for i, o := range b.bids {
		assert.True(t, o.Price.Equal(d(wantBids[i])), "bid %d: got %s", i, o.Price)
		assert.Equal(t, MarketMakerID, o.UserID)
		assert.True(t, o.Amount.GreaterThanOrEqual(m.cfg.MinSize))
		assert.True(t, o.Amount.LessThanOrEqual(m.cfg.MaxSize))
	}
	for i, o := range b.asks {
		assert.True(t, o.Price.Equal(d(wantAsks[i])), "ask %d: got %s", i, o.Price)
	}

	// Every bid stays under the reference and every ask above it, so the
	// seeded book can never self-cross.
	assert.True(t, b.bids[0].Price.LessThan(d("100")))
	assert.True(t, b.asks[0].Price.GreaterThan(d("100")))
}

func TestMarketMakerSeedSkipsPairsWithoutReference(t *testing.T) {
	e := newTestEngine(t, "BTC/USDT", "ETH/USDT")
	m := newTestMaker(t, e, testMakerConfig(), map[string]decimal.Decimal{"BTC/USDT": d("100")})

	m.SeedAll()

	snap, err := e.GetOrderBook("ETH/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestMarketMakerRequoteReplacesQuotes(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshProbability = 1
	cfg.PruneFraction = 1
	cfg.WalkRange = 0

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})
	m.SeedAll()

	m.refreshPair("BTC/USDT")

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Full prune plus a fresh quote leaves exactly one generation.
	assert.Len(t, b.bids, cfg.Levels)
	assert.Len(t, b.asks, cfg.Levels)
	requireSorted(t, b)
}

func TestMarketMakerRequoteLeavesUserOrdersAlone(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshProbability = 1
	cfg.PruneFraction = 1
	cfg.WalkRange = 0

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})
	m.SeedAll()

	user, err := e.AddOrder("BTC/USDT", Buy, d("50"), d("1"), "userA")
	require.NoError(t, err)

	m.refreshPair("BTC/USDT")

	_, found := e.GetOrder("BTC/USDT", user.ID)
	assert.True(t, found, "prune must only touch bot orders")
}

func TestMarketMakerRequoteSettlesCrossedUserOrders(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshProbability = 1
	cfg.PruneFraction = 1
	cfg.WalkRange = 0

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})

	// A user bid far above the reference crosses the asks the requote
	// posts near 110.
	_, err := e.AddOrder("BTC/USDT", Buy, d("500"), d("0.5"), "userA")
	require.NoError(t, err)

	m.refreshPair("BTC/USDT")

	trades := e.RecentTrades("BTC/USDT", 50)
	require.NotEmpty(t, trades)
	for _, tr := range trades {
		assert.False(t, tr.Synthetic)
	}

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bids) > 0 && len(b.asks) > 0 {
		assert.True(t, b.bids[0].Price.LessThan(b.asks[0].Price), "refresh must not leave a cross")
	}
}

func TestMarketMakerReseedsEmptySideOfTouchedPair(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshProbability = 0 // never requote; only the non-empty guard runs

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})
	m.SeedAll()

	// User flow marks the pair; then the whole ask side drains away, as it
	// would under sustained one-sided consumption.
	_, err := e.AddOrder("BTC/USDT", Buy, d("50"), d("0.1"), "userA")
	require.NoError(t, err)

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)
	b.mu.Lock()
	for len(b.asks) > 0 {
		b.removeByIDLocked(b.asks[0].ID)
	}
	require.True(t, b.touched)
	b.mu.Unlock()

	m.refreshPair("BTC/USDT")

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.NotEmpty(t, b.asks, "touched pair must quote both sides again")
}

func TestMarketMakerSkipsBusyPair(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshProbability = 1
	cfg.PruneFraction = 1

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})
	m.SeedAll()

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)

	b.mu.Lock()
	before := len(b.bids) + len(b.asks)
	m.refreshPair("BTC/USDT") // must not block on the held lock
	after := len(b.bids) + len(b.asks)
	b.mu.Unlock()

	assert.Equal(t, before, after)
}

func TestMarketMakerRecoveredPanicReleasesPairLock(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshProbability = 1
	cfg.PruneFraction = 1

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})
	m.SeedAll()

	b, ok := e.book("BTC/USDT")
	require.True(t, ok)

	// A corrupted index entry makes the prune blow up mid-cycle.
	b.mu.Lock()
	b.byID["corrupt"] = nil
	b.mu.Unlock()

	m.refreshPair("BTC/USDT")

	require.True(t, b.mu.TryLock(), "pair mutex must be free after a recovered refresh panic")
	delete(b.byID, "corrupt")
	b.mu.Unlock()

	// The synchronous order path stays usable.
	_, err := e.AddOrder("BTC/USDT", Buy, d("50"), d("1"), "userA")
	require.NoError(t, err)
}

func TestMarketMakerRunStopsOnCancel(t *testing.T) {
	cfg := testMakerConfig()
	cfg.RefreshInterval = time.Millisecond

	e := newTestEngine(t)
	m := newTestMaker(t, e, cfg, map[string]decimal.Decimal{"BTC/USDT": d("100")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
