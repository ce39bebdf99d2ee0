package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketMakerConfig controls synthetic quoting.
type MarketMakerConfig struct {
	// Levels per side of the book.
	Levels int
	// Spread is the innermost level's distance from the reference price,
	// as a fraction of it.
	Spread decimal.Decimal
	// Decay widens each successive level: offset_i = ref·spread·(1+i·decay).
	Decay decimal.Decimal
	// Randomized order size range, in base currency.
	MinSize decimal.Decimal
	MaxSize decimal.Decimal
	// RefreshInterval drives the background requote loop.
	RefreshInterval time.Duration
	// RefreshProbability is the chance a pair requotes on a given cycle.
	RefreshProbability float64
	// PruneFraction is the chance each resting bot order is dropped when a
	// pair does requote.
	PruneFraction float64
	// WalkRange bounds the reference-price random walk per refresh, as a
	// fraction (0.005 = ±0.5%).
	WalkRange float64
}

// DefaultMarketMakerConfig returns the demo quoting profile.
func DefaultMarketMakerConfig() MarketMakerConfig {
	return MarketMakerConfig{
		Levels:             5,
		Spread:             decimal.NewFromFloat(0.002),
		Decay:              decimal.NewFromFloat(0.5),
		MinSize:            decimal.NewFromFloat(0.1),
		MaxSize:            decimal.NewFromFloat(2.0),
		RefreshInterval:    5 * time.Second,
		RefreshProbability: 0.7,
		PruneFraction:      0.5,
		WalkRange:          0.005,
	}
}

// MarketMaker keeps every configured pair visibly liquid: it seeds two-sided
// quotes around a reference price and periodically prunes and requotes them.
// All its orders carry the MarketMakerID owner and are matched like any
// other resting order, minus self-trades.
type MarketMaker struct {
	engine *LiquidityEngine
	cfg    MarketMakerConfig
	log    *zap.Logger

	mu   sync.Mutex // guards rng and refs; refresh cycles are sequential anyway
	rng  *rand.Rand
	refs map[string]decimal.Decimal // pair -> random-walked reference price
}

// NewMarketMaker builds a maker quoting around the given per-pair reference
// prices. rng is injectable so tests can be deterministic; nil falls back to
// a time-seeded source.
func NewMarketMaker(e *LiquidityEngine, refs map[string]decimal.Decimal, cfg MarketMakerConfig, rng *rand.Rand, logger *zap.Logger) *MarketMaker {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make(map[string]decimal.Decimal, len(refs))
	for pair, ref := range refs {
		normalized[NormalizePair(pair)] = ref
	}
	return &MarketMaker{
		engine: e,
		cfg:    cfg,
		log:    logger.Named("market_maker"),
		rng:    rng,
		refs:   normalized,
	}
}

// SeedAll quotes both sides of every pair that has a reference price.
// Called once at startup so the book never appears empty to a caller.
func (m *MarketMaker) SeedAll() {
	for _, pair := range m.engine.Pairs() {
		m.mu.Lock()
		ref, ok := m.refs[pair]
		m.mu.Unlock()
		if !ok {
			m.log.Warn("no reference price, pair left unseeded", zap.String("pair", pair))
			continue
		}
		b, ok := m.engine.book(pair)
		if !ok {
			continue
		}
		b.mu.Lock()
		m.quoteLocked(b, ref, Buy)
		m.quoteLocked(b, ref, Sell)
		b.mu.Unlock()
		m.log.Info("seeded", zap.String("pair", pair), zap.String("ref", ref.String()))
	}
}

// Run refreshes quotes until the context is cancelled.
func (m *MarketMaker) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range m.engine.Pairs() {
				m.refreshPair(pair)
			}
		}
	}
}

// refreshPair runs one refresh cycle for a pair. A cycle that cannot take
// the pair lock promptly skips rather than queueing behind user flow. A
// panic in one pair's refresh is contained so other pairs keep refreshing.
func (m *MarketMaker) refreshPair(pair string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("refresh panicked", zap.String("pair", pair), zap.Any("panic", r))
		}
	}()

	m.mu.Lock()
	ref, hasRef := m.refs[pair]
	requote := m.rng.Float64() < m.cfg.RefreshProbability
	walk := 1 + (m.rng.Float64()*2-1)*m.cfg.WalkRange
	m.mu.Unlock()
	if !hasRef {
		return
	}

	b, ok := m.engine.book(pair)
	if !ok {
		return
	}
	if !b.mu.TryLock() {
		m.log.Debug("pair busy, skipping refresh", zap.String("pair", pair))
		return
	}
	trades := m.requoteLocked(b, pair, ref, requote, walk)

	m.engine.publish(trades)
}

// requoteLocked runs the locked half of a refresh cycle. The caller holds
// the pair lock; it is released on return, panic included, so a failed
// cycle can never wedge the pair's synchronous order path.
func (m *MarketMaker) requoteLocked(b *book, pair string, ref decimal.Decimal, requote bool, walk float64) []Trade {
	defer b.mu.Unlock()

	if requote {
		ref = ref.Mul(decimal.NewFromFloat(walk)).Round(6)
		m.mu.Lock()
		m.refs[pair] = ref
		m.mu.Unlock()

		m.pruneLocked(b)
		m.quoteLocked(b, ref, Buy)
		m.quoteLocked(b, ref, Sell)
	}

	// An active pair must never show an empty side, even on cycles that
	// skipped the requote gate.
	if b.touched {
		if len(b.bids) == 0 {
			m.quoteLocked(b, ref, Buy)
		}
		if len(b.asks) == 0 {
			m.quoteLocked(b, ref, Sell)
		}
	}

	// A walked reference can cross resting user orders; settle them before
	// the lock drops so the book invariant holds.
	trades := b.matchLocked(m.engine.clock.Now())
	b.recordTradesLocked(trades)
	return trades
}

// pruneLocked drops a random subset of resting bot orders.
func (m *MarketMaker) pruneLocked(b *book) {
	var doomed []string
	for id, o := range b.byID {
		if o.UserID != MarketMakerID {
			continue
		}
		m.mu.Lock()
		drop := m.rng.Float64() < m.cfg.PruneFraction
		m.mu.Unlock()
		if drop {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		b.removeByIDLocked(id)
	}
}

// quoteLocked posts cfg.Levels fresh orders on one side around ref.
func (m *MarketMaker) quoteLocked(b *book, ref decimal.Decimal, side Side) {
	base := ref.Mul(m.cfg.Spread)
	for i := 0; i < m.cfg.Levels; i++ {
		widen := decimal.NewFromInt(1).Add(m.cfg.Decay.Mul(decimal.NewFromInt(int64(i))))
		offset := base.Mul(widen)

		var price decimal.Decimal
		if side == Buy {
			price = ref.Sub(offset)
		} else {
			price = ref.Add(offset)
		}
		if !price.IsPositive() {
			continue
		}

		o := newOrder(b.pair, side, price.Round(6), m.randSize(), MarketMakerID, m.engine.clock.Now())
		b.insertLocked(o)
	}
}

func (m *MarketMaker) randSize() decimal.Decimal {
	m.mu.Lock()
	f := m.rng.Float64()
	m.mu.Unlock()
	span := m.cfg.MaxSize.Sub(m.cfg.MinSize)
	return m.cfg.MinSize.Add(span.Mul(decimal.NewFromFloat(f))).Round(4)
}
