package main

import (
	"context"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PabloMarzol/nebu-debug-sub015/params"
	"github.com/PabloMarzol/nebu-debug-sub015/pkg/api"
	"github.com/PabloMarzol/nebu-debug-sub015/pkg/engine"
	"github.com/PabloMarzol/nebu-debug-sub015/pkg/settlement"
	"github.com/PabloMarzol/nebu-debug-sub015/pkg/util"
)

func main() {
	// Load config from .env (if present) and environment variables.
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.API.LogFile, zapcore.InfoLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	pairs := make([]string, 0, len(cfg.Engine.Pairs))
	refs := make(map[string]decimal.Decimal, len(cfg.Engine.Pairs))
	for _, p := range cfg.Engine.Pairs {
		ref, err := decimal.NewFromString(p.ReferencePrice)
		if err != nil || !ref.IsPositive() {
			logger.Fatal("bad reference price",
				zap.String("pair", p.Symbol),
				zap.String("price", p.ReferencePrice))
		}
		pairs = append(pairs, p.Symbol)
		refs[engine.NormalizePair(p.Symbol)] = ref
	}

	eng := engine.New(pairs, logger, util.RealClock{})

	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	maker := engine.NewMarketMaker(eng, refs, engine.MarketMakerConfig{
		Levels:             cfg.MarketMaker.Levels,
		Spread:             decimal.NewFromFloat(cfg.MarketMaker.Spread),
		Decay:              decimal.NewFromFloat(cfg.MarketMaker.Decay),
		MinSize:            decimal.NewFromFloat(cfg.MarketMaker.MinSize),
		MaxSize:            decimal.NewFromFloat(cfg.MarketMaker.MaxSize),
		RefreshInterval:    cfg.MarketMaker.RefreshInterval,
		RefreshProbability: cfg.MarketMaker.RefreshProbability,
		PruneFraction:      cfg.MarketMaker.PruneFraction,
		WalkRange:          cfg.MarketMaker.WalkRange,
	}, rand.New(rand.NewSource(seed)), logger)
	maker.SeedAll()

	trader := engine.NewHouseTrader(eng, engine.HouseTraderConfig{
		Interval:    cfg.HouseTrader.Interval,
		Probability: cfg.HouseTrader.Probability,
		MinVolume:   decimal.NewFromFloat(cfg.HouseTrader.MinVolume),
		MaxVolume:   decimal.NewFromFloat(cfg.HouseTrader.MaxVolume),
	}, rand.New(rand.NewSource(seed+1)), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go maker.Run(ctx)
	go trader.Run(ctx)

	ledger := settlement.NewMemoryLedger()
	server := api.NewServer(eng, ledger, cfg.API, logger)

	logger.Info("exchange starting",
		zap.Strings("pairs", eng.Pairs()),
		zap.String("addr", cfg.API.Addr),
		zap.Int64("seed", seed))

	if err := server.Start(ctx); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("exchange stopped")
}
