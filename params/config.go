package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Pair is one configured trading pair. ReferencePrice anchors the synthetic
// market maker; it is a string so params stays free of decimal imports and
// pins exact values.
type Pair struct {
	Symbol         string
	ReferencePrice string
}

type Engine struct {
	Pairs []Pair
	// Seed feeds the synthetic-flow RNGs; 0 means time-seeded.
	Seed int64
}

type MarketMaker struct {
	Levels             int
	Spread             float64 // innermost offset as a fraction of ref price
	Decay              float64
	MinSize            float64
	MaxSize            float64
	RefreshInterval    time.Duration
	RefreshProbability float64
	PruneFraction      float64
	WalkRange          float64
}

type HouseTrader struct {
	Interval    time.Duration
	Probability float64
	MinVolume   float64
	MaxVolume   float64
}

type API struct {
	Addr    string
	LogFile string
	// DepthLevels is the default level count for orderbook responses and
	// WS snapshots when the request does not name one.
	DepthLevels    int
	AllowedOrigins []string
}

type Config struct {
	Engine      Engine
	MarketMaker MarketMaker
	HouseTrader HouseTrader
	API         API
}

func Default() Config {
	return Config{
		Engine: Engine{
			Pairs: []Pair{
				{Symbol: "BTC/USDT", ReferencePrice: "65000"},
				{Symbol: "ETH/USDT", ReferencePrice: "3200"},
				{Symbol: "SOL/USDT", ReferencePrice: "145"},
			},
		},
		MarketMaker: MarketMaker{
			Levels:             5,
			Spread:             0.002,
			Decay:              0.5,
			MinSize:            0.1,
			MaxSize:            2.0,
			RefreshInterval:    5 * time.Second,
			RefreshProbability: 0.7,
			PruneFraction:      0.5,
			WalkRange:          0.005,
		},
		HouseTrader: HouseTrader{
			Interval:    5 * time.Second,
			Probability: 0.15,
			MinVolume:   0.05,
			MaxVolume:   0.5,
		},
		API: API{
			Addr:           ":8080",
			LogFile:        "data/exchange.log",
			DepthLevels:    20,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if logFile, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.API.LogFile = logFile
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}

	// Pairs as "BTC-USDT:65000,ETH-USDT:3200"
	if pairs := os.Getenv("PAIRS"); pairs != "" {
		cfg.Engine.Pairs = parsePairs(pairs, cfg.Engine.Pairs)
	}
	if seed := os.Getenv("RNG_SEED"); seed != "" {
		if v, err := strconv.ParseInt(seed, 10, 64); err == nil {
			cfg.Engine.Seed = v
		}
	}
	if levels := os.Getenv("DEPTH_LEVELS"); levels != "" {
		if v, err := strconv.Atoi(levels); err == nil && v > 0 {
			cfg.API.DepthLevels = v
		}
	}

	if ms := os.Getenv("MM_REFRESH_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.MarketMaker.RefreshInterval = time.Duration(v) * time.Millisecond
		}
	}
	if levels := os.Getenv("MM_LEVELS"); levels != "" {
		if v, err := strconv.Atoi(levels); err == nil && v > 0 {
			cfg.MarketMaker.Levels = v
		}
	}
	if spread := os.Getenv("MM_SPREAD"); spread != "" {
		if v, err := strconv.ParseFloat(spread, 64); err == nil && v > 0 {
			cfg.MarketMaker.Spread = v
		}
	}
	if prob := os.Getenv("MM_REFRESH_PROBABILITY"); prob != "" {
		if v, err := strconv.ParseFloat(prob, 64); err == nil {
			cfg.MarketMaker.RefreshProbability = v
		}
	}

	if ms := os.Getenv("HT_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.HouseTrader.Interval = time.Duration(v) * time.Millisecond
		}
	}
	if prob := os.Getenv("HT_PROBABILITY"); prob != "" {
		if v, err := strconv.ParseFloat(prob, 64); err == nil {
			cfg.HouseTrader.Probability = v
		}
	}

	return cfg
}

// parsePairs decodes "SYMBOL:PRICE" entries; a malformed list keeps the
// fallback untouched.
func parsePairs(raw string, fallback []Pair) []Pair {
	var out []Pair
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fallback
		}
		if _, err := strconv.ParseFloat(parts[1], 64); err != nil {
			return fallback
		}
		out = append(out, Pair{Symbol: parts[0], ReferencePrice: parts[1]})
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
