// Package api exposes the liquidity engine over REST and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/PabloMarzol/nebu-debug-sub015/params"
	"github.com/PabloMarzol/nebu-debug-sub015/pkg/engine"
	"github.com/PabloMarzol/nebu-debug-sub015/pkg/settlement"
)

// bookBroadcastInterval coalesces orderbook pushes to WS subscribers.
const bookBroadcastInterval = time.Second

// Server handles REST requests and WebSocket fan-out.
type Server struct {
	engine *engine.LiquidityEngine
	ledger settlement.Ledger
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
	cfg    params.API
}

// NewServer wires the HTTP surface to an engine and a settlement ledger and
// subscribes the WebSocket hub to the engine's trade feed.
func NewServer(eng *engine.LiquidityEngine, ledger settlement.Ledger, cfg params.API, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: eng,
		ledger: ledger,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		log:    logger.Named("api"),
		cfg:    cfg,
	}
	s.setupRoutes()

	eng.OnTrade(func(t engine.Trade) {
		s.hub.BroadcastToChannel("trades:"+t.Pair, TradeUpdate{
			Type:      "trade",
			Symbol:    t.Pair,
			Price:     t.Price,
			Amount:    t.Amount,
			Synthetic: t.Synthetic,
			Timestamp: t.Timestamp.UnixMilli(),
		})
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleGetStats).Methods(http.MethodGet)

	api.HandleFunc("/orders", withIdentity(s.handleSubmitOrder)).Methods(http.MethodPost)
	api.HandleFunc("/orders/cancel", withIdentity(s.handleCancelOrder)).Methods(http.MethodPost)
	api.HandleFunc("/faucet", withIdentity(s.handleFaucet)).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routable handler with CORS applied; exported for
// httptest use.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-User-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.broadcastBooks(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting", zap.String("addr", s.cfg.Addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// broadcastBooks pushes coalesced orderbook snapshots to subscribers.
func (s *Server) broadcastBooks(ctx context.Context) {
	ticker := time.NewTicker(bookBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pair := range s.engine.Pairs() {
				channel := "orderbook:" + pair
				if !s.hub.HasSubscribers(channel) {
					continue
				}
				snap, err := s.engine.GetOrderBook(pair, s.cfg.DepthLevels)
				if err != nil {
					continue
				}
				s.hub.BroadcastToChannel(channel, OrderbookUpdate{
					Type:      "orderbook",
					Symbol:    snap.Pair,
					Bids:      snap.Bids,
					Asks:      snap.Asks,
					Timestamp: snap.Timestamp.UnixMilli(),
				})
			}
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.GetStats()
	markets := make([]MarketInfo, 0, len(stats.Pairs))
	for _, ps := range stats.Pairs {
		markets = append(markets, MarketInfo{
			Symbol:    ps.Pair,
			BidCount:  ps.BidCount,
			AskCount:  ps.AskCount,
			BestBid:   ps.BestBid,
			BestAsk:   ps.BestAsk,
			Spread:    ps.Spread,
			LastPrice: ps.LastPrice,
			Active:    ps.Active,
		})
	}
	respondJSON(w, markets)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	levels := s.cfg.DepthLevels
	if raw := r.URL.Query().Get("levels"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "invalid levels", raw)
			return
		}
		levels = v
	}

	snap, err := s.engine.GetOrderBook(symbol, levels)
	if err != nil {
		respondError(w, http.StatusNotFound, "orderbook not found", err.Error())
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	trades := s.engine.RecentTrades(symbol, limit)
	if trades == nil {
		trades = []engine.Trade{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.GetStats())
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Type != "" && req.Type != "limit" {
		respondError(w, http.StatusBadRequest, "unsupported order type", req.Type)
		return
	}

	uid := userID(r)
	base, quote, ok := engine.SplitPair(req.Pair)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid pair", req.Pair)
		return
	}

	// Funds are locked before the engine sees the order; the engine assumes
	// availability has been checked upstream.
	side := engine.Side(req.Side)
	if req.Price.IsPositive() && req.Amount.IsPositive() {
		var err error
		switch side {
		case engine.Buy:
			err = s.ledger.Lock(uid, quote, req.Price.Mul(req.Amount))
		case engine.Sell:
			err = s.ledger.Lock(uid, base, req.Amount)
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "insufficient funds", err.Error())
			return
		}
	}

	order, err := s.engine.AddOrder(req.Pair, side, req.Price, req.Amount, uid)
	if err != nil {
		// Release whatever the rejected order had locked.
		if req.Price.IsPositive() && req.Amount.IsPositive() {
			switch side {
			case engine.Buy:
				_ = s.ledger.Unlock(uid, quote, req.Price.Mul(req.Amount))
			case engine.Sell:
				_ = s.ledger.Unlock(uid, base, req.Amount)
			}
		}
		status := http.StatusBadRequest
		if errors.Is(err, engine.ErrUnknownPair) {
			status = http.StatusNotFound
		}
		respondError(w, status, "order rejected", err.Error())
		return
	}

	s.log.Info("order accepted",
		zap.String("pair", order.Pair),
		zap.String("order_id", order.ID),
		zap.String("user_id", uid),
		zap.String("status", string(order.Status)))
	respondJSON(w, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}

	uid := userID(r)
	if order, found := s.engine.GetOrder(req.Pair, req.OrderID); found && order.UserID != uid {
		respondError(w, http.StatusForbidden, "order belongs to another user", "")
		return
	}

	cancelled, ok := s.engine.CancelOrder(req.Pair, req.OrderID)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found or not cancellable", req.OrderID)
		return
	}

	// Release the funds still locked behind the unfilled remainder. The
	// snapshot comes from the cancel itself, so a fill racing this request
	// cannot over-release.
	if base, quote, ok := engine.SplitPair(req.Pair); ok {
		remaining := cancelled.Remaining()
		if remaining.IsPositive() {
			switch cancelled.Side {
			case engine.Buy:
				_ = s.ledger.Unlock(uid, quote, cancelled.Price.Mul(remaining))
			case engine.Sell:
				_ = s.ledger.Unlock(uid, base, remaining)
			}
		}
	}

	s.log.Info("order cancelled",
		zap.String("pair", cancelled.Pair),
		zap.String("order_id", req.OrderID),
		zap.String("user_id", uid))
	respondJSON(w, CancelOrderResponse{Cancelled: true, OrderID: req.OrderID})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Currency == "" {
		respondError(w, http.StatusBadRequest, "missing currency", "")
		return
	}

	uid := userID(r)
	if err := s.ledger.Credit(uid, req.Currency, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "credit failed", err.Error())
		return
	}
	respondJSON(w, map[string]string{
		"balance": s.ledger.Available(uid, req.Currency).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
