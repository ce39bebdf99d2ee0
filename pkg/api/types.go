package api

// Request and response types for REST endpoints and WebSocket messages.

import (
	"github.com/shopspring/decimal"

	"github.com/PabloMarzol/nebu-debug-sub015/pkg/engine"
)

// MarketInfo is one pair's live summary, derived from engine stats.
type MarketInfo struct {
	Symbol    string          `json:"symbol"`
	BidCount  int             `json:"bidCount"`
	AskCount  int             `json:"askCount"`
	BestBid   decimal.Decimal `json:"bestBid"`
	BestAsk   decimal.Decimal `json:"bestAsk"`
	Spread    decimal.Decimal `json:"spread"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Active    bool            `json:"active"`
}

// SubmitOrderRequest is the payload for POST /api/v1/orders. Pair accepts
// dash or slash form. Type is optional and must be "limit" when set.
type SubmitOrderRequest struct {
	Pair   string          `json:"pair"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Type   string          `json:"type,omitempty"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Pair    string `json:"pair"`
	OrderID string `json:"orderId"`
}

// CancelOrderResponse reports whether the order was actually cancelled.
type CancelOrderResponse struct {
	Cancelled bool   `json:"cancelled"`
	OrderID   string `json:"orderId"`
}

// FaucetRequest credits demo funds to the authenticated user.
type FaucetRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. {"op":"subscribe","channels":["orderbook:BTC/USDT","trades:BTC/USDT"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast periodically per pair channel.
type OrderbookUpdate struct {
	Type      string              `json:"type"` // "orderbook"
	Symbol    string              `json:"symbol"`
	Bids      []engine.DepthLevel `json:"bids"`
	Asks      []engine.DepthLevel `json:"asks"`
	Timestamp int64               `json:"timestamp"`
}

// TradeUpdate is broadcast on every trade, synthetic flow included.
type TradeUpdate struct {
	Type      string          `json:"type"` // "trade"
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Synthetic bool            `json:"synthetic,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
