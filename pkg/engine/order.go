package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
)

// Reserved owner ids for synthetic liquidity. Orders carrying these ids are
// posted by the engine itself and never settle against a real balance.
const (
	MarketMakerID = "market_maker_bot"
	HouseTraderID = "house_trader"
)

// Order is a single resting or filled intent. Price, Amount and Filled use
// decimal arithmetic; Remaining is always Amount - Filled and an order with
// zero remaining never rests in a book.
type Order struct {
	ID        string          `json:"id"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Filled    decimal.Decimal `json:"filledAmount"`
	UserID    string          `json:"userId"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`

	// seq is the book-local arrival counter. CreatedAt drives time priority;
	// seq breaks ties when two orders land on the same clock reading.
	seq uint64
}

func newOrder(pair string, side Side, price, amount decimal.Decimal, userID string, now time.Time) *Order {
	return &Order{
		ID:        uuid.NewString(),
		Pair:      pair,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Filled:    decimal.Zero,
		UserID:    userID,
		Status:    StatusOpen,
		CreatedAt: now,
	}
}

// Remaining returns the unfilled size.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// fill grows Filled and advances the status machine:
// open -> partially_filled -> filled.
func (o *Order) fill(qty decimal.Decimal) {
	o.Filled = o.Filled.Add(qty)
	if o.Remaining().IsPositive() {
		o.Status = StatusPartiallyFilled
	} else {
		o.Status = StatusFilled
	}
}

// snapshot returns a copy safe to hand to callers after the book lock is
// released.
func (o *Order) snapshot() Order {
	return *o
}

func syntheticOwner(userID string) bool {
	return userID == MarketMakerID || userID == HouseTraderID
}

// sameOrigin reports whether two orders belong to the same economic actor.
// All synthetic owners count as one origin class: the bots quote both sides
// and must never trade with themselves or with each other.
func sameOrigin(a, b string) bool {
	if a == b {
		return true
	}
	return syntheticOwner(a) && syntheticOwner(b)
}

// NormalizePair maps inbound symbols to the canonical slash form,
// e.g. "btc-usdt" -> "BTC/USDT". Applied at every public entry point.
func NormalizePair(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	return strings.ReplaceAll(p, "-", "/")
}

// SplitPair returns the base and quote currency of a normalized pair.
// The second return is false if the symbol is not of the form BASE/QUOTE.
func SplitPair(pair string) (base, quote string, ok bool) {
	parts := strings.Split(NormalizePair(pair), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
