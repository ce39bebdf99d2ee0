// Package settlement is the boundary to the wallet/payment collaborator.
// The liquidity engine itself never touches balances; the order-submission
// boundary locks funds here before an order is accepted. The in-memory
// implementation exists so the demo runs standalone; real-money settlement
// correctness is the collaborator's responsibility, not this package's.
package settlement

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Ledger credits and locks user balances per currency.
type Ledger interface {
	Credit(userID, currency string, amount decimal.Decimal) error
	Lock(userID, currency string, amount decimal.Decimal) error
	Unlock(userID, currency string, amount decimal.Decimal) error
	Available(userID, currency string) decimal.Decimal
}

type account struct {
	balance map[string]decimal.Decimal // currency -> total
	locked  map[string]decimal.Decimal // currency -> locked in open orders
}

func newAccount() *account {
	return &account{
		balance: make(map[string]decimal.Decimal),
		locked:  make(map[string]decimal.Decimal),
	}
}

// MemoryLedger is a process-local Ledger. Accounts are created on first use
// with zero balances; state is lost on restart.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*account
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]*account)}
}

func (l *MemoryLedger) accountLocked(userID string) *account {
	acc, ok := l.accounts[userID]
	if !ok {
		acc = newAccount()
		l.accounts[userID] = acc
	}
	return acc
}

func (l *MemoryLedger) Credit(userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(userID)
	acc.balance[currency] = acc.balance[currency].Add(amount)
	return nil
}

// Lock reserves funds for an open order. Fails when the user's available
// (unlocked) balance does not cover the amount.
func (l *MemoryLedger) Lock(userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(userID)
	available := acc.balance[currency].Sub(acc.locked[currency])
	if available.LessThan(amount) {
		return fmt.Errorf("%w: %s %s available, %s requested",
			ErrInsufficientFunds, available, currency, amount)
	}
	acc.locked[currency] = acc.locked[currency].Add(amount)
	return nil
}

// Unlock releases previously locked funds, e.g. after a cancel. Releasing
// more than is locked clamps to zero rather than going negative.
func (l *MemoryLedger) Unlock(userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(userID)
	remaining := acc.locked[currency].Sub(amount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	acc.locked[currency] = remaining
	return nil
}

// Available returns balance minus locked for one currency.
func (l *MemoryLedger) Available(userID, currency string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[userID]
	if !ok {
		return decimal.Zero
	}
	return acc.balance[currency].Sub(acc.locked[currency])
}
