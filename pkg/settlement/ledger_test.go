package settlement

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreditAndAvailable(t *testing.T) {
	l := NewMemoryLedger()

	assert.True(t, l.Available("userA", "USDT").IsZero(), "fresh account starts empty")

	require.NoError(t, l.Credit("userA", "USDT", d("1000")))
	require.NoError(t, l.Credit("userA", "USDT", d("250")))
	require.NoError(t, l.Credit("userA", "BTC", d("2")))

	assert.True(t, l.Available("userA", "USDT").Equal(d("1250")))
	assert.True(t, l.Available("userA", "BTC").Equal(d("2")))
	assert.True(t, l.Available("userB", "USDT").IsZero())
}

func TestCreditRejectsNonPositive(t *testing.T) {
	l := NewMemoryLedger()
	assert.True(t, errors.Is(l.Credit("userA", "USDT", d("0")), ErrInvalidAmount))
	assert.True(t, errors.Is(l.Credit("userA", "USDT", d("-5")), ErrInvalidAmount))
}

func TestLockReservesFunds(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Credit("userA", "USDT", d("100")))

	require.NoError(t, l.Lock("userA", "USDT", d("60")))
	assert.True(t, l.Available("userA", "USDT").Equal(d("40")))

	err := l.Lock("userA", "USDT", d("50"))
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.True(t, l.Available("userA", "USDT").Equal(d("40")), "failed lock leaves balance untouched")

	err = l.Lock("userB", "USDT", d("1"))
	assert.True(t, errors.Is(err, ErrInsufficientFunds), "empty account cannot lock")
}

func TestUnlockReleasesFunds(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Credit("userA", "USDT", d("100")))
	require.NoError(t, l.Lock("userA", "USDT", d("60")))

	require.NoError(t, l.Unlock("userA", "USDT", d("60")))
	assert.True(t, l.Available("userA", "USDT").Equal(d("100")))

	// Over-release clamps instead of going negative.
	require.NoError(t, l.Unlock("userA", "USDT", d("9999")))
	assert.True(t, l.Available("userA", "USDT").Equal(d("100")))

	assert.True(t, errors.Is(l.Unlock("userA", "USDT", d("-1")), ErrInvalidAmount))
}

func TestLedgerConcurrentLocks(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Credit("userA", "USDT", d("100")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Lock("userA", "USDT", d("1")) == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, granted, "locks must never exceed the balance")
	assert.True(t, l.Available("userA", "USDT").IsZero())
}
