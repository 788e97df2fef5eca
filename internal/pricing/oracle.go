// Package pricing defines the price oracle consumed by the trading ledger.
// The settlement core never generates prices or randomness itself — it only
// applies whatever the oracle supplies, so tests can inject deterministic
// price sequences.
package pricing

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned when the oracle has no quote for a symbol.
var ErrUnknownSymbol = errors.New("pricing: no quote for symbol")

// Oracle supplies the current price for an option symbol. Treated as an
// untrusted, possibly-stale source; quotes may lag the real market.
type Oracle interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticOracle serves quotes from an in-memory table. Used in tests and as
// the backing table for the random-walk feed.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]decimal.Decimal
}

// NewStaticOracle creates an oracle with an empty quote table.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{quotes: make(map[string]decimal.Decimal)}
}

// Set stores a quote for a symbol.
func (o *StaticOracle) Set(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[symbol] = price
}

// Price returns the stored quote for a symbol.
func (o *StaticOracle) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.quotes[symbol]
	if !ok {
		return decimal.Zero, ErrUnknownSymbol
	}
	return price, nil
}
