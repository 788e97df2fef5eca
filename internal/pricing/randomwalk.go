package pricing

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// RandomWalkOracle is a mock market-data source: each quote takes a bounded
// random step from the previous one, floored at zero. It stands in for a
// real option-chain feed in development; production wires a real feed
// behind the same Oracle interface.
type RandomWalkOracle struct {
	mu      sync.Mutex
	quotes  map[string]decimal.Decimal
	stepPct decimal.Decimal // max per-quote move, percent of last price
	rng     *rand.Rand
}

// NewRandomWalkOracle creates a walk with the given maximum step percent.
// A seeded rng keeps development runs reproducible.
func NewRandomWalkOracle(stepPct decimal.Decimal, seed uint64) *RandomWalkOracle {
	return &RandomWalkOracle{
		quotes:  make(map[string]decimal.Decimal),
		stepPct: stepPct,
		rng:     rand.New(rand.NewPCG(seed, seed)),
	}
}

// Seed sets the starting price for a symbol.
func (o *RandomWalkOracle) Seed(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[symbol] = price
}

// Price steps the symbol's quote and returns the new value.
func (o *RandomWalkOracle) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	last, ok := o.quotes[symbol]
	if !ok {
		return decimal.Zero, ErrUnknownSymbol
	}

	// Uniform step in [-stepPct, +stepPct] percent.
	f := o.rng.Float64()*2 - 1
	step := last.Mul(o.stepPct).Mul(decimal.NewFromFloat(f)).Div(decimal.NewFromInt(100))
	next := last.Add(step).Round(2)
	if next.IsNegative() {
		next = decimal.Zero
	}

	o.quotes[symbol] = next
	return next, nil
}
