// Package risk enforces per-contest position limits: how many positions a
// participant may hold open at once, and how large a single position may be
// relative to the contest's virtual bankroll.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
)

// ErrPositionLimitExceeded is returned when a trade would violate the
// contest's open-position count or position-size limits.
var ErrPositionLimitExceeded = errors.New("risk: position limit exceeded")

var hundred = decimal.NewFromInt(100)

// Limiter validates trade openings against one contest's trading settings.
type Limiter struct {
	settings     model.TradingSettings
	virtualMoney decimal.Decimal
}

// NewLimiter creates a limiter for a contest's settings and virtual bankroll.
func NewLimiter(settings model.TradingSettings, virtualMoney decimal.Decimal) *Limiter {
	return &Limiter{settings: settings, virtualMoney: virtualMoney}
}

// CheckOpen validates a new position against the limits.
//
// Parameters:
//   - cost: entryPrice * quantity of the proposed trade
//   - openPositions: the participant's current OPEN trade count
//
// Returns nil if the trade is within limits, or an error describing the
// violation.
func (l *Limiter) CheckOpen(cost decimal.Decimal, openPositions int) error {
	if openPositions >= l.settings.MaxOpenPositions {
		return fmt.Errorf("%w: %d positions already open (max %d)",
			ErrPositionLimitExceeded, openPositions, l.settings.MaxOpenPositions)
	}

	maxCost := l.virtualMoney.Mul(l.settings.MaxPositionSizePct).Div(hundred)
	if cost.GreaterThan(maxCost) {
		return fmt.Errorf("%w: position cost %s exceeds %s%% of virtual money (%s)",
			ErrPositionLimitExceeded, cost, l.settings.MaxPositionSizePct, maxCost)
	}
	return nil
}
