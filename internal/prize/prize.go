// Package prize implements the prize pool calculator: pool derivation from
// entry fees, distribution validation against the pool, and automatic
// rank-percentage distribution.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Prize amounts are whole rupees; every percentage allocation is floored,
// and the flooring remainder is deliberately not reconciled (under-allocation
// is permitted, over-allocation is a hard failure).
package prize

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
)

var (
	// ErrOverAllocated is returned when a distribution's total exceeds the
	// prize pool. Blocks contest publish.
	ErrOverAllocated = errors.New("prize: distribution exceeds prize pool")

	// ErrNegativeAmount is returned when any rank's amount is negative.
	ErrNegativeAmount = errors.New("prize: rank amount must be non-negative")

	// DefaultPlatformFeePct is the platform cut applied to paid contests.
	DefaultPlatformFeePct = decimal.NewFromFloat(0.10)
)

// rankTables maps rank count → percentage split, for up to five ranks.
var rankTables = map[int][]int64{
	1: {100},
	2: {70, 30},
	3: {60, 30, 10},
	4: {50, 25, 15, 10},
	5: {45, 25, 15, 10, 5},
}

// topFivePcts is the split for the top five ranks when more than five ranks
// are paid; the remaining 20% is divided evenly among the rest.
var topFivePcts = []int64{40, 20, 10, 7, 3}

var hundred = decimal.NewFromInt(100)

// ComputePrizePool derives the total pool from entry fees and the platform
// cut:
//
//	pool = floor(entryFee * maxParticipants * (1 - platformFeePct))
//
// FREE contests always have a zero pool regardless of inputs.
func ComputePrizePool(entryFee decimal.Decimal, maxParticipants int, platformFeePct decimal.Decimal, contestType string) decimal.Decimal {
	if contestType == model.TypeFree {
		return decimal.Zero
	}
	gross := entryFee.Mul(decimal.NewFromInt(int64(maxParticipants)))
	return gross.Mul(decimal.NewFromInt(1).Sub(platformFeePct)).Floor()
}

// ValidationResult reports the outcome of a distribution check.
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Unallocated    decimal.Decimal `json:"unallocated"`
}

// ValidateDistribution checks a proposed rank→amount distribution against
// the pool. Every amount must be ≥ 0 and the total must not exceed the pool.
// Under-allocation is permitted (surfaced via Unallocated, not an error).
func ValidateDistribution(distribution map[int]decimal.Decimal, prizePool decimal.Decimal) (ValidationResult, error) {
	total := decimal.Zero
	for _, amount := range distribution {
		if amount.IsNegative() {
			return ValidationResult{TotalAllocated: total}, ErrNegativeAmount
		}
		total = total.Add(amount)
	}

	if total.GreaterThan(prizePool) {
		return ValidationResult{TotalAllocated: total}, ErrOverAllocated
	}

	return ValidationResult{
		Valid:          true,
		TotalAllocated: total,
		Unallocated:    prizePool.Sub(total),
	}, nil
}

// AutoDistribute builds a rank→amount distribution from the pool.
// WINNER_TAKES_ALL assigns the whole pool to rank 1. Up to five ranks use
// fixed percentage tables; beyond five, the top five take [40,20,10,7,3]%
// and the remaining 20% is split evenly (floor division) among the rest.
func AutoDistribute(prizePool decimal.Decimal, numRanks int, contestType string) map[int]decimal.Decimal {
	dist := make(map[int]decimal.Decimal)
	if numRanks < 1 || prizePool.LessThanOrEqual(decimal.Zero) {
		return dist
	}

	if contestType == model.TypeWinnerTakesAll {
		dist[1] = prizePool.Floor()
		return dist
	}

	if pcts, ok := rankTables[numRanks]; ok {
		for i, pct := range pcts {
			dist[i+1] = share(prizePool, pct)
		}
		return dist
	}

	for i, pct := range topFivePcts {
		dist[i+1] = share(prizePool, pct)
	}

	// Remaining 20% split evenly among ranks 6..numRanks.
	tail := numRanks - 5
	tailTotal := share(prizePool, 20)
	each := tailTotal.Div(decimal.NewFromInt(int64(tail))).Floor()
	for rank := 6; rank <= numRanks; rank++ {
		dist[rank] = each
	}
	return dist
}

// share returns floor(pct/100 * pool).
func share(pool decimal.Decimal, pct int64) decimal.Decimal {
	return pool.Mul(decimal.NewFromInt(pct)).Div(hundred).Floor()
}
