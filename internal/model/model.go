// Package model defines the core domain types shared across the contest
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Entry fees and prizes are whole rupees; virtual balances carry
// paise precision.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contest lifecycle states.
const (
	StatusDraft     = "DRAFT"
	StatusUpcoming  = "UPCOMING"
	StatusActive    = "ACTIVE"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Contest types.
const (
	TypeFree           = "FREE"
	TypePaid           = "PAID"
	TypeHead2Head      = "HEAD2HEAD"
	TypeGuaranteed     = "GUARANTEED"
	TypeWinnerTakesAll = "WINNER_TAKES_ALL"
)

// TradingSettings are the per-contest trading constraints.
type TradingSettings struct {
	MaxTradesPerUser   int             `json:"max_trades_per_user" db:"max_trades_per_user"`
	MaxOpenPositions   int             `json:"max_open_positions" db:"max_open_positions"`
	MaxPositionSizePct decimal.Decimal `json:"max_position_size_pct" db:"max_position_size_pct"` // % of virtual money, (0,100]
}

// Contest is a time-boxed trading competition with an entry fee and a
// prize distribution keyed by final rank.
type Contest struct {
	ID                 string                  `json:"id" db:"id"`
	Name               string                  `json:"name" db:"name"`
	Description        string                  `json:"description" db:"description"`
	ContestType        string                  `json:"contest_type" db:"contest_type"`
	Status             string                  `json:"status" db:"status"`
	EntryFee           decimal.Decimal         `json:"entry_fee" db:"entry_fee"`
	MinParticipants    int                     `json:"min_participants" db:"min_participants"`
	MaxParticipants    int                     `json:"max_participants" db:"max_participants"`
	PrizePool          decimal.Decimal         `json:"prize_pool" db:"prize_pool"`
	PrizeDistribution  map[int]decimal.Decimal `json:"prize_distribution" db:"prize_distribution"` // rank → amount
	VirtualMoneyAmount decimal.Decimal         `json:"virtual_money_amount" db:"virtual_money_amount"`
	Trading            TradingSettings         `json:"trading_settings" db:"trading_settings"`
	StartDate          time.Time               `json:"start_date" db:"start_date"`
	EndDate            time.Time               `json:"end_date" db:"end_date"`
	PrizesSettled      bool                    `json:"prizes_settled" db:"prizes_settled"`
	CreatedAt          time.Time               `json:"created_at" db:"created_at"`
}

// IsFree reports whether joining the contest costs nothing.
func (c *Contest) IsFree() bool {
	return c.ContestType == TypeFree || c.EntryFee.IsZero()
}

// Participation records that a user joined a contest. At most one per
// (user, contest) pair — enforced at the storage layer.
type Participation struct {
	UserID    string    `json:"user_id" db:"user_id"`
	ContestID string    `json:"contest_id" db:"contest_id"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

// VirtualWallet is the contest-scoped simulated cash balance issued on
// join. Invariant after every trade operation:
//
//	BaseBalance + InvestedAmount == virtualMoneyAmount + RealizedPnL
type VirtualWallet struct {
	ContestID      string          `json:"contest_id" db:"contest_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	BaseBalance    decimal.Decimal `json:"base_balance" db:"base_balance"`       // cash not committed to open positions
	InvestedAmount decimal.Decimal `json:"invested_amount" db:"invested_amount"` // cost basis of open positions
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
}

// NetWorth is the wallet's mark-to-market value.
func (w *VirtualWallet) NetWorth() decimal.Decimal {
	return w.BaseBalance.Add(w.InvestedAmount).Add(w.UnrealizedPnL)
}

// AvailableCash is what backs a new trade: the uncommitted cushion plus
// floating P&L. Cash committed to other open positions is excluded.
func (w *VirtualWallet) AvailableCash() decimal.Decimal {
	return w.BaseBalance.Add(w.UnrealizedPnL)
}

// TotalPnL is realized plus unrealized — the ranking key.
func (w *VirtualWallet) TotalPnL() decimal.Decimal {
	return w.RealizedPnL.Add(w.UnrealizedPnL)
}

// Trade states.
const (
	TradeOpen   = "OPEN"
	TradeClosed = "CLOSED"
)

// Trade is a simulated option purchase. Created by a trade request,
// mutated only by price marks while OPEN and by close (exactly once).
// Never deleted — the set of trades is the audit trail.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	ContestID    string          `json:"contest_id" db:"contest_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	Status       string          `json:"status" db:"status"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`             // live, meaningful while OPEN
	FinalPnL     decimal.Decimal `json:"final_pnl" db:"final_pnl"` // frozen at close
	OpenedAt     time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	MarkedAt     time.Time       `json:"marked_at" db:"marked_at"` // last price-mark timestamp
}

// Cost is the virtual cash debited when the trade was opened.
func (t *Trade) Cost() decimal.Decimal {
	return t.EntryPrice.Mul(decimal.NewFromInt(t.Quantity))
}

// Wallet ledger entry kinds.
const (
	EntryDeposit      = "deposit"
	EntryContestEntry = "contest_entry"
	EntryPrize        = "prize"
	EntryRefund       = "refund"
	EntryWithdrawal   = "withdrawal"
)

// WalletLedgerEntry is an immutable real-money transaction record.
// A user's balance is the sum of their entry amounts, never stored
// as mutable state.
type WalletLedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	Kind      string          `json:"kind" db:"kind"`
	Reference string          `json:"reference" db:"reference"` // e.g. "prize:<contestID>", dedupe key for prize credits
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// LeaderboardEntry is derived on demand from trades + virtual wallets;
// it is never stored or mutated directly.
type LeaderboardEntry struct {
	UserID         string          `json:"user_id"`
	Rank           int             `json:"rank"`
	Points         int             `json:"points"`
	PnL            decimal.Decimal `json:"pnl"` // realized + unrealized
	ProjectedPrize decimal.Decimal `json:"projected_prize"`
}
