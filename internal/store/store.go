// Package store defines the persistence interface for the contest engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The store is where the check-then-act invariants live: capacity-checked
// participant adds, balance-checked debits, and at-most-once trade closes
// are all single conditional operations here, never check-then-write in the
// service layer.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
)

var (
	// ErrNotFound is returned when a contest, trade, wallet, or
	// participation does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional update loses (e.g. a
	// status transition whose precondition no longer holds).
	ErrConflict = errors.New("store: conflicting state")

	// ErrContestFull is returned when a participant add would exceed the
	// contest's capacity.
	ErrContestFull = errors.New("store: contest is full")

	// ErrAlreadyJoined is returned when a (user, contest) participation
	// already exists.
	ErrAlreadyJoined = errors.New("store: user already joined contest")

	// ErrAlreadyClosed is returned when closing a trade that is not OPEN.
	ErrAlreadyClosed = errors.New("store: trade already closed")

	// ErrInsufficientFunds is returned by a conditional debit whose
	// balance check fails.
	ErrInsufficientFunds = errors.New("store: insufficient funds")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Contest registry ---

	// CreateContest persists a new contest in DRAFT state.
	CreateContest(ctx context.Context, c *model.Contest) error

	// GetContest retrieves a contest by ID.
	GetContest(ctx context.Context, id string) (*model.Contest, error)

	// ListContests returns all contests, newest first.
	ListContests(ctx context.Context) ([]model.Contest, error)

	// ListContestsByStatus returns contests in the given lifecycle state.
	ListContestsByStatus(ctx context.Context, status string) ([]model.Contest, error)

	// TransitionContest conditionally moves a contest from one status to
	// another. Returns ErrConflict if the contest is no longer in `from`.
	TransitionContest(ctx context.Context, id, from, to string) error

	// SetPrizeDistribution stores the pool and rank→amount table.
	SetPrizeDistribution(ctx context.Context, id string, pool decimal.Decimal, dist map[int]decimal.Decimal) error

	// MarkPrizesSettled flips the settled flag exactly once. Returns false
	// if prizes were already settled (caller must not credit again).
	MarkPrizesSettled(ctx context.Context, id string) (bool, error)

	// --- Participation ---

	// AddParticipant inserts a participation iff the contest has capacity
	// and the user has not joined. Capacity check and insert are one
	// atomic operation. Returns ErrContestFull or ErrAlreadyJoined.
	AddParticipant(ctx context.Context, p *model.Participation, maxParticipants int) error

	// GetParticipation returns a (user, contest) participation.
	GetParticipation(ctx context.Context, contestID, userID string) (*model.Participation, error)

	// ListParticipants returns all participations for a contest, ordered
	// by join time.
	ListParticipants(ctx context.Context, contestID string) ([]model.Participation, error)

	// CountParticipants returns the number of joined users.
	CountParticipants(ctx context.Context, contestID string) (int, error)

	// RemoveParticipant deletes a (user, contest) participation. Used to
	// unwind a join whose later steps failed.
	RemoveParticipant(ctx context.Context, contestID, userID string) error

	// --- Real-money wallet ledger (append-only) ---

	// AppendLedgerEntry appends an immutable ledger entry (credits and
	// unconditional adjustments).
	AppendLedgerEntry(ctx context.Context, e *model.WalletLedgerEntry) error

	// DebitIfSufficient appends a debit entry iff the user's derived
	// balance covers it. Balance check and append are one atomic
	// operation. The entry amount must be negative.
	DebitIfSufficient(ctx context.Context, e *model.WalletLedgerEntry) error

	// WalletBalance returns the sum of all ledger entries for a user.
	WalletBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// LedgerEntries returns a user's ledger entries in append order.
	LedgerEntries(ctx context.Context, userID string) ([]model.WalletLedgerEntry, error)

	// HasLedgerReference reports whether the user already has an entry
	// with the given reference key (prize-credit dedupe).
	HasLedgerReference(ctx context.Context, userID, reference string) (bool, error)

	// --- Virtual wallets ---

	// CreateVirtualWallet persists the wallet issued on join.
	CreateVirtualWallet(ctx context.Context, w *model.VirtualWallet) error

	// GetVirtualWallet retrieves the wallet for one (contest, user).
	GetVirtualWallet(ctx context.Context, contestID, userID string) (*model.VirtualWallet, error)

	// UpdateVirtualWallet replaces the wallet's balance fields.
	UpdateVirtualWallet(ctx context.Context, w *model.VirtualWallet) error

	// ListVirtualWallets returns every wallet in a contest.
	ListVirtualWallets(ctx context.Context, contestID string) ([]model.VirtualWallet, error)

	// --- Trades ---

	// CreateTrade persists a new OPEN trade.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTradesByUser returns all trades (OPEN and CLOSED) for one user
	// in one contest, ordered by open time.
	ListTradesByUser(ctx context.Context, contestID, userID string) ([]model.Trade, error)

	// ListOpenTrades returns every OPEN trade in a contest.
	ListOpenTrades(ctx context.Context, contestID string) ([]model.Trade, error)

	// CountTradesByUser returns the user's total trade count in a contest,
	// OPEN plus CLOSED.
	CountTradesByUser(ctx context.Context, contestID, userID string) (int, error)

	// CountOpenTradesByUser returns the user's OPEN trade count.
	CountOpenTradesByUser(ctx context.Context, contestID, userID string) (int, error)

	// MarkTrade updates an OPEN trade's current price and live pnl.
	// Marks older than the trade's last mark are dropped (per-trade
	// non-decreasing timestamp order). No-op error ErrAlreadyClosed if
	// the trade is CLOSED.
	MarkTrade(ctx context.Context, tradeID string, price, pnl decimal.Decimal, markedAt time.Time) error

	// CloseTradeOnce conditionally transitions a trade OPEN→CLOSED,
	// freezing FinalPnL from the live pnl and settling the owner's
	// virtual wallet (base += cost+finalPnl, invested -= cost,
	// realized += finalPnl) in the same atomic operation, so a fault
	// can never separate the close from its settlement. Returns
	// ErrAlreadyClosed if the trade is not OPEN, guaranteeing
	// at-most-once settlement.
	CloseTradeOnce(ctx context.Context, tradeID string, closedAt time.Time) (*model.Trade, error)
}
