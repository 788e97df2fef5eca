// Package wallet implements the real-money wallet ledger. Balances are
// derived reads over an append-only entry log; debits are conditional on
// the derived balance in a single atomic store operation.
//
// All monetary values use shopspring/decimal — never float64 for money.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
)

// ErrInvalidAmount is returned when a credit or debit amount is not
// strictly positive.
var ErrInvalidAmount = errors.New("wallet: amount must be positive")

// Ledger provides credit/debit operations over the append-only wallet
// ledger. The payment gateway collaborator lands external deposits through
// Credit; the engine itself debits entry fees and credits prizes/refunds.
type Ledger struct {
	store store.Store
}

// NewLedger creates a wallet ledger backed by the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Credit appends a positive entry. Always succeeds (no upper bound).
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, kind, reference string) (*model.WalletLedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	e := &model.WalletLedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Kind:      kind,
		Reference: reference,
		Timestamp: time.Now().UTC(),
	}
	if err := l.store.AppendLedgerEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("credit %s: %w", userID, err)
	}
	slog.Info("wallet credited",
		"user", userID, "amount", amount.String(), "kind", kind, "ref", reference)
	return e, nil
}

// CreditOnce appends a credit only if no entry with the same reference
// exists for the user. Returns false when the credit was already applied.
// Prize settlement relies on this for exactly-once payout.
func (l *Ledger) CreditOnce(ctx context.Context, userID string, amount decimal.Decimal, kind, reference string) (bool, error) {
	exists, err := l.store.HasLedgerReference(ctx, userID, reference)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := l.Credit(ctx, userID, amount, kind, reference); err != nil {
		return false, err
	}
	return true, nil
}

// Debit appends a negative entry iff the derived balance covers the amount.
// The balance check and the append are one atomic store operation, so two
// concurrent debits cannot both pass the same check.
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal, kind, reference string) (*model.WalletLedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	e := &model.WalletLedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount.Neg(),
		Kind:      kind,
		Reference: reference,
		Timestamp: time.Now().UTC(),
	}
	if err := l.store.DebitIfSufficient(ctx, e); err != nil {
		return nil, err
	}
	slog.Info("wallet debited",
		"user", userID, "amount", amount.String(), "kind", kind, "ref", reference)
	return e, nil
}

// Balance returns the sum of the user's ledger entries.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return l.store.WalletBalance(ctx, userID)
}

// Entries returns the user's full ledger history in append order.
func (l *Ledger) Entries(ctx context.Context, userID string) ([]model.WalletLedgerEntry, error) {
	return l.store.LedgerEntries(ctx, userID)
}
