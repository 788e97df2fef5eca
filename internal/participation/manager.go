// Package participation implements the join pipeline: capacity and wallet
// gating, entry-fee debit, and virtual wallet issue.
package participation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/contest"
	"github.com/optionleague/contest-engine/internal/metrics"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/wallet"
)

// Manager joins users to contests. Uses a mutex for serialized join
// execution (single-instance); the store's conditional operations carry
// the same invariants for horizontally scaled deployments.
type Manager struct {
	store    store.Store
	registry *contest.Registry
	wallets  *wallet.Ledger
	mu       sync.Mutex
}

// NewManager creates a participation manager.
func NewManager(st store.Store, reg *contest.Registry, wl *wallet.Ledger) *Manager {
	return &Manager{store: st, registry: reg, wallets: wl}
}

// Join runs the join pipeline for one (user, contest) pair:
//
//  1. contest must be joinable (status, seats, end date)
//  2. user must not have joined already
//  3. entry fee debited from the real-money wallet (single conditional
//     operation; skipped entirely for free contests)
//  4. participant added with an atomic capacity re-check
//  5. virtual wallet issued with baseBalance = virtualMoneyAmount
//
// If a later step fails after the fee was debited (the capacity race, a
// racing cancel, or the wallet issue), the earlier steps are unwound with
// a compensating credit and participation removal before the error is
// returned — no partial effects remain visible.
func (m *Manager) Join(ctx context.Context, userID, contestID string) (*model.Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	c, err := m.registry.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}

	joinable, err := m.registry.IsJoinable(ctx, contestID, now)
	if err != nil {
		return nil, err
	}
	if !joinable {
		return nil, contest.ErrNotJoinable
	}

	if _, err := m.store.GetParticipation(ctx, contestID, userID); err == nil {
		return nil, store.ErrAlreadyJoined
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	feeCharged := false
	feeRef := "contest:" + contestID
	if !c.IsFree() {
		if _, err := m.wallets.Debit(ctx, userID, c.EntryFee, model.EntryContestEntry, feeRef); err != nil {
			return nil, err
		}
		feeCharged = true
	}

	p := &model.Participation{
		UserID:    userID,
		ContestID: contestID,
		JoinedAt:  now,
	}
	if err := m.store.AddParticipant(ctx, p, c.MaxParticipants); err != nil {
		m.compensate(ctx, userID, c, feeCharged, err)
		return nil, err
	}

	// A cancel that raced this join flipped the status before refunding;
	// unwind the participation and refund ourselves under the same
	// reference so the fee is returned exactly once either way.
	cur, err := m.registry.Get(ctx, contestID)
	if err == nil && cur.Status == model.StatusCancelled {
		if rerr := m.store.RemoveParticipant(ctx, contestID, userID); rerr != nil {
			slog.Error("unwind after cancelled join failed", "user", userID, "contest", contestID, "err", rerr)
		}
		if feeCharged {
			if _, rerr := m.wallets.CreditOnce(ctx, userID, c.EntryFee, model.EntryRefund, "refund:"+contestID); rerr != nil {
				slog.Error("refund after cancelled join failed", "user", userID, "contest", contestID, "err", rerr)
			}
		}
		return nil, contest.ErrNotJoinable
	}

	vw := &model.VirtualWallet{
		ContestID:      contestID,
		UserID:         userID,
		BaseBalance:    c.VirtualMoneyAmount,
		InvestedAmount: decimal.Zero,
		RealizedPnL:    decimal.Zero,
		UnrealizedPnL:  decimal.Zero,
	}
	if err := m.store.CreateVirtualWallet(ctx, vw); err != nil {
		// No wallet means no tradable seat: unwind the participation and
		// give the fee back rather than leave a half-joined user.
		if rerr := m.store.RemoveParticipant(ctx, contestID, userID); rerr != nil {
			slog.Error("unwind after wallet issue failed", "user", userID, "contest", contestID, "err", rerr)
		}
		m.compensate(ctx, userID, c, feeCharged, err)
		return nil, fmt.Errorf("issue virtual wallet: %w", err)
	}

	metrics.JoinsTotal.WithLabelValues("ok").Inc()
	slog.Info("contest joined",
		"user", userID,
		"contest", contestID,
		"entry_fee", c.EntryFee.String(),
		"virtual_money", c.VirtualMoneyAmount.String(),
	)
	return p, nil
}

// compensate reverses the entry-fee debit when the participant add fails
// after the fee was already taken.
func (m *Manager) compensate(ctx context.Context, userID string, c *model.Contest, feeCharged bool, cause error) {
	metrics.JoinsTotal.WithLabelValues("rejected").Inc()
	if !feeCharged {
		return
	}
	if _, err := m.wallets.Credit(ctx, userID, c.EntryFee, model.EntryRefund, "join-failed:"+c.ID); err != nil {
		slog.Error("join compensation failed",
			"user", userID, "contest", c.ID, "cause", cause, "err", err)
		return
	}
	slog.Warn("join rejected after debit, fee refunded",
		"user", userID, "contest", c.ID, "cause", cause)
}

// Get returns an existing participation.
func (m *Manager) Get(ctx context.Context, contestID, userID string) (*model.Participation, error) {
	return m.store.GetParticipation(ctx, contestID, userID)
}
