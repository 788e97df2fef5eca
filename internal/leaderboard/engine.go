// Package leaderboard implements the ranking and prize projection engine.
// Entries are a pure function of stored trades, wallets, and the contest's
// distribution table — recomputed on demand, never stored.
//
// Ranking is by total P&L descending; the points score is displayed but
// only breaks ties. That asymmetry is deliberate product behavior.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/metrics"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/wallet"
)

// Scoring constants. Points are a display heuristic layered over trade
// history; they never decide prizes except as a tie-break.
const (
	pointsProfitTrade = 10 // per trade with positive pnl
	pointsLossTrade   = -5 // per trade with pnl <= 0
	pointsPerPnLPct   = 2  // per whole percent of profit-to-virtual-money ratio
	pointsPerTrade    = 2  // per trade placed
	pointsPerTradeCap = 30
	pointsStreakStep  = 5 // per consecutive profitable trade beyond the first in a run
	pointsStreakCap   = 25
)

// Engine computes leaderboards and settles final prizes.
type Engine struct {
	store   store.Store
	wallets *wallet.Ledger
}

// NewEngine creates a leaderboard engine.
func NewEngine(st store.Store, wl *wallet.Ledger) *Engine {
	return &Engine{store: st, wallets: wl}
}

// Compute builds the ordered leaderboard for a contest. Order: total P&L
// descending, then points descending, then earliest join time, then user
// ID — fully deterministic for a given snapshot. Projected prize is the
// distribution amount for the entry's rank, zero if the rank is unpaid.
func (e *Engine) Compute(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	c, err := e.store.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	participants, err := e.store.ListParticipants(ctx, contestID)
	if err != nil {
		return nil, err
	}

	joinedAt := make(map[string]int64, len(participants))
	for _, p := range participants {
		joinedAt[p.UserID] = p.JoinedAt.UnixNano()
	}

	entries := make([]model.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		w, err := e.store.GetVirtualWallet(ctx, contestID, p.UserID)
		if errors.Is(err, store.ErrNotFound) {
			// A join that faulted before wallet issue can leave a
			// participation behind; one broken row must not take the
			// whole board down.
			slog.Warn("participant without virtual wallet skipped",
				"contest", contestID, "user", p.UserID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("leaderboard %s: wallet %s: %w", contestID, p.UserID, err)
		}
		trades, err := e.store.ListTradesByUser(ctx, contestID, p.UserID)
		if err != nil {
			return nil, fmt.Errorf("leaderboard %s: trades %s: %w", contestID, p.UserID, err)
		}

		entries = append(entries, model.LeaderboardEntry{
			UserID: p.UserID,
			Points: score(trades, w.TotalPnL(), c.VirtualMoneyAmount),
			PnL:    w.TotalPnL(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].PnL.Equal(entries[j].PnL) {
			return entries[i].PnL.GreaterThan(entries[j].PnL)
		}
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		if joinedAt[entries[i].UserID] != joinedAt[entries[j].UserID] {
			return joinedAt[entries[i].UserID] < joinedAt[entries[j].UserID]
		}
		return entries[i].UserID < entries[j].UserID
	})

	for i := range entries {
		entries[i].Rank = i + 1
		if amount, ok := c.PrizeDistribution[entries[i].Rank]; ok {
			entries[i].ProjectedPrize = amount
		} else {
			entries[i].ProjectedPrize = decimal.Zero
		}
	}
	return entries, nil
}

// score applies the points heuristic over one participant's trade history.
func score(trades []model.Trade, totalPnL, virtualMoney decimal.Decimal) int {
	points := 0
	placedPoints := 0
	streakPoints := 0
	streak := 0

	for _, t := range trades {
		pnl := t.PnL
		if t.Status == model.TradeClosed {
			pnl = t.FinalPnL
		}

		if pnl.IsPositive() {
			points += pointsProfitTrade
			streak++
			if streak >= 2 && streakPoints < pointsStreakCap {
				streakPoints += pointsStreakStep
			}
		} else {
			points += pointsLossTrade
			streak = 0
		}

		if placedPoints < pointsPerTradeCap {
			placedPoints += pointsPerTrade
		}
	}

	if streakPoints > pointsStreakCap {
		streakPoints = pointsStreakCap
	}
	points += placedPoints + streakPoints

	// Profit ratio bonus: +2 per whole percent of P&L over virtual money,
	// profits only.
	if totalPnL.IsPositive() && virtualMoney.IsPositive() {
		pct := totalPnL.Div(virtualMoney).Mul(decimal.NewFromInt(100)).Floor()
		points += pointsPerPnLPct * int(pct.IntPart())
	}

	return points
}

// SettlePrizes credits each winning participant's real-money wallet with
// their final prize, exactly once per contest. The contest must already be
// COMPLETED. The settled flag flips only after every credit has landed, so
// a run interrupted by a storage fault can be retried; the per-rank ledger
// references keep the retried credit loop exactly-once.
func (e *Engine) SettlePrizes(ctx context.Context, contestID string) error {
	c, err := e.store.GetContest(ctx, contestID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusCompleted {
		return fmt.Errorf("settle %s: contest not completed (status %s)", contestID, c.Status)
	}
	if c.PrizesSettled {
		return nil // a prior run credited every rank
	}

	entries, err := e.Compute(ctx, contestID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.ProjectedPrize.IsPositive() {
			continue
		}
		ref := fmt.Sprintf("prize:%s:rank%d", contestID, entry.Rank)
		applied, err := e.wallets.CreditOnce(ctx, entry.UserID, entry.ProjectedPrize, model.EntryPrize, ref)
		if err != nil {
			return fmt.Errorf("settle %s: credit rank %d: %w", contestID, entry.Rank, err)
		}
		if applied {
			metrics.PrizeCredits.Inc()
			slog.Info("prize credited",
				"contest", contestID,
				"user", entry.UserID,
				"rank", entry.Rank,
				"amount", entry.ProjectedPrize.String(),
			)
		}
	}

	if _, err := e.store.MarkPrizesSettled(ctx, contestID); err != nil {
		return err
	}
	return nil
}
