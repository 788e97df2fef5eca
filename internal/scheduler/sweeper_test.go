package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/contest"
	"github.com/optionleague/contest-engine/internal/leaderboard"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/pricing"
	"github.com/optionleague/contest-engine/internal/scheduler"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/trading"
	"github.com/optionleague/contest-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type env struct {
	store   *store.MemoryStore
	wallets *wallet.Ledger
	sweeper *scheduler.Sweeper
	trading *trading.Service
	oracle  *pricing.StaticOracle
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	wl := wallet.NewLedger(ms)
	reg := contest.NewRegistry(ms, wl, d(0.10))
	oracle := pricing.NewStaticOracle()
	hours := trading.MarketHours{CutoffHour: 24, Location: time.UTC}
	ts := trading.NewService(ms, oracle, hours, nil)
	lb := leaderboard.NewEngine(ms, wl)
	return &env{
		store:   ms,
		wallets: wl,
		sweeper: scheduler.New(ms, reg, ts, lb, time.UTC, time.Minute),
		trading: ts,
		oracle:  oracle,
	}
}

// seedContest writes a contest with explicit status and schedule.
func (e *env) seedContest(t *testing.T, id, status string, start, end time.Time) {
	t.Helper()
	c := &model.Contest{
		ID:                 id,
		Name:               "swept contest",
		ContestType:        model.TypePaid,
		Status:             status,
		EntryFee:           d(100),
		MinParticipants:    1,
		MaxParticipants:    10,
		PrizePool:          d(900),
		PrizeDistribution:  map[int]decimal.Decimal{1: d(900)},
		VirtualMoneyAmount: d(50000),
		Trading: model.TradingSettings{
			MaxTradesPerUser: 20, MaxOpenPositions: 10, MaxPositionSizePct: d(100),
		},
		StartDate: start,
		EndDate:   end,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateContest(context.Background(), c); err != nil {
		t.Fatalf("seed contest: %v", err)
	}
}

func (e *env) join(t *testing.T, contestID, userID string) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.AddParticipant(ctx, &model.Participation{
		ContestID: contestID, UserID: userID, JoinedAt: time.Now().UTC(),
	}, 10); err != nil {
		t.Fatalf("seed participant: %v", err)
	}
	if err := e.store.CreateVirtualWallet(ctx, &model.VirtualWallet{
		ContestID: contestID, UserID: userID, BaseBalance: d(50000),
	}); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

// seedOpenTrade writes an OPEN trade marked to the given price and commits
// its cost against the user's virtual wallet, as a live open would have.
func (e *env) seedOpenTrade(t *testing.T, contestID, userID, id string, qty int64, entry, mark float64) *model.Trade {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	tr := &model.Trade{
		ID: id, ContestID: contestID, UserID: userID,
		Symbol: "NIFTY22500CE", Quantity: qty,
		EntryPrice: d(entry), CurrentPrice: d(mark),
		Status: model.TradeOpen,
		PnL:    d(mark).Sub(d(entry)).Mul(decimal.NewFromInt(qty)),
		OpenedAt: now.Add(-time.Hour), MarkedAt: now,
	}
	if err := e.store.CreateTrade(ctx, tr); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	cost := d(entry).Mul(decimal.NewFromInt(qty))
	if err := e.store.UpdateVirtualWallet(ctx, &model.VirtualWallet{
		ContestID: contestID, UserID: userID,
		BaseBalance:    d(50000).Sub(cost),
		InvestedAmount: cost,
		UnrealizedPnL:  tr.PnL,
	}); err != nil {
		t.Fatalf("seed wallet commitment: %v", err)
	}
	return tr
}

func (e *env) status(t *testing.T, contestID string) string {
	t.Helper()
	c, err := e.store.GetContest(context.Background(), contestID)
	if err != nil {
		t.Fatalf("get contest: %v", err)
	}
	return c.Status
}

func TestSweepLifecycles_Activates(t *testing.T) {
	e := newEnv(t)
	now := time.Now().UTC()

	e.seedContest(t, "due", model.StatusUpcoming, now.Add(-time.Minute), now.Add(24*time.Hour))
	e.seedContest(t, "later", model.StatusUpcoming, now.Add(time.Hour), now.Add(24*time.Hour))
	e.seedContest(t, "draft", model.StatusDraft, now.Add(-time.Minute), now.Add(24*time.Hour))

	e.sweeper.SweepLifecycles(context.Background())

	if got := e.status(t, "due"); got != model.StatusActive {
		t.Errorf("due contest = %s, want ACTIVE", got)
	}
	if got := e.status(t, "later"); got != model.StatusUpcoming {
		t.Errorf("future contest = %s, want UPCOMING", got)
	}
	if got := e.status(t, "draft"); got != model.StatusDraft {
		t.Errorf("draft contest = %s, want DRAFT (sweep never publishes)", got)
	}
}

func TestSweepLifecycles_CompletesAndSettles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e.seedContest(t, "c1", model.StatusActive, now.Add(-2*time.Hour), now.Add(-time.Minute))
	e.join(t, "c1", "u1")

	// An open profitable trade still on the books at the end of the
	// contest: opened while the window was live, marked to a 1000 gain.
	tr := e.seedOpenTrade(t, "c1", "u1", "t1", 50, 100, 120)

	e.sweeper.SweepLifecycles(ctx)

	if got := e.status(t, "c1"); got != model.StatusCompleted {
		t.Fatalf("contest = %s, want COMPLETED", got)
	}

	// Trade force-closed and settled into the virtual wallet.
	closed, _ := e.store.GetTrade(ctx, tr.ID)
	if closed.Status != model.TradeClosed {
		t.Errorf("trade = %s, want CLOSED", closed.Status)
	}
	vw, _ := e.store.GetVirtualWallet(ctx, "c1", "u1")
	if !vw.RealizedPnL.Equal(d(1000)) {
		t.Errorf("realized = %s, want 1000", vw.RealizedPnL)
	}

	// Sole participant took rank 1's prize, in real money.
	balance, _ := e.wallets.Balance(ctx, "u1")
	if !balance.Equal(d(900)) {
		t.Errorf("prize balance = %s, want 900", balance)
	}
}

func TestSweepLifecycles_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e.seedContest(t, "c1", model.StatusActive, now.Add(-2*time.Hour), now.Add(-time.Minute))
	e.join(t, "c1", "u1")

	for i := 0; i < 3; i++ {
		e.sweeper.SweepLifecycles(ctx)
	}

	// One completion, one settlement.
	balance, _ := e.wallets.Balance(ctx, "u1")
	if !balance.Equal(d(900)) {
		t.Errorf("balance = %s, want 900 (single settlement)", balance)
	}
}

func TestSweepLifecycles_FinishesInterruptedCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// A contest that reached COMPLETED but whose settlement never ran,
	// with a position that slipped in between the force-close pass and
	// the status transition and is still OPEN.
	e.seedContest(t, "c1", model.StatusCompleted, now.Add(-2*time.Hour), now.Add(-time.Hour))
	e.join(t, "c1", "u1")
	tr := e.seedOpenTrade(t, "c1", "u1", "t1", 50, 100, 120)

	e.sweeper.SweepLifecycles(ctx)

	// The sweep closes the straggler and settles prizes instead of
	// leaving the contest stranded.
	closed, _ := e.store.GetTrade(ctx, tr.ID)
	if closed.Status != model.TradeClosed {
		t.Fatalf("trade = %s, want CLOSED", closed.Status)
	}
	vw, _ := e.store.GetVirtualWallet(ctx, "c1", "u1")
	if !vw.RealizedPnL.Equal(d(1000)) {
		t.Errorf("realized = %s, want 1000", vw.RealizedPnL)
	}
	balance, _ := e.wallets.Balance(ctx, "u1")
	if !balance.Equal(d(900)) {
		t.Errorf("prize balance = %s, want 900", balance)
	}
	c, _ := e.store.GetContest(ctx, "c1")
	if !c.PrizesSettled {
		t.Error("expected prizes marked settled")
	}

	// Later sweeps see the settled flag and pay nothing twice.
	e.sweeper.SweepLifecycles(ctx)
	balance, _ = e.wallets.Balance(ctx, "u1")
	if !balance.Equal(d(900)) {
		t.Errorf("rerun changed balance to %s", balance)
	}
}

func TestSweepMarketCutoff(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e.seedContest(t, "c1", model.StatusActive, now.Add(-time.Hour), now.Add(24*time.Hour))
	e.join(t, "c1", "u1")
	tr, _ := e.trading.OpenTrade(ctx, "u1", "c1", "NIFTY22500CE", 10, d(100))

	e.sweeper.SweepMarketCutoff(ctx)

	closed, _ := e.store.GetTrade(ctx, tr.ID)
	if closed.Status != model.TradeClosed {
		t.Errorf("trade = %s, want CLOSED after cutoff", closed.Status)
	}
	// Contest stays ACTIVE: the cutoff closes positions, not contests.
	if got := e.status(t, "c1"); got != model.StatusActive {
		t.Errorf("contest = %s, want ACTIVE", got)
	}
}

func TestSweepMarks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e.seedContest(t, "c1", model.StatusActive, now.Add(-time.Hour), now.Add(24*time.Hour))
	e.join(t, "c1", "u1")
	tr, _ := e.trading.OpenTrade(ctx, "u1", "c1", "NIFTY22500CE", 10, d(100))

	e.oracle.Set("NIFTY22500CE", d(115))
	e.sweeper.SweepMarks(ctx)

	got, _ := e.store.GetTrade(ctx, tr.ID)
	if !got.PnL.Equal(d(150)) {
		t.Errorf("pnl = %s, want 150", got.PnL)
	}
}
