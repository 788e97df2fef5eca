package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedContest(t *testing.T, ms *store.MemoryStore, id, status string, maxParticipants int) *model.Contest {
	t.Helper()
	c := &model.Contest{
		ID:                 id,
		Name:               "test contest " + id,
		ContestType:        model.TypePaid,
		Status:             status,
		EntryFee:           d(100),
		MinParticipants:    2,
		MaxParticipants:    maxParticipants,
		PrizePool:          d(9000),
		PrizeDistribution:  map[int]decimal.Decimal{1: d(6000), 2: d(3000)},
		VirtualMoneyAmount: d(50000),
		Trading: model.TradingSettings{
			MaxTradesPerUser:   20,
			MaxOpenPositions:   10,
			MaxPositionSizePct: d(100),
		},
		StartDate: time.Now().UTC(),
		EndDate:   time.Now().UTC().Add(24 * time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateContest(context.Background(), c); err != nil {
		t.Fatalf("failed to seed contest: %v", err)
	}
	return c
}

func seedTrade(t *testing.T, ms *store.MemoryStore, id, contestID, userID string, qty int64, entry float64) *model.Trade {
	t.Helper()
	now := time.Now().UTC()
	tr := &model.Trade{
		ID:           id,
		ContestID:    contestID,
		UserID:       userID,
		Symbol:       "NIFTY22500CE",
		Quantity:     qty,
		EntryPrice:   d(entry),
		CurrentPrice: d(entry),
		Status:       model.TradeOpen,
		PnL:          decimal.Zero,
		FinalPnL:     decimal.Zero,
		OpenedAt:     now,
		MarkedAt:     now,
	}
	if err := ms.CreateTrade(context.Background(), tr); err != nil {
		t.Fatalf("failed to seed trade: %v", err)
	}
	return tr
}

func seedWallet(t *testing.T, ms *store.MemoryStore, contestID, userID string, base, invested float64) {
	t.Helper()
	if err := ms.CreateVirtualWallet(context.Background(), &model.VirtualWallet{
		ContestID: contestID, UserID: userID,
		BaseBalance: d(base), InvestedAmount: d(invested),
	}); err != nil {
		t.Fatalf("failed to seed virtual wallet: %v", err)
	}
}

// --- Contest lifecycle ---

func TestTransitionContest_Conditional(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusDraft, 10)

	if err := ms.TransitionContest(ctx, "c1", model.StatusDraft, model.StatusUpcoming); err != nil {
		t.Fatalf("valid transition failed: %v", err)
	}

	// A second transition from DRAFT must fail: state already moved on.
	err := ms.TransitionContest(ctx, "c1", model.StatusDraft, model.StatusUpcoming)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict for stale transition, got %v", err)
	}

	err = ms.TransitionContest(ctx, "missing", model.StatusDraft, model.StatusUpcoming)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkPrizesSettled_Once(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusCompleted, 10)

	first, err := ms.MarkPrizesSettled(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Error("first settle should report true")
	}

	second, err := ms.MarkPrizesSettled(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Error("second settle should report false")
	}
}

func TestGetContest_CopyIsolation(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusDraft, 10)

	c1, _ := ms.GetContest(ctx, "c1")
	c1.Name = "mutated"
	c1.PrizeDistribution[1] = d(999999)

	c2, _ := ms.GetContest(ctx, "c1")
	if c2.Name == "mutated" {
		t.Error("store returned a shared Contest pointer")
	}
	if c2.PrizeDistribution[1].Equal(d(999999)) {
		t.Error("store returned a shared distribution map")
	}
}

// --- Participation ---

func TestAddParticipant_CapacityAndUniqueness(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 2)

	join := func(userID string) error {
		return ms.AddParticipant(ctx, &model.Participation{
			ContestID: "c1", UserID: userID, JoinedAt: time.Now().UTC(),
		}, 2)
	}

	if err := join("u1"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if err := join("u1"); !errors.Is(err, store.ErrAlreadyJoined) {
		t.Errorf("duplicate join: expected ErrAlreadyJoined, got %v", err)
	}
	if err := join("u2"); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if err := join("u3"); !errors.Is(err, store.ErrContestFull) {
		t.Errorf("join past capacity: expected ErrContestFull, got %v", err)
	}

	count, _ := ms.CountParticipants(ctx, "c1")
	if count != 2 {
		t.Errorf("expected 2 participants, got %d", count)
	}
}

func TestAddParticipant_ConcurrentLastSlot(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 1)

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ms.AddParticipant(ctx, &model.Participation{
				ContestID: "c1",
				UserID:    "user" + string(rune('a'+i)),
				JoinedAt:  time.Now().UTC(),
			}, 1)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, store.ErrContestFull) {
			t.Errorf("unexpected racer error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 winner for the last seat, got %d", winners)
	}
}

func TestRemoveParticipant(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)

	for _, u := range []string{"u1", "u2"} {
		if err := ms.AddParticipant(ctx, &model.Participation{
			ContestID: "c1", UserID: u, JoinedAt: time.Now().UTC(),
		}, 10); err != nil {
			t.Fatalf("join %s failed: %v", u, err)
		}
	}

	if err := ms.RemoveParticipant(ctx, "c1", "u1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := ms.GetParticipation(ctx, "c1", "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("removed participant still present")
	}
	if _, err := ms.GetParticipation(ctx, "c1", "u2"); err != nil {
		t.Errorf("unrelated participant removed: %v", err)
	}
	count, _ := ms.CountParticipants(ctx, "c1")
	if count != 1 {
		t.Errorf("participant count = %d, want 1", count)
	}
	if err := ms.RemoveParticipant(ctx, "c1", "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}
}

// --- Wallet ledger ---

func TestDebitIfSufficient(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	credit := func(amount float64) {
		ms.AppendLedgerEntry(ctx, &model.WalletLedgerEntry{
			ID: "e-" + decimal.NewFromFloat(amount).String(), UserID: "u1",
			Amount: d(amount), Kind: model.EntryDeposit, Timestamp: time.Now().UTC(),
		})
	}
	credit(150)

	debit := &model.WalletLedgerEntry{
		ID: "debit1", UserID: "u1", Amount: d(-100),
		Kind: model.EntryContestEntry, Timestamp: time.Now().UTC(),
	}
	if err := ms.DebitIfSufficient(ctx, debit); err != nil {
		t.Fatalf("debit within balance failed: %v", err)
	}

	balance, _ := ms.WalletBalance(ctx, "u1")
	if !balance.Equal(d(50)) {
		t.Errorf("balance = %s, want 50", balance)
	}

	// Only 50 left; a second 100 debit must be rejected atomically.
	debit2 := &model.WalletLedgerEntry{
		ID: "debit2", UserID: "u1", Amount: d(-100),
		Kind: model.EntryContestEntry, Timestamp: time.Now().UTC(),
	}
	if err := ms.DebitIfSufficient(ctx, debit2); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, _ = ms.WalletBalance(ctx, "u1")
	if !balance.Equal(d(50)) {
		t.Errorf("failed debit must not change balance, got %s", balance)
	}
}

func TestHasLedgerReference(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.AppendLedgerEntry(ctx, &model.WalletLedgerEntry{
		ID: "e1", UserID: "u1", Amount: d(3000),
		Kind: model.EntryPrize, Reference: "prize:c1:rank1", Timestamp: time.Now().UTC(),
	})

	ok, err := ms.HasLedgerReference(ctx, "u1", "prize:c1:rank1")
	if err != nil || !ok {
		t.Errorf("expected reference found, got ok=%v err=%v", ok, err)
	}
	ok, _ = ms.HasLedgerReference(ctx, "u1", "prize:c1:rank2")
	if ok {
		t.Error("absent reference reported present")
	}
	ok, _ = ms.HasLedgerReference(ctx, "u2", "prize:c1:rank1")
	if ok {
		t.Error("reference dedupe must be scoped per user")
	}
}

// --- Trades ---

func TestCloseTradeOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)
	tr := seedTrade(t, ms, "t1", "c1", "u1", 10, 100)
	seedWallet(t, ms, "c1", "u1", 49000, 1000)

	// Mark before close so finalPnl freezes the marked value.
	if err := ms.MarkTrade(ctx, tr.ID, d(120), d(200), time.Now().UTC()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	closed, err := ms.CloseTradeOnce(ctx, tr.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.Status != model.TradeClosed {
		t.Errorf("status = %s, want CLOSED", closed.Status)
	}
	if !closed.FinalPnL.Equal(d(200)) {
		t.Errorf("finalPnl = %s, want 200", closed.FinalPnL)
	}
	if closed.ClosedAt == nil {
		t.Error("expected closedAt to be set")
	}

	if _, err := ms.CloseTradeOnce(ctx, tr.ID, time.Now().UTC()); !errors.Is(err, store.ErrAlreadyClosed) {
		t.Errorf("second close: expected ErrAlreadyClosed, got %v", err)
	}
}

func TestCloseTradeOnce_SettlesWallet(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)
	tr := seedTrade(t, ms, "t1", "c1", "u1", 50, 100) // cost 5000
	seedWallet(t, ms, "c1", "u1", 45000, 5000)

	if err := ms.MarkTrade(ctx, tr.ID, d(120), d(1000), time.Now().UTC()); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := ms.CloseTradeOnce(ctx, tr.ID, time.Now().UTC()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// The close and the wallet settlement are one operation: cost released
	// back to base, profit realized.
	w, err := ms.GetVirtualWallet(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("wallet lookup failed: %v", err)
	}
	if !w.BaseBalance.Equal(d(51000)) {
		t.Errorf("base = %s, want 51000", w.BaseBalance)
	}
	if !w.InvestedAmount.IsZero() {
		t.Errorf("invested = %s, want 0", w.InvestedAmount)
	}
	if !w.RealizedPnL.Equal(d(1000)) {
		t.Errorf("realized = %s, want 1000", w.RealizedPnL)
	}

	// Losing the close race must not settle a second time.
	ms.CloseTradeOnce(ctx, tr.ID, time.Now().UTC())
	w, _ = ms.GetVirtualWallet(ctx, "c1", "u1")
	if !w.BaseBalance.Equal(d(51000)) {
		t.Errorf("duplicate close changed base to %s", w.BaseBalance)
	}
	if !w.RealizedPnL.Equal(d(1000)) {
		t.Errorf("duplicate close changed realized to %s", w.RealizedPnL)
	}
}

func TestCloseTradeOnce_ConcurrentSingleWinner(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)
	tr := seedTrade(t, ms, "t1", "c1", "u1", 10, 100)
	seedWallet(t, ms, "c1", "u1", 49000, 1000)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ms.CloseTradeOnce(ctx, tr.ID, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, store.ErrAlreadyClosed) {
			t.Errorf("unexpected racer error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 successful close, got %d", winners)
	}
}

func TestMarkTrade_DropsStaleMarks(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)
	tr := seedTrade(t, ms, "t1", "c1", "u1", 10, 100)

	now := time.Now().UTC()
	if err := ms.MarkTrade(ctx, tr.ID, d(120), d(200), now); err != nil {
		t.Fatalf("fresh mark failed: %v", err)
	}

	// An older quote arriving late must not overwrite the newer mark.
	if err := ms.MarkTrade(ctx, tr.ID, d(90), d(-100), now.Add(-time.Minute)); err != nil {
		t.Fatalf("stale mark should be a silent no-op: %v", err)
	}

	got, _ := ms.GetTrade(ctx, tr.ID)
	if !got.CurrentPrice.Equal(d(120)) {
		t.Errorf("stale mark overwrote price: %s", got.CurrentPrice)
	}
	if !got.PnL.Equal(d(200)) {
		t.Errorf("stale mark overwrote pnl: %s", got.PnL)
	}
}

func TestMarkTrade_ClosedTrade(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)
	tr := seedTrade(t, ms, "t1", "c1", "u1", 10, 100)
	seedWallet(t, ms, "c1", "u1", 49000, 1000)

	ms.CloseTradeOnce(ctx, tr.ID, time.Now().UTC())
	err := ms.MarkTrade(ctx, tr.ID, d(120), d(200), time.Now().UTC())
	if !errors.Is(err, store.ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestCountOpenTradesByUser(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", model.StatusActive, 10)
	seedTrade(t, ms, "t1", "c1", "u1", 10, 100)
	seedTrade(t, ms, "t2", "c1", "u1", 5, 80)
	seedTrade(t, ms, "t3", "c1", "u2", 5, 80)
	seedWallet(t, ms, "c1", "u1", 48600, 1400)

	ms.CloseTradeOnce(ctx, "t2", time.Now().UTC())

	open, _ := ms.CountOpenTradesByUser(ctx, "c1", "u1")
	if open != 1 {
		t.Errorf("open count = %d, want 1", open)
	}
	total, _ := ms.CountTradesByUser(ctx, "c1", "u1")
	if total != 2 {
		t.Errorf("total count = %d, want 2", total)
	}
}
