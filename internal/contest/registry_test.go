package contest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/contest"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/wallet"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newRegistry(t *testing.T) (*contest.Registry, *store.MemoryStore, *wallet.Ledger) {
	t.Helper()
	ms := store.NewMemoryStore()
	wl := wallet.NewLedger(ms)
	return contest.NewRegistry(ms, wl, d(0.10)), ms, wl
}

func paidSpec() contest.Spec {
	return contest.Spec{
		Name:            "Weekly NIFTY Showdown",
		ContestType:     model.TypePaid,
		EntryFee:        d(100),
		MinParticipants: 2,
		MaxParticipants: 100,
		NumPrizeRanks:   3,
		StartDate:       time.Now().UTC().Add(time.Hour),
		EndDate:         time.Now().UTC().Add(25 * time.Hour),
	}
}

// --- Creation ---

func TestCreate_DerivesPoolAndDistribution(t *testing.T) {
	r, _, _ := newRegistry(t)

	c, err := r.Create(context.Background(), paidSpec())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if c.Status != model.StatusDraft {
		t.Errorf("status = %s, want DRAFT", c.Status)
	}
	// 100 * 100 * 0.9 = 9000
	if !c.PrizePool.Equal(d(9000)) {
		t.Errorf("pool = %s, want 9000", c.PrizePool)
	}
	// 3 ranks: 60/30/10 of 9000.
	if !c.PrizeDistribution[1].Equal(d(5400)) {
		t.Errorf("rank 1 = %s, want 5400", c.PrizeDistribution[1])
	}
	if !c.PrizeDistribution[3].Equal(d(900)) {
		t.Errorf("rank 3 = %s, want 900", c.PrizeDistribution[3])
	}
	// 100 seats → 100k virtual bankroll tier.
	if !c.VirtualMoneyAmount.Equal(d(100000)) {
		t.Errorf("virtual money = %s, want 100000", c.VirtualMoneyAmount)
	}
	// Trading defaults applied.
	if c.Trading.MaxTradesPerUser != 20 || c.Trading.MaxOpenPositions != 10 {
		t.Errorf("unexpected trading defaults: %+v", c.Trading)
	}
}

func TestCreate_InvalidSpecs(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	cases := map[string]func(*contest.Spec){
		"empty name":          func(s *contest.Spec) { s.Name = "" },
		"unknown type":        func(s *contest.Spec) { s.ContestType = "LOTTERY" },
		"negative fee":        func(s *contest.Spec) { s.EntryFee = d(-1) },
		"zero seats":          func(s *contest.Spec) { s.MaxParticipants = 0 },
		"min above max":       func(s *contest.Spec) { s.MinParticipants = 200 },
		"end before start":    func(s *contest.Spec) { s.EndDate = s.StartDate.Add(-time.Hour) },
		"h2h with wrong size": func(s *contest.Spec) { s.ContestType = model.TypeHead2Head; s.MaxParticipants = 5 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sp := paidSpec()
			mutate(&sp)
			if _, err := r.Create(ctx, sp); !errors.Is(err, contest.ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestCreate_ExplicitOverAllocatedDistribution(t *testing.T) {
	r, _, _ := newRegistry(t)

	sp := paidSpec()
	sp.PrizeDistribution = map[int]decimal.Decimal{1: d(10000)} // pool is 9000

	if _, err := r.Create(context.Background(), sp); err == nil {
		t.Error("expected over-allocated distribution to be rejected")
	}
}

func TestCreate_FreeContestZeroPool(t *testing.T) {
	r, _, _ := newRegistry(t)

	sp := paidSpec()
	sp.ContestType = model.TypeFree
	sp.EntryFee = decimal.Zero

	c, err := r.Create(context.Background(), sp)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !c.PrizePool.IsZero() {
		t.Errorf("free contest pool = %s, want 0", c.PrizePool)
	}
}

// --- Lifecycle ---

func TestLifecycle_HappyPath(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	sp := paidSpec()
	sp.StartDate = time.Now().UTC().Add(-time.Hour) // already due
	c, _ := r.Create(ctx, sp)

	if _, err := r.Publish(ctx, c.ID); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := r.Activate(ctx, c.ID, time.Now().UTC()); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if err := r.Complete(ctx, c.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, _ := r.Get(ctx, c.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
}

func TestLifecycle_RejectsSkips(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	c, _ := r.Create(ctx, paidSpec())

	// DRAFT cannot activate or complete.
	if err := r.Activate(ctx, c.ID, time.Now().UTC()); !errors.Is(err, contest.ErrInvalidTransition) {
		t.Errorf("activate from DRAFT: expected ErrInvalidTransition, got %v", err)
	}
	if err := r.Complete(ctx, c.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("complete from DRAFT: expected ErrConflict, got %v", err)
	}

	// Double publish.
	r.Publish(ctx, c.ID)
	if _, err := r.Publish(ctx, c.ID); !errors.Is(err, contest.ErrInvalidTransition) {
		t.Errorf("double publish: expected ErrInvalidTransition, got %v", err)
	}
}

func TestActivate_BeforeStartDate(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()
	c, _ := r.Create(ctx, paidSpec()) // starts one hour from now
	r.Publish(ctx, c.ID)

	err := r.Activate(ctx, c.ID, time.Now().UTC())
	if !errors.Is(err, contest.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition before start date, got %v", err)
	}
}

func TestCancel_RefundsParticipants(t *testing.T) {
	r, ms, wl := newRegistry(t)
	ctx := context.Background()

	c, _ := r.Create(ctx, paidSpec())
	r.Publish(ctx, c.ID)

	// Two participants who already paid the fee.
	for _, userID := range []string{"u1", "u2"} {
		wl.Credit(ctx, userID, d(100), model.EntryDeposit, "dep:"+userID)
		wl.Debit(ctx, userID, d(100), model.EntryContestEntry, "contest:"+c.ID)
		ms.AddParticipant(ctx, &model.Participation{
			ContestID: c.ID, UserID: userID, JoinedAt: time.Now().UTC(),
		}, c.MaxParticipants)
	}

	if err := r.Cancel(ctx, c.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	got, _ := r.Get(ctx, c.ID)
	if got.Status != model.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	for _, userID := range []string{"u1", "u2"} {
		balance, _ := wl.Balance(ctx, userID)
		if !balance.Equal(d(100)) {
			t.Errorf("%s balance = %s, want 100 (fee refunded)", userID, balance)
		}
	}
}

func TestCancel_Idempotent(t *testing.T) {
	r, ms, wl := newRegistry(t)
	ctx := context.Background()

	c, _ := r.Create(ctx, paidSpec())
	r.Publish(ctx, c.ID)
	wl.Credit(ctx, "u1", d(100), model.EntryDeposit, "dep:u1")
	wl.Debit(ctx, "u1", d(100), model.EntryContestEntry, "contest:"+c.ID)
	ms.AddParticipant(ctx, &model.Participation{
		ContestID: c.ID, UserID: "u1", JoinedAt: time.Now().UTC(),
	}, c.MaxParticipants)

	if err := r.Cancel(ctx, c.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	// Cancelling again is an invalid transition and must not double-refund.
	if err := r.Cancel(ctx, c.ID); !errors.Is(err, contest.ErrInvalidTransition) {
		t.Errorf("second cancel: expected ErrInvalidTransition, got %v", err)
	}

	balance, _ := wl.Balance(ctx, "u1")
	if !balance.Equal(d(100)) {
		t.Errorf("balance = %s, want 100 (single refund)", balance)
	}
}

func TestCancel_FromCompletedRejected(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	sp := paidSpec()
	sp.StartDate = time.Now().UTC().Add(-time.Hour)
	c, _ := r.Create(ctx, sp)
	r.Publish(ctx, c.ID)
	r.Activate(ctx, c.ID, time.Now().UTC())
	r.Complete(ctx, c.ID)

	if err := r.Cancel(ctx, c.ID); !errors.Is(err, contest.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

// --- Joinability ---

func TestIsJoinable(t *testing.T) {
	r, ms, _ := newRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sp := paidSpec()
	sp.MaxParticipants = 2
	sp.MinParticipants = 2
	c, _ := r.Create(ctx, sp)

	// DRAFT: not joinable.
	ok, _ := r.IsJoinable(ctx, c.ID, now)
	if ok {
		t.Error("DRAFT contest should not be joinable")
	}

	r.Publish(ctx, c.ID)
	ok, _ = r.IsJoinable(ctx, c.ID, now)
	if !ok {
		t.Error("UPCOMING contest with seats should be joinable")
	}

	// Past end date: not joinable.
	ok, _ = r.IsJoinable(ctx, c.ID, c.EndDate.Add(time.Minute))
	if ok {
		t.Error("contest past end date should not be joinable")
	}

	// Full: not joinable.
	for _, u := range []string{"u1", "u2"} {
		ms.AddParticipant(ctx, &model.Participation{ContestID: c.ID, UserID: u, JoinedAt: now}, 2)
	}
	ok, _ = r.IsJoinable(ctx, c.ID, now)
	if ok {
		t.Error("full contest should not be joinable")
	}

	remaining, _ := r.CapacityRemaining(ctx, c.ID)
	if remaining != 0 {
		t.Errorf("capacity remaining = %d, want 0", remaining)
	}
}
