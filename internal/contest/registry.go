// Package contest implements the contest registry: contest definitions,
// the DRAFT→UPCOMING→ACTIVE→COMPLETED/CANCELLED lifecycle, and the
// joinability gates consumed by the participation manager.
package contest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/metrics"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/prize"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/wallet"
)

var (
	// ErrInvalidSpec is returned when a contest definition violates its
	// bounds (bad dates, participant limits, trading settings).
	ErrInvalidSpec = errors.New("contest: invalid contest spec")

	// ErrNotJoinable is returned when a contest cannot accept joins in
	// its current state.
	ErrNotJoinable = errors.New("contest: not joinable")

	// ErrInvalidTransition is returned for a lifecycle transition the
	// state machine does not allow.
	ErrInvalidTransition = errors.New("contest: invalid lifecycle transition")
)

// Registry owns contest definitions and lifecycle state.
type Registry struct {
	store          store.Store
	wallets        *wallet.Ledger
	platformFeePct decimal.Decimal
}

// NewRegistry creates a contest registry. Refunds on cancellation go
// through the given wallet ledger.
func NewRegistry(st store.Store, wl *wallet.Ledger, platformFeePct decimal.Decimal) *Registry {
	if platformFeePct.LessThanOrEqual(decimal.Zero) {
		platformFeePct = prize.DefaultPlatformFeePct
	}
	return &Registry{store: st, wallets: wl, platformFeePct: platformFeePct}
}

// Spec is the input for contest creation.
type Spec struct {
	Name               string                  `json:"name"`
	Description        string                  `json:"description"`
	ContestType        string                  `json:"contest_type"`
	EntryFee           decimal.Decimal         `json:"entry_fee"`
	MinParticipants    int                     `json:"min_participants"`
	MaxParticipants    int                     `json:"max_participants"`
	PrizeDistribution  map[int]decimal.Decimal `json:"prize_distribution,omitempty"` // omit for auto-distribution
	NumPrizeRanks      int                     `json:"num_prize_ranks,omitempty"`    // ranks for auto-distribution
	VirtualMoneyAmount decimal.Decimal         `json:"virtual_money_amount,omitempty"`
	Trading            model.TradingSettings   `json:"trading_settings,omitempty"`
	StartDate          time.Time               `json:"start_date"`
	EndDate            time.Time               `json:"end_date"`
}

var validTypes = map[string]bool{
	model.TypeFree:           true,
	model.TypePaid:           true,
	model.TypeHead2Head:      true,
	model.TypeGuaranteed:     true,
	model.TypeWinnerTakesAll: true,
}

// defaultVirtualMoney tiers the simulated bankroll by contest size.
func defaultVirtualMoney(maxParticipants int) decimal.Decimal {
	switch {
	case maxParticipants <= 2:
		return decimal.NewFromInt(25000)
	case maxParticipants <= 10:
		return decimal.NewFromInt(50000)
	case maxParticipants <= 100:
		return decimal.NewFromInt(100000)
	default:
		return decimal.NewFromInt(200000)
	}
}

func (sp *Spec) validate() error {
	if sp.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if !validTypes[sp.ContestType] {
		return fmt.Errorf("%w: unknown contest type %q", ErrInvalidSpec, sp.ContestType)
	}
	if sp.EntryFee.IsNegative() {
		return fmt.Errorf("%w: entry fee must be non-negative", ErrInvalidSpec)
	}
	if sp.MinParticipants < 1 || sp.MaxParticipants < 1 {
		return fmt.Errorf("%w: participant bounds must be >= 1", ErrInvalidSpec)
	}
	if sp.MinParticipants > sp.MaxParticipants {
		return fmt.Errorf("%w: min participants exceeds max", ErrInvalidSpec)
	}
	if sp.ContestType == model.TypeHead2Head && sp.MaxParticipants != 2 {
		return fmt.Errorf("%w: head-to-head contests must have exactly 2 seats", ErrInvalidSpec)
	}
	if !sp.EndDate.After(sp.StartDate) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidSpec)
	}
	return nil
}

// Create validates a spec and persists a DRAFT contest. The prize pool is
// derived from the entry fee and platform cut; if no explicit distribution
// is given, one is auto-distributed over NumPrizeRanks ranks.
func (r *Registry) Create(ctx context.Context, sp Spec) (*model.Contest, error) {
	if err := sp.validate(); err != nil {
		return nil, err
	}

	tr := sp.Trading
	if tr.MaxTradesPerUser == 0 {
		tr.MaxTradesPerUser = 20
	}
	if tr.MaxOpenPositions == 0 {
		tr.MaxOpenPositions = 10
	}
	if tr.MaxPositionSizePct.IsZero() {
		tr.MaxPositionSizePct = decimal.NewFromInt(100)
	}
	if tr.MaxTradesPerUser < 1 || tr.MaxOpenPositions < 1 {
		return nil, fmt.Errorf("%w: trade limits must be >= 1", ErrInvalidSpec)
	}
	if tr.MaxPositionSizePct.LessThanOrEqual(decimal.Zero) || tr.MaxPositionSizePct.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("%w: max position size pct must be in (0,100]", ErrInvalidSpec)
	}

	virtualMoney := sp.VirtualMoneyAmount
	if virtualMoney.IsZero() {
		virtualMoney = defaultVirtualMoney(sp.MaxParticipants)
	}
	if virtualMoney.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: virtual money amount must be positive", ErrInvalidSpec)
	}

	pool := prize.ComputePrizePool(sp.EntryFee, sp.MaxParticipants, r.platformFeePct, sp.ContestType)

	dist := sp.PrizeDistribution
	if dist == nil {
		ranks := sp.NumPrizeRanks
		if ranks < 1 {
			ranks = 1
		}
		dist = prize.AutoDistribute(pool, ranks, sp.ContestType)
	}
	if _, err := prize.ValidateDistribution(dist, pool); err != nil {
		return nil, err
	}

	c := &model.Contest{
		ID:                 uuid.New().String(),
		Name:               sp.Name,
		Description:        sp.Description,
		ContestType:        sp.ContestType,
		Status:             model.StatusDraft,
		EntryFee:           sp.EntryFee,
		MinParticipants:    sp.MinParticipants,
		MaxParticipants:    sp.MaxParticipants,
		PrizePool:          pool,
		PrizeDistribution:  dist,
		VirtualMoneyAmount: virtualMoney,
		Trading:            tr,
		StartDate:          sp.StartDate,
		EndDate:            sp.EndDate,
		CreatedAt:          time.Now().UTC(),
	}

	if err := r.store.CreateContest(ctx, c); err != nil {
		return nil, fmt.Errorf("create contest: %w", err)
	}

	slog.Info("contest created",
		"id", c.ID,
		"name", c.Name,
		"type", c.ContestType,
		"entry_fee", c.EntryFee.String(),
		"prize_pool", c.PrizePool.String(),
		"seats", c.MaxParticipants,
	)
	return c, nil
}

// Publish transitions DRAFT→UPCOMING after re-validating the prize
// distribution against the pool. Over-allocation blocks publish.
func (r *Registry) Publish(ctx context.Context, id string) (*model.Contest, error) {
	c, err := r.store.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusDraft {
		return nil, fmt.Errorf("%w: publish from %s", ErrInvalidTransition, c.Status)
	}
	if _, err := prize.ValidateDistribution(c.PrizeDistribution, c.PrizePool); err != nil {
		return nil, err
	}
	if err := r.store.TransitionContest(ctx, id, model.StatusDraft, model.StatusUpcoming); err != nil {
		return nil, err
	}
	c.Status = model.StatusUpcoming
	slog.Info("contest published", "id", id)
	return c, nil
}

// Activate transitions UPCOMING→ACTIVE once the start date has passed.
// Called by the scheduler sweep; safe to invoke repeatedly.
func (r *Registry) Activate(ctx context.Context, id string, now time.Time) error {
	c, err := r.store.GetContest(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != model.StatusUpcoming {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, c.Status)
	}
	if now.Before(c.StartDate) {
		return fmt.Errorf("%w: start date not reached", ErrInvalidTransition)
	}
	if err := r.store.TransitionContest(ctx, id, model.StatusUpcoming, model.StatusActive); err != nil {
		return err
	}
	slog.Info("contest activated", "id", id)
	return nil
}

// Complete conditionally transitions ACTIVE→COMPLETED. The caller (the
// scheduler sweep) must have force-closed all open trades first; prize
// settlement follows the transition.
func (r *Registry) Complete(ctx context.Context, id string) error {
	if err := r.store.TransitionContest(ctx, id, model.StatusActive, model.StatusCompleted); err != nil {
		return err
	}
	metrics.ContestsCompleted.Inc()
	slog.Info("contest completed", "id", id)
	return nil
}

// Cancel moves a contest to CANCELLED (allowed from DRAFT, UPCOMING, and
// ACTIVE) and refunds the entry fee to every current participant. The
// status flips before refunds run, so in-flight joins observe CANCELLED
// and are rejected rather than stranded.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	c, err := r.store.GetContest(ctx, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case model.StatusDraft, model.StatusUpcoming, model.StatusActive:
	default:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, c.Status)
	}

	if err := r.store.TransitionContest(ctx, id, c.Status, model.StatusCancelled); err != nil {
		return err
	}

	if !c.IsFree() {
		participants, err := r.store.ListParticipants(ctx, id)
		if err != nil {
			return fmt.Errorf("cancel %s: list participants: %w", id, err)
		}
		for _, p := range participants {
			ref := "refund:" + id
			if _, err := r.wallets.CreditOnce(ctx, p.UserID, c.EntryFee, model.EntryRefund, ref); err != nil {
				return fmt.Errorf("cancel %s: refund %s: %w", id, p.UserID, err)
			}
		}
	}

	slog.Info("contest cancelled", "id", id)
	return nil
}

// Get retrieves a contest by ID.
func (r *Registry) Get(ctx context.Context, id string) (*model.Contest, error) {
	return r.store.GetContest(ctx, id)
}

// CapacityRemaining returns the number of open seats.
func (r *Registry) CapacityRemaining(ctx context.Context, id string) (int, error) {
	c, err := r.store.GetContest(ctx, id)
	if err != nil {
		return 0, err
	}
	count, err := r.store.CountParticipants(ctx, id)
	if err != nil {
		return 0, err
	}
	remaining := c.MaxParticipants - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IsJoinable reports whether a contest accepts joins: status UPCOMING or
// ACTIVE, seats remaining, and the end date not yet reached.
func (r *Registry) IsJoinable(ctx context.Context, id string, now time.Time) (bool, error) {
	c, err := r.store.GetContest(ctx, id)
	if err != nil {
		return false, err
	}
	if c.Status != model.StatusUpcoming && c.Status != model.StatusActive {
		return false, nil
	}
	if !now.Before(c.EndDate) {
		return false, nil
	}
	count, err := r.store.CountParticipants(ctx, id)
	if err != nil {
		return false, err
	}
	return count < c.MaxParticipants, nil
}
