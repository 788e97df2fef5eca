// Package scheduler runs the server-side sweeps that keep contest
// lifecycles moving without user interaction: activation at start date,
// completion (with force-close and prize settlement) at end date, the
// daily market-cutoff force-close, and periodic price marks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/optionleague/contest-engine/internal/contest"
	"github.com/optionleague/contest-engine/internal/leaderboard"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/trading"
)

// Sweeper owns the cron jobs. Every sweep is idempotent: transitions are
// conditional at the store and settlements are exactly-once, so a sweep
// that overlaps a user action (or a previous sweep) cannot double-apply.
type Sweeper struct {
	store     store.Store
	registry  *contest.Registry
	trading   *trading.Service
	boards    *leaderboard.Engine
	cron      *cron.Cron
	markEvery time.Duration
}

// New creates a sweeper. markEvery controls how often open trades are
// re-marked from the price oracle.
func New(st store.Store, reg *contest.Registry, ts *trading.Service, lb *leaderboard.Engine, loc *time.Location, markEvery time.Duration) *Sweeper {
	return &Sweeper{
		store:     st,
		registry:  reg,
		trading:   ts,
		boards:    lb,
		cron:      cron.New(cron.WithLocation(loc)),
		markEvery: markEvery,
	}
}

// Start registers and starts the cron jobs:
//   - lifecycle sweep every minute
//   - market-cutoff force-close at 15:30 daily
//   - price-mark sweep at markEvery
func (s *Sweeper) Start(ctx context.Context, cutoffHour, cutoffMinute int) error {
	if _, err := s.cron.AddFunc("* * * * *", func() { s.SweepLifecycles(ctx) }); err != nil {
		return fmt.Errorf("register lifecycle sweep: %w", err)
	}

	cutoffSpec := fmt.Sprintf("%d %d * * *", cutoffMinute, cutoffHour)
	if _, err := s.cron.AddFunc(cutoffSpec, func() { s.SweepMarketCutoff(ctx) }); err != nil {
		return fmt.Errorf("register cutoff sweep: %w", err)
	}

	if _, err := s.cron.AddFunc("@every "+s.markEvery.String(), func() { s.SweepMarks(ctx) }); err != nil {
		return fmt.Errorf("register mark sweep: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler started",
		"cutoff", fmt.Sprintf("%02d:%02d", cutoffHour, cutoffMinute),
		"mark_interval", s.markEvery.String(),
	)
	return nil
}

// Stop halts the cron scheduler and waits for running jobs.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepLifecycles advances contests past their schedule boundaries:
// UPCOMING→ACTIVE at startDate and ACTIVE→COMPLETED at endDate. Completion
// force-closes every open trade before and after the status flips, then
// settles prizes; completed contests left unsettled by a fault are retried
// on every pass.
func (s *Sweeper) SweepLifecycles(ctx context.Context) {
	now := time.Now().UTC()

	upcoming, err := s.store.ListContestsByStatus(ctx, model.StatusUpcoming)
	if err != nil {
		slog.Error("lifecycle sweep: list upcoming", "err", err)
		return
	}
	for _, c := range upcoming {
		if now.Before(c.StartDate) {
			continue
		}
		if err := s.registry.Activate(ctx, c.ID, now); err != nil {
			slog.Error("lifecycle sweep: activate", "contest", c.ID, "err", err)
		}
	}

	active, err := s.store.ListContestsByStatus(ctx, model.StatusActive)
	if err != nil {
		slog.Error("lifecycle sweep: list active", "err", err)
		return
	}
	for _, c := range active {
		if now.Before(c.EndDate) {
			continue
		}
		s.complete(ctx, c.ID)
	}

	// Completed contests whose settlement faulted earlier are retried
	// here until the settled flag flips.
	completed, err := s.store.ListContestsByStatus(ctx, model.StatusCompleted)
	if err != nil {
		slog.Error("lifecycle sweep: list completed", "err", err)
		return
	}
	for _, c := range completed {
		if c.PrizesSettled {
			continue
		}
		s.settle(ctx, c.ID)
	}
}

// complete runs the completion pipeline for one contest: force-close,
// conditional ACTIVE→COMPLETED transition, prize settlement.
func (s *Sweeper) complete(ctx context.Context, contestID string) {
	if _, err := s.trading.ForceCloseAll(ctx, contestID); err != nil {
		slog.Error("completion sweep: force close", "contest", contestID, "err", err)
		return
	}
	if err := s.registry.Complete(ctx, contestID); err != nil {
		// Another sweep won the transition; settlement below is still
		// safe to attempt.
		slog.Warn("completion sweep: transition", "contest", contestID, "err", err)
	}
	s.settle(ctx, contestID)
}

// settle closes any trade that slipped into the contest between the first
// force-close pass and the status transition, then settles prizes. Both
// halves are idempotent, so the lifecycle sweep can retry until the
// settled flag flips.
func (s *Sweeper) settle(ctx context.Context, contestID string) {
	if _, err := s.trading.ForceCloseAll(ctx, contestID); err != nil {
		slog.Error("completion sweep: final force close", "contest", contestID, "err", err)
		return
	}
	if err := s.boards.SettlePrizes(ctx, contestID); err != nil {
		slog.Error("completion sweep: settle prizes", "contest", contestID, "err", err)
	}
}

// SweepMarketCutoff force-closes every open trade in every active contest
// at the daily cutoff. Converges on the same conditional close as user
// closes and the completion sweep, so nothing settles twice.
func (s *Sweeper) SweepMarketCutoff(ctx context.Context) {
	active, err := s.store.ListContestsByStatus(ctx, model.StatusActive)
	if err != nil {
		slog.Error("cutoff sweep: list active", "err", err)
		return
	}
	for _, c := range active {
		if _, err := s.trading.ForceCloseAll(ctx, c.ID); err != nil {
			slog.Error("cutoff sweep: force close", "contest", c.ID, "err", err)
		}
	}
}

// SweepMarks refreshes price marks for open trades in active contests.
func (s *Sweeper) SweepMarks(ctx context.Context) {
	active, err := s.store.ListContestsByStatus(ctx, model.StatusActive)
	if err != nil {
		slog.Error("mark sweep: list active", "err", err)
		return
	}
	for _, c := range active {
		if err := s.trading.SyncMarks(ctx, c.ID); err != nil {
			slog.Error("mark sweep: sync marks", "contest", c.ID, "err", err)
		}
	}
}
