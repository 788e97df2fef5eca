// Package trading implements the virtual trading ledger: opening simulated
// option trades against quoted prices, marking them to market, and settling
// them into the contest's virtual wallet exactly once.
//
// All monetary values use shopspring/decimal, never float64.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/metrics"
	"github.com/optionleague/contest-engine/internal/model"
	"github.com/optionleague/contest-engine/internal/pricing"
	"github.com/optionleague/contest-engine/internal/risk"
	"github.com/optionleague/contest-engine/internal/store"
	"github.com/optionleague/contest-engine/internal/symbol"
)

var (
	// ErrMarketClosed is returned when a trade request arrives at or past
	// the daily cutoff.
	ErrMarketClosed = errors.New("trading: market is closed")

	// ErrTradeLimitExceeded is returned when a user has exhausted the
	// contest's per-user trade allowance (OPEN plus CLOSED).
	ErrTradeLimitExceeded = errors.New("trading: trade limit exceeded")

	// ErrInsufficientBalance is returned when a trade's cost exceeds the
	// virtual wallet's available cash.
	ErrInsufficientBalance = errors.New("trading: insufficient virtual balance")

	// ErrContestNotActive is returned when trading is attempted outside
	// the contest's ACTIVE window.
	ErrContestNotActive = errors.New("trading: contest is not active")

	// ErrInvalidTrade is returned for malformed trade requests.
	ErrInvalidTrade = errors.New("trading: invalid trade request")
)

// Service executes virtual trades and keeps the per-contest wallets
// consistent. Uses a mutex for serialized settlement (single-instance);
// the store's conditional OPEN→CLOSED transition carries the at-most-once
// guarantee regardless.
type Service struct {
	store  store.Store
	oracle pricing.Oracle
	hours  MarketHours
	mu     sync.Mutex
	hub    *WSHub // optional hub for real-time broadcasts
}

// NewService creates a trading service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, oracle pricing.Oracle, hours MarketHours, hub *WSHub) *Service {
	return &Service{store: st, oracle: oracle, hours: hours, hub: hub}
}

// OpenTrade opens a simulated option purchase for a participant.
//
// Gates, in order: contest ACTIVE, market open, symbol well-formed,
// per-user trade count, open-position and position-size limits, and
// available cash (baseBalance + unrealizedPnL — cash committed to other
// open positions does not back a new trade). On success the trade cost is
// moved from baseBalance into investedAmount and an OPEN trade is created
// with zero live pnl.
func (s *Service) OpenTrade(ctx context.Context, userID, contestID, sym string, quantity int64, price decimal.Decimal) (*model.Trade, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidTrade)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidTrade)
	}
	if _, err := symbol.Parse(sym); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}

	now := time.Now().UTC()
	if !s.hours.Open(now) {
		metrics.TradeRejections.WithLabelValues("market_closed").Inc()
		return nil, ErrMarketClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	// A contest stays ACTIVE until the completion sweep runs; trades must
	// not slip in during the post-endDate gap or they would be stranded
	// OPEN after the sweep's force-close.
	if c.Status != model.StatusActive || !now.Before(c.EndDate) {
		return nil, ErrContestNotActive
	}

	w, err := s.store.GetVirtualWallet(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}

	placed, err := s.store.CountTradesByUser(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	if placed >= c.Trading.MaxTradesPerUser {
		metrics.TradeRejections.WithLabelValues("trade_limit").Inc()
		return nil, fmt.Errorf("%w: %d of %d trades used", ErrTradeLimitExceeded, placed, c.Trading.MaxTradesPerUser)
	}

	cost := price.Mul(decimal.NewFromInt(quantity))

	openCount, err := s.store.CountOpenTradesByUser(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	limiter := risk.NewLimiter(c.Trading, c.VirtualMoneyAmount)
	if err := limiter.CheckOpen(cost, openCount); err != nil {
		metrics.TradeRejections.WithLabelValues("position_limit").Inc()
		return nil, err
	}

	if cost.GreaterThan(w.AvailableCash()) {
		metrics.TradeRejections.WithLabelValues("insufficient_balance").Inc()
		return nil, fmt.Errorf("%w: cost %s exceeds available %s",
			ErrInsufficientBalance, cost, w.AvailableCash())
	}

	// Debit first: a committed debit without a trade is recoverable by the
	// compensating credit below, while an OPEN trade without a debit would
	// mint virtual cash at settlement.
	w.BaseBalance = w.BaseBalance.Sub(cost)
	w.InvestedAmount = w.InvestedAmount.Add(cost)
	if err := s.store.UpdateVirtualWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("debit virtual wallet: %w", err)
	}

	t := &model.Trade{
		ID:           uuid.New().String(),
		ContestID:    contestID,
		UserID:       userID,
		Symbol:       sym,
		Quantity:     quantity,
		EntryPrice:   price,
		CurrentPrice: price,
		Status:       model.TradeOpen,
		PnL:          decimal.Zero,
		FinalPnL:     decimal.Zero,
		OpenedAt:     now,
		MarkedAt:     now,
	}
	if err := s.store.CreateTrade(ctx, t); err != nil {
		w.BaseBalance = w.BaseBalance.Add(cost)
		w.InvestedAmount = w.InvestedAmount.Sub(cost)
		if rerr := s.store.UpdateVirtualWallet(ctx, w); rerr != nil {
			slog.Error("open trade compensation failed",
				"user", userID, "contest", contestID, "cause", err, "err", rerr)
		}
		return nil, fmt.Errorf("create trade: %w", err)
	}

	metrics.TradesOpened.Inc()
	slog.Info("trade opened",
		"trade_id", t.ID,
		"user", userID,
		"contest", contestID,
		"symbol", sym,
		"qty", quantity,
		"price", price.String(),
		"cost", cost.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "trade_opened",
			ContestID: contestID,
			UserID:    userID,
			TradeID:   t.ID,
			Symbol:    sym,
			Price:     price.String(),
		})
	}
	return t, nil
}

// UpdatePrice marks an OPEN trade to a new quote and recomputes the
// wallet's unrealized P&L as the sum over all of the user's OPEN trades.
// Marks are best-effort: stale quotes (older than the trade's last mark)
// are dropped, and marking a CLOSED trade is a no-op error.
func (s *Service) UpdatePrice(ctx context.Context, tradeID string, newPrice decimal.Decimal, markedAt time.Time) error {
	if newPrice.IsNegative() {
		return fmt.Errorf("%w: price must be non-negative", ErrInvalidTrade)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}

	pnl := newPrice.Sub(t.EntryPrice).Mul(decimal.NewFromInt(t.Quantity))
	if err := s.store.MarkTrade(ctx, tradeID, newPrice, pnl, markedAt); err != nil {
		return err
	}

	if err := s.refreshUnrealized(ctx, t.ContestID, t.UserID); err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "price_mark",
			ContestID: t.ContestID,
			TradeID:   tradeID,
			Symbol:    t.Symbol,
			Price:     newPrice.String(),
			PnL:       pnl.String(),
		})
	}
	return nil
}

// CloseTrade settles a trade exactly once. The store's conditional
// OPEN→CLOSED transition freezes finalPnl and settles the wallet in the
// same atomic operation:
//
//	baseBalance    += entryPrice*quantity + finalPnl
//	investedAmount -= entryPrice*quantity
//	realizedPnL    += finalPnl
//
// Closing an already-CLOSED trade returns ErrAlreadyClosed and leaves the
// wallet untouched.
func (s *Service) CloseTrade(ctx context.Context, tradeID string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(ctx, tradeID, "user")
}

func (s *Service) closeLocked(ctx context.Context, tradeID, trigger string) (*model.Trade, error) {
	t, err := s.store.CloseTradeOnce(ctx, tradeID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrAlreadyClosed) {
			return nil, store.ErrAlreadyClosed
		}
		return nil, err
	}

	// The closed trade must no longer contribute to unrealized P&L.
	if err := s.refreshUnrealized(ctx, t.ContestID, t.UserID); err != nil {
		return nil, err
	}

	metrics.TradesClosed.WithLabelValues(trigger).Inc()
	slog.Info("trade closed",
		"trade_id", t.ID,
		"user", t.UserID,
		"contest", t.ContestID,
		"symbol", t.Symbol,
		"final_pnl", t.FinalPnL.String(),
		"trigger", trigger,
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:      "trade_closed",
			ContestID: t.ContestID,
			UserID:    t.UserID,
			TradeID:   t.ID,
			Symbol:    t.Symbol,
			PnL:       t.FinalPnL.String(),
		})
	}
	return t, nil
}

// ForceCloseAll closes every OPEN trade in a contest at its current marked
// price. Called by the completion sweep (ACTIVE→COMPLETED) and by the
// market-cutoff sweep; both converge on the same conditional close, so a
// trade racing a user-initiated close settles exactly once either way.
func (s *Service) ForceCloseAll(ctx context.Context, contestID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open, err := s.store.ListOpenTrades(ctx, contestID)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, t := range open {
		if _, err := s.closeLocked(ctx, t.ID, "force"); err != nil {
			if errors.Is(err, store.ErrAlreadyClosed) {
				continue // lost the race to a user close; already settled
			}
			return closed, fmt.Errorf("force close %s: %w", t.ID, err)
		}
		closed++
	}

	if closed > 0 {
		slog.Info("force-closed open trades", "contest", contestID, "count", closed)
	}
	return closed, nil
}

// SyncMarks pulls a fresh quote from the oracle for every OPEN trade in a
// contest and applies it as a price mark. Oracle gaps are skipped, not
// fatal — staleness is acceptable for marks.
func (s *Service) SyncMarks(ctx context.Context, contestID string) error {
	open, err := s.store.ListOpenTrades(ctx, contestID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, t := range open {
		price, err := s.oracle.Price(ctx, t.Symbol)
		if err != nil {
			slog.Warn("no quote for open trade", "symbol", t.Symbol, "trade_id", t.ID, "err", err)
			continue
		}
		if err := s.UpdatePrice(ctx, t.ID, price, now); err != nil && !errors.Is(err, store.ErrAlreadyClosed) {
			slog.Warn("price mark failed", "trade_id", t.ID, "err", err)
		}
	}
	return nil
}

// Wallet returns the participant's virtual wallet.
func (s *Service) Wallet(ctx context.Context, contestID, userID string) (*model.VirtualWallet, error) {
	return s.store.GetVirtualWallet(ctx, contestID, userID)
}

// Trades returns the participant's full trade history in a contest.
func (s *Service) Trades(ctx context.Context, contestID, userID string) ([]model.Trade, error) {
	return s.store.ListTradesByUser(ctx, contestID, userID)
}

// refreshUnrealized recomputes a wallet's unrealized P&L as the sum of
// live pnl over the user's OPEN trades. Never double-counts a trade that
// has transitioned to CLOSED.
func (s *Service) refreshUnrealized(ctx context.Context, contestID, userID string) error {
	trades, err := s.store.ListTradesByUser(ctx, contestID, userID)
	if err != nil {
		return err
	}
	unrealized := decimal.Zero
	for _, t := range trades {
		if t.Status == model.TradeOpen {
			unrealized = unrealized.Add(t.PnL)
		}
	}

	w, err := s.store.GetVirtualWallet(ctx, contestID, userID)
	if err != nil {
		return err
	}
	w.UnrealizedPnL = unrealized
	return s.store.UpdateVirtualWallet(ctx, w)
}
