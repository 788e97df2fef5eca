package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Contests and virtual
// wallets are cached; the wallet ledger and trades always hit the primary
// because their conditional writes are the atomicity boundary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Contests: write to primary, invalidate cache ---

func (s *CachedStore) CreateContest(ctx context.Context, c *model.Contest) error {
	if err := s.primary.CreateContest(ctx, c); err != nil {
		return err
	}
	s.cacheContest(ctx, c)
	return nil
}

func (s *CachedStore) TransitionContest(ctx context.Context, id, from, to string) error {
	if err := s.primary.TransitionContest(ctx, id, from, to); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the new status.
	s.rdb.Del(ctx, contestKey(id))
	return nil
}

func (s *CachedStore) SetPrizeDistribution(ctx context.Context, id string, pool decimal.Decimal, dist map[int]decimal.Decimal) error {
	if err := s.primary.SetPrizeDistribution(ctx, id, pool, dist); err != nil {
		return err
	}
	s.rdb.Del(ctx, contestKey(id))
	return nil
}

func (s *CachedStore) MarkPrizesSettled(ctx context.Context, id string) (bool, error) {
	applied, err := s.primary.MarkPrizesSettled(ctx, id)
	if err != nil {
		return false, err
	}
	if applied {
		s.rdb.Del(ctx, contestKey(id))
	}
	return applied, nil
}

// --- Contests: read-through ---

func (s *CachedStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, contestKey(id)).Bytes()
	if err == nil {
		var c model.Contest
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	// Cache miss: read from primary.
	c, err := s.primary.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheContest(ctx, c)
	return c, nil
}

func (s *CachedStore) ListContests(ctx context.Context) ([]model.Contest, error) {
	return s.primary.ListContests(ctx)
}

func (s *CachedStore) ListContestsByStatus(ctx context.Context, status string) ([]model.Contest, error) {
	return s.primary.ListContestsByStatus(ctx, status)
}

// --- Participation (not cached; the capacity check is conditional) ---

func (s *CachedStore) AddParticipant(ctx context.Context, p *model.Participation, maxParticipants int) error {
	return s.primary.AddParticipant(ctx, p, maxParticipants)
}

func (s *CachedStore) RemoveParticipant(ctx context.Context, contestID, userID string) error {
	return s.primary.RemoveParticipant(ctx, contestID, userID)
}

func (s *CachedStore) GetParticipation(ctx context.Context, contestID, userID string) (*model.Participation, error) {
	return s.primary.GetParticipation(ctx, contestID, userID)
}

func (s *CachedStore) ListParticipants(ctx context.Context, contestID string) ([]model.Participation, error) {
	return s.primary.ListParticipants(ctx, contestID)
}

func (s *CachedStore) CountParticipants(ctx context.Context, contestID string) (int, error) {
	return s.primary.CountParticipants(ctx, contestID)
}

// --- Wallet ledger (never cached; money moves through the primary only) ---

func (s *CachedStore) AppendLedgerEntry(ctx context.Context, e *model.WalletLedgerEntry) error {
	return s.primary.AppendLedgerEntry(ctx, e)
}

func (s *CachedStore) DebitIfSufficient(ctx context.Context, e *model.WalletLedgerEntry) error {
	return s.primary.DebitIfSufficient(ctx, e)
}

func (s *CachedStore) WalletBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.primary.WalletBalance(ctx, userID)
}

func (s *CachedStore) LedgerEntries(ctx context.Context, userID string) ([]model.WalletLedgerEntry, error) {
	return s.primary.LedgerEntries(ctx, userID)
}

func (s *CachedStore) HasLedgerReference(ctx context.Context, userID, reference string) (bool, error) {
	return s.primary.HasLedgerReference(ctx, userID, reference)
}

// --- Virtual wallets: read-through, invalidate on update ---

func (s *CachedStore) CreateVirtualWallet(ctx context.Context, w *model.VirtualWallet) error {
	if err := s.primary.CreateVirtualWallet(ctx, w); err != nil {
		return err
	}
	s.cacheVirtualWallet(ctx, w)
	return nil
}

func (s *CachedStore) GetVirtualWallet(ctx context.Context, contestID, userID string) (*model.VirtualWallet, error) {
	data, err := s.rdb.Get(ctx, virtualWalletKey(contestID, userID)).Bytes()
	if err == nil {
		var w model.VirtualWallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetVirtualWallet(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}

	s.cacheVirtualWallet(ctx, w)
	return w, nil
}

func (s *CachedStore) UpdateVirtualWallet(ctx context.Context, w *model.VirtualWallet) error {
	if err := s.primary.UpdateVirtualWallet(ctx, w); err != nil {
		return err
	}
	s.cacheVirtualWallet(ctx, w)
	return nil
}

func (s *CachedStore) ListVirtualWallets(ctx context.Context, contestID string) ([]model.VirtualWallet, error) {
	return s.primary.ListVirtualWallets(ctx, contestID)
}

// --- Trades (not cached; marks and closes are conditional writes) ---

func (s *CachedStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.CreateTrade(ctx, t)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, contestID, userID string) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, contestID, userID)
}

func (s *CachedStore) ListOpenTrades(ctx context.Context, contestID string) ([]model.Trade, error) {
	return s.primary.ListOpenTrades(ctx, contestID)
}

func (s *CachedStore) CountTradesByUser(ctx context.Context, contestID, userID string) (int, error) {
	return s.primary.CountTradesByUser(ctx, contestID, userID)
}

func (s *CachedStore) CountOpenTradesByUser(ctx context.Context, contestID, userID string) (int, error) {
	return s.primary.CountOpenTradesByUser(ctx, contestID, userID)
}

func (s *CachedStore) MarkTrade(ctx context.Context, tradeID string, price, pnl decimal.Decimal, markedAt time.Time) error {
	return s.primary.MarkTrade(ctx, tradeID, price, pnl, markedAt)
}

func (s *CachedStore) CloseTradeOnce(ctx context.Context, tradeID string, closedAt time.Time) (*model.Trade, error) {
	t, err := s.primary.CloseTradeOnce(ctx, tradeID, closedAt)
	if err != nil {
		return nil, err
	}
	// The close settled the owner's virtual wallet in the primary.
	s.rdb.Del(ctx, virtualWalletKey(t.ContestID, t.UserID))
	return t, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheContest(ctx context.Context, c *model.Contest) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, contestKey(c.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheVirtualWallet(ctx context.Context, w *model.VirtualWallet) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, virtualWalletKey(w.ContestID, w.UserID), data, s.ttl)
	}
}

func contestKey(id string) string { return fmt.Sprintf("contest:%s", id) }

func virtualWalletKey(contestID, userID string) string {
	return fmt.Sprintf("vwallet:%s:%s", contestID, userID)
}
