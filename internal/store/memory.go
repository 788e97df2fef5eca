package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). All conditional
// operations run under one lock, so the atomicity guarantees match the
// Postgres implementation.
type MemoryStore struct {
	mu             sync.RWMutex
	contests       map[string]*model.Contest
	participations map[string][]model.Participation     // contestID → ordered by join time
	ledger         map[string][]model.WalletLedgerEntry // userID → append order
	wallets        map[string]*model.VirtualWallet      // contestID|userID
	trades         map[string]*model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contests:       make(map[string]*model.Contest),
		participations: make(map[string][]model.Participation),
		ledger:         make(map[string][]model.WalletLedgerEntry),
		wallets:        make(map[string]*model.VirtualWallet),
		trades:         make(map[string]*model.Trade),
	}
}

func walletKey(contestID, userID string) string {
	return contestID + "|" + userID
}

func copyContest(c *model.Contest) *model.Contest {
	cp := *c
	if c.PrizeDistribution != nil {
		cp.PrizeDistribution = make(map[int]decimal.Decimal, len(c.PrizeDistribution))
		for rank, amt := range c.PrizeDistribution {
			cp.PrizeDistribution[rank] = amt
		}
	}
	return &cp
}

// --- Contest registry ---

func (s *MemoryStore) CreateContest(_ context.Context, c *model.Contest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contests[c.ID]; ok {
		return ErrConflict
	}
	s.contests[c.ID] = copyContest(c)
	return nil
}

func (s *MemoryStore) GetContest(_ context.Context, id string) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyContest(c), nil
}

func (s *MemoryStore) ListContests(_ context.Context) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contests := make([]model.Contest, 0, len(s.contests))
	for _, c := range s.contests {
		contests = append(contests, *copyContest(c))
	}
	sort.Slice(contests, func(i, j int) bool {
		return contests[i].CreatedAt.After(contests[j].CreatedAt)
	})
	return contests, nil
}

func (s *MemoryStore) ListContestsByStatus(_ context.Context, status string) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var contests []model.Contest
	for _, c := range s.contests {
		if c.Status == status {
			contests = append(contests, *copyContest(c))
		}
	}
	sort.Slice(contests, func(i, j int) bool {
		return contests[i].CreatedAt.After(contests[j].CreatedAt)
	})
	return contests, nil
}

func (s *MemoryStore) TransitionContest(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != from {
		return ErrConflict
	}
	c.Status = to
	return nil
}

func (s *MemoryStore) SetPrizeDistribution(_ context.Context, id string, pool decimal.Decimal, dist map[int]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[id]
	if !ok {
		return ErrNotFound
	}
	c.PrizePool = pool
	c.PrizeDistribution = make(map[int]decimal.Decimal, len(dist))
	for rank, amt := range dist {
		c.PrizeDistribution[rank] = amt
	}
	return nil
}

func (s *MemoryStore) MarkPrizesSettled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.PrizesSettled {
		return false, nil
	}
	c.PrizesSettled = true
	return true, nil
}

// --- Participation ---

func (s *MemoryStore) AddParticipant(_ context.Context, p *model.Participation, maxParticipants int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.participations[p.ContestID]
	for _, e := range existing {
		if e.UserID == p.UserID {
			return ErrAlreadyJoined
		}
	}
	if len(existing) >= maxParticipants {
		return ErrContestFull
	}
	s.participations[p.ContestID] = append(existing, *p)
	return nil
}

func (s *MemoryStore) RemoveParticipant(_ context.Context, contestID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.participations[contestID]
	for i, p := range existing {
		if p.UserID == userID {
			s.participations[contestID] = append(existing[:i], existing[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) GetParticipation(_ context.Context, contestID, userID string) (*model.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.participations[contestID] {
		if p.UserID == userID {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListParticipants(_ context.Context, contestID string) ([]model.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.participations[contestID]
	out := make([]model.Participation, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) CountParticipants(_ context.Context, contestID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participations[contestID]), nil
}

// --- Wallet ledger ---

func (s *MemoryStore) AppendLedgerEntry(_ context.Context, e *model.WalletLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger[e.UserID] = append(s.ledger[e.UserID], *e)
	return nil
}

func (s *MemoryStore) DebitIfSufficient(_ context.Context, e *model.WalletLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := decimal.Zero
	for _, entry := range s.ledger[e.UserID] {
		balance = balance.Add(entry.Amount)
	}
	if balance.LessThan(e.Amount.Neg()) {
		return ErrInsufficientFunds
	}
	s.ledger[e.UserID] = append(s.ledger[e.UserID], *e)
	return nil
}

func (s *MemoryStore) WalletBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance := decimal.Zero
	for _, e := range s.ledger[userID] {
		balance = balance.Add(e.Amount)
	}
	return balance, nil
}

func (s *MemoryStore) LedgerEntries(_ context.Context, userID string) ([]model.WalletLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.ledger[userID]
	out := make([]model.WalletLedgerEntry, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) HasLedgerReference(_ context.Context, userID, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.ledger[userID] {
		if e.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

// --- Virtual wallets ---

func (s *MemoryStore) CreateVirtualWallet(_ context.Context, w *model.VirtualWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := walletKey(w.ContestID, w.UserID)
	if _, ok := s.wallets[key]; ok {
		return ErrConflict
	}
	cp := *w
	s.wallets[key] = &cp
	return nil
}

func (s *MemoryStore) GetVirtualWallet(_ context.Context, contestID, userID string) (*model.VirtualWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[walletKey(contestID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) UpdateVirtualWallet(_ context.Context, w *model.VirtualWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := walletKey(w.ContestID, w.UserID)
	if _, ok := s.wallets[key]; !ok {
		return ErrNotFound
	}
	cp := *w
	s.wallets[key] = &cp
	return nil
}

func (s *MemoryStore) ListVirtualWallets(_ context.Context, contestID string) ([]model.VirtualWallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wallets []model.VirtualWallet
	for _, w := range s.wallets {
		if w.ContestID == contestID {
			wallets = append(wallets, *w)
		}
	}
	sort.Slice(wallets, func(i, j int) bool {
		return wallets[i].UserID < wallets[j].UserID
	})
	return wallets, nil
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; ok {
		return ErrConflict
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, contestID, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.ContestID == contestID && t.UserID == userID {
			trades = append(trades, *t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].OpenedAt.Before(trades[j].OpenedAt)
	})
	return trades, nil
}

func (s *MemoryStore) ListOpenTrades(_ context.Context, contestID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.ContestID == contestID && t.Status == model.TradeOpen {
			trades = append(trades, *t)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].OpenedAt.Before(trades[j].OpenedAt)
	})
	return trades, nil
}

func (s *MemoryStore) CountTradesByUser(_ context.Context, contestID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.trades {
		if t.ContestID == contestID && t.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountOpenTradesByUser(_ context.Context, contestID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.trades {
		if t.ContestID == contestID && t.UserID == userID && t.Status == model.TradeOpen {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkTrade(_ context.Context, tradeID string, price, pnl decimal.Decimal, markedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != model.TradeOpen {
		return ErrAlreadyClosed
	}
	if markedAt.Before(t.MarkedAt) {
		return nil // stale mark, drop
	}
	t.CurrentPrice = price
	t.PnL = pnl
	t.MarkedAt = markedAt
	return nil
}

func (s *MemoryStore) CloseTradeOnce(_ context.Context, tradeID string, closedAt time.Time) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != model.TradeOpen {
		return nil, ErrAlreadyClosed
	}
	w, ok := s.wallets[walletKey(t.ContestID, t.UserID)]
	if !ok {
		return nil, ErrNotFound
	}

	t.Status = model.TradeClosed
	t.FinalPnL = t.PnL
	t.ClosedAt = &closedAt

	// Settlement happens under the same lock as the close, so the two
	// can never be separated by a fault or a concurrent closer.
	cost := t.Cost()
	w.BaseBalance = w.BaseBalance.Add(cost).Add(t.FinalPnL)
	w.InvestedAmount = w.InvestedAmount.Sub(cost)
	w.RealizedPnL = w.RealizedPnL.Add(t.FinalPnL)

	cp := *t
	return &cp, nil
}
