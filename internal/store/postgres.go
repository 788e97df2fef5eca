package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/optionleague/contest-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Conditional operations (capacity-checked adds, balance-checked debits)
// run inside transactions guarded by advisory locks keyed on the contest
// or user, so concurrent requests serialize at the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// distToJSON serializes a rank→amount table for a JSONB column.
func distToJSON(dist map[int]decimal.Decimal) ([]byte, error) {
	m := make(map[string]string, len(dist))
	for rank, amt := range dist {
		m[strconv.Itoa(rank)] = amt.String()
	}
	return json.Marshal(m)
}

func distFromJSON(data []byte) (map[int]decimal.Decimal, error) {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	dist := make(map[int]decimal.Decimal, len(m))
	for rankS, amtS := range m {
		rank, err := strconv.Atoi(rankS)
		if err != nil {
			return nil, fmt.Errorf("bad rank %q: %w", rankS, err)
		}
		amt, err := decimal.NewFromString(amtS)
		if err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amtS, err)
		}
		dist[rank] = amt
	}
	return dist, nil
}

// --- Contest registry ---

func (s *PostgresStore) CreateContest(ctx context.Context, c *model.Contest) error {
	dist, err := distToJSON(c.PrizeDistribution)
	if err != nil {
		return fmt.Errorf("encode distribution: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO contests
		   (id, name, description, contest_type, status,
		    entry_fee, min_participants, max_participants,
		    prize_pool, prize_distribution, virtual_money_amount,
		    max_trades_per_user, max_open_positions, max_position_size_pct,
		    start_date, end_date, prizes_settled, created_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7, $8,
		         $9::NUMERIC, $10, $11::NUMERIC,
		         $12, $13, $14::NUMERIC,
		         $15, $16, $17, $18)`,
		c.ID, c.Name, c.Description, c.ContestType, c.Status,
		c.EntryFee.String(), c.MinParticipants, c.MaxParticipants,
		c.PrizePool.String(), dist, c.VirtualMoneyAmount.String(),
		c.Trading.MaxTradesPerUser, c.Trading.MaxOpenPositions, c.Trading.MaxPositionSizePct.String(),
		c.StartDate, c.EndDate, c.PrizesSettled, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const contestColumns = `id, name, description, contest_type, status,
	entry_fee::TEXT, min_participants, max_participants,
	prize_pool::TEXT, prize_distribution, virtual_money_amount::TEXT,
	max_trades_per_user, max_open_positions, max_position_size_pct::TEXT,
	start_date, end_date, prizes_settled, created_at`

type contestScanner interface {
	Scan(dest ...any) error
}

func scanContest(row contestScanner) (*model.Contest, error) {
	var c model.Contest
	var entryFee, pool, virtualMoney, maxPosPct string
	var dist []byte

	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.ContestType, &c.Status,
		&entryFee, &c.MinParticipants, &c.MaxParticipants,
		&pool, &dist, &virtualMoney,
		&c.Trading.MaxTradesPerUser, &c.Trading.MaxOpenPositions, &maxPosPct,
		&c.StartDate, &c.EndDate, &c.PrizesSettled, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.EntryFee, _ = decimal.NewFromString(entryFee)
	c.PrizePool, _ = decimal.NewFromString(pool)
	c.VirtualMoneyAmount, _ = decimal.NewFromString(virtualMoney)
	c.Trading.MaxPositionSizePct, _ = decimal.NewFromString(maxPosPct)
	if c.PrizeDistribution, err = distFromJSON(dist); err != nil {
		return nil, fmt.Errorf("decode distribution: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE id = $1`, id)
	c, err := scanContest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contest %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) listContests(ctx context.Context, query string, args ...any) ([]model.Contest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, *c)
	}
	return contests, rows.Err()
}

func (s *PostgresStore) ListContests(ctx context.Context) ([]model.Contest, error) {
	return s.listContests(ctx,
		`SELECT `+contestColumns+` FROM contests ORDER BY created_at DESC`)
}

func (s *PostgresStore) ListContestsByStatus(ctx context.Context, status string) ([]model.Contest, error) {
	return s.listContests(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE status = $1 ORDER BY created_at DESC`, status)
}

func (s *PostgresStore) TransitionContest(ctx context.Context, id, from, to string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contests SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetContest(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) SetPrizeDistribution(ctx context.Context, id string, pool decimal.Decimal, dist map[int]decimal.Decimal) error {
	data, err := distToJSON(dist)
	if err != nil {
		return fmt.Errorf("encode distribution: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE contests SET prize_pool = $2::NUMERIC, prize_distribution = $3 WHERE id = $1`,
		id, pool.String(), data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkPrizesSettled(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contests SET prizes_settled = TRUE WHERE id = $1 AND NOT prizes_settled`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetContest(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// --- Participation ---

func (s *PostgresStore) AddParticipant(ctx context.Context, p *model.Participation, maxParticipants int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize capacity checks per contest.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, p.ContestID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO participations (contest_id, user_id, joined_at)
		 SELECT $1, $2, $3
		 WHERE (SELECT COUNT(*) FROM participations WHERE contest_id = $1) < $4`,
		p.ContestID, p.UserID, p.JoinedAt, maxParticipants)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyJoined
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContestFull
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, contestID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM participations WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetParticipation(ctx context.Context, contestID, userID string) (*model.Participation, error) {
	var p model.Participation
	err := s.pool.QueryRow(ctx,
		`SELECT contest_id, user_id, joined_at
		 FROM participations WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID).
		Scan(&p.ContestID, &p.UserID, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, contestID string) ([]model.Participation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contest_id, user_id, joined_at
		 FROM participations WHERE contest_id = $1 ORDER BY joined_at`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []model.Participation
	for rows.Next() {
		var p model.Participation
		if err := rows.Scan(&p.ContestID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (s *PostgresStore) CountParticipants(ctx context.Context, contestID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participations WHERE contest_id = $1`, contestID).Scan(&count)
	return count, err
}

// --- Wallet ledger ---

func (s *PostgresStore) AppendLedgerEntry(ctx context.Context, e *model.WalletLedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet_ledger (id, user_id, amount, kind, reference, ts)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		e.ID, e.UserID, e.Amount.String(), e.Kind, e.Reference, e.Timestamp)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) DebitIfSufficient(ctx context.Context, e *model.WalletLedgerEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize balance checks per user.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, e.UserID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO wallet_ledger (id, user_id, amount, kind, reference, ts)
		 SELECT $1, $2, $3::NUMERIC, $4, $5, $6
		 WHERE (SELECT COALESCE(SUM(amount), 0) FROM wallet_ledger WHERE user_id = $2) >= $7::NUMERIC`,
		e.ID, e.UserID, e.Amount.String(), e.Kind, e.Reference, e.Timestamp,
		e.Amount.Neg().String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) WalletBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balanceS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::TEXT FROM wallet_ledger WHERE user_id = $1`,
		userID).Scan(&balanceS)
	if err != nil {
		return decimal.Zero, err
	}
	balance, _ := decimal.NewFromString(balanceS)
	return balance, nil
}

func (s *PostgresStore) LedgerEntries(ctx context.Context, userID string) ([]model.WalletLedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount::TEXT, kind, reference, ts
		 FROM wallet_ledger WHERE user_id = $1 ORDER BY ts, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WalletLedgerEntry
	for rows.Next() {
		var e model.WalletLedgerEntry
		var amountS string
		if err := rows.Scan(&e.ID, &e.UserID, &amountS, &e.Kind, &e.Reference, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) HasLedgerReference(ctx context.Context, userID, reference string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM wallet_ledger WHERE user_id = $1 AND reference = $2)`,
		userID, reference).Scan(&exists)
	return exists, err
}

// --- Virtual wallets ---

func (s *PostgresStore) CreateVirtualWallet(ctx context.Context, w *model.VirtualWallet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO virtual_wallets
		   (contest_id, user_id, base_balance, invested_amount, realized_pnl, unrealized_pnl)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)`,
		w.ContestID, w.UserID,
		w.BaseBalance.String(), w.InvestedAmount.String(),
		w.RealizedPnL.String(), w.UnrealizedPnL.String())
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetVirtualWallet(ctx context.Context, contestID, userID string) (*model.VirtualWallet, error) {
	var w model.VirtualWallet
	var base, invested, realized, unrealized string

	err := s.pool.QueryRow(ctx,
		`SELECT contest_id, user_id,
		        base_balance::TEXT, invested_amount::TEXT,
		        realized_pnl::TEXT, unrealized_pnl::TEXT
		 FROM virtual_wallets WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID).
		Scan(&w.ContestID, &w.UserID, &base, &invested, &realized, &unrealized)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	w.BaseBalance, _ = decimal.NewFromString(base)
	w.InvestedAmount, _ = decimal.NewFromString(invested)
	w.RealizedPnL, _ = decimal.NewFromString(realized)
	w.UnrealizedPnL, _ = decimal.NewFromString(unrealized)
	return &w, nil
}

func (s *PostgresStore) UpdateVirtualWallet(ctx context.Context, w *model.VirtualWallet) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE virtual_wallets
		 SET base_balance = $3::NUMERIC, invested_amount = $4::NUMERIC,
		     realized_pnl = $5::NUMERIC, unrealized_pnl = $6::NUMERIC
		 WHERE contest_id = $1 AND user_id = $2`,
		w.ContestID, w.UserID,
		w.BaseBalance.String(), w.InvestedAmount.String(),
		w.RealizedPnL.String(), w.UnrealizedPnL.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListVirtualWallets(ctx context.Context, contestID string) ([]model.VirtualWallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contest_id, user_id,
		        base_balance::TEXT, invested_amount::TEXT,
		        realized_pnl::TEXT, unrealized_pnl::TEXT
		 FROM virtual_wallets WHERE contest_id = $1 ORDER BY user_id`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []model.VirtualWallet
	for rows.Next() {
		var w model.VirtualWallet
		var base, invested, realized, unrealized string
		if err := rows.Scan(&w.ContestID, &w.UserID, &base, &invested, &realized, &unrealized); err != nil {
			return nil, err
		}
		w.BaseBalance, _ = decimal.NewFromString(base)
		w.InvestedAmount, _ = decimal.NewFromString(invested)
		w.RealizedPnL, _ = decimal.NewFromString(realized)
		w.UnrealizedPnL, _ = decimal.NewFromString(unrealized)
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// --- Trades ---

const tradeColumns = `id, contest_id, user_id, symbol, quantity,
	entry_price::TEXT, current_price::TEXT, status,
	pnl::TEXT, final_pnl::TEXT, opened_at, closed_at, marked_at`

func scanTrade(row contestScanner) (*model.Trade, error) {
	var t model.Trade
	var entry, current, pnl, finalPnl string

	err := row.Scan(&t.ID, &t.ContestID, &t.UserID, &t.Symbol, &t.Quantity,
		&entry, &current, &t.Status,
		&pnl, &finalPnl, &t.OpenedAt, &t.ClosedAt, &t.MarkedAt)
	if err != nil {
		return nil, err
	}

	t.EntryPrice, _ = decimal.NewFromString(entry)
	t.CurrentPrice, _ = decimal.NewFromString(current)
	t.PnL, _ = decimal.NewFromString(pnl)
	t.FinalPnL, _ = decimal.NewFromString(finalPnl)
	return &t, nil
}

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades
		   (id, contest_id, user_id, symbol, quantity,
		    entry_price, current_price, status, pnl, final_pnl,
		    opened_at, closed_at, marked_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8, $9::NUMERIC, $10::NUMERIC,
		         $11, $12, $13)`,
		t.ID, t.ContestID, t.UserID, t.Symbol, t.Quantity,
		t.EntryPrice.String(), t.CurrentPrice.String(), t.Status,
		t.PnL.String(), t.FinalPnL.String(),
		t.OpenedAt, t.ClosedAt, t.MarkedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) listTrades(ctx context.Context, query string, args ...any) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, contestID, userID string) ([]model.Trade, error) {
	return s.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE contest_id = $1 AND user_id = $2 ORDER BY opened_at, id`,
		contestID, userID)
}

func (s *PostgresStore) ListOpenTrades(ctx context.Context, contestID string) ([]model.Trade, error) {
	return s.listTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE contest_id = $1 AND status = 'OPEN' ORDER BY opened_at, id`,
		contestID)
}

func (s *PostgresStore) CountTradesByUser(ctx context.Context, contestID, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID).Scan(&count)
	return count, err
}

func (s *PostgresStore) CountOpenTradesByUser(ctx context.Context, contestID, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades
		 WHERE contest_id = $1 AND user_id = $2 AND status = 'OPEN'`,
		contestID, userID).Scan(&count)
	return count, err
}

func (s *PostgresStore) MarkTrade(ctx context.Context, tradeID string, price, pnl decimal.Decimal, markedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades
		 SET current_price = $2::NUMERIC, pnl = $3::NUMERIC, marked_at = $4
		 WHERE id = $1 AND status = 'OPEN' AND marked_at <= $4`,
		tradeID, price.String(), pnl.String(), markedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	t, err := s.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.Status != model.TradeOpen {
		return ErrAlreadyClosed
	}
	return nil // stale mark, dropped
}

func (s *PostgresStore) CloseTradeOnce(ctx context.Context, tradeID string, closedAt time.Time) (*model.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE trades
		 SET status = 'CLOSED', final_pnl = pnl, closed_at = $2
		 WHERE id = $1 AND status = 'OPEN'
		 RETURNING `+tradeColumns, tradeID, closedAt)

	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := s.GetTrade(ctx, tradeID); gerr != nil {
			return nil, gerr
		}
		return nil, ErrAlreadyClosed
	}
	if err != nil {
		return nil, fmt.Errorf("close trade %s: %w", tradeID, err)
	}

	// Wallet settlement commits with the close or not at all.
	cost := t.Cost()
	tag, err := tx.Exec(ctx,
		`UPDATE virtual_wallets
		 SET base_balance = base_balance + $3::NUMERIC,
		     invested_amount = invested_amount - $4::NUMERIC,
		     realized_pnl = realized_pnl + $5::NUMERIC
		 WHERE contest_id = $1 AND user_id = $2`,
		t.ContestID, t.UserID,
		cost.Add(t.FinalPnL).String(), cost.String(), t.FinalPnL.String())
	if err != nil {
		return nil, fmt.Errorf("settle trade %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}
