package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS contests (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    contest_type TEXT NOT NULL CHECK (contest_type IN ('FREE', 'PAID', 'HEAD2HEAD', 'GUARANTEED', 'WINNER_TAKES_ALL')),
    status TEXT NOT NULL CHECK (status IN ('DRAFT', 'UPCOMING', 'ACTIVE', 'COMPLETED', 'CANCELLED')),
    entry_fee NUMERIC(18, 2) NOT NULL DEFAULT 0,
    min_participants INTEGER NOT NULL,
    max_participants INTEGER NOT NULL,
    prize_pool NUMERIC(18, 2) NOT NULL DEFAULT 0,
    prize_distribution JSONB NOT NULL DEFAULT '{}',
    virtual_money_amount NUMERIC(18, 2) NOT NULL,
    max_trades_per_user INTEGER NOT NULL,
    max_open_positions INTEGER NOT NULL,
    max_position_size_pct NUMERIC(5, 2) NOT NULL,
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ NOT NULL,
    prizes_settled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_contests_status ON contests(status);

CREATE TABLE IF NOT EXISTS participations (
    contest_id TEXT NOT NULL REFERENCES contests(id),
    user_id TEXT NOT NULL,
    joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (contest_id, user_id)
);

CREATE TABLE IF NOT EXISTS wallet_ledger (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount NUMERIC(18, 2) NOT NULL,
    kind TEXT NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_user ON wallet_ledger(user_id, ts);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_user_reference
    ON wallet_ledger(user_id, reference) WHERE reference <> '';

CREATE TABLE IF NOT EXISTS virtual_wallets (
    contest_id TEXT NOT NULL REFERENCES contests(id),
    user_id TEXT NOT NULL,
    base_balance NUMERIC(18, 2) NOT NULL,
    invested_amount NUMERIC(18, 2) NOT NULL DEFAULT 0,
    realized_pnl NUMERIC(18, 2) NOT NULL DEFAULT 0,
    unrealized_pnl NUMERIC(18, 2) NOT NULL DEFAULT 0,
    PRIMARY KEY (contest_id, user_id)
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    contest_id TEXT NOT NULL REFERENCES contests(id),
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    quantity BIGINT NOT NULL CHECK (quantity > 0),
    entry_price NUMERIC(18, 2) NOT NULL CHECK (entry_price > 0),
    current_price NUMERIC(18, 2) NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('OPEN', 'CLOSED')),
    pnl NUMERIC(18, 2) NOT NULL DEFAULT 0,
    final_pnl NUMERIC(18, 2) NOT NULL DEFAULT 0,
    opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    closed_at TIMESTAMPTZ,
    marked_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_contest_user ON trades(contest_id, user_id);
CREATE INDEX IF NOT EXISTS idx_trades_open ON trades(contest_id) WHERE status = 'OPEN';
`

// Migrate applies the schema. Statements are idempotent so it is safe
// to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
