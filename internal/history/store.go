// Package history persists completed trades and their audit trails to
// a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"arb_bot/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	signal_id     TEXT PRIMARY KEY,
	pair          TEXT NOT NULL,
	direction     TEXT NOT NULL,
	size_base     TEXT NOT NULL,
	size_quote    TEXT NOT NULL,
	entry_price   TEXT NOT NULL,
	exit_price    TEXT NOT NULL,
	gross_pnl_usd TEXT NOT NULL,
	net_pnl_usd   TEXT NOT NULL,
	expected_usd  TEXT NOT NULL,
	fees_usd      TEXT NOT NULL,
	gas_usd       TEXT NOT NULL,
	latency_ms    INTEGER NOT NULL,
	unwound       INTEGER NOT NULL,
	final_state   TEXT NOT NULL,
	completed_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_pair_time ON trades(pair, completed_at);

CREATE TABLE IF NOT EXISTS audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_id  TEXT NOT NULL,
	trail      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_signal ON audit(signal_id);
`

// SQLiteStore implements core.ITradeStore on a single local file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveTrade upserts a terminal trade record keyed by signal id, so a
// retried persistence call cannot produce duplicate rows.
func (s *SQLiteStore) SaveTrade(ctx context.Context, rec *core.TradeRecord) error {
	query := `INSERT OR REPLACE INTO trades (
		signal_id, pair, direction, size_base, size_quote,
		entry_price, exit_price, gross_pnl_usd, net_pnl_usd, expected_usd,
		fees_usd, gas_usd, latency_ms, unwound, final_state, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	unwound := 0
	if rec.Unwound {
		unwound = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.SignalID, rec.Pair, rec.Direction,
		rec.SizeBase.String(), rec.SizeQuote.String(),
		rec.EntryPrice.String(), rec.ExitPrice.String(),
		rec.GrossPnLUSD.String(), rec.NetPnLUSD.String(), rec.ExpectedUSD.String(),
		rec.FeesUSD.String(), rec.GasUSD.String(),
		rec.LatencyMS, unwound, rec.FinalState, rec.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// SaveAudit appends a serialized state transition trail.
func (s *SQLiteStore) SaveAudit(ctx context.Context, signalID string, events []byte) error {
	query := `INSERT INTO audit (signal_id, trail, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, signalID, string(events), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to save audit trail: %w", err)
	}
	return nil
}

// RecentTrades returns the newest trades for a pair, most recent first.
// An empty pair returns trades across all pairs.
func (s *SQLiteStore) RecentTrades(ctx context.Context, pair string, limit int) ([]*core.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT signal_id, pair, direction, size_base, size_quote,
		entry_price, exit_price, gross_pnl_usd, net_pnl_usd, expected_usd,
		fees_usd, gas_usd, latency_ms, unwound, final_state, completed_at
		FROM trades`
	args := []interface{}{}
	if pair != "" {
		query += ` WHERE pair = ?`
		args = append(args, pair)
	}
	query += ` ORDER BY completed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []*core.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanTrade(rows *sql.Rows) (*core.TradeRecord, error) {
	var rec core.TradeRecord
	var sizeBase, sizeQuote, entry, exit, gross, net, expected, fees, gas string
	var unwound int
	var completedNs int64

	if err := rows.Scan(
		&rec.SignalID, &rec.Pair, &rec.Direction, &sizeBase, &sizeQuote,
		&entry, &exit, &gross, &net, &expected,
		&fees, &gas, &rec.LatencyMS, &unwound, &rec.FinalState, &completedNs,
	); err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}

	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.SizeBase, sizeBase}, {&rec.SizeQuote, sizeQuote},
		{&rec.EntryPrice, entry}, {&rec.ExitPrice, exit},
		{&rec.GrossPnLUSD, gross}, {&rec.NetPnLUSD, net},
		{&rec.ExpectedUSD, expected}, {&rec.FeesUSD, fees}, {&rec.GasUSD, gas},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("failed to parse stored decimal %q: %w", f.src, err)
		}
	}

	rec.Unwound = unwound != 0
	rec.CompletedAt = time.Unix(0, completedNs)
	return &rec, nil
}
