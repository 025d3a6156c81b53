package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dyike/quorumtrade/internal/models"
	"github.com/dyike/quorumtrade/internal/storage"
)

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS trade_records (
    id TEXT PRIMARY KEY,
    date TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL CHECK (side IN ('Buy', 'Sell')),
    price REAL NOT NULL,
    amount REAL NOT NULL,
    cost_basis REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_records_date ON trade_records(date);
CREATE INDEX IF NOT EXISTS idx_trade_records_symbol_date ON trade_records(symbol, date);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    amount REAL NOT NULL DEFAULT 0,
    average_buy_price REAL NOT NULL DEFAULT 0,
    last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reasoning_records (
    ticker TEXT PRIMARY KEY,
    last_reasoning_time TEXT NOT NULL
);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (s *Store) ApplyTrade(ctx context.Context, trade models.TradeRecord, update storage.PositionUpdate) (models.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Position{}, fmt.Errorf("begin trade tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO trade_records (id, date, symbol, side, price, amount, cost_basis)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, trade.ID, formatTime(trade.Date), trade.Symbol, string(trade.Side), trade.Price, trade.Amount, trade.CostBasis)
	if err != nil {
		return models.Position{}, fmt.Errorf("insert trade: %w", err)
	}

	current, err := scanPosition(tx.QueryRowContext(ctx, `
SELECT symbol, amount, average_buy_price, last_updated FROM positions WHERE symbol = ?
`, trade.Symbol))
	if err != nil {
		return models.Position{}, err
	}
	base := models.Position{Symbol: trade.Symbol}
	if current != nil {
		base = *current
	}
	next := update(base)

	if err := upsertPosition(ctx, tx, next); err != nil {
		return models.Position{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Position{}, fmt.Errorf("commit trade tx: %w", err)
	}
	return next, nil
}

func upsertPosition(ctx context.Context, tx *sql.Tx, pos models.Position) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO positions (symbol, amount, average_buy_price, last_updated)
VALUES (?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
    amount=excluded.amount,
    average_buy_price=excluded.average_buy_price,
    last_updated=excluded.last_updated
`, pos.Symbol, pos.Amount, pos.AverageBuyPrice, formatTime(pos.LastUpdated))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *Store) Trades(ctx context.Context) ([]models.TradeRecord, error) {
	return s.queryTrades(ctx, `
SELECT id, date, symbol, side, price, amount, cost_basis
FROM trade_records
ORDER BY date ASC, id ASC
`)
}

func (s *Store) RecentTrades(ctx context.Context, n int) ([]models.TradeRecord, error) {
	if n <= 0 {
		n = -1
	}
	return s.queryTrades(ctx, `
SELECT id, date, symbol, side, price, amount, cost_basis
FROM trade_records
ORDER BY date DESC, id DESC
LIMIT ?
`, n)
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			rec  models.TradeRecord
			date string
			side string
		)
		if err := rows.Scan(&rec.ID, &date, &rec.Symbol, &side, &rec.Price, &rec.Amount, &rec.CostBasis); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if rec.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("parse trade date %q: %w", date, err)
		}
		rec.Side = models.Side(side)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var (
		pos     models.Position
		updated string
	)
	if err := row.Scan(&pos.Symbol, &pos.Amount, &pos.AverageBuyPrice, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan position: %w", err)
	}
	ts, err := parseTime(updated)
	if err != nil {
		return nil, fmt.Errorf("parse position time %q: %w", updated, err)
	}
	pos.LastUpdated = ts
	return &pos, nil
}

func (s *Store) Position(ctx context.Context, symbol string) (*models.Position, error) {
	return scanPosition(s.db.QueryRowContext(ctx, `
SELECT symbol, amount, average_buy_price, last_updated FROM positions WHERE symbol = ?
`, symbol))
}

func (s *Store) Positions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol, amount, average_buy_price, last_updated FROM positions ORDER BY symbol ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return out, nil
}

func (s *Store) InsertPosition(ctx context.Context, pos models.Position) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO positions (symbol, amount, average_buy_price, last_updated)
VALUES (?, ?, ?, ?)
ON CONFLICT(symbol) DO NOTHING
`, pos.Symbol, pos.Amount, pos.AverageBuyPrice, formatTime(pos.LastUpdated))
	if err != nil {
		return false, fmt.Errorf("insert position: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (s *Store) Reasoning(ctx context.Context, ticker string) (*models.ReasoningRecord, error) {
	var (
		rec models.ReasoningRecord
		ts  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT ticker, last_reasoning_time FROM reasoning_records WHERE ticker = ?
`, ticker).Scan(&rec.Ticker, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reasoning record: %w", err)
	}
	if rec.LastReasoningTime, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parse reasoning time %q: %w", ts, err)
	}
	return &rec, nil
}

func (s *Store) UpsertReasoning(ctx context.Context, rec models.ReasoningRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reasoning_records (ticker, last_reasoning_time)
VALUES (?, ?)
ON CONFLICT(ticker) DO UPDATE SET
    last_reasoning_time=excluded.last_reasoning_time
`, rec.Ticker, formatTime(rec.LastReasoningTime))
	if err != nil {
		return fmt.Errorf("upsert reasoning record: %w", err)
	}
	return nil
}

func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"trade_records", "positions", "reasoning_records"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
