package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"aster-hedge-bot/internal/history"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id TEXT UNIQUE,
			symbol TEXT,
			side TEXT,
			quantity REAL,
			price REAL,
			timestamp TEXT,
			account TEXT,
			funding_rate REAL,
			pnl REAL,
			notional_value REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RecordTrade(ctx context.Context, trade history.Trade) error {
	if trade.TradeID == "" {
		return errors.New("trade id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (trade_id, symbol, side, quantity, price, timestamp, account, funding_rate, pnl, notional_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(trade_id) DO NOTHING`,
		trade.TradeID, trade.Symbol, trade.Side, trade.Quantity, trade.Price,
		trade.Time.UTC().Format(time.RFC3339Nano), trade.Account,
		trade.FundingRate, trade.PnL, trade.Notional())
	return err
}

func (s *Store) Trades(ctx context.Context, symbol string, limit int) ([]history.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, symbol, side, quantity, price, timestamp, account, funding_rate, pnl
		 FROM trades WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trades []history.Trade
	for rows.Next() {
		var trade history.Trade
		var ts string
		if err := rows.Scan(&trade.TradeID, &trade.Symbol, &trade.Side, &trade.Quantity,
			&trade.Price, &ts, &trade.Account, &trade.FundingRate, &trade.PnL); err != nil {
			return nil, err
		}
		trade.Time, _ = time.Parse(time.RFC3339Nano, ts)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (s *Store) DailyStats(ctx context.Context, symbol, date string) (history.DailyStats, error) {
	stats := history.DailyStats{Symbol: symbol, Date: date}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(notional_value), 0), COALESCE(SUM(pnl), 0), COALESCE(AVG(funding_rate), 0)
		 FROM trades WHERE symbol = ? AND substr(timestamp, 1, 10) = ?`, symbol, date).
		Scan(&stats.TotalTrades, &stats.TotalVolume, &stats.TotalPnL, &stats.AvgFundingRate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return stats, err
	}
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
