package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/history"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	queueSize    = 256
)

// HedgeSnapshot is one decision-cycle observation of the paired accounts.
type HedgeSnapshot struct {
	Time        time.Time
	Symbol      string
	Price       float64
	FundingRate float64
	Phase       string
	TradeCount  int
	TotalVolume float64
	SideA       string
	QuantityA   float64
	BalanceA    float64
	PnLA        float64
	SideB       string
	QuantityB   float64
	BalanceB    float64
	PnLB        float64
}

// Writer streams hedge snapshots and completed trades into TimescaleDB on a
// background queue. A nil Writer is a valid no-op: snapshots are simply
// dropped when no DSN is configured.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	snapshots chan HedgeSnapshot
	trades    chan history.Trade
	started   atomic.Bool
	dropSnap  atomic.Uint64
	dropTrade atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		snapshots: make(chan HedgeSnapshot, queueSize),
		trades:    make(chan history.Trade, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueSnapshot(snap HedgeSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snap:
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) EnqueueTrade(trade history.Trade) {
	if w == nil {
		return
	}
	select {
	case w.trades <- trade:
	default:
		if w.dropTrade.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale trade queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		phase TEXT NOT NULL,
		trade_count INTEGER NOT NULL,
		total_volume DOUBLE PRECISION NOT NULL,
		side_a TEXT NOT NULL,
		quantity_a DOUBLE PRECISION NOT NULL,
		balance_a DOUBLE PRECISION NOT NULL,
		pnl_a DOUBLE PRECISION NOT NULL,
		side_b TEXT NOT NULL,
		quantity_b DOUBLE PRECISION NOT NULL,
		balance_b DOUBLE PRECISION NOT NULL,
		pnl_b DOUBLE PRECISION NOT NULL
	)`, w.table("hedge_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		trade_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		account TEXT NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		notional DOUBLE PRECISION NOT NULL
	)`, w.table("hedge_trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"hedge_snapshots", "hedge_trades"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeSnapshot(ctx context.Context, snap HedgeSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, price, funding_rate, phase, trade_count, total_volume,
		side_a, quantity_a, balance_a, pnl_a, side_b, quantity_b, balance_b, pnl_b
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, w.table("hedge_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time, snap.Symbol, snap.Price, snap.FundingRate, snap.Phase,
		snap.TradeCount, snap.TotalVolume,
		snap.SideA, snap.QuantityA, snap.BalanceA, snap.PnLA,
		snap.SideB, snap.QuantityB, snap.BalanceB, snap.PnLB,
	); err != nil && w.log != nil {
		w.log.Warn("timescale snapshot write failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, trade history.Trade) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, trade_id, symbol, side, quantity, price, account, funding_rate, pnl, notional
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, w.table("hedge_trades"))
	if _, err := w.db.ExecContext(ctx, query,
		trade.Time, trade.TradeID, trade.Symbol, trade.Side, trade.Quantity,
		trade.Price, trade.Account, trade.FundingRate, trade.PnL, trade.Notional(),
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade write failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	if w.schema == "" || w.schema == "public" {
		return name
	}
	return w.schema + "." + name
}
