package history

import (
	"context"
	"time"
)

// Trade is one executed leg, recorded for the persistence sink.
type Trade struct {
	TradeID     string
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	Time        time.Time
	Account     string
	FundingRate float64
	PnL         float64
}

// Notional is the USDT-equivalent size of the trade.
func (t Trade) Notional() float64 {
	return t.Quantity * t.Price
}

// DailyStats is a per-symbol, per-day aggregate over recorded trades.
type DailyStats struct {
	Symbol         string
	Date           string
	TotalTrades    int
	TotalVolume    float64
	TotalPnL       float64
	AvgFundingRate float64
}

type Store interface {
	RecordTrade(ctx context.Context, trade Trade) error
	Trades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	DailyStats(ctx context.Context, symbol, date string) (DailyStats, error)
	Close() error
}
