package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/aster/timesync"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/logging"

	"go.uber.org/zap"
)

// verify checks venue connectivity for both accounts without trading:
// server time offset, balance endpoints, open position, and market data.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ok := true
	for _, acct := range []config.AccountConfig{cfg.AccountA, cfg.AccountB} {
		if !verifyAccount(ctx, cfg, acct, log) {
			ok = false
		}
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}

func verifyAccount(ctx context.Context, cfg *config.Config, acct config.AccountConfig, log *zap.Logger) bool {
	fmt.Printf("== %s ==\n", acct.Name)

	clock := timesync.New(cfg.Venue.BaseURL, log)
	if err := clock.Refresh(ctx); err != nil {
		fmt.Printf("time sync: FAILED (%v)\n", err)
		return false
	}
	fmt.Printf("time sync: ok, offset=%dms\n", clock.Offset())

	client := rest.New(rest.Options{
		BaseURL:    cfg.Venue.BaseURL,
		APIKey:     acct.APIKey,
		APISecret:  acct.APISecret,
		Timeout:    cfg.Venue.Timeout,
		RecvWindow: cfg.Venue.RecvWindow,
		RateLimit:  cfg.Venue.RateLimit,
		RateBurst:  cfg.Venue.RateBurst,
	}, clock, log)

	price := client.Price(ctx, cfg.Trading.Symbol)
	if price <= 0 {
		fmt.Printf("price %s: FAILED\n", cfg.Trading.Symbol)
		return false
	}
	fmt.Printf("price %s: %.4f\n", cfg.Trading.Symbol, price)

	funding := client.FundingRate(ctx, cfg.Trading.Symbol)
	fmt.Printf("funding rate %s: %.6f\n", cfg.Trading.Symbol, funding)

	balance := client.AccountSnapshot(ctx)
	if balance.Best() <= 0 {
		fmt.Println("balance: FAILED (all endpoints returned zero)")
		return false
	}
	fmt.Printf("balance: wallet=%.2f margin=%.2f available=%.2f\n",
		balance.Wallet, balance.Margin, balance.Available)

	pos, err := client.Position(ctx, cfg.Trading.Symbol)
	switch {
	case err != nil:
		fmt.Printf("position: FAILED (%v)\n", err)
		return false
	case pos == nil:
		fmt.Println("position: unknown (venue rejected query)")
	case pos.Quantity == 0:
		fmt.Println("position: flat")
	default:
		fmt.Printf("position: qty=%.4f entry=%.4f pnl=%.4f\n",
			pos.Quantity, pos.EntryPrice, pos.UnrealizedPnL)
	}

	orders, err := client.OpenOrders(ctx, cfg.Trading.Symbol)
	if err != nil {
		fmt.Printf("open orders: FAILED (%v)\n", err)
		return false
	}
	fmt.Printf("open orders: %d\n", len(orders))
	return true
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
