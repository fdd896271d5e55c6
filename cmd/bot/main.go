package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aster-hedge-bot/internal/app"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "path to dotenv file with account credentials")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("funding hedge bot starting",
		zap.String("config", *configPath),
		zap.String("symbol", cfg.Trading.Symbol),
		zap.String("account_a", cfg.AccountA.Name),
		zap.String("account_b", cfg.AccountB.Name),
		zap.Duration("hold_time", cfg.Trading.HoldTime))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("initialization failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine terminated", zap.Error(err))
		os.Exit(1)
	}
}
