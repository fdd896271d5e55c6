package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Venue     VenueConfig     `yaml:"venue"`
	AccountA  AccountConfig   `yaml:"account_a"`
	AccountB  AccountConfig   `yaml:"account_b"`
	Trading   TradingConfig   `yaml:"trading"`
	History   HistoryConfig   `yaml:"history"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type VenueConfig struct {
	BaseURL    string        `yaml:"base_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RecvWindow int64         `yaml:"recv_window"`
	RateLimit  float64       `yaml:"rate_limit"`
	RateBurst  int           `yaml:"rate_burst"`
}

type AccountConfig struct {
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type TradingConfig struct {
	Symbol       string        `yaml:"symbol"`
	USDTAmount   float64       `yaml:"usdt_amount"`
	Leverage     int           `yaml:"leverage"`
	HoldTime     time.Duration `yaml:"hold_time"`
	OrderType    string        `yaml:"order_type"`
	PositionSide string        `yaml:"position_side"`
	MaxTrades    int           `yaml:"max_trades"`
}

type HistoryConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	Prefix  string `yaml:"prefix"` // tag prepended to every alert, e.g. the instance name
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvCredentials(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://fapi.asterdex.com"
	}
	if cfg.Venue.WSURL == "" {
		cfg.Venue.WSURL = "wss://fstream.asterdex.com/ws"
	}
	if cfg.Venue.Timeout == 0 {
		cfg.Venue.Timeout = 10 * time.Second
	}
	if cfg.Venue.RecvWindow == 0 {
		cfg.Venue.RecvWindow = 5000
	}
	if cfg.Venue.RateLimit == 0 {
		cfg.Venue.RateLimit = 20
	}
	if cfg.Venue.RateBurst == 0 {
		cfg.Venue.RateBurst = 25
	}
	if cfg.AccountA.Name == "" {
		cfg.AccountA.Name = "account-a"
	}
	if cfg.AccountB.Name == "" {
		cfg.AccountB.Name = "account-b"
	}
	if cfg.Trading.Leverage == 0 {
		cfg.Trading.Leverage = 20
	}
	if cfg.Trading.HoldTime == 0 {
		cfg.Trading.HoldTime = 60 * time.Second
	}
	if cfg.Trading.OrderType == "" {
		cfg.Trading.OrderType = "MARKET"
	}
	if cfg.Trading.PositionSide == "" {
		cfg.Trading.PositionSide = "BOTH"
	}
	if cfg.Trading.MaxTrades == 0 {
		cfg.Trading.MaxTrades = 100
	}
	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = "data/aster-hedge-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

// applyEnvCredentials lets keys come from the environment instead of the
// config file, so the file can be committed without secrets.
func applyEnvCredentials(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ASTER_A_API_KEY")); v != "" {
		cfg.AccountA.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ASTER_A_API_SECRET")); v != "" {
		cfg.AccountA.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("ASTER_B_API_KEY")); v != "" {
		cfg.AccountB.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ASTER_B_API_SECRET")); v != "" {
		cfg.AccountB.APISecret = v
	}
}

func validate(cfg *Config) error {
	if cfg.AccountA.APIKey == "" || cfg.AccountA.APISecret == "" {
		return errors.New("account_a credentials are required")
	}
	if cfg.AccountB.APIKey == "" || cfg.AccountB.APISecret == "" {
		return errors.New("account_b credentials are required")
	}
	if cfg.AccountA.APIKey == cfg.AccountB.APIKey {
		return errors.New("account_a and account_b must be distinct accounts")
	}
	if cfg.Trading.Symbol == "" {
		return errors.New("trading.symbol is required")
	}
	if cfg.Trading.USDTAmount <= 0 {
		return errors.New("trading.usdt_amount must be > 0")
	}
	if cfg.Trading.Leverage < 1 || cfg.Trading.Leverage > 125 {
		return fmt.Errorf("trading.leverage %d out of range [1,125]", cfg.Trading.Leverage)
	}
	if cfg.Trading.HoldTime < time.Second {
		return errors.New("trading.hold_time must be at least 1s")
	}
	switch cfg.Trading.OrderType {
	case "MARKET", "LIMIT":
	default:
		return fmt.Errorf("trading.order_type %q is not supported", cfg.Trading.OrderType)
	}
	if cfg.Trading.MaxTrades < 0 {
		return errors.New("trading.max_trades must be >= 0")
	}
	return nil
}
