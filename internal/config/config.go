// Package config defines the top-level configuration for the trading
// client and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ETFARB_* environment
// variables.
type Config struct {
	Trading  TradingConfig  `toml:"trading"`
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TradingConfig holds the case parameters and strategy tunables.
type TradingConfig struct {
	PerShareFee        float64  `toml:"per_share_fee"`        // market order fee, per share
	ConversionFeeFlat  float64  `toml:"conversion_fee_flat"`  // foreign currency, per full batch
	ConverterBatchSize int      `toml:"converter_batch_size"` // maximum units per converter call
	MaxOrderSize       int      `toml:"max_order_size"`       // exchange cap per equity order
	MaxFXOrderSize     int      `toml:"max_fx_order_size"`    // exchange cap per FX order
	MaxGross           int      `toml:"max_gross"`
	MaxLongNet         int      `toml:"max_long_net"`
	MaxShortNet        int      `toml:"max_short_net"` // negative
	PatienceWindow     duration `toml:"patience_window"`
	MinTenderProfit    float64  `toml:"min_tender_profit"` // home currency
	MinCoverage        float64  `toml:"min_coverage"`      // fraction of tender qty that must be coverable
	FXTolerance        int      `toml:"fx_tolerance"`      // residual FX position treated as flat
	SliceRetries       int      `toml:"slice_retries"`
	MaxStalls          int      `toml:"max_stalls"` // stalled iterations before an unwind is abandoned
	RetryBackoff       duration `toml:"retry_backoff"`
	PollInterval       duration `toml:"poll_interval"`
	ArbTradeSize       int      `toml:"arb_trade_size"`
	MinArbProfit       float64  `toml:"min_arb_profit"` // home currency, per round trip
	ArbEnabled         bool     `toml:"arb_enabled"`
}

// ExchangeConfig holds the simulated exchange's API endpoint, credentials,
// and the symbols the four instruments trade under.
type ExchangeConfig struct {
	BaseURL      string        `toml:"base_url"`
	APIKey       string        `toml:"api_key"`
	RateLimitRPS float64       `toml:"rate_limit_rps"`
	Timeout      duration      `toml:"timeout"`
	Tickers      TickersConfig `toml:"tickers"`
}

// TickersConfig maps the abstract instruments to exchange symbols.
type TickersConfig struct {
	ETF    string `toml:"etf"`
	StockA string `toml:"stock_a"`
	StockB string `toml:"stock_b"`
	FX     string `toml:"fx"`
	Home   string `toml:"home"`
}

// PostgresConfig holds connection parameters for the execution journal.
// Leave DSN and Host empty to run without persistence.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event bus. Leave
// Addr empty to run without it.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// ServerConfig holds the operator HTTP/WebSocket server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "3s", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the published case parameters
// and reasonable operational defaults.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			PerShareFee:        0.02,
			ConversionFeeFlat:  1500,
			ConverterBatchSize: 10000,
			MaxOrderSize:       10000,
			MaxFXOrderSize:     2500000,
			MaxGross:           300000,
			MaxLongNet:         200000,
			MaxShortNet:        -200000,
			PatienceWindow:     duration{3 * time.Second},
			MinTenderProfit:    1000,
			MinCoverage:        0.8,
			FXTolerance:        1,
			SliceRetries:       3,
			MaxStalls:          20,
			RetryBackoff:       duration{500 * time.Millisecond},
			PollInterval:       duration{time.Second},
			ArbTradeSize:       500,
			MinArbProfit:       50,
			ArbEnabled:         true,
		},
		Exchange: ExchangeConfig{
			BaseURL:      "http://localhost:9999/v1",
			RateLimitRPS: 20,
			Timeout:      duration{10 * time.Second},
			Tickers: TickersConfig{
				ETF:    "RITC",
				StockA: "BULL",
				StockB: "BEAR",
				FX:     "USD",
				Home:   "CAD",
			},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "etfarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"tender", "unwind", "arb"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	t := c.Trading
	if t.PerShareFee < 0 {
		errs = append(errs, "trading: per_share_fee must not be negative")
	}
	if t.ConversionFeeFlat < 0 {
		errs = append(errs, "trading: conversion_fee_flat must not be negative")
	}
	if t.ConverterBatchSize <= 0 {
		errs = append(errs, "trading: converter_batch_size must be > 0")
	}
	if t.MaxOrderSize <= 0 {
		errs = append(errs, "trading: max_order_size must be > 0")
	}
	if t.MaxFXOrderSize <= 0 {
		errs = append(errs, "trading: max_fx_order_size must be > 0")
	}
	if t.MaxGross <= 0 {
		errs = append(errs, "trading: max_gross must be > 0")
	}
	if t.MaxShortNet >= t.MaxLongNet {
		errs = append(errs, "trading: max_short_net must be below max_long_net")
	}
	if t.PatienceWindow.Duration <= 0 {
		errs = append(errs, "trading: patience_window must be > 0")
	}
	if t.MinCoverage <= 0 || t.MinCoverage > 1 {
		errs = append(errs, fmt.Sprintf("trading: min_coverage must be in (0, 1], got %g", t.MinCoverage))
	}
	if t.SliceRetries < 1 {
		errs = append(errs, "trading: slice_retries must be >= 1")
	}
	if t.PollInterval.Duration <= 0 {
		errs = append(errs, "trading: poll_interval must be > 0")
	}

	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Mode == "trade" && c.Exchange.APIKey == "" {
		errs = append(errs, "exchange: api_key is required for trade mode")
	}
	tk := c.Exchange.Tickers
	if tk.ETF == "" || tk.StockA == "" || tk.StockB == "" || tk.FX == "" {
		errs = append(errs, "exchange: all of tickers.etf, tickers.stock_a, tickers.stock_b, tickers.fx must be set")
	}

	if c.Postgres.DSN != "" || c.Postgres.Host != "" {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
