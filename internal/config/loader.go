package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ETFARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ETFARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject the API key and connection secrets at run time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "ETFARB_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.APIKey, "ETFARB_EXCHANGE_API_KEY")
	setFloat64(&cfg.Exchange.RateLimitRPS, "ETFARB_EXCHANGE_RATE_LIMIT_RPS")
	setDuration(&cfg.Exchange.Timeout, "ETFARB_EXCHANGE_TIMEOUT")
	setStr(&cfg.Exchange.Tickers.ETF, "ETFARB_EXCHANGE_TICKER_ETF")
	setStr(&cfg.Exchange.Tickers.StockA, "ETFARB_EXCHANGE_TICKER_STOCK_A")
	setStr(&cfg.Exchange.Tickers.StockB, "ETFARB_EXCHANGE_TICKER_STOCK_B")
	setStr(&cfg.Exchange.Tickers.FX, "ETFARB_EXCHANGE_TICKER_FX")

	// ── Trading ──
	setFloat64(&cfg.Trading.PerShareFee, "ETFARB_TRADING_PER_SHARE_FEE")
	setFloat64(&cfg.Trading.ConversionFeeFlat, "ETFARB_TRADING_CONVERSION_FEE_FLAT")
	setInt(&cfg.Trading.ConverterBatchSize, "ETFARB_TRADING_CONVERTER_BATCH_SIZE")
	setInt(&cfg.Trading.MaxOrderSize, "ETFARB_TRADING_MAX_ORDER_SIZE")
	setInt(&cfg.Trading.MaxFXOrderSize, "ETFARB_TRADING_MAX_FX_ORDER_SIZE")
	setInt(&cfg.Trading.MaxGross, "ETFARB_TRADING_MAX_GROSS")
	setInt(&cfg.Trading.MaxLongNet, "ETFARB_TRADING_MAX_LONG_NET")
	setInt(&cfg.Trading.MaxShortNet, "ETFARB_TRADING_MAX_SHORT_NET")
	setDuration(&cfg.Trading.PatienceWindow, "ETFARB_TRADING_PATIENCE_WINDOW")
	setFloat64(&cfg.Trading.MinTenderProfit, "ETFARB_TRADING_MIN_TENDER_PROFIT")
	setFloat64(&cfg.Trading.MinCoverage, "ETFARB_TRADING_MIN_COVERAGE")
	setInt(&cfg.Trading.FXTolerance, "ETFARB_TRADING_FX_TOLERANCE")
	setInt(&cfg.Trading.SliceRetries, "ETFARB_TRADING_SLICE_RETRIES")
	setInt(&cfg.Trading.MaxStalls, "ETFARB_TRADING_MAX_STALLS")
	setDuration(&cfg.Trading.RetryBackoff, "ETFARB_TRADING_RETRY_BACKOFF")
	setDuration(&cfg.Trading.PollInterval, "ETFARB_TRADING_POLL_INTERVAL")
	setInt(&cfg.Trading.ArbTradeSize, "ETFARB_TRADING_ARB_TRADE_SIZE")
	setFloat64(&cfg.Trading.MinArbProfit, "ETFARB_TRADING_MIN_ARB_PROFIT")
	setBool(&cfg.Trading.ArbEnabled, "ETFARB_TRADING_ARB_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ETFARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ETFARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ETFARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ETFARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ETFARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ETFARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ETFARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ETFARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ETFARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ETFARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ETFARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ETFARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ETFARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ETFARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ETFARB_REDIS_MAX_RETRIES")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ETFARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ETFARB_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ETFARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ETFARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ETFARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ETFARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ETFARB_MODE")
	setStr(&cfg.LogLevel, "ETFARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
