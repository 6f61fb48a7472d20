package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ritcapital/etfarb/internal/cache/redis"
	"github.com/ritcapital/etfarb/internal/config"
	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/notify"
	"github.com/ritcapital/etfarb/internal/platform/rit"
	"github.com/ritcapital/etfarb/internal/pricing"
	"github.com/ritcapital/etfarb/internal/risk"
	"github.com/ritcapital/etfarb/internal/store"
	"github.com/ritcapital/etfarb/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Constructed
// by Wire, torn down by the returned cleanup function.
type Dependencies struct {
	Exchange  *rit.Client
	Converter *rit.Converter
	Model     *pricing.Model
	Guard     *risk.Guard
	Journal   domain.ExecutionJournal
	Bus       domain.EventBus // nil when Redis is not configured
	Notifier  *notify.Notifier
}

// Wire constructs the concrete dependency graph from the configuration.
// Postgres and Redis are optional: a missing address degrades to a no-op
// journal and a nil bus rather than failing startup.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	tickers := cfg.Exchange.Tickers
	client := rit.NewClient(rit.Config{
		BaseURL:      cfg.Exchange.BaseURL,
		APIKey:       cfg.Exchange.APIKey,
		RateLimitRPS: cfg.Exchange.RateLimitRPS,
		Timeout:      cfg.Exchange.Timeout.Duration,
		Symbols: rit.Symbols{
			ETF:    tickers.ETF,
			StockA: tickers.StockA,
			StockB: tickers.StockB,
			FX:     tickers.FX,
			Home:   tickers.Home,
		},
	})

	converter := rit.NewConverter(client,
		cfg.Trading.ConversionFeeFlat, cfg.Trading.ConverterBatchSize, logger)

	model := pricing.NewModel(pricing.Params{
		PerShareFee:        cfg.Trading.PerShareFee,
		ConversionFeeFlat:  cfg.Trading.ConversionFeeFlat,
		ConverterBatchSize: cfg.Trading.ConverterBatchSize,
	})

	guard := risk.NewGuard(risk.Limits{
		MaxGross:    cfg.Trading.MaxGross,
		MaxLongNet:  cfg.Trading.MaxLongNet,
		MaxShortNet: cfg.Trading.MaxShortNet,
	}, logger)

	deps := &Dependencies{
		Exchange:  client,
		Converter: converter,
		Model:     model,
		Guard:     guard,
		Journal:   store.NopJournal{},
	}

	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("app: migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
		logger.Info("execution journal enabled")
	} else {
		logger.Info("no database configured, journal disabled")
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = redis.NewEventBus(redisClient)
		logger.Info("event bus enabled", slog.String("addr", cfg.Redis.Addr))
	} else {
		logger.Info("no redis configured, event bus disabled")
	}

	deps.Notifier = buildNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
