package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ritcapital/etfarb/internal/executor"
	"github.com/ritcapital/etfarb/internal/notify"
	"github.com/ritcapital/etfarb/internal/pricing"
	"github.com/ritcapital/etfarb/internal/server"
	"github.com/ritcapital/etfarb/internal/server/ws"
	"github.com/ritcapital/etfarb/internal/strategy"
	"github.com/ritcapital/etfarb/internal/tender"
)

// TradeMode runs the full stack: lease setup, the tender loop, the
// arbitrage scanner, the alert relay and the operator server.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting trade mode")

	if err := deps.Converter.EnsureLeases(ctx); err != nil {
		return fmt.Errorf("app: converter leases: %w", err)
	}

	engine := a.buildEngine(deps)
	loop := a.buildLoop(deps, engine, false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })

	if a.cfg.Trading.ArbEnabled {
		scanner := strategy.NewScanner(deps.Exchange, engine, deps.Model, deps.Guard, deps.Bus,
			strategy.ScannerConfig{
				Interval:  a.cfg.Trading.PollInterval.Duration,
				TradeSize: a.cfg.Trading.ArbTradeSize,
				MinProfit: a.cfg.Trading.MinArbProfit,
			}, a.logger)
		g.Go(func() error { return scanner.Run(ctx) })
	}

	a.startShared(ctx, g, deps)
	return g.Wait()
}

// MonitorMode evaluates and reports without trading: the loop ranks every
// tender and publishes the decision it would have made.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("starting monitor mode")

	engine := a.buildEngine(deps)
	loop := a.buildLoop(deps, engine, true)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })

	a.startShared(ctx, g, deps)
	return g.Wait()
}

// startShared launches the goroutines common to both modes: the alert
// relay when a bus and senders exist, and the operator server when enabled.
func (a *App) startShared(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Bus != nil {
		relay := notify.NewRelay(deps.Bus, deps.Notifier, a.logger)
		g.Go(func() error { return relay.Run(ctx) })
	}

	if a.cfg.Server.Enabled {
		var hub *ws.Hub
		if deps.Bus != nil {
			hub = ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
		}
		srv := server.New(a.cfg.Server.Port, hub, deps.Exchange, a.logger)
		g.Go(func() error { return srv.Run(ctx) })
	}
}

func (a *App) buildEngine(deps *Dependencies) *executor.Engine {
	t := a.cfg.Trading
	return executor.New(deps.Exchange, deps.Converter, deps.Model, deps.Guard,
		deps.Journal, deps.Bus, executor.Config{
			PerShareFee:    t.PerShareFee,
			MaxOrderSize:   t.MaxOrderSize,
			MaxFXOrderSize: t.MaxFXOrderSize,
			PatienceWindow: t.PatienceWindow.Duration,
			SliceRetries:   t.SliceRetries,
			RetryBackoff:   t.RetryBackoff.Duration,
			FXTolerance:    t.FXTolerance,
			MaxStalls:      t.MaxStalls,
		}, a.logger)
}

func (a *App) buildLoop(deps *Dependencies, engine *executor.Engine, monitorOnly bool) *strategy.Loop {
	t := a.cfg.Trading
	ranker := tender.NewRanker(pricing.Params{
		PerShareFee:        t.PerShareFee,
		ConversionFeeFlat:  t.ConversionFeeFlat,
		ConverterBatchSize: t.ConverterBatchSize,
	})
	return strategy.NewLoop(deps.Exchange, ranker, engine, deps.Guard, deps.Bus,
		strategy.Config{
			PollInterval:    t.PollInterval.Duration,
			MinTenderProfit: t.MinTenderProfit,
			MinCoverage:     t.MinCoverage,
			MonitorOnly:     monitorOnly,
		}, a.logger)
}
