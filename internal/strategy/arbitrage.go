package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/pricing"
	"github.com/ritcapital/etfarb/internal/risk"
)

// ChannelArb carries executed arbitrage round trips on the event bus.
const ChannelArb = "ch:arb"

// RouteTrader executes one routed leg and reports its cash flow.
type RouteTrader interface {
	ExecuteRoute(ctx context.Context, route domain.Route, side domain.Side, qty int) (domain.FillResult, float64, error)
}

// ScannerConfig tunes the arbitrage scanner.
type ScannerConfig struct {
	Interval  time.Duration
	TradeSize int
	MinProfit float64 // home currency, per round trip
}

// Scanner watches for converter round trips that are profitable on their
// own: buying the stocks, converting and selling the ETF (or the reverse)
// when the spread between the two routes exceeds the fees. It runs
// independently of the tender loop.
type Scanner struct {
	ex     Exchange
	trader RouteTrader
	model  *pricing.Model
	guard  RiskChecker
	events domain.EventBus
	cfg    ScannerConfig
	logger *slog.Logger
}

// NewScanner wires an arbitrage scanner. events may be nil.
func NewScanner(ex Exchange, trader RouteTrader, model *pricing.Model, guard RiskChecker, events domain.EventBus, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		ex:     ex,
		trader: trader,
		model:  model,
		guard:  guard,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arb")),
	}
}

// Run scans on the configured interval until the context ends.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := s.ex.Case(ctx)
		if err != nil || !status.Active() {
			continue
		}
		s.scan(ctx)
	}
}

// scan evaluates both round-trip directions at top of book and executes
// the better one when it clears the profit threshold.
//
// A round trip is one route entered and the opposite route exited, so its
// expected profit is simply the sum of the two routes' signed per-unit
// flows. Creation arb enters through the converter (buy stocks, create)
// and exits direct (sell ETF); redemption arb is the mirror.
func (s *Scanner) scan(ctx context.Context) {
	quotes, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Warn("quote snapshot failed", slog.String("err", err.Error()))
		return
	}

	create := roundTrip(s.model.Converter(domain.SideBuy, quotes), s.model.Direct(domain.SideSell, quotes))
	redeem := roundTrip(s.model.Direct(domain.SideBuy, quotes), s.model.Converter(domain.SideSell, quotes))

	enter, exit := create.enter, create.exit
	perUnit, avail := create.perUnit, create.avail
	if redeem.perUnit > create.perUnit {
		enter, exit = redeem.enter, redeem.exit
		perUnit, avail = redeem.perUnit, redeem.avail
	}
	if enter == nil || exit == nil {
		return
	}

	qty := s.cfg.TradeSize
	if avail < qty {
		qty = avail
	}
	if qty <= 0 || perUnit*float64(qty) < s.cfg.MinProfit {
		return
	}

	positions, err := s.ex.Positions(ctx)
	if err != nil {
		return
	}
	if !s.guard.Approve(positions, risk.SliceDeltas(enter.Route, domain.SideBuy, qty)) {
		return
	}

	s.execute(ctx, enter, exit, qty, perUnit)
}

// execute runs the entry leg, then exits exactly what the entry produced.
// An entry that cannot be exited is reversed back out through the entry
// route so no exposure is left behind.
func (s *Scanner) execute(ctx context.Context, enter, exit *pricing.RouteCost, qty int, perUnit float64) {
	s.logger.Info("arbitrage detected",
		slog.String("enter", string(enter.Route)),
		slog.String("exit", string(exit.Route)),
		slog.Int("quantity", qty),
		slog.Float64("expected_per_unit", perUnit))

	entry, entryFlow, err := s.trader.ExecuteRoute(ctx, enter.Route, domain.SideBuy, qty)
	if err != nil || entry.Quantity == 0 {
		if err != nil {
			s.logger.Error("arb entry failed", slog.String("err", err.Error()))
		}
		return
	}

	exitFill, exitFlow, err := s.trader.ExecuteRoute(ctx, exit.Route, domain.SideSell, entry.Quantity)
	if err != nil {
		s.logger.Error("arb exit failed", slog.String("err", err.Error()))
	}
	if leftover := entry.Quantity - exitFill.Quantity; leftover > 0 {
		s.logger.Warn("reversing unexited arb entry", slog.Int("quantity", leftover))
		if _, flow, rerr := s.trader.ExecuteRoute(ctx, enter.Route, domain.SideSell, leftover); rerr != nil {
			s.logger.Error("arb reversal failed", slog.String("err", rerr.Error()))
		} else {
			exitFlow += flow
		}
	}

	realized := entryFlow + exitFlow
	s.logger.Info("arbitrage round trip done",
		slog.Int("quantity", exitFill.Quantity),
		slog.Float64("realized", realized))
	s.emit(ctx, map[string]any{
		"enter":    enter.Route,
		"exit":     exit.Route,
		"quantity": exitFill.Quantity,
		"realized": realized,
	})
}

type tripEval struct {
	enter   *pricing.RouteCost
	exit    *pricing.RouteCost
	perUnit float64
	avail   int
}

func roundTrip(enter, exit *pricing.RouteCost) tripEval {
	if enter == nil || exit == nil {
		return tripEval{}
	}
	avail := enter.Available
	if exit.Available < avail {
		avail = exit.Available
	}
	return tripEval{
		enter:   enter,
		exit:    exit,
		perUnit: enter.PerUnitFlow + exit.PerUnitFlow,
		avail:   avail,
	}
}

func (s *Scanner) snapshot(ctx context.Context) (pricing.Quotes, error) {
	var q pricing.Quotes
	var err error
	if q.ETF, err = s.ex.TopOfBook(ctx, domain.InstrumentETF); err != nil {
		return q, err
	}
	if q.StockA, err = s.ex.TopOfBook(ctx, domain.InstrumentStockA); err != nil {
		return q, err
	}
	if q.StockB, err = s.ex.TopOfBook(ctx, domain.InstrumentStockB); err != nil {
		return q, err
	}
	if q.FX, err = s.ex.TopOfBook(ctx, domain.InstrumentFX); err != nil {
		return q, err
	}
	return q, nil
}

func (s *Scanner) emit(ctx context.Context, v any) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, ChannelArb, payload); err != nil {
		s.logger.Warn("event publish failed", slog.String("err", err.Error()))
	}
}
