// Package executor implements the unwind engine: the execution loop that
// flattens a directional ETF exposure slice by slice, choosing per slice
// between the direct route and the converter route, hedging foreign
// currency as it goes.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/pricing"
	"github.com/ritcapital/etfarb/internal/risk"
)

// ChannelSlice carries slice execution events on the event bus.
const ChannelSlice = "ch:slice"

// ChannelUnwind carries finished unwind reports on the event bus.
const ChannelUnwind = "ch:unwind"

// Gateway is the slice of the exchange client the engine needs. Declared
// here so tests can drive the engine with a scripted exchange.
type Gateway interface {
	TopOfBook(ctx context.Context, inst domain.Instrument) (domain.Quote, error)
	PlaceMarket(ctx context.Context, inst domain.Instrument, side domain.Side, qty int) (domain.FillResult, error)
	PlaceLimit(ctx context.Context, inst domain.Instrument, side domain.Side, qty int, price float64) (int64, error)
	OrderStatus(ctx context.Context, orderID int64) (domain.OrderState, error)
	CancelOrder(ctx context.Context, orderID int64) error
	Positions(ctx context.Context) (domain.Positions, error)
}

// ConverterFacility is the conversion side of the exchange.
type ConverterFacility interface {
	Convert(ctx context.Context, dir domain.ConvertDirection, qty int) error
	FeeForeign(qty int) int
	BatchSize() int
}

// RiskChecker approves or rejects a slice before submission.
type RiskChecker interface {
	Approve(positions, deltas domain.Positions) bool
}

// Config tunes the engine. All values come from the trading section of the
// application config.
type Config struct {
	PerShareFee    float64
	MaxOrderSize   int
	MaxFXOrderSize int
	PatienceWindow time.Duration
	SliceRetries   int
	RetryBackoff   time.Duration
	FXTolerance    int
	MaxStalls      int
}

// Engine flattens unwind tasks.
type Engine struct {
	gw      Gateway
	conv    ConverterFacility
	model   *pricing.Model
	guard   RiskChecker
	journal domain.ExecutionJournal
	events  domain.EventBus
	cfg     Config
	logger  *slog.Logger
}

// New wires an engine. journal and events may be nil; the engine then runs
// without persistence or event publishing.
func New(gw Gateway, conv ConverterFacility, model *pricing.Model, guard RiskChecker, journal domain.ExecutionJournal, events domain.EventBus, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		gw:      gw,
		conv:    conv,
		model:   model,
		guard:   guard,
		journal: journal,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// Run flattens the task and returns the final report. It keeps slicing
// until the residual is zero, the context ends, or the configured stall
// budget is exhausted. The final FX cleanup runs in every exit path.
func (e *Engine) Run(ctx context.Context, task *domain.UnwindTask) (domain.UnwindReport, error) {
	started := time.Now()
	e.logger.Info("unwind started",
		slog.String("task_id", task.ID),
		slog.String("side", string(task.Side)),
		slog.Int("quantity", task.Quantity))

	seq := 0
	stalls := 0
	var runErr error

	for task.Residual > 0 {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if e.cfg.MaxStalls > 0 && stalls >= e.cfg.MaxStalls {
			runErr = fmt.Errorf("executor: task %s stalled %d times with residual %d", task.ID, stalls, task.Residual)
			break
		}

		rec, ok := e.iterate(ctx, task, seq)
		if !ok {
			stalls++
			e.logger.Warn("unwind stalled",
				slog.String("task_id", task.ID),
				slog.Int("residual", task.Residual),
				slog.Int("stalls", stalls))
			e.sleep(ctx, e.cfg.RetryBackoff)
			continue
		}
		stalls = 0
		seq++

		task.Residual -= rec.Filled
		task.AccumulatedCost += rec.CashFlow
		e.record(ctx, rec)
	}

	fxResidual := e.cleanupFX(ctx)

	report := domain.UnwindReport{
		TaskID:     task.ID,
		Side:       task.Side,
		Requested:  task.Quantity,
		Unwound:    task.Quantity - task.Residual,
		TotalCost:  task.AccumulatedCost,
		Slices:     seq,
		FXResidual: fxResidual,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	e.finish(ctx, report)
	return report, runErr
}

// ExecuteRoute runs a single routed slice outside of a task loop: snapshot,
// execution, FX hedging. Used by the arbitrage scanner, which picks its own
// route instead of letting the cost model choose. Returns the fill and the
// signed home-currency cash flow.
func (e *Engine) ExecuteRoute(ctx context.Context, route domain.Route, side domain.Side, qty int) (domain.FillResult, float64, error) {
	quotes, err := e.snapshot(ctx)
	if err != nil {
		return domain.FillResult{}, 0, err
	}
	if route == domain.RouteDirect {
		return e.directSlice(ctx, side, qty, quotes)
	}
	return e.converterSlice(ctx, side, qty, quotes)
}

// iterate runs one decision cycle: snapshot, route choice, risk check,
// slice execution. It reports ok=false when no progress was made.
func (e *Engine) iterate(ctx context.Context, task *domain.UnwindTask, seq int) (domain.SliceRecord, bool) {
	quotes, err := e.snapshot(ctx)
	if err != nil {
		e.logger.Warn("quote snapshot failed", slog.String("err", err.Error()))
		return domain.SliceRecord{}, false
	}

	direct, converter := e.model.Evaluate(task.Side, quotes)
	best := pricing.Better(direct, converter)
	if best == nil {
		return domain.SliceRecord{}, false
	}

	qty := minInt(best.Available, task.Residual, e.cfg.MaxOrderSize)
	if qty <= 0 {
		return domain.SliceRecord{}, false
	}

	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.logger.Warn("position fetch failed", slog.String("err", err.Error()))
		return domain.SliceRecord{}, false
	}
	if !e.guard.Approve(positions, risk.SliceDeltas(best.Route, task.Side, qty)) {
		return domain.SliceRecord{}, false
	}

	var fill domain.FillResult
	var flow float64
	if best.Route == domain.RouteDirect {
		fill, flow, err = e.directSlice(ctx, task.Side, qty, quotes)
	} else {
		fill, flow, err = e.converterSlice(ctx, task.Side, qty, quotes)
	}
	if err != nil {
		e.logger.Error("slice failed",
			slog.String("task_id", task.ID),
			slog.String("route", string(best.Route)),
			slog.String("err", err.Error()))
	}
	if fill.Quantity == 0 {
		return domain.SliceRecord{}, false
	}

	e.logger.Info("slice executed",
		slog.String("task_id", task.ID),
		slog.Int("seq", seq),
		slog.String("route", string(best.Route)),
		slog.String("side", string(task.Side)),
		slog.Int("filled", fill.Quantity),
		slog.Float64("vwap", fill.VWAP),
		slog.Float64("cash_flow", flow))

	return domain.SliceRecord{
		TaskID:    task.ID,
		Seq:       seq,
		Route:     best.Route,
		Side:      task.Side,
		Requested: qty,
		Filled:    fill.Quantity,
		VWAP:      fill.VWAP,
		CashFlow:  flow,
		At:        time.Now(),
	}, true
}

// directSlice trades the ETF itself and immediately hedges the foreign
// notional of the fill. Buying the ETF spends foreign currency, so the
// hedge buys foreign; selling receives foreign, so the hedge sells it.
func (e *Engine) directSlice(ctx context.Context, side domain.Side, qty int, q pricing.Quotes) (domain.FillResult, float64, error) {
	limit := q.ETF.Ask
	if side == domain.SideSell {
		limit = q.ETF.Bid
	}
	fill, err := e.executeSlice(ctx, domain.InstrumentETF, side, qty, limit)
	if fill.Quantity == 0 {
		return fill, 0, err
	}

	foreign := int(math.Round(fill.Notional()))
	hedge, hedgeErr := e.hedgeFX(ctx, side, foreign)
	if hedgeErr != nil {
		e.logger.Warn("fx hedge incomplete",
			slog.Int("wanted", foreign),
			slog.Int("hedged", hedge.Quantity),
			slog.String("err", hedgeErr.Error()))
	}

	// Home-currency flow: the hedged portion settles at the hedge VWAP,
	// any unhedged remainder is marked at the snapshot rate until the
	// final cleanup picks it up.
	unhedged := float64(foreign - hedge.Quantity)
	fees := e.cfg.PerShareFee * float64(fill.Quantity)
	var flow float64
	if side == domain.SideBuy {
		flow = -hedge.Notional() - unhedged*q.FX.Ask - fees
	} else {
		flow = hedge.Notional() + unhedged*q.FX.Bid - fees
	}
	return fill, flow, err
}

// converterSlice covers ETF exposure through the stocks. Covering a short
// buys both stocks and creates; flattening a long redeems and sells both
// stocks. The conversion fee is billed in foreign currency and hedged with
// an FX buy sized to the fee.
func (e *Engine) converterSlice(ctx context.Context, side domain.Side, qty int, q pricing.Quotes) (domain.FillResult, float64, error) {
	if batch := e.conv.BatchSize(); qty > batch {
		qty = batch
	}
	if side == domain.SideBuy {
		return e.createSlice(ctx, qty, q)
	}
	return e.redeemSlice(ctx, qty, q)
}

// createSlice buys both stocks, converts the matched quantity into ETF
// units and hedges the conversion fee. A leg imbalance is reversed at
// market before converting; a failed conversion reverses both legs so no
// unmanaged stock exposure survives the slice.
func (e *Engine) createSlice(ctx context.Context, qty int, q pricing.Quotes) (domain.FillResult, float64, error) {
	legA, errA := e.executeSlice(ctx, domain.InstrumentStockA, domain.SideBuy, qty, q.StockA.Ask)
	legB, errB := e.executeSlice(ctx, domain.InstrumentStockB, domain.SideBuy, qty, q.StockB.Ask)

	matched := minInt(legA.Quantity, legB.Quantity)
	if excess := legA.Quantity - matched; excess > 0 {
		e.reverseLeg(ctx, domain.InstrumentStockA, domain.SideSell, excess)
	}
	if excess := legB.Quantity - matched; excess > 0 {
		e.reverseLeg(ctx, domain.InstrumentStockB, domain.SideSell, excess)
	}
	if matched == 0 {
		if errA != nil {
			return domain.FillResult{}, 0, errA
		}
		return domain.FillResult{}, 0, errB
	}

	if err := e.conv.Convert(ctx, domain.ConvertCreate, matched); err != nil {
		e.logger.Error("creation failed, reversing stock legs",
			slog.Int("quantity", matched),
			slog.String("err", err.Error()))
		e.reverseLeg(ctx, domain.InstrumentStockA, domain.SideSell, matched)
		e.reverseLeg(ctx, domain.InstrumentStockB, domain.SideSell, matched)
		return domain.FillResult{}, 0, fmt.Errorf("executor: create %d: %w", matched, err)
	}

	feeHedge := e.hedgeConversionFee(ctx, matched, q)
	fees := 2 * e.cfg.PerShareFee * float64(matched)
	pairVWAP := legA.VWAP + legB.VWAP
	flow := -float64(matched)*pairVWAP - fees - feeHedge
	return domain.FillResult{Quantity: matched, VWAP: pairVWAP}, flow, nil
}

// redeemSlice converts ETF units back into the stocks, sells both legs and
// hedges the conversion fee. The redemption itself is what reduces ETF
// exposure; leftover unsold stock is swept by the slice retries.
func (e *Engine) redeemSlice(ctx context.Context, qty int, q pricing.Quotes) (domain.FillResult, float64, error) {
	if err := e.conv.Convert(ctx, domain.ConvertRedeem, qty); err != nil {
		return domain.FillResult{}, 0, fmt.Errorf("executor: redeem %d: %w", qty, err)
	}

	legA, errA := e.executeSlice(ctx, domain.InstrumentStockA, domain.SideSell, qty, q.StockA.Bid)
	legB, errB := e.executeSlice(ctx, domain.InstrumentStockB, domain.SideSell, qty, q.StockB.Bid)
	if errA != nil {
		e.logger.Error("stock leg incomplete after redeem",
			slog.String("instrument", string(domain.InstrumentStockA)),
			slog.String("err", errA.Error()))
	}
	if errB != nil {
		e.logger.Error("stock leg incomplete after redeem",
			slog.String("instrument", string(domain.InstrumentStockB)),
			slog.String("err", errB.Error()))
	}

	feeHedge := e.hedgeConversionFee(ctx, qty, q)
	fees := e.cfg.PerShareFee * float64(legA.Quantity+legB.Quantity)
	flow := legA.Notional() + legB.Notional() - fees - feeHedge
	pairVWAP := legA.VWAP + legB.VWAP
	return domain.FillResult{Quantity: qty, VWAP: pairVWAP}, flow, nil
}

// hedgeConversionFee buys the foreign currency the converter billed for
// the given quantity and returns the home-currency cost of doing so.
func (e *Engine) hedgeConversionFee(ctx context.Context, qty int, q pricing.Quotes) float64 {
	fee := e.conv.FeeForeign(qty)
	if fee <= 0 {
		return 0
	}
	hedge, err := e.hedgeFX(ctx, domain.SideBuy, fee)
	if err != nil {
		e.logger.Warn("conversion fee hedge incomplete",
			slog.Int("fee", fee),
			slog.String("err", err.Error()))
	}
	unhedged := float64(fee - hedge.Quantity)
	return hedge.Notional() + unhedged*q.FX.Ask
}

// reverseLeg unwinds excess stock exposure at market. A failure here is
// logged and left to the operator; the engine never retries a reversal
// of a reversal.
func (e *Engine) reverseLeg(ctx context.Context, inst domain.Instrument, side domain.Side, qty int) {
	e.logger.Warn("reversing excess leg",
		slog.String("instrument", string(inst)),
		slog.String("side", string(side)),
		slog.Int("quantity", qty))
	if _, err := e.gw.PlaceMarket(ctx, inst, side, qty); err != nil {
		e.logger.Error("leg reversal failed",
			slog.String("instrument", string(inst)),
			slog.Int("quantity", qty),
			slog.String("err", err.Error()))
	}
}

// cleanupFX flattens any FX position beyond tolerance from the actual
// account state. Returns the residual left after cleanup.
func (e *Engine) cleanupFX(ctx context.Context) int {
	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.logger.Warn("fx cleanup skipped, position fetch failed", slog.String("err", err.Error()))
		return 0
	}
	fx := positions.Get(domain.InstrumentFX)
	if fx <= e.cfg.FXTolerance && fx >= -e.cfg.FXTolerance {
		return fx
	}

	side := domain.SideSell
	amount := fx
	if fx < 0 {
		side = domain.SideBuy
		amount = -fx
	}
	fill, err := e.hedgeFX(ctx, side, amount)
	if err != nil {
		e.logger.Warn("fx cleanup incomplete",
			slog.Int("wanted", amount),
			slog.Int("flattened", fill.Quantity),
			slog.String("err", err.Error()))
	}
	residual := amount - fill.Quantity
	if fx < 0 {
		residual = -residual
	}
	e.logger.Info("fx cleanup done", slog.Int("residual", residual))
	return residual
}

// snapshot takes the four top-of-book quotes for one decision cycle.
func (e *Engine) snapshot(ctx context.Context) (pricing.Quotes, error) {
	var q pricing.Quotes
	var err error
	if q.ETF, err = e.gw.TopOfBook(ctx, domain.InstrumentETF); err != nil {
		return q, err
	}
	if q.StockA, err = e.gw.TopOfBook(ctx, domain.InstrumentStockA); err != nil {
		return q, err
	}
	if q.StockB, err = e.gw.TopOfBook(ctx, domain.InstrumentStockB); err != nil {
		return q, err
	}
	if q.FX, err = e.gw.TopOfBook(ctx, domain.InstrumentFX); err != nil {
		return q, err
	}
	return q, nil
}

func (e *Engine) record(ctx context.Context, rec domain.SliceRecord) {
	if e.journal != nil {
		if err := e.journal.RecordSlice(ctx, rec); err != nil {
			e.logger.Warn("slice journal write failed", slog.String("err", err.Error()))
		}
	}
	e.emit(ctx, ChannelSlice, rec)
}

func (e *Engine) finish(ctx context.Context, report domain.UnwindReport) {
	e.logger.Info("unwind finished",
		slog.String("task_id", report.TaskID),
		slog.Int("requested", report.Requested),
		slog.Int("unwound", report.Unwound),
		slog.Float64("total_cost", report.TotalCost),
		slog.Int("slices", report.Slices),
		slog.Int("fx_residual", report.FXResidual))
	if e.journal != nil {
		if err := e.journal.RecordUnwind(ctx, report); err != nil {
			e.logger.Warn("unwind journal write failed", slog.String("err", err.Error()))
		}
	}
	e.emit(ctx, ChannelUnwind, report)
}

func (e *Engine) emit(ctx context.Context, channel string, v any) {
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := e.events.Publish(ctx, channel, payload); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("channel", channel),
			slog.String("err", err.Error()))
	}
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
