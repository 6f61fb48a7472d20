// Package strategy drives the trading session: it polls the exchange for
// tender offers, ranks them against live depth, accepts the profitable
// ones and hands the resulting exposure to the unwind engine.
package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/platform/rit"
	"github.com/ritcapital/etfarb/internal/tender"
)

// ChannelTender carries tender decisions on the event bus.
const ChannelTender = "ch:tender"

// ChannelStatus carries session status transitions on the event bus.
const ChannelStatus = "ch:status"

// Exchange is the market surface the loop polls and trades against.
type Exchange interface {
	Case(ctx context.Context) (rit.CaseStatus, error)
	Tenders(ctx context.Context) ([]domain.TenderOffer, error)
	AcceptTender(ctx context.Context, offer domain.TenderOffer) error
	Depth(ctx context.Context, inst domain.Instrument) (domain.Book, error)
	TopOfBook(ctx context.Context, inst domain.Instrument) (domain.Quote, error)
	Positions(ctx context.Context) (domain.Positions, error)
}

// Unwinder flattens an accepted exposure.
type Unwinder interface {
	Run(ctx context.Context, task *domain.UnwindTask) (domain.UnwindReport, error)
}

// RiskChecker approves a tender before acceptance.
type RiskChecker interface {
	Approve(positions, deltas domain.Positions) bool
}

// Config tunes the loop.
type Config struct {
	PollInterval    time.Duration
	MinTenderProfit float64
	MinCoverage     float64
	MonitorOnly     bool
}

// tenderDecision is the event payload published for every evaluated offer.
type tenderDecision struct {
	TenderID int64       `json:"tender_id"`
	Action   domain.Side `json:"action"`
	Price    float64     `json:"price"`
	Quantity int         `json:"quantity"`
	Profit   float64     `json:"profit"`
	Coverage float64     `json:"coverage"`
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
	TaskID   string      `json:"task_id,omitempty"`
}

// Loop is the tender-driven session driver. Offers are handled one at a
// time: an accepted tender is fully unwound before the next poll.
type Loop struct {
	ex      Exchange
	ranker  *tender.Ranker
	unwind  Unwinder
	guard   RiskChecker
	events  domain.EventBus
	cfg     Config
	logger  *slog.Logger
	handled map[int64]struct{}
	active  bool
}

// NewLoop wires a session loop. events may be nil.
func NewLoop(ex Exchange, ranker *tender.Ranker, unwind Unwinder, guard RiskChecker, events domain.EventBus, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		ex:      ex,
		ranker:  ranker,
		unwind:  unwind,
		guard:   guard,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "strategy")),
		handled: make(map[int64]struct{}),
	}
}

// Run polls until the context ends. It is quiet while the case is not
// running and resets per-session state on each transition.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := l.ex.Case(ctx)
		if err != nil {
			l.logger.Warn("case status fetch failed", slog.String("err", err.Error()))
			continue
		}
		if !status.Active() {
			if l.active {
				l.logger.Info("session ended", slog.Int("tick", status.Tick))
				l.emitStatus(ctx, status, false)
				l.active = false
				l.handled = make(map[int64]struct{})
			}
			continue
		}
		if !l.active {
			l.logger.Info("session active",
				slog.Int("tick", status.Tick),
				slog.Int("period", status.Period))
			l.emitStatus(ctx, status, true)
			l.active = true
		}

		l.scanTenders(ctx)
	}
}

// scanTenders evaluates every outstanding offer. Offers that were already
// accepted are skipped; declined offers are re-evaluated on the next poll
// because the books will have moved.
func (l *Loop) scanTenders(ctx context.Context) {
	offers, err := l.ex.Tenders(ctx)
	if err != nil {
		l.logger.Warn("tender fetch failed", slog.String("err", err.Error()))
		return
	}
	for _, offer := range offers {
		if _, done := l.handled[offer.ID]; done {
			continue
		}
		l.evaluate(ctx, offer)
	}
}

func (l *Loop) evaluate(ctx context.Context, offer domain.TenderOffer) {
	books, err := l.snapshotBooks(ctx)
	if err != nil {
		l.logger.Warn("book snapshot failed", slog.String("err", err.Error()))
		return
	}

	result := l.ranker.Rank(offer, books)
	decision := tenderDecision{
		TenderID: offer.ID,
		Action:   offer.Action,
		Price:    offer.Price,
		Quantity: offer.Quantity,
		Profit:   result.TotalProfit,
		Coverage: result.Coverage,
	}

	switch {
	case result.TotalProfit < l.cfg.MinTenderProfit:
		decision.Reason = "below profit threshold"
	case result.Coverage < l.cfg.MinCoverage:
		decision.Reason = "insufficient depth coverage"
	case l.cfg.MonitorOnly:
		decision.Reason = "monitor mode"
	default:
		decision.Reason = l.tryAccept(ctx, offer, &decision)
	}

	if decision.Accepted {
		l.logger.Info("tender accepted",
			slog.Int64("tender_id", offer.ID),
			slog.Float64("price", offer.Price),
			slog.Int("quantity", offer.Quantity),
			slog.Float64("expected_profit", result.TotalProfit),
			slog.Float64("coverage", result.Coverage))
	} else {
		l.logger.Info("tender declined",
			slog.Int64("tender_id", offer.ID),
			slog.Float64("price", offer.Price),
			slog.Int("quantity", offer.Quantity),
			slog.Float64("expected_profit", result.TotalProfit),
			slog.Float64("coverage", result.Coverage),
			slog.String("reason", decision.Reason))
	}
	l.emit(ctx, ChannelTender, decision)

	if decision.Accepted {
		task := &domain.UnwindTask{
			ID:        uuid.NewString(),
			Side:      offer.UnwindSide(),
			Quantity:  offer.Quantity,
			Residual:  offer.Quantity,
			CreatedAt: time.Now(),
		}
		report, err := l.unwind.Run(ctx, task)
		if err != nil {
			l.logger.Error("unwind incomplete",
				slog.String("task_id", task.ID),
				slog.Int("residual", task.Residual),
				slog.String("err", err.Error()))
		}
		l.logger.Info("tender round trip done",
			slog.Int64("tender_id", offer.ID),
			slog.String("task_id", task.ID),
			slog.Float64("realized", report.TotalCost+tenderProceeds(offer)))
	}
}

// tryAccept runs the pre-trade risk check and submits the acceptance. It
// returns a decline reason, or empty on success with decision updated.
func (l *Loop) tryAccept(ctx context.Context, offer domain.TenderOffer, decision *tenderDecision) string {
	positions, err := l.ex.Positions(ctx)
	if err != nil {
		return "position fetch failed: " + err.Error()
	}
	delta := offer.Quantity
	if offer.Action == domain.SideSell {
		delta = -delta
	}
	if !l.guard.Approve(positions, domain.Positions{domain.InstrumentETF: delta}) {
		return "risk limits"
	}
	if err := l.ex.AcceptTender(ctx, offer); err != nil {
		return "acceptance rejected: " + err.Error()
	}
	l.handled[offer.ID] = struct{}{}
	decision.Accepted = true
	return ""
}

// snapshotBooks pulls the full ETF and stock depth plus the FX top of book
// for one ranking pass.
func (l *Loop) snapshotBooks(ctx context.Context) (tender.Books, error) {
	var books tender.Books
	var err error
	if books.ETF, err = l.ex.Depth(ctx, domain.InstrumentETF); err != nil {
		return books, err
	}
	if books.StockA, err = l.ex.Depth(ctx, domain.InstrumentStockA); err != nil {
		return books, err
	}
	if books.StockB, err = l.ex.Depth(ctx, domain.InstrumentStockB); err != nil {
		return books, err
	}
	if books.FX, err = l.ex.TopOfBook(ctx, domain.InstrumentFX); err != nil {
		return books, err
	}
	return books, nil
}

// tenderProceeds is the signed foreign cash the tender itself produced.
// Only used for the summary log line; the precise realized figure comes
// from the execution journal.
func tenderProceeds(offer domain.TenderOffer) float64 {
	notional := offer.Price * float64(offer.Quantity)
	if offer.Action == domain.SideSell {
		return notional
	}
	return -notional
}

func (l *Loop) emitStatus(ctx context.Context, status rit.CaseStatus, active bool) {
	l.emit(ctx, ChannelStatus, map[string]any{
		"tick":   status.Tick,
		"period": status.Period,
		"active": active,
	})
}

func (l *Loop) emit(ctx context.Context, channel string, v any) {
	if l.events == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := l.events.Publish(ctx, channel, payload); err != nil {
		l.logger.Warn("event publish failed",
			slog.String("channel", channel),
			slog.String("err", err.Error()))
	}
}
