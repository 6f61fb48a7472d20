package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ritcapital/etfarb/internal/domain"
)

// Event types an operator can filter on in the notify config.
const (
	EventTender = "tender"
	EventUnwind = "unwind"
	EventArb    = "arb"
)

// Relay subscribes to trading event channels and renders each event into
// an operator alert. It decouples the trading path from notification
// latency: senders run on the subscriber side of the bus.
type Relay struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a relay between the event bus and the notifier.
func NewRelay(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert-relay")),
	}
}

// Run consumes the tender, unwind and arb channels until the context ends.
func (r *Relay) Run(ctx context.Context) error {
	tenders, err := r.bus.Subscribe(ctx, "ch:tender")
	if err != nil {
		return fmt.Errorf("notify: subscribe tenders: %w", err)
	}
	unwinds, err := r.bus.Subscribe(ctx, "ch:unwind")
	if err != nil {
		return fmt.Errorf("notify: subscribe unwinds: %w", err)
	}
	arbs, err := r.bus.Subscribe(ctx, "ch:arb")
	if err != nil {
		return fmt.Errorf("notify: subscribe arbs: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-tenders:
			if !ok {
				return nil
			}
			r.tenderAlert(ctx, payload)
		case payload, ok := <-unwinds:
			if !ok {
				return nil
			}
			r.unwindAlert(ctx, payload)
		case payload, ok := <-arbs:
			if !ok {
				return nil
			}
			r.arbAlert(ctx, payload)
		}
	}
}

func (r *Relay) tenderAlert(ctx context.Context, payload []byte) {
	var ev struct {
		TenderID int64   `json:"tender_id"`
		Price    float64 `json:"price"`
		Quantity int     `json:"quantity"`
		Profit   float64 `json:"profit"`
		Accepted bool    `json:"accepted"`
		Reason   string  `json:"reason"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("bad tender event", slog.String("err", err.Error()))
		return
	}
	// Declines are too chatty for a push channel; operators see them in
	// the logs and on the dashboard.
	if !ev.Accepted {
		return
	}
	title := fmt.Sprintf("Tender %d accepted", ev.TenderID)
	msg := fmt.Sprintf("%d @ %.2f, expected profit %.2f", ev.Quantity, ev.Price, ev.Profit)
	r.send(ctx, EventTender, title, msg)
}

func (r *Relay) unwindAlert(ctx context.Context, payload []byte) {
	var report domain.UnwindReport
	if err := json.Unmarshal(payload, &report); err != nil {
		r.logger.Warn("bad unwind event", slog.String("err", err.Error()))
		return
	}
	title := "Unwind finished"
	if report.Unwound < report.Requested {
		title = "Unwind incomplete"
	}
	msg := fmt.Sprintf("%s %d/%d in %d slices, cost %.2f, fx residual %d",
		report.Side, report.Unwound, report.Requested, report.Slices,
		report.TotalCost, report.FXResidual)
	r.send(ctx, EventUnwind, title, msg)
}

func (r *Relay) arbAlert(ctx context.Context, payload []byte) {
	var ev struct {
		Enter    string  `json:"enter"`
		Exit     string  `json:"exit"`
		Quantity int     `json:"quantity"`
		Realized float64 `json:"realized"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("bad arb event", slog.String("err", err.Error()))
		return
	}
	title := "Arbitrage round trip"
	msg := fmt.Sprintf("%s -> %s, %d units, realized %.2f", ev.Enter, ev.Exit, ev.Quantity, ev.Realized)
	r.send(ctx, EventArb, title, msg)
}

func (r *Relay) send(ctx context.Context, event, title, msg string) {
	if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
		r.logger.Warn("alert delivery failed", slog.String("err", err.Error()))
	}
}
