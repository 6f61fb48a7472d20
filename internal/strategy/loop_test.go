package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/platform/rit"
	"github.com/ritcapital/etfarb/internal/pricing"
	"github.com/ritcapital/etfarb/internal/tender"
)

type fakeExchange struct {
	mu        sync.Mutex
	status    rit.CaseStatus
	tenders   []domain.TenderOffer
	books     map[domain.Instrument]domain.Book
	fx        domain.Quote
	positions domain.Positions
	accepted  []int64
}

func (f *fakeExchange) Case(context.Context) (rit.CaseStatus, error) {
	return f.status, nil
}

func (f *fakeExchange) Tenders(context.Context) ([]domain.TenderOffer, error) {
	return f.tenders, nil
}

func (f *fakeExchange) AcceptTender(_ context.Context, offer domain.TenderOffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, offer.ID)
	return nil
}

func (f *fakeExchange) Depth(_ context.Context, inst domain.Instrument) (domain.Book, error) {
	return f.books[inst], nil
}

func (f *fakeExchange) TopOfBook(_ context.Context, inst domain.Instrument) (domain.Quote, error) {
	if inst == domain.InstrumentFX {
		return f.fx, nil
	}
	return f.books[inst].TopOfBook(), nil
}

func (f *fakeExchange) Positions(context.Context) (domain.Positions, error) {
	out := make(domain.Positions, len(f.positions))
	for k, v := range f.positions {
		out[k] = v
	}
	return out, nil
}

type fakeUnwinder struct {
	mu    sync.Mutex
	tasks []*domain.UnwindTask
}

func (f *fakeUnwinder) Run(_ context.Context, task *domain.UnwindTask) (domain.UnwindReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	report := domain.UnwindReport{
		TaskID:    task.ID,
		Side:      task.Side,
		Requested: task.Quantity,
		Unwound:   task.Quantity,
	}
	task.Residual = 0
	return report, nil
}

type approveAll struct{}

func (approveAll) Approve(_, _ domain.Positions) bool { return true }

type rejectAll struct{}

func (rejectAll) Approve(_, _ domain.Positions) bool { return false }

func testLoop(ex Exchange, unwind Unwinder, guard RiskChecker, monitorOnly bool) *Loop {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ranker := tender.NewRanker(pricing.Params{
		PerShareFee:        0.02,
		ConversionFeeFlat:  1500,
		ConverterBatchSize: 10000,
	})
	return NewLoop(ex, ranker, unwind, guard, nil, Config{
		PollInterval:    time.Millisecond,
		MinTenderProfit: 1000,
		MinCoverage:     0.8,
		MonitorOnly:     monitorOnly,
	}, logger)
}

func profitableBooks() map[domain.Instrument]domain.Book {
	return map[domain.Instrument]domain.Book{
		domain.InstrumentETF: {Asks: []domain.BookLevel{{Price: 24.00, Quantity: 60000}}},
	}
}

func flatFX() domain.Quote {
	return domain.Quote{Bid: 1.0, Ask: 1.0, BidQty: 2500000, AskQty: 2500000}
}

func TestEvaluateAcceptsProfitableTender(t *testing.T) {
	ex := &fakeExchange{
		status:    rit.CaseStatus{Tick: 10, Status: "ACTIVE"},
		books:     profitableBooks(),
		fx:        flatFX(),
		positions: domain.Positions{},
	}
	uw := &fakeUnwinder{}
	loop := testLoop(ex, uw, approveAll{}, false)

	// SELL tender at 25.00 covered at 24.00: ~0.98/share over 50k units.
	offer := domain.TenderOffer{ID: 1, Action: domain.SideSell, Price: 25.00, Quantity: 50000, IsFixedBid: true}
	loop.evaluate(context.Background(), offer)

	if len(ex.accepted) != 1 || ex.accepted[0] != 1 {
		t.Fatalf("accepted = %v, want [1]", ex.accepted)
	}
	if len(uw.tasks) != 1 {
		t.Fatalf("unwinds started = %d, want 1", len(uw.tasks))
	}
	task := uw.tasks[0]
	if task.Side != domain.SideBuy {
		t.Fatalf("unwind side = %s, want BUY for a SELL tender", task.Side)
	}
	if task.Quantity != 50000 {
		t.Fatalf("task quantity = %d, want 50000", task.Quantity)
	}
	if task.ID == "" {
		t.Fatal("task id must be set")
	}
}

func TestEvaluateRejectsThinCoverage(t *testing.T) {
	ex := &fakeExchange{
		status: rit.CaseStatus{Status: "ACTIVE"},
		books: map[domain.Instrument]domain.Book{
			// 30k profitable units against a 50k tender: 60% coverage.
			domain.InstrumentETF: {Asks: []domain.BookLevel{{Price: 24.00, Quantity: 30000}}},
		},
		fx:        flatFX(),
		positions: domain.Positions{},
	}
	uw := &fakeUnwinder{}
	loop := testLoop(ex, uw, approveAll{}, false)

	offer := domain.TenderOffer{ID: 2, Action: domain.SideSell, Price: 25.00, Quantity: 50000, IsFixedBid: true}
	loop.evaluate(context.Background(), offer)

	if len(ex.accepted) != 0 {
		t.Fatalf("accepted = %v, want none", ex.accepted)
	}
	if len(uw.tasks) != 0 {
		t.Fatalf("unwinds started = %d, want 0", len(uw.tasks))
	}
}

func TestEvaluateRejectsBelowProfitThreshold(t *testing.T) {
	ex := &fakeExchange{
		status: rit.CaseStatus{Status: "ACTIVE"},
		books: map[domain.Instrument]domain.Book{
			// 0.03/share over 10k units = 300, below the 1000 minimum.
			domain.InstrumentETF: {Asks: []domain.BookLevel{{Price: 24.95, Quantity: 10000}}},
		},
		fx:        flatFX(),
		positions: domain.Positions{},
	}
	uw := &fakeUnwinder{}
	loop := testLoop(ex, uw, approveAll{}, false)

	offer := domain.TenderOffer{ID: 3, Action: domain.SideSell, Price: 25.00, Quantity: 10000, IsFixedBid: true}
	loop.evaluate(context.Background(), offer)

	if len(ex.accepted) != 0 {
		t.Fatalf("accepted = %v, want none", ex.accepted)
	}
}

func TestEvaluateRejectsOnRiskLimits(t *testing.T) {
	ex := &fakeExchange{
		status:    rit.CaseStatus{Status: "ACTIVE"},
		books:     profitableBooks(),
		fx:        flatFX(),
		positions: domain.Positions{},
	}
	uw := &fakeUnwinder{}
	loop := testLoop(ex, uw, rejectAll{}, false)

	offer := domain.TenderOffer{ID: 4, Action: domain.SideSell, Price: 25.00, Quantity: 50000, IsFixedBid: true}
	loop.evaluate(context.Background(), offer)

	if len(ex.accepted) != 0 {
		t.Fatalf("accepted = %v, want none", ex.accepted)
	}
}

func TestMonitorModeNeverTrades(t *testing.T) {
	ex := &fakeExchange{
		status:    rit.CaseStatus{Status: "ACTIVE"},
		books:     profitableBooks(),
		fx:        flatFX(),
		positions: domain.Positions{},
	}
	uw := &fakeUnwinder{}
	loop := testLoop(ex, uw, approveAll{}, true)

	offer := domain.TenderOffer{ID: 5, Action: domain.SideSell, Price: 25.00, Quantity: 50000, IsFixedBid: true}
	loop.evaluate(context.Background(), offer)

	if len(ex.accepted) != 0 || len(uw.tasks) != 0 {
		t.Fatalf("monitor mode traded: accepted=%v tasks=%d", ex.accepted, len(uw.tasks))
	}
}

func TestScanTendersSkipsHandled(t *testing.T) {
	ex := &fakeExchange{
		status:    rit.CaseStatus{Status: "ACTIVE"},
		books:     profitableBooks(),
		fx:        flatFX(),
		positions: domain.Positions{},
		tenders: []domain.TenderOffer{
			{ID: 6, Action: domain.SideSell, Price: 25.00, Quantity: 50000, IsFixedBid: true},
		},
	}
	uw := &fakeUnwinder{}
	loop := testLoop(ex, uw, approveAll{}, false)

	loop.scanTenders(context.Background())
	loop.scanTenders(context.Background())

	if len(ex.accepted) != 1 {
		t.Fatalf("accepted = %v, want exactly one acceptance", ex.accepted)
	}
}
