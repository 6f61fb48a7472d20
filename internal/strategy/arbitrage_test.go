package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/platform/rit"
	"github.com/ritcapital/etfarb/internal/pricing"
)

type routeCall struct {
	route domain.Route
	side  domain.Side
	qty   int
}

type fakeTrader struct {
	mu      sync.Mutex
	calls   []routeCall
	exitErr error
	exitQty int // -1 means fill fully
}

func (f *fakeTrader) ExecuteRoute(_ context.Context, route domain.Route, side domain.Side, qty int) (domain.FillResult, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, routeCall{route: route, side: side, qty: qty})
	if side == domain.SideSell && f.exitErr != nil {
		filled := f.exitQty
		if filled < 0 {
			filled = 0
		}
		return domain.FillResult{Quantity: filled}, 0, f.exitErr
	}
	return domain.FillResult{Quantity: qty, VWAP: 25.0}, 10, nil
}

func arbExchange() *fakeExchange {
	return &fakeExchange{
		status: rit.CaseStatus{Status: "ACTIVE"},
		books: map[domain.Instrument]domain.Book{
			// Rich ETF, cheap basket: creation arbitrage.
			domain.InstrumentETF:    {Bids: []domain.BookLevel{{Price: 25.90, Quantity: 10000}}, Asks: []domain.BookLevel{{Price: 26.00, Quantity: 10000}}},
			domain.InstrumentStockA: {Bids: []domain.BookLevel{{Price: 9.99, Quantity: 10000}}, Asks: []domain.BookLevel{{Price: 10.00, Quantity: 10000}}},
			domain.InstrumentStockB: {Bids: []domain.BookLevel{{Price: 14.99, Quantity: 10000}}, Asks: []domain.BookLevel{{Price: 15.00, Quantity: 10000}}},
		},
		fx:        domain.Quote{Bid: 1.0, Ask: 1.0, BidQty: 2500000, AskQty: 2500000},
		positions: domain.Positions{},
	}
}

func testScanner(ex Exchange, trader RouteTrader, guard RiskChecker) *Scanner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	model := pricing.NewModel(pricing.Params{
		PerShareFee:        0.02,
		ConversionFeeFlat:  1500,
		ConverterBatchSize: 10000,
	})
	return NewScanner(ex, trader, model, guard, nil, ScannerConfig{
		Interval:  time.Millisecond,
		TradeSize: 500,
		MinProfit: 50,
	}, logger)
}

func TestScanExecutesCreationArb(t *testing.T) {
	trader := &fakeTrader{exitQty: -1}
	s := testScanner(arbExchange(), trader, approveAll{})

	s.scan(context.Background())

	if len(trader.calls) != 2 {
		t.Fatalf("calls = %+v, want entry and exit", trader.calls)
	}
	entry, exit := trader.calls[0], trader.calls[1]
	if entry.route != domain.RouteConverter || entry.side != domain.SideBuy || entry.qty != 500 {
		t.Fatalf("entry = %+v, want converter buy 500", entry)
	}
	if exit.route != domain.RouteDirect || exit.side != domain.SideSell || exit.qty != 500 {
		t.Fatalf("exit = %+v, want direct sell 500", exit)
	}
}

func TestScanSkipsWhenBelowThreshold(t *testing.T) {
	ex := arbExchange()
	// Tighten the ETF bid so the round trip no longer clears 50.
	ex.books[domain.InstrumentETF] = domain.Book{
		Bids: []domain.BookLevel{{Price: 25.20, Quantity: 10000}},
		Asks: []domain.BookLevel{{Price: 25.30, Quantity: 10000}},
	}
	trader := &fakeTrader{exitQty: -1}
	s := testScanner(ex, trader, approveAll{})

	s.scan(context.Background())

	if len(trader.calls) != 0 {
		t.Fatalf("calls = %+v, want none", trader.calls)
	}
}

func TestScanRespectsRiskGuard(t *testing.T) {
	trader := &fakeTrader{exitQty: -1}
	s := testScanner(arbExchange(), trader, rejectAll{})

	s.scan(context.Background())

	if len(trader.calls) != 0 {
		t.Fatalf("calls = %+v, want none", trader.calls)
	}
}

// An entry that cannot be exited must be reversed back out through the
// entry route.
func TestScanReversesUnexitedEntry(t *testing.T) {
	trader := &fakeTrader{exitErr: errors.New("no liquidity"), exitQty: 0}
	s := testScanner(arbExchange(), trader, approveAll{})

	s.scan(context.Background())

	if len(trader.calls) != 3 {
		t.Fatalf("calls = %+v, want entry, failed exit, reversal", trader.calls)
	}
	reversal := trader.calls[2]
	if reversal.route != domain.RouteConverter || reversal.side != domain.SideSell || reversal.qty != 500 {
		t.Fatalf("reversal = %+v, want converter sell 500", reversal)
	}
}
