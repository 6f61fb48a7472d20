package pricing

import (
	"math"
	"testing"

	"github.com/ritcapital/etfarb/internal/domain"
)

func testParams() Params {
	return Params{
		PerShareFee:        0.02,
		ConversionFeeFlat:  1500,
		ConverterBatchSize: 10000,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDirectBuyFlow(t *testing.T) {
	m := NewModel(testParams())
	q := Quotes{
		ETF: domain.Quote{Ask: 25.00, AskQty: 10000},
		FX:  domain.Quote{Ask: 1.35, AskQty: 2500000},
	}

	rc := m.Direct(domain.SideBuy, q)
	if rc == nil {
		t.Fatal("expected direct route, got nil")
	}
	if want := -(25.00*1.35 + 0.02); !approx(rc.PerUnitFlow, want) {
		t.Fatalf("per-unit flow = %v, want %v", rc.PerUnitFlow, want)
	}
	if rc.Available != 10000 {
		t.Fatalf("available = %d, want 10000", rc.Available)
	}
}

func TestDirectSellFlow(t *testing.T) {
	m := NewModel(testParams())
	q := Quotes{
		ETF: domain.Quote{Bid: 24.90, BidQty: 4000},
		FX:  domain.Quote{Bid: 1.34, BidQty: 2500000},
	}

	rc := m.Direct(domain.SideSell, q)
	if rc == nil {
		t.Fatal("expected direct route, got nil")
	}
	if want := 24.90*1.34 - 0.02; !approx(rc.PerUnitFlow, want) {
		t.Fatalf("per-unit flow = %v, want %v", rc.PerUnitFlow, want)
	}
	if rc.Available != 4000 {
		t.Fatalf("available = %d, want 4000", rc.Available)
	}
}

// The converter bills its fee in foreign currency, so the per-unit fee is
// converted at the FX ask before entering the flow.
func TestConverterBuyFlow(t *testing.T) {
	m := NewModel(testParams())
	q := Quotes{
		StockA: domain.Quote{Ask: 10.05, AskQty: 12000},
		StockB: domain.Quote{Ask: 15.60, AskQty: 9000},
		FX:     domain.Quote{Ask: 1.35, AskQty: 2500000},
	}

	rc := m.Converter(domain.SideBuy, q)
	if rc == nil {
		t.Fatal("expected converter route, got nil")
	}
	if want := -(10.05 + 15.60 + 2*0.02 + 0.15*1.35); !approx(rc.PerUnitFlow, want) {
		t.Fatalf("per-unit flow = %v, want %v", rc.PerUnitFlow, want)
	}
	// Capped by the thinner stock side, not by the batch.
	if rc.Available != 9000 {
		t.Fatalf("available = %d, want 9000", rc.Available)
	}
}

func TestConverterAvailableCappedByBatch(t *testing.T) {
	m := NewModel(testParams())
	q := Quotes{
		StockA: domain.Quote{Ask: 10.05, AskQty: 50000},
		StockB: domain.Quote{Ask: 15.60, AskQty: 50000},
		FX:     domain.Quote{Ask: 1.35, AskQty: 2500000},
	}

	rc := m.Converter(domain.SideBuy, q)
	if rc == nil {
		t.Fatal("expected converter route, got nil")
	}
	if rc.Available != 10000 {
		t.Fatalf("available = %d, want batch cap 10000", rc.Available)
	}
}

// With a rich ETF and a cheap basket, covering a short must go through the
// converter even though both flows are negative: higher flow wins.
func TestBetterPicksConverterWhenBasketCheaper(t *testing.T) {
	m := NewModel(testParams())
	q := Quotes{
		ETF:    domain.Quote{Ask: 25.00, AskQty: 10000},
		StockA: domain.Quote{Ask: 10.05, AskQty: 10000},
		StockB: domain.Quote{Ask: 15.60, AskQty: 10000},
		FX:     domain.Quote{Ask: 1.35, AskQty: 2500000},
	}

	direct, converter := m.Evaluate(domain.SideBuy, q)
	best := Better(direct, converter)
	if best == nil {
		t.Fatal("expected a route")
	}
	if best.Route != domain.RouteConverter {
		t.Fatalf("route = %s, want converter", best.Route)
	}
	if direct.PerUnitFlow >= converter.PerUnitFlow {
		t.Fatalf("direct flow %v should be below converter flow %v", direct.PerUnitFlow, converter.PerUnitFlow)
	}
}

func TestBetterHandlesMissingRoutes(t *testing.T) {
	direct := &RouteCost{Route: domain.RouteDirect, PerUnitFlow: -33.77, Available: 100}
	empty := &RouteCost{Route: domain.RouteConverter, PerUnitFlow: -1, Available: 0}

	tests := []struct {
		name      string
		d, c      *RouteCost
		wantRoute domain.Route
		wantNil   bool
	}{
		{name: "both nil", wantNil: true},
		{name: "direct only", d: direct, wantRoute: domain.RouteDirect},
		{name: "zero-avail converter ignored", d: direct, c: empty, wantRoute: domain.RouteDirect},
		{name: "both zero avail", d: empty, c: empty, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Better(tt.d, tt.c)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil || got.Route != tt.wantRoute {
				t.Fatalf("got %+v, want route %s", got, tt.wantRoute)
			}
		})
	}
}

func TestEmptyBookSidesReturnNil(t *testing.T) {
	m := NewModel(testParams())

	if rc := m.Direct(domain.SideBuy, Quotes{ETF: domain.Quote{Ask: math.Inf(1)}}); rc != nil {
		t.Fatalf("empty ETF ask should yield nil, got %+v", rc)
	}
	if rc := m.Direct(domain.SideSell, Quotes{}); rc != nil {
		t.Fatalf("empty ETF bid should yield nil, got %+v", rc)
	}
	if rc := m.Converter(domain.SideBuy, Quotes{
		StockA: domain.Quote{Ask: 10.0, AskQty: 100},
		FX:     domain.Quote{Ask: 1.35, AskQty: 1},
	}); rc != nil {
		t.Fatalf("one-legged basket should yield nil, got %+v", rc)
	}
}
