package risk

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ritcapital/etfarb/internal/domain"
)

func testGuard() *Guard {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGuard(Limits{
		MaxGross:    300000,
		MaxLongNet:  200000,
		MaxShortNet: -200000,
	}, logger)
}

func TestApprove(t *testing.T) {
	g := testGuard()

	tests := []struct {
		name      string
		positions domain.Positions
		deltas    domain.Positions
		want      bool
	}{
		{
			name:   "flat book small trade",
			deltas: domain.Positions{domain.InstrumentETF: 10000},
			want:   true,
		},
		{
			name:      "gross breach via double-weighted etf",
			positions: domain.Positions{domain.InstrumentETF: 140000},
			deltas:    domain.Positions{domain.InstrumentETF: 20000},
			want:      false,
		},
		{
			name:      "gross counts absolutes across instruments",
			positions: domain.Positions{domain.InstrumentStockA: 150000, domain.InstrumentStockB: -150000},
			deltas:    domain.Positions{domain.InstrumentStockA: 1},
			want:      false,
		},
		{
			name:      "net long breach",
			positions: domain.Positions{domain.InstrumentStockA: 100000, domain.InstrumentStockB: 100000},
			deltas:    domain.Positions{domain.InstrumentStockA: 1},
			want:      false,
		},
		{
			name:      "net short breach",
			positions: domain.Positions{domain.InstrumentETF: -100000},
			deltas:    domain.Positions{domain.InstrumentStockA: -1},
			want:      false,
		},
		{
			name:      "opposite legs net out",
			positions: domain.Positions{domain.InstrumentETF: -50000},
			deltas:    domain.Positions{domain.InstrumentStockA: 50000, domain.InstrumentStockB: 50000},
			want:      true,
		},
		{
			name:      "exactly at gross limit passes",
			positions: domain.Positions{domain.InstrumentStockA: 100000, domain.InstrumentStockB: -100000},
			deltas:    domain.Positions{domain.InstrumentETF: -50000},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Approve(tt.positions, tt.deltas); got != tt.want {
				t.Fatalf("Approve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApproveDoesNotMutatePositions(t *testing.T) {
	g := testGuard()
	positions := domain.Positions{domain.InstrumentETF: 1000}
	g.Approve(positions, domain.Positions{domain.InstrumentETF: 500})
	if positions[domain.InstrumentETF] != 1000 {
		t.Fatalf("positions mutated: %v", positions)
	}
}

func TestSliceDeltas(t *testing.T) {
	tests := []struct {
		name  string
		route domain.Route
		side  domain.Side
		qty   int
		want  domain.Positions
	}{
		{
			name:  "direct buy",
			route: domain.RouteDirect,
			side:  domain.SideBuy,
			qty:   5000,
			want:  domain.Positions{domain.InstrumentETF: 5000},
		},
		{
			name:  "direct sell",
			route: domain.RouteDirect,
			side:  domain.SideSell,
			qty:   5000,
			want:  domain.Positions{domain.InstrumentETF: -5000},
		},
		{
			name:  "converter buy projects all legs",
			route: domain.RouteConverter,
			side:  domain.SideBuy,
			qty:   3000,
			want: domain.Positions{
				domain.InstrumentStockA: 3000,
				domain.InstrumentStockB: 3000,
				domain.InstrumentETF:    3000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SliceDeltas(tt.route, tt.side, tt.qty)
			if len(got) != len(tt.want) {
				t.Fatalf("deltas = %v, want %v", got, tt.want)
			}
			for inst, want := range tt.want {
				if got[inst] != want {
					t.Fatalf("delta[%s] = %d, want %d", inst, got[inst], want)
				}
			}
		})
	}
}
