package domain

// Positions is a snapshot of signed share/unit counts per instrument,
// as reported by the exchange. It is fetched fresh every decision cycle;
// nothing retains one across a network round-trip.
type Positions map[Instrument]int

// Get returns the position for an instrument, zero when absent.
func (p Positions) Get(inst Instrument) int {
	return p[inst]
}

// Gross is |StockA| + |StockB| + 2·|ETF|. The ETF is weighted double
// because one unit economically represents two stock shares.
func (p Positions) Gross() int {
	return abs(p[InstrumentStockA]) + abs(p[InstrumentStockB]) + 2*abs(p[InstrumentETF])
}

// Net is StockA + StockB + 2·ETF with the same ETF weighting.
func (p Positions) Net() int {
	return p[InstrumentStockA] + p[InstrumentStockB] + 2*p[InstrumentETF]
}

// Apply returns a copy of p with the given deltas added. The receiver is
// not mutated; risk checks evaluate hypothetical post-trade states.
func (p Positions) Apply(deltas Positions) Positions {
	out := make(Positions, len(p)+len(deltas))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range deltas {
		out[k] += v
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
