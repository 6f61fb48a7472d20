package domain

import "time"

// UnwindState is the lifecycle state of an unwind task.
type UnwindState string

const (
	// UnwindActive means residual quantity remains to be flattened.
	UnwindActive UnwindState = "active"
	// UnwindStalled means no route had positive available quantity this
	// iteration. Transient, not terminal; the engine waits and retries.
	UnwindStalled UnwindState = "stalled"
	// UnwindDone means the residual reached zero.
	UnwindDone UnwindState = "done"
)

// UnwindTask is a directional net position to flatten. Created when a
// tender is accepted or an arbitrage leg opens; mutated slice by slice;
// finished when Residual reaches zero.
type UnwindTask struct {
	ID              string // UUID
	Side            Side   // action that reduces the position; fixed for the whole unwind
	Quantity        int    // originally requested
	Residual        int
	AccumulatedCost float64 // home currency, signed (negative = net outlay)
	CreatedAt       time.Time
}

// FillResult reports the executed quantity and volume-weighted average
// price of one order (or one blended limit+market slice).
type FillResult struct {
	Quantity int
	VWAP     float64
}

// Notional returns Quantity × VWAP.
func (f FillResult) Notional() float64 {
	return float64(f.Quantity) * f.VWAP
}

// Blend combines two fills into one with a volume-weighted price.
func (f FillResult) Blend(other FillResult) FillResult {
	total := f.Quantity + other.Quantity
	if total == 0 {
		return FillResult{}
	}
	vwap := (f.Notional() + other.Notional()) / float64(total)
	return FillResult{Quantity: total, VWAP: vwap}
}

// SliceRecord is the audit trail of one unwind iteration.
type SliceRecord struct {
	TaskID    string
	Seq       int
	Route     Route
	Side      Side
	Requested int
	Filled    int
	VWAP      float64
	CashFlow  float64 // home currency, signed per-slice cash flow
	At        time.Time
}

// UnwindReport summarizes a finished (or abandoned) unwind for the
// operator and the execution journal.
type UnwindReport struct {
	TaskID     string
	Side       Side
	Requested  int
	Unwound    int
	TotalCost  float64 // home currency, signed
	Slices     int
	FXResidual int // FX position remaining after final cleanup
	StartedAt  time.Time
	FinishedAt time.Time
}
