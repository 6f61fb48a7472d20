// Package domain holds the core market and execution types shared by every
// layer: instruments, order books, positions, tenders, unwind tasks, and
// the persistence interfaces they flow through. It imports nothing above
// the standard library.
package domain

// Instrument is a logical instrument of the case, decoupled from the
// exchange ticker it trades under. The platform layer owns the mapping
// between the two.
type Instrument string

const (
	// InstrumentETF is the exchange-traded fund, quoted in foreign currency.
	InstrumentETF Instrument = "ETF"
	// InstrumentStockA is the first underlying stock, quoted in home currency.
	InstrumentStockA Instrument = "STOCK_A"
	// InstrumentStockB is the second underlying stock, quoted in home currency.
	InstrumentStockB Instrument = "STOCK_B"
	// InstrumentFX is the currency pair; its price is home currency per one
	// unit of foreign currency, and a position in it is held foreign cash.
	InstrumentFX Instrument = "FX"
	// InstrumentHome is the home currency cash balance. Never traded, only
	// reported in position snapshots.
	InstrumentHome Instrument = "HOME"
)

// Side is an order direction, using the exchange's wire spelling.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Route is one of the two ways to move ETF exposure.
type Route string

const (
	// RouteDirect trades the ETF on its own book.
	RouteDirect Route = "direct"
	// RouteConverter trades the two stocks and exchanges them for ETF units
	// (or back) through the conversion facility.
	RouteConverter Route = "converter"
)

// ConvertDirection is the direction of a conversion facility call.
type ConvertDirection string

const (
	// ConvertCreate consumes one share of each stock per ETF unit created.
	ConvertCreate ConvertDirection = "create"
	// ConvertRedeem breaks ETF units back into one share of each stock.
	ConvertRedeem ConvertDirection = "redeem"
)
