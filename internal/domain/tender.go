package domain

// TenderOffer is an off-market offer to trade a fixed quantity of the ETF
// at a fixed price. Action is what we must do to honor the tender: a SELL
// tender means we sell ETF to the counterparty, leaving a short ETF
// position whose unwind side is BUY. This convention is applied uniformly
// everywhere a tender action appears.
type TenderOffer struct {
	ID         int64
	Action     Side
	Price      float64 // foreign currency
	Quantity   int
	IsFixedBid bool
}

// UnwindSide returns the side of the trades that flatten the position
// created by honoring this tender.
func (t TenderOffer) UnwindSide() Side {
	return t.Action.Opposite()
}

// Opportunity is one discrete chunk of liquidity usable to cover a tender:
// either a single ETF book level or an index-matched pair of stock levels
// worth one converter call. Derived from a single book snapshot and never
// persisted.
type Opportunity struct {
	Route          Route
	Price          float64 // all-in per-unit price for the chunk, home currency
	Quantity       int
	ProfitPerShare float64 // home currency
}

// PlanStep is one entry of the execution plan the ranker hands to the
// unwind engine: how many units to route which way.
type PlanStep struct {
	Route    Route
	Quantity int
}

// RankResult is the outcome of ranking a tender against full market depth.
type RankResult struct {
	TotalProfit float64 // home currency, profitable portion only
	Coverable   int     // units coverable at positive profit
	Coverage    float64 // Coverable / tender quantity
	Plan        []PlanStep
}
