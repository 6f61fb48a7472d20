package domain

// OrderState is the polled state of a working limit order.
type OrderState struct {
	OrderID        int64
	QuantityFilled int
	VWAP           float64
	Cancelled      bool
	Transacted     bool
}
