package rit

import (
	"fmt"

	"github.com/ritcapital/etfarb/internal/domain"
)

// CaseStatus reports where the trading session currently stands.
type CaseStatus struct {
	Tick   int    `json:"tick"`
	Period int    `json:"period"`
	Status string `json:"status"` // "ACTIVE", "PAUSED", "STOPPED"
}

// Active reports whether the session is accepting orders.
func (c CaseStatus) Active() bool {
	return c.Status == "ACTIVE"
}

// bookLevel is the wire form of one order-book level.
type bookLevel struct {
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// bookResponse is the wire form of GET /securities/book.
type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// security is the wire form of one GET /securities entry.
type security struct {
	Ticker   string  `json:"ticker"`
	Position float64 `json:"position"`
}

// orderResponse is the wire form of an order placement or status response.
type orderResponse struct {
	OrderID        int64   `json:"order_id"`
	Ticker         string  `json:"ticker"`
	Type           string  `json:"type"`
	Quantity       int     `json:"quantity"`
	QuantityFilled int     `json:"quantity_filled"`
	VWAP           float64 `json:"vwap"`
	Status         string  `json:"status"` // "OPEN", "TRANSACTED", "CANCELLED"
}

// tenderResponse is the wire form of one GET /tenders entry.
type tenderResponse struct {
	TenderID   int64   `json:"tender_id"`
	Ticker     string  `json:"ticker"`
	Action     string  `json:"action"`
	Price      float64 `json:"price"`
	Quantity   float64 `json:"quantity"`
	IsFixedBid bool    `json:"is_fixed_bid"`
}

// leaseResponse is the wire form of one GET /leases entry.
type leaseResponse struct {
	ID     int64  `json:"id"`
	Ticker string `json:"ticker"`
}

// Ticker names of the two converter facilities.
const (
	leaseCreation   = "ETF-Creation"
	leaseRedemption = "ETF-Redemption"
)

// Symbols maps the abstract instruments to the exchange's tickers.
type Symbols struct {
	ETF    string
	StockA string
	StockB string
	FX     string
	Home   string
}

// symbol returns the exchange ticker for an instrument.
func (s Symbols) symbol(inst domain.Instrument) (string, error) {
	switch inst {
	case domain.InstrumentETF:
		return s.ETF, nil
	case domain.InstrumentStockA:
		return s.StockA, nil
	case domain.InstrumentStockB:
		return s.StockB, nil
	case domain.InstrumentFX:
		return s.FX, nil
	case domain.InstrumentHome:
		return s.Home, nil
	}
	return "", fmt.Errorf("rit: unknown instrument %q", inst)
}

// instrument maps an exchange ticker back to the abstract instrument.
// Unknown tickers map to the empty Instrument.
func (s Symbols) instrument(ticker string) domain.Instrument {
	switch ticker {
	case s.ETF:
		return domain.InstrumentETF
	case s.StockA:
		return domain.InstrumentStockA
	case s.StockB:
		return domain.InstrumentStockB
	case s.FX:
		return domain.InstrumentFX
	case s.Home:
		return domain.InstrumentHome
	}
	return domain.Instrument("")
}
