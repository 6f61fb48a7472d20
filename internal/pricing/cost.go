// Package pricing implements the route cost model: a single comparable
// per-unit cash flow, in home currency, for flattening ETF exposure either
// by trading the ETF directly or by trading the two stocks through the
// conversion facility.
package pricing

import (
	"math"

	"github.com/ritcapital/etfarb/internal/domain"
)

// Quotes bundles the top-of-book snapshots a cost evaluation needs. All
// four are taken in the same decision cycle; a Quotes value must not be
// reused after any network round-trip.
type Quotes struct {
	ETF    domain.Quote
	StockA domain.Quote
	StockB domain.Quote
	FX     domain.Quote
}

// Params are the fee and batch parameters of the case.
type Params struct {
	PerShareFee        float64 // per share, market orders
	ConversionFeeFlat  float64 // foreign currency, per full converter batch
	ConverterBatchSize int
}

// RouteCost is the evaluated cash flow of one route. PerUnitFlow is signed:
// negative is cash paid, positive is cash received, so a higher value is
// always better regardless of side. Available is the quantity executable
// at this flow before deeper, worse levels would be needed.
type RouteCost struct {
	Route       domain.Route
	PerUnitFlow float64 // home currency per unit
	Available   int
}

// Model evaluates route costs from top-of-book state.
type Model struct {
	params Params
}

// NewModel creates a cost model with the given case parameters.
func NewModel(params Params) *Model {
	return &Model{params: params}
}

// conversionFeePerUnit is the converter fee for one unit, in home
// currency. The facility bills the fee in foreign currency proportionally
// to batch usage; paying it means buying foreign currency at the ask.
func (m *Model) conversionFeePerUnit(fxAsk float64) float64 {
	return m.params.ConversionFeeFlat / float64(m.params.ConverterBatchSize) * fxAsk
}

// Direct evaluates the direct-ETF route for the given side. It returns nil
// when the needed book side is empty: an unavailable route, not an error.
func (m *Model) Direct(side domain.Side, q Quotes) *RouteCost {
	fee := m.params.PerShareFee
	switch side {
	case domain.SideBuy:
		if q.ETF.AskQty <= 0 || math.IsInf(q.ETF.Ask, 1) || q.FX.AskQty <= 0 {
			return nil
		}
		return &RouteCost{
			Route:       domain.RouteDirect,
			PerUnitFlow: -(q.ETF.Ask*q.FX.Ask + fee),
			Available:   q.ETF.AskQty,
		}
	case domain.SideSell:
		if q.ETF.BidQty <= 0 || q.ETF.Bid <= 0 || q.FX.BidQty <= 0 {
			return nil
		}
		return &RouteCost{
			Route:       domain.RouteDirect,
			PerUnitFlow: q.ETF.Bid*q.FX.Bid - fee,
			Available:   q.ETF.BidQty,
		}
	}
	return nil
}

// Converter evaluates the stock/converter route for the given side. The
// available quantity is capped by both stock tops and by the converter
// batch size, which is an upper bound per call, never a minimum. Returns
// nil when either stock side is empty.
func (m *Model) Converter(side domain.Side, q Quotes) *RouteCost {
	fee := m.params.PerShareFee
	convFee := m.conversionFeePerUnit(q.FX.Ask)
	switch side {
	case domain.SideBuy:
		if q.StockA.AskQty <= 0 || q.StockB.AskQty <= 0 ||
			math.IsInf(q.StockA.Ask, 1) || math.IsInf(q.StockB.Ask, 1) {
			return nil
		}
		avail := minInt(q.StockA.AskQty, q.StockB.AskQty, m.params.ConverterBatchSize)
		return &RouteCost{
			Route:       domain.RouteConverter,
			PerUnitFlow: -(q.StockA.Ask + q.StockB.Ask + 2*fee + convFee),
			Available:   avail,
		}
	case domain.SideSell:
		if q.StockA.BidQty <= 0 || q.StockB.BidQty <= 0 ||
			q.StockA.Bid <= 0 || q.StockB.Bid <= 0 {
			return nil
		}
		avail := minInt(q.StockA.BidQty, q.StockB.BidQty, m.params.ConverterBatchSize)
		return &RouteCost{
			Route:       domain.RouteConverter,
			PerUnitFlow: q.StockA.Bid + q.StockB.Bid - 2*fee - convFee,
			Available:   avail,
		}
	}
	return nil
}

// Evaluate returns both routes for the side. Either may be nil.
func (m *Model) Evaluate(side domain.Side, q Quotes) (direct, converter *RouteCost) {
	return m.Direct(side, q), m.Converter(side, q)
}

// Better picks the route with the higher per-unit cash flow. Routes with
// no available quantity are treated as absent. Returns nil when neither
// route is usable.
func Better(direct, converter *RouteCost) *RouteCost {
	if direct != nil && direct.Available <= 0 {
		direct = nil
	}
	if converter != nil && converter.Available <= 0 {
		converter = nil
	}
	switch {
	case direct == nil:
		return converter
	case converter == nil:
		return direct
	case converter.PerUnitFlow > direct.PerUnitFlow:
		return converter
	default:
		return direct
	}
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
