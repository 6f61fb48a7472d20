// Package tender evaluates tender offers against full order-book depth.
// Before a tender is accepted, every ETF book level and every index-matched
// pair of stock levels is turned into a discrete opportunity, ranked by
// profit per share, and greedily consumed up to the tender quantity. The
// result decides acceptance and becomes the execution plan for the unwind.
package tender

import (
	"sort"

	"github.com/ritcapital/etfarb/internal/domain"
	"github.com/ritcapital/etfarb/internal/pricing"
)

// Books bundles the full-depth snapshots a ranking needs. FX only requires
// top of book. All snapshots come from the same decision cycle; rankings
// must be recomputed fresh immediately before acceptance.
type Books struct {
	ETF    domain.Book
	StockA domain.Book
	StockB domain.Book
	FX     domain.Quote
}

// Ranker builds and consumes opportunity lists for tender offers.
type Ranker struct {
	params pricing.Params
}

// NewRanker creates a Ranker with the given case parameters.
func NewRanker(params pricing.Params) *Ranker {
	return &Ranker{params: params}
}

// convertFX converts a net foreign-currency flow to home currency at the
// correct side of the FX spread: surplus foreign is sold at the bid,
// shortfall is bought at the ask.
func convertFX(foreign float64, fx domain.Quote) float64 {
	if foreign >= 0 {
		return foreign * fx.Bid
	}
	return foreign * fx.Ask
}

// Rank walks every book level across both routes, ranks the resulting
// opportunities by profit per share, and greedily consumes them up to the
// tender quantity, stopping as soon as profit per share is no longer
// positive. An empty stock side contributes zero converter quantity, not
// an error.
func (r *Ranker) Rank(offer domain.TenderOffer, books Books) domain.RankResult {
	opps := r.opportunities(offer, books)

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ProfitPerShare > opps[j].ProfitPerShare
	})

	var (
		result   domain.RankResult
		consumed int
	)
	for _, opp := range opps {
		if consumed >= offer.Quantity || opp.ProfitPerShare <= 0 {
			break
		}
		take := opp.Quantity
		if remaining := offer.Quantity - consumed; take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		consumed += take
		result.TotalProfit += float64(take) * opp.ProfitPerShare
		result.Plan = append(result.Plan, domain.PlanStep{Route: opp.Route, Quantity: take})
	}

	result.Coverable = consumed
	if offer.Quantity > 0 {
		result.Coverage = float64(consumed) / float64(offer.Quantity)
	}
	return result
}

// opportunities builds the flat opportunity list for the side implied by
// the tender action. A SELL tender leaves us short ETF, so covering trades
// lift ask levels; a BUY tender mirrors onto bids.
func (r *Ranker) opportunities(offer domain.TenderOffer, books Books) []domain.Opportunity {
	if offer.Action == domain.SideSell {
		return append(
			r.directOpportunities(offer, books.ETF.Asks, books.FX, domain.SideBuy),
			r.converterOpportunities(offer, books.StockA.Asks, books.StockB.Asks, books.FX, domain.SideBuy)...,
		)
	}
	return append(
		r.directOpportunities(offer, books.ETF.Bids, books.FX, domain.SideSell),
		r.converterOpportunities(offer, books.StockA.Bids, books.StockB.Bids, books.FX, domain.SideSell)...,
	)
}

// directOpportunities produces one opportunity per ETF book level. The
// tender and the covering trade settle in the same foreign currency, so
// only the net foreign flow per unit crosses the FX spread.
func (r *Ranker) directOpportunities(offer domain.TenderOffer, levels []domain.BookLevel, fx domain.Quote, unwindSide domain.Side) []domain.Opportunity {
	opps := make([]domain.Opportunity, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Quantity <= 0 {
			continue
		}
		var netForeign float64
		if unwindSide == domain.SideBuy {
			netForeign = offer.Price - lvl.Price
		} else {
			netForeign = lvl.Price - offer.Price
		}
		profit := convertFX(netForeign, fx) - r.params.PerShareFee
		opps = append(opps, domain.Opportunity{
			Route:          domain.RouteDirect,
			Price:          lvl.Price,
			Quantity:       lvl.Quantity,
			ProfitPerShare: profit,
		})
	}
	return opps
}

// converterOpportunities pairs stock levels by index, not by price: each
// pair represents one converter-call-worth of matched liquidity, capped at
// the batch size. The conversion fee is billed in foreign currency
// proportionally to batch usage; the stock legs settle in home currency.
func (r *Ranker) converterOpportunities(offer domain.TenderOffer, stockA, stockB []domain.BookLevel, fx domain.Quote, unwindSide domain.Side) []domain.Opportunity {
	n := len(stockA)
	if len(stockB) < n {
		n = len(stockB)
	}
	feePerUnitForeign := r.params.ConversionFeeFlat / float64(r.params.ConverterBatchSize)

	opps := make([]domain.Opportunity, 0, n)
	for i := 0; i < n; i++ {
		a, b := stockA[i], stockB[i]
		qty := minInt(a.Quantity, b.Quantity, r.params.ConverterBatchSize)
		if qty <= 0 {
			continue
		}
		pairPrice := a.Price + b.Price
		var netForeign, homeFlow float64
		if unwindSide == domain.SideBuy {
			// Buy both stocks, convert to ETF, deliver against the short.
			netForeign = offer.Price - feePerUnitForeign
			homeFlow = -(pairPrice + 2*r.params.PerShareFee)
		} else {
			// Redeem ETF into stocks and sell them.
			netForeign = -offer.Price - feePerUnitForeign
			homeFlow = pairPrice - 2*r.params.PerShareFee
		}
		profit := convertFX(netForeign, fx) + homeFlow
		opps = append(opps, domain.Opportunity{
			Route:          domain.RouteConverter,
			Price:          pairPrice,
			Quantity:       qty,
			ProfitPerShare: profit,
		})
	}
	return opps
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
