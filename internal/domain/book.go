package domain

import "math"

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64
	Quantity int
}

// Book is a depth snapshot of one instrument. Bids are sorted best (highest)
// first, asks best (lowest) first, as the exchange reports them.
type Book struct {
	Bids []BookLevel
	Asks []BookLevel
}

// Quote is the top of book. An empty ask side reads as an infinite ask so
// that price comparisons fail safe; an empty bid side reads as zero. The
// size fields disambiguate: a quantity of zero means the side is empty.
type Quote struct {
	Bid    float64
	Ask    float64
	BidQty int
	AskQty int
}

// TopOfBook reduces the depth snapshot to its best levels.
func (b Book) TopOfBook() Quote {
	q := Quote{Ask: math.Inf(1)}
	if len(b.Bids) > 0 {
		q.Bid = b.Bids[0].Price
		q.BidQty = b.Bids[0].Quantity
	}
	if len(b.Asks) > 0 {
		q.Ask = b.Asks[0].Price
		q.AskQty = b.Asks[0].Quantity
	}
	return q
}
