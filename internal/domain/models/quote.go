package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a venue's priced response to an RFQ.
type Quote struct {
	ID         string
	RfqID      string
	VenueID    string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	ReceivedAt time.Time
	ValidUntil time.Time
}

// Expired reports whether the quote's TTL has passed.
func (q *Quote) Expired(now time.Time) bool {
	return !q.ValidUntil.IsZero() && !now.Before(q.ValidUntil)
}

// Valid reports whether the quote may enter ranking for the given RFQ:
// positive price and quantity, matching rfq id, TTL not passed.
func (q *Quote) Valid(rfqID string, now time.Time) bool {
	if q.RfqID != rfqID {
		return false
	}
	if !q.Price.IsPositive() || !q.Quantity.IsPositive() {
		return false
	}
	return !q.Expired(now)
}

// FillRatio is offered quantity over requested quantity, capped at 1.0.
func (q *Quote) FillRatio(requested decimal.Decimal) float64 {
	if !requested.IsPositive() {
		return 0
	}
	r, _ := q.Quantity.Div(requested).Float64()
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// RankedQuote is a quote plus its computed score and rank (1 = best).
type RankedQuote struct {
	Quote Quote
	Rank  int
	Score float64
}

// Best reports whether this quote won the ranking.
func (rq *RankedQuote) Best() bool { return rq.Rank == 1 }
