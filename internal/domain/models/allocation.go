package models

import "github.com/shopspring/decimal"

// FillMode sets the size semantics for a multi-venue fill.
type FillMode string

const (
	FillAllOrNothing FillMode = "ALL_OR_NOTHING"
	FillOrKill       FillMode = "FILL_OR_KILL"
	FillMinQuantity  FillMode = "MIN_QUANTITY"
	FillBestEffort   FillMode = "BEST_EFFORT"
)

// FillTerms carry the fill mode plus its parameter. MinQuantity is read
// only when Mode is FillMinQuantity.
type FillTerms struct {
	Mode        FillMode
	MinQuantity decimal.Decimal
}

// Allocation is one leg of a multi-venue fill: a quantity assigned to a
// specific venue's quote at that quote's price.
type Allocation struct {
	VenueID  string
	QuoteID  string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Notional is price times allocated quantity.
func (a *Allocation) Notional() decimal.Decimal {
	return a.Price.Mul(a.Quantity)
}
