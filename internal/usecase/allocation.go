package usecase

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"RFQHub/internal/domain/models"
)

var (
	ErrInvalidFillTarget     = errors.New("fill target quantity must be positive")
	ErrNoQuotesToFill        = errors.New("no quotes available for allocation")
	ErrInsufficientLiquidity = errors.New("insufficient quoted liquidity")
	ErrFillBelowMinimum      = errors.New("fillable quantity below the minimum")
	ErrUnknownFillStrategy   = errors.New("unknown fill strategy")
)

// FillStrategy distributes a target quantity across ranked quotes. Quotes
// must be sorted best-first. The allocated quantities sum exactly to the
// effective fill quantity the terms permit.
type FillStrategy interface {
	Allocate(ranked []models.RankedQuote, target decimal.Decimal, terms models.FillTerms) ([]models.Allocation, error)
	Name() string
}

// FillStrategyFor resolves a fill strategy by name; empty selects the
// best-price cascade.
func FillStrategyFor(name string) (FillStrategy, error) {
	switch name {
	case "", "best_price":
		return &BestPriceCascade{}, nil
	case "pro_rata":
		return &ProRataFill{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFillStrategy, name)
}

// checkFillInput validates the common preconditions and returns the total
// quoted quantity.
func checkFillInput(ranked []models.RankedQuote, target decimal.Decimal) (decimal.Decimal, error) {
	if !target.IsPositive() {
		return decimal.Zero, ErrInvalidFillTarget
	}
	if len(ranked) == 0 {
		return decimal.Zero, ErrNoQuotesToFill
	}
	available := decimal.Zero
	for _, rq := range ranked {
		available = available.Add(rq.Quote.Quantity)
	}
	return available, nil
}

// effectiveFill applies the terms to the requested target given the total
// quoted quantity and returns the quantity to allocate.
func effectiveFill(terms models.FillTerms, target, available decimal.Decimal) (decimal.Decimal, error) {
	switch terms.Mode {
	case models.FillAllOrNothing, models.FillOrKill:
		if available.LessThan(target) {
			return decimal.Zero, fmt.Errorf("%w: %s available, %s requested", ErrInsufficientLiquidity, available, target)
		}
		return target, nil
	case models.FillMinQuantity:
		fillable := decimal.Min(target, available)
		if fillable.LessThan(terms.MinQuantity) {
			return decimal.Zero, fmt.Errorf("%w: %s fillable, %s minimum", ErrFillBelowMinimum, fillable, terms.MinQuantity)
		}
		return fillable, nil
	default: // best effort
		if !available.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: nothing quoted", ErrInsufficientLiquidity)
		}
		return decimal.Min(target, available), nil
	}
}

// ProRataFill gives each quote a share proportional to its quoted size.
// The last leg absorbs rounding drift so the legs always sum exactly.
type ProRataFill struct{}

func (s *ProRataFill) Name() string { return "pro_rata" }

func (s *ProRataFill) Allocate(ranked []models.RankedQuote, target decimal.Decimal, terms models.FillTerms) ([]models.Allocation, error) {
	available, err := checkFillInput(ranked, target)
	if err != nil {
		return nil, err
	}
	effective, err := effectiveFill(terms, target, available)
	if err != nil {
		return nil, err
	}

	allocs := make([]models.Allocation, 0, len(ranked))
	allocated := decimal.Zero
	for i, rq := range ranked {
		var qty decimal.Decimal
		if i == len(ranked)-1 {
			qty = effective.Sub(allocated)
		} else {
			qty = decimal.Min(effective.Mul(rq.Quote.Quantity).Div(available), rq.Quote.Quantity)
		}
		if !qty.IsPositive() {
			continue
		}
		allocated = allocated.Add(qty)
		allocs = append(allocs, models.Allocation{
			VenueID:  rq.Quote.VenueID,
			QuoteID:  rq.Quote.ID,
			Quantity: qty,
			Price:    rq.Quote.Price,
		})
	}
	if !allocated.Equal(effective) {
		return nil, fmt.Errorf("allocation drift: %s allocated, %s expected", allocated, effective)
	}
	return allocs, nil
}

// BestPriceCascade fills from the best-ranked quote first and cascades the
// remainder down the book.
type BestPriceCascade struct{}

func (s *BestPriceCascade) Name() string { return "best_price" }

func (s *BestPriceCascade) Allocate(ranked []models.RankedQuote, target decimal.Decimal, terms models.FillTerms) ([]models.Allocation, error) {
	available, err := checkFillInput(ranked, target)
	if err != nil {
		return nil, err
	}
	effective, err := effectiveFill(terms, target, available)
	if err != nil {
		return nil, err
	}

	remaining := effective
	allocs := make([]models.Allocation, 0, len(ranked))
	for _, rq := range ranked {
		if !remaining.IsPositive() {
			break
		}
		qty := decimal.Min(rq.Quote.Quantity, remaining)
		if !qty.IsPositive() {
			continue
		}
		remaining = remaining.Sub(qty)
		allocs = append(allocs, models.Allocation{
			VenueID:  rq.Quote.VenueID,
			QuoteID:  rq.Quote.ID,
			Quantity: qty,
			Price:    rq.Quote.Price,
		})
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("allocation drift: %s left unallocated", remaining)
	}
	return allocs, nil
}
