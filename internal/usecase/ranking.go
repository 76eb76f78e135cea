package usecase

import (
	"context"
	"sort"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
)

// RankingStrategy orders valid quotes best-first. Implementations must be
// deterministic for identical inputs and stable for ties (original collection
// order preserved among equal scores). Empty input returns an empty slice.
type RankingStrategy interface {
	Rank(ctx context.Context, quotes []models.Quote, rfq *models.RFQ) []models.RankedQuote
	Name() string
}

// BestPrice ranks strictly by price: ascending for buy-side RFQs, descending
// for sell-side. No other factors considered.
type BestPrice struct{}

func NewBestPrice() *BestPrice { return &BestPrice{} }

func (s *BestPrice) Name() string { return "best_price" }

func (s *BestPrice) Rank(_ context.Context, quotes []models.Quote, rfq *models.RFQ) []models.RankedQuote {
	if len(quotes) == 0 {
		return []models.RankedQuote{}
	}

	// Order on the decimal prices directly; a float64 comparison would
	// collapse prices that differ beyond its precision.
	idx := make([]int, len(quotes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		cmp := quotes[idx[a]].Price.Cmp(quotes[idx[b]].Price)
		if rfq.Side == models.Buy {
			return cmp < 0 // lower price wins a buy
		}
		return cmp > 0
	})

	ranked := make([]models.RankedQuote, len(idx))
	for pos, i := range idx {
		score, _ := quotes[i].Price.Float64()
		if rfq.Side == models.Buy {
			score = -score
		}
		ranked[pos] = models.RankedQuote{
			Quote: quotes[i],
			Rank:  pos + 1,
			Score: score,
		}
	}
	return ranked
}

// Weights for the WeightedScore strategy. Must sum to 1.0.
type Weights struct {
	Price       float64
	FillRatio   float64
	Reliability float64
}

// DefaultWeights mirror the historical production configuration.
func DefaultWeights() Weights {
	return Weights{Price: 0.5, FillRatio: 0.3, Reliability: 0.2}
}

// Valid reports whether the weights are non-negative and sum to 1.
func (w Weights) Valid() bool {
	if w.Price < 0 || w.FillRatio < 0 || w.Reliability < 0 {
		return false
	}
	sum := w.Price + w.FillRatio + w.Reliability
	return sum > 0.999 && sum < 1.001
}

// WeightedScore ranks by a composite of price competitiveness, fill ratio and
// venue reliability. Quotes with zero fill ratio never outrank a quote with a
// nonzero fill ratio regardless of price.
type WeightedScore struct {
	weights     Weights
	reliability drepo.ReliabilityProvider
}

func NewWeightedScore(weights Weights, reliability drepo.ReliabilityProvider) *WeightedScore {
	if !weights.Valid() {
		weights = DefaultWeights()
	}
	return &WeightedScore{weights: weights, reliability: reliability}
}

func (s *WeightedScore) Name() string { return "weighted_score" }

func (s *WeightedScore) Rank(ctx context.Context, quotes []models.Quote, rfq *models.RFQ) []models.RankedQuote {
	if len(quotes) == 0 {
		return []models.RankedQuote{}
	}

	prices := make([]float64, len(quotes))
	minP, maxP := 0.0, 0.0
	for i, q := range quotes {
		p, _ := q.Price.Float64()
		prices[i] = p
		if i == 0 || p < minP {
			minP = p
		}
		if i == 0 || p > maxP {
			maxP = p
		}
	}
	priceRange := maxP - minP

	scores := make([]float64, len(quotes))
	hasFill := make([]bool, len(quotes))
	for i, q := range quotes {
		// price competitiveness: 1.0 at the best raw price in the set
		priceScore := 1.0
		if priceRange > 0 {
			if rfq.Side == models.Buy {
				priceScore = (maxP - prices[i]) / priceRange
			} else {
				priceScore = (prices[i] - minP) / priceRange
			}
		}

		fill := q.FillRatio(rfq.Quantity)
		hasFill[i] = fill > 0

		rel := 0.0
		if s.reliability != nil {
			rel = clamp01(s.reliability.Reliability(ctx, q.VenueID))
		}

		scores[i] = s.weights.Price*priceScore + s.weights.FillRatio*fill + s.weights.Reliability*rel
	}
	return assemble(quotes, scores, hasFill)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// assemble sorts by (fillable desc, score desc) stably and assigns ranks.
// hasFill may be nil when the strategy has no fill-ratio floor.
func assemble(quotes []models.Quote, scores []float64, hasFill []bool) []models.RankedQuote {
	idx := make([]int, len(quotes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if hasFill != nil && hasFill[i] != hasFill[j] {
			return hasFill[i]
		}
		return scores[i] > scores[j]
	})

	ranked := make([]models.RankedQuote, len(idx))
	for pos, i := range idx {
		ranked[pos] = models.RankedQuote{
			Quote: quotes[i],
			Rank:  pos + 1,
			Score: scores[i],
		}
	}
	return ranked
}
