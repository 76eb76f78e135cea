package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RFQHub/internal/domain/models"
)

type staticReliability map[string]float64

func (s staticReliability) Reliability(_ context.Context, venueID string) float64 {
	return s[venueID]
}

func rankQuote(venueID string, price, qty int64) models.Quote {
	return models.Quote{
		ID:         venueID + "-q",
		RfqID:      "rfq-1",
		VenueID:    venueID,
		Price:      decimal.NewFromInt(price),
		Quantity:   decimal.NewFromInt(qty),
		ReceivedAt: time.Now(),
		ValidUntil: time.Now().Add(time.Minute),
	}
}

func TestBestPriceBuyOrdersAscending(t *testing.T) {
	s := NewBestPrice()
	quotes := []models.Quote{
		rankQuote("lp-1", 101, 10),
		rankQuote("lp-2", 99, 10),
		rankQuote("lp-3", 100, 10),
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	require.Len(t, ranked, 3)
	assert.Equal(t, "lp-2", ranked[0].Quote.VenueID)
	assert.Equal(t, "lp-3", ranked[1].Quote.VenueID)
	assert.Equal(t, "lp-1", ranked[2].Quote.VenueID)
	assert.Equal(t, []int{1, 2, 3}, []int{ranked[0].Rank, ranked[1].Rank, ranked[2].Rank})
}

func TestBestPriceSellOrdersDescending(t *testing.T) {
	s := NewBestPrice()
	quotes := []models.Quote{
		rankQuote("lp-1", 101, 10),
		rankQuote("lp-2", 99, 10),
		rankQuote("lp-3", 100, 10),
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Sell))
	require.Len(t, ranked, 3)
	assert.Equal(t, "lp-1", ranked[0].Quote.VenueID)
	assert.Equal(t, "lp-2", ranked[2].Quote.VenueID)
}

func TestBestPriceStableOnTies(t *testing.T) {
	s := NewBestPrice()
	quotes := []models.Quote{
		rankQuote("lp-first", 100, 10),
		rankQuote("lp-second", 100, 10),
		rankQuote("lp-third", 100, 10),
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	require.Len(t, ranked, 3)
	assert.Equal(t, "lp-first", ranked[0].Quote.VenueID)
	assert.Equal(t, "lp-second", ranked[1].Quote.VenueID)
	assert.Equal(t, "lp-third", ranked[2].Quote.VenueID)
}

// Prices differing beyond float64 precision must still order correctly.
func TestBestPriceExactDecimalOrdering(t *testing.T) {
	s := NewBestPrice()

	worse := rankQuote("lp-first", 100, 10)
	worse.Price = decimal.RequireFromString("100.000000000000000002")
	better := rankQuote("lp-second", 100, 10)
	better.Price = decimal.RequireFromString("100.000000000000000001")

	// the better price arrives second: a float64 comparison would tie
	// them and keep arrival order
	ranked := s.Rank(context.Background(), []models.Quote{worse, better}, testRfq(models.Buy))
	require.Len(t, ranked, 2)
	assert.Equal(t, "lp-second", ranked[0].Quote.VenueID)

	ranked = s.Rank(context.Background(), []models.Quote{worse, better}, testRfq(models.Sell))
	assert.Equal(t, "lp-first", ranked[0].Quote.VenueID)
}

func TestBestPriceEmptyInput(t *testing.T) {
	ranked := NewBestPrice().Rank(context.Background(), nil, testRfq(models.Buy))
	assert.Empty(t, ranked)
}

func TestWeightedScoreEmptyInput(t *testing.T) {
	s := NewWeightedScore(DefaultWeights(), staticReliability{})
	assert.Empty(t, s.Rank(context.Background(), nil, testRfq(models.Buy)))
}

func TestWeightedScoreZeroFillNeverOutranksNonzero(t *testing.T) {
	s := NewWeightedScore(Weights{Price: 0.9, FillRatio: 0.05, Reliability: 0.05}, staticReliability{"lp-empty": 1})

	quotes := []models.Quote{
		rankQuote("lp-empty", 1, 0),    // unbeatable price, nothing offered
		rankQuote("lp-real", 1000, 10), // poor price, full fill
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	require.Len(t, ranked, 2)
	assert.Equal(t, "lp-real", ranked[0].Quote.VenueID)
}

func TestWeightedScorePrefersBetterPrice(t *testing.T) {
	s := NewWeightedScore(DefaultWeights(), staticReliability{"lp-1": 0.8, "lp-2": 0.8})

	quotes := []models.Quote{
		rankQuote("lp-1", 105, 10),
		rankQuote("lp-2", 100, 10),
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	require.Len(t, ranked, 2)
	assert.Equal(t, "lp-2", ranked[0].Quote.VenueID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
}

func TestWeightedScoreReliabilityBreaksPriceTie(t *testing.T) {
	s := NewWeightedScore(DefaultWeights(), staticReliability{"lp-flaky": 0.1, "lp-solid": 0.95})

	quotes := []models.Quote{
		rankQuote("lp-flaky", 100, 10),
		rankQuote("lp-solid", 100, 10),
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	assert.Equal(t, "lp-solid", ranked[0].Quote.VenueID)
}

func TestWeightedScoreFillRatioCapped(t *testing.T) {
	s := NewWeightedScore(Weights{Price: 0, FillRatio: 1, Reliability: 0}, staticReliability{})

	quotes := []models.Quote{
		rankQuote("lp-exact", 100, 10),
		rankQuote("lp-oversize", 100, 50), // capped at 1.0, no advantage
	}

	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	require.Len(t, ranked, 2)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
	// equal scores: original order preserved
	assert.Equal(t, "lp-exact", ranked[0].Quote.VenueID)
}

func TestWeightedScoreDeterministic(t *testing.T) {
	s := NewWeightedScore(DefaultWeights(), staticReliability{"lp-1": 0.5, "lp-2": 0.7, "lp-3": 0.9})
	quotes := []models.Quote{
		rankQuote("lp-1", 101, 8),
		rankQuote("lp-2", 99, 12),
		rankQuote("lp-3", 100, 10),
	}
	rfq := testRfq(models.Buy)

	first := s.Rank(context.Background(), quotes, rfq)
	for i := 0; i < 10; i++ {
		again := s.Rank(context.Background(), quotes, rfq)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Quote.VenueID, again[j].Quote.VenueID)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}

func TestWeightedScoreInvalidWeightsFallBack(t *testing.T) {
	s := NewWeightedScore(Weights{Price: 0.9, FillRatio: 0.9, Reliability: 0.9}, staticReliability{})
	assert.Equal(t, "weighted_score", s.Name())

	quotes := []models.Quote{rankQuote("lp-1", 100, 10)}
	ranked := s.Rank(context.Background(), quotes, testRfq(models.Buy))
	require.Len(t, ranked, 1)
	assert.Equal(t, 1, ranked[0].Rank)
}
