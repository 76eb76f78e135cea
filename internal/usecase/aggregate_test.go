package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/breaker"
	"RFQHub/internal/service/retry"
)

type gatewayFunc func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error)

func (f gatewayFunc) RequestQuote(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
	return f(ctx, venue, rfq)
}

func testRfq(side models.Side) *models.RFQ {
	return &models.RFQ{
		ID:             "rfq-1",
		CounterpartyID: "cp-1",
		Instrument:     "WETH/USDC",
		Side:           side,
		Quantity:       decimal.NewFromInt(10),
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(time.Minute),
		Status:         models.RfqPending,
	}
}

func testVenue(id string) *models.Venue {
	return &models.Venue{ID: id, Name: id, Type: models.VenueHTTP, Enabled: true}
}

func quoteFrom(venueID string, price int64) *models.Quote {
	return &models.Quote{
		ID:         venueID + "-q",
		RfqID:      "rfq-1",
		VenueID:    venueID,
		Price:      decimal.NewFromInt(price),
		Quantity:   decimal.NewFromInt(10),
		ReceivedAt: time.Now(),
		ValidUntil: time.Now().Add(time.Minute),
	}
}

func fastRetry(attempts int) *retry.Policy {
	return retry.New(
		retry.Config{MaxAttempts: attempts, BaseBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond},
	)
}

func respondAfter(d time.Duration, q *models.Quote) gatewayFunc {
	return func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		select {
		case <-time.After(d):
			return q, nil
		case <-ctx.Done():
			return nil, drepo.NewGatewayError(venue.ID, drepo.KindTimeout, "request timed out", ctx.Err())
		}
	}
}

func TestAggregateExpiredRfq(t *testing.T) {
	e := NewEngine(respondAfter(0, nil), breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())

	rfq := testRfq(models.Buy)
	rfq.ExpiresAt = time.Now().Add(-time.Second)

	_, err := e.Aggregate(context.Background(), rfq, []*models.Venue{testVenue("lp-1")}, DefaultAggregationConfig())
	assert.ErrorIs(t, err, ErrExpiredRfq)
}

func TestAggregateNoVenues(t *testing.T) {
	e := NewEngine(respondAfter(0, nil), breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())

	_, err := e.Aggregate(context.Background(), testRfq(models.Buy), nil, DefaultAggregationConfig())
	assert.ErrorIs(t, err, ErrNoVenues)
}

// End-to-end: A answers 100 in 50ms, B times out and exhausts retries,
// C answers 98 in 30ms. Expected ranked [C@98, A@100], failure {B: TIMEOUT}.
func TestAggregateEndToEnd(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		switch venue.ID {
		case "lp-a":
			return respondAfter(50*time.Millisecond, quoteFrom("lp-a", 100))(ctx, venue, rfq)
		case "lp-b":
			<-ctx.Done()
			return nil, drepo.NewGatewayError(venue.ID, drepo.KindTimeout, "request timed out", ctx.Err())
		default:
			return respondAfter(30*time.Millisecond, quoteFrom("lp-c", 98))(ctx, venue, rfq)
		}
	})

	brk := breaker.New(breaker.DefaultConfig())
	e := NewEngine(gw, brk, fastRetry(3), NewBestPrice())

	cfg := AggregationConfig{Deadline: 500 * time.Millisecond, PerVenueTimeout: 60 * time.Millisecond}
	venues := []*models.Venue{testVenue("lp-a"), testVenue("lp-b"), testVenue("lp-c")}

	start := time.Now()
	res, err := e.Aggregate(context.Background(), testRfq(models.Buy), venues, cfg)
	require.NoError(t, err)

	require.Len(t, res.RankedQuotes, 2)
	assert.Equal(t, "lp-c", res.RankedQuotes[0].Quote.VenueID)
	assert.Equal(t, 1, res.RankedQuotes[0].Rank)
	assert.Equal(t, "lp-a", res.RankedQuotes[1].Quote.VenueID)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "lp-b", res.Failures[0].VenueID)
	assert.Equal(t, models.FailureTimeout, res.Failures[0].Reason)

	assert.LessOrEqual(t, time.Since(start), 600*time.Millisecond)
	assert.Equal(t, 3, res.VenuesQueried)
	assert.Equal(t, 2, res.VenuesResponded)

	// B's exhausted retries count as a single breaker failure
	snap := brk.SnapshotOf("lp-b")
	assert.Equal(t, int64(1), snap.Total)
}

func TestAggregateSkipsOpenBreaker(t *testing.T) {
	calls := int32(0)
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		atomic.AddInt32(&calls, 1)
		return quoteFrom(venue.ID, 100), nil
	})

	brk := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	brk.Record("lp-down", false) // trip it

	e := NewEngine(gw, brk, fastRetry(1), NewBestPrice())
	res, err := e.Aggregate(context.Background(), testRfq(models.Buy),
		[]*models.Venue{testVenue("lp-down"), testVenue("lp-up")}, DefaultAggregationConfig())
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no network call for a skipped venue")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.FailureCircuitOpen, res.Failures[0].Reason)
	require.Len(t, res.RankedQuotes, 1)
	assert.Equal(t, "lp-up", res.RankedQuotes[0].Quote.VenueID)
}

func TestAggregateAllVenuesFailingIsNotAnError(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		return nil, drepo.NewGatewayError(venue.ID, drepo.KindRejected, "unsupported instrument", nil)
	})

	e := NewEngine(gw, breaker.New(breaker.DefaultConfig()), fastRetry(3), NewBestPrice())
	res, err := e.Aggregate(context.Background(), testRfq(models.Buy),
		[]*models.Venue{testVenue("lp-1"), testVenue("lp-2")}, DefaultAggregationConfig())
	require.NoError(t, err)

	assert.Empty(t, res.RankedQuotes)
	assert.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, models.FailureGatewayError, f.Reason)
		assert.Equal(t, string(drepo.KindRejected), f.Kind)
	}
}

func TestAggregateLateArrivalDropped(t *testing.T) {
	brk := breaker.New(breaker.DefaultConfig())
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		if venue.ID == "lp-slow" {
			return respondAfter(400*time.Millisecond, quoteFrom("lp-slow", 1))(ctx, venue, rfq)
		}
		return respondAfter(10*time.Millisecond, quoteFrom("lp-fast", 100))(ctx, venue, rfq)
	})

	e := NewEngine(gw, brk, fastRetry(1), NewBestPrice())
	// per-venue timeout beyond the deadline: the slow unit is cancelled by
	// the barrier, not by its own timeout
	cfg := AggregationConfig{Deadline: 100 * time.Millisecond, PerVenueTimeout: 300 * time.Millisecond}

	res, err := e.Aggregate(context.Background(), testRfq(models.Buy),
		[]*models.Venue{testVenue("lp-slow"), testVenue("lp-fast")}, cfg)
	require.NoError(t, err)

	require.Len(t, res.RankedQuotes, 1)
	assert.Equal(t, "lp-fast", res.RankedQuotes[0].Quote.VenueID)

	// give the cancelled unit time to (incorrectly) record, then check it didn't
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(0), brk.SnapshotOf("lp-slow").Total,
		"a unit cancelled at the barrier must not touch the breaker")
}

func TestAggregateEarlyStopWithGrace(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		if venue.ID == "lp-slow" {
			return respondAfter(500*time.Millisecond, quoteFrom("lp-slow", 1))(ctx, venue, rfq)
		}
		return respondAfter(10*time.Millisecond, quoteFrom("lp-fast", 100))(ctx, venue, rfq)
	})

	e := NewEngine(gw, breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())
	cfg := AggregationConfig{
		Deadline:        2 * time.Second,
		PerVenueTimeout: time.Second,
		MinQuotes:       1,
		GracePeriod:     50 * time.Millisecond,
	}

	start := time.Now()
	res, err := e.Aggregate(context.Background(), testRfq(models.Buy),
		[]*models.Venue{testVenue("lp-slow"), testVenue("lp-fast")}, cfg)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond, "early stop fired well before the deadline")
	require.Len(t, res.RankedQuotes, 1)
	assert.Equal(t, "lp-fast", res.RankedQuotes[0].Quote.VenueID)

	f, ok := res.FailureFor("lp-slow")
	require.True(t, ok, "venue cut off at the early stop is recorded")
	assert.Equal(t, models.FailureTimeout, f.Reason)
}

// A half-open trial cancelled at the barrier must give its slot back:
// the venue stays reachable and recovers on the next aggregation.
func TestAggregateCancelledTrialDoesNotWedgeBreaker(t *testing.T) {
	healthy := int32(0)
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		if atomic.LoadInt32(&healthy) == 1 {
			return quoteFrom(venue.ID, 100), nil
		}
		<-ctx.Done()
		return nil, drepo.NewGatewayError(venue.ID, drepo.KindTimeout, "request timed out", ctx.Err())
	})

	brk := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	brk.Record("lp-1", false) // trip to open
	time.Sleep(20 * time.Millisecond)

	e := NewEngine(gw, brk, fastRetry(1), NewBestPrice())
	venues := []*models.Venue{testVenue("lp-1")}

	// per-venue timeout beyond the deadline: the trial is cancelled by the
	// barrier before it reaches a terminal outcome
	cfg := AggregationConfig{Deadline: 50 * time.Millisecond, PerVenueTimeout: time.Second}
	res, err := e.Aggregate(context.Background(), testRfq(models.Buy), venues, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.RankedQuotes)

	// let the cancelled unit stand down, then aggregate against the now
	// healthy venue
	time.Sleep(20 * time.Millisecond)
	atomic.StoreInt32(&healthy, 1)

	res, err = e.Aggregate(context.Background(), testRfq(models.Buy), venues, DefaultAggregationConfig())
	require.NoError(t, err)
	require.Len(t, res.RankedQuotes, 1)
	assert.Equal(t, "lp-1", res.RankedQuotes[0].Quote.VenueID)
	assert.Equal(t, breaker.Closed, brk.StateOf("lp-1"))
}

func TestAggregateDeadlineRecordsUnansweredVenues(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		<-ctx.Done()
		return nil, drepo.NewGatewayError(venue.ID, drepo.KindTimeout, "request timed out", ctx.Err())
	})

	e := NewEngine(gw, breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())
	cfg := AggregationConfig{Deadline: 50 * time.Millisecond, PerVenueTimeout: time.Second}

	res, err := e.Aggregate(context.Background(), testRfq(models.Buy), []*models.Venue{testVenue("lp-hung")}, cfg)
	require.NoError(t, err)

	assert.Empty(t, res.RankedQuotes)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "lp-hung", res.Failures[0].VenueID)
	assert.Equal(t, models.FailureTimeout, res.Failures[0].Reason)
	assert.Equal(t, 0, res.VenuesResponded)
}

func TestAggregateFiltersInvalidQuotes(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		switch venue.ID {
		case "lp-expired":
			q := quoteFrom(venue.ID, 95)
			q.ValidUntil = time.Now().Add(-time.Second)
			return q, nil
		case "lp-zero":
			q := quoteFrom(venue.ID, 94)
			q.Price = decimal.Zero
			return q, nil
		default:
			return quoteFrom(venue.ID, 100), nil
		}
	})

	e := NewEngine(gw, breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())
	res, err := e.Aggregate(context.Background(), testRfq(models.Buy),
		[]*models.Venue{testVenue("lp-expired"), testVenue("lp-zero"), testVenue("lp-ok")}, DefaultAggregationConfig())
	require.NoError(t, err)

	require.Len(t, res.RankedQuotes, 1)
	assert.Equal(t, "lp-ok", res.RankedQuotes[0].Quote.VenueID)
	assert.Equal(t, 2, res.FilteredOut)
}

func TestAggregateIdempotentContent(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		switch venue.ID {
		case "lp-a":
			return quoteFrom("lp-a", 101), nil
		case "lp-b":
			return quoteFrom("lp-b", 99), nil
		default:
			return quoteFrom("lp-c", 100), nil
		}
	})
	venues := []*models.Venue{testVenue("lp-a"), testVenue("lp-b"), testVenue("lp-c")}

	run := func() *models.AggregationResult {
		e := NewEngine(gw, breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())
		res, err := e.Aggregate(context.Background(), testRfq(models.Buy), venues, DefaultAggregationConfig())
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	require.Len(t, a.RankedQuotes, 3)
	for i := range a.RankedQuotes {
		assert.Equal(t, a.RankedQuotes[i].Quote.VenueID, b.RankedQuotes[i].Quote.VenueID)
		assert.Equal(t, a.RankedQuotes[i].Rank, b.RankedQuotes[i].Rank)
		assert.Equal(t, a.RankedQuotes[i].Score, b.RankedQuotes[i].Score)
	}
	// [99, 100, 101] for a buy
	assert.Equal(t, "lp-b", a.RankedQuotes[0].Quote.VenueID)
	assert.Equal(t, "lp-c", a.RankedQuotes[1].Quote.VenueID)
	assert.Equal(t, "lp-a", a.RankedQuotes[2].Quote.VenueID)
}

func TestAggregateMaxQuotesTruncates(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		return quoteFrom(venue.ID, int64(100+len(venue.ID))), nil
	})

	e := NewEngine(gw, breaker.New(breaker.DefaultConfig()), fastRetry(1), NewBestPrice())
	cfg := DefaultAggregationConfig()
	cfg.MaxQuotes = 2

	res, err := e.Aggregate(context.Background(), testRfq(models.Buy),
		[]*models.Venue{testVenue("a"), testVenue("bb"), testVenue("ccc"), testVenue("dddd")}, cfg)
	require.NoError(t, err)
	assert.Len(t, res.RankedQuotes, 2)
}
