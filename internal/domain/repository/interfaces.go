package repository

import (
	"context"
	"time"

	"RFQHub/internal/domain/models"
)

type RfqRepository interface {
	Save(ctx context.Context, r *models.RFQ) error
	Get(ctx context.Context, id string) (*models.RFQ, error)
	UpdateStatus(ctx context.Context, id string, status models.RfqStatus, reason string) error
	SaveQuotes(ctx context.Context, rfqID string, quotes []models.Quote) error
	QuotesForRfq(ctx context.Context, rfqID string) ([]models.Quote, error)
}

type TradeRepository interface {
	Save(ctx context.Context, t *models.Trade) error
	Get(ctx context.Context, id string) (*models.Trade, error)
	MarkSettled(ctx context.Context, id, txRef string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	List(ctx context.Context, venueID string, limit int) ([]*models.Trade, error)
}

type VenueRepository interface {
	Save(ctx context.Context, v *models.Venue) error
	Get(ctx context.Context, id string) (*models.Venue, error)
	ListEnabled(ctx context.Context) ([]*models.Venue, error)
}

type CounterpartyRepository interface {
	Save(ctx context.Context, c *models.Counterparty) error
	Get(ctx context.Context, id string) (*models.Counterparty, error)
}

// PerformancePublisher streams venue performance events out of the hot path.
type PerformancePublisher interface {
	Publish(ctx context.Context, e *models.PerformanceEvent) error
	PublishBatch(ctx context.Context, events []*models.PerformanceEvent) error
	Close() error
}

// PerformanceStore persists performance events for analytics and reliability.
type PerformanceStore interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, e *models.PerformanceEvent) error
	StoreBatch(ctx context.Context, events []*models.PerformanceEvent) error
	SuccessRate(ctx context.Context, venueID string, window time.Duration) (float64, error)
	Health(ctx context.Context) error
}

// ReliabilityProvider scores a venue in [0,1] for the WeightedScore strategy.
type ReliabilityProvider interface {
	Reliability(ctx context.Context, venueID string) float64
}

type Metrics interface {
	RecordAggregation(strategy string, quotes int, seconds float64)
	RecordVenueRequest(venueID, outcome string, seconds float64)
	RecordBreakerState(venueID string, state string)
	RecordRetry(venueID string)
	RecordError(kind string)
}
