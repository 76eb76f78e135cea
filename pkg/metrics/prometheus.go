package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	aggregations  *prometheus.HistogramVec
	quotesRanked  *prometheus.HistogramVec
	venueRequests *prometheus.CounterVec
	venueLatency  *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	retriesTotal  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		aggregations: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rfqhub_aggregation_duration_seconds",
				Help:    "End-to-end duration of quote aggregation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		quotesRanked: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rfqhub_aggregation_quotes",
				Help:    "Number of ranked quotes per aggregation",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"strategy"},
		),
		venueRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfqhub_venue_requests_total",
				Help: "Venue quote requests by terminal outcome",
			},
			[]string{"venue", "outcome"},
		),
		venueLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rfqhub_venue_request_duration_seconds",
				Help:    "Duration of venue quote requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"venue"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rfqhub_breaker_state",
				Help: "Circuit breaker state per venue (0 closed, 1 open, 2 half-open)",
			},
			[]string{"venue"},
		),
		retriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfqhub_venue_retries_total",
				Help: "Retry attempts per venue",
			},
			[]string{"venue"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rfqhub_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordAggregation records one finished aggregation call.
func (r *Recorder) RecordAggregation(strategy string, quotes int, seconds float64) {
	r.aggregations.WithLabelValues(strategy).Observe(seconds)
	r.quotesRanked.WithLabelValues(strategy).Observe(float64(quotes))
}

// RecordVenueRequest records a venue request terminal outcome.
func (r *Recorder) RecordVenueRequest(venueID, outcome string, seconds float64) {
	r.venueRequests.WithLabelValues(venueID, outcome).Inc()
	if seconds > 0 {
		r.venueLatency.WithLabelValues(venueID).Observe(seconds)
	}
}

// RecordBreakerState records a breaker state transition.
func (r *Recorder) RecordBreakerState(venueID string, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half_open":
		v = 2
	}
	r.breakerState.WithLabelValues(venueID).Set(v)
}

// RecordRetry records one retry attempt for a venue.
func (r *Recorder) RecordRetry(venueID string) {
	r.retriesTotal.WithLabelValues(venueID).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
