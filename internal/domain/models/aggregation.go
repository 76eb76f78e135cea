package models

import "time"

// FailureReason classifies why a venue produced no usable quote.
type FailureReason string

const (
	FailureTimeout      FailureReason = "TIMEOUT"
	FailureCircuitOpen  FailureReason = "CIRCUIT_OPEN"
	FailureGatewayError FailureReason = "GATEWAY_ERROR"
)

// VenueFailure records a venue that failed or was skipped during one aggregation.
type VenueFailure struct {
	VenueID string
	Reason  FailureReason
	// Kind carries the gateway error kind when Reason is GATEWAY_ERROR.
	Kind    string
	Message string
}

// AggregationResult is the outcome of one aggregation call. Immutable once
// returned. An empty RankedQuotes slice is a legitimate business outcome,
// not an error.
type AggregationResult struct {
	RfqID           string
	RankedQuotes    []RankedQuote
	Failures        []VenueFailure
	VenuesQueried   int
	VenuesResponded int
	FilteredOut     int
	Elapsed         time.Duration
}

// BestQuote returns the top-ranked quote, or nil if none survived ranking.
func (r *AggregationResult) BestQuote() *RankedQuote {
	if len(r.RankedQuotes) == 0 {
		return nil
	}
	return &r.RankedQuotes[0]
}

// FailureFor returns the recorded failure for a venue, if any.
func (r *AggregationResult) FailureFor(venueID string) (VenueFailure, bool) {
	for _, f := range r.Failures {
		if f.VenueID == venueID {
			return f, true
		}
	}
	return VenueFailure{}, false
}
