package repository

import (
	"context"
	"fmt"

	"RFQHub/internal/domain/models"
)

// ErrorKind classifies venue gateway failures. Timeout and Connection are
// transient (retry-eligible); Rejected and Malformed are permanent.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "TIMEOUT"
	KindConnection ErrorKind = "CONNECTION"
	KindRejected   ErrorKind = "REJECTED"
	KindMalformed  ErrorKind = "MALFORMED"
)

// GatewayError is the failure contract of a venue gateway call.
type GatewayError struct {
	VenueID string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue %s: %s: %s: %v", e.VenueID, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("venue %s: %s: %s", e.VenueID, e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports whether the failure may succeed on retry.
func (e *GatewayError) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindConnection
}

// NewGatewayError builds a GatewayError for a venue.
func NewGatewayError(venueID string, kind ErrorKind, message string, err error) *GatewayError {
	return &GatewayError{VenueID: venueID, Kind: kind, Message: message, Err: err}
}

// VenueGateway requests a quote from a single venue. Implementations map
// their transport failures onto GatewayError; any other error is treated
// as a connection failure by the caller.
type VenueGateway interface {
	RequestQuote(ctx context.Context, venue *models.Venue, rfq *models.RFQ) (*models.Quote, error)
}
