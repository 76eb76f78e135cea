package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// RfqStatus tracks the request lifecycle from creation to settlement.
type RfqStatus string

const (
	RfqPending     RfqStatus = "PENDING"
	RfqAggregating RfqStatus = "AGGREGATING"
	RfqQuoted      RfqStatus = "QUOTED"
	RfqExecuting   RfqStatus = "EXECUTING"
	RfqCompleted   RfqStatus = "COMPLETED"
	RfqFailed      RfqStatus = "FAILED"
	RfqExpired     RfqStatus = "EXPIRED"
	RfqCancelled   RfqStatus = "CANCELLED"
)

// RFQ is an immutable request for quote. It is read-only during aggregation;
// status transitions happen through the RFQ service, not the engine.
type RFQ struct {
	ID              string
	CounterpartyID  string
	Instrument      string
	Side            Side
	Quantity        decimal.Decimal
	LimitPrice      *decimal.Decimal
	Status          RfqStatus
	SelectedQuoteID string
	FailureReason   string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the RFQ is past its expiry at the given instant.
func (r *RFQ) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Active reports whether the RFQ can still accept quotes.
func (r *RFQ) Active() bool {
	switch r.Status {
	case RfqPending, RfqAggregating, RfqQuoted:
		return true
	default:
		return false
	}
}
