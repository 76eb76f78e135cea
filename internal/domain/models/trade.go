package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradePending TradeStatus = "PENDING"
	TradeSettled TradeStatus = "SETTLED"
	TradeFailed  TradeStatus = "FAILED"
)

// Trade is the execution record of a selected quote.
type Trade struct {
	ID         string
	RfqID      string
	QuoteID    string
	VenueID    string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Status     TradeStatus
	TxRef      string
	ExecutedAt time.Time
	SettledAt  *time.Time
}

// PerformanceEvent is one observation of a venue's behaviour during
// aggregation, published for reliability scoring and analytics.
type PerformanceEvent struct {
	VenueID   string
	RfqID     string
	Outcome   string // "success", "timeout", "error", "skipped"
	LatencyMs int64
	Timestamp time.Time
}
