package models

import "time"

// VenueType distinguishes how a venue is reached.
type VenueType string

const (
	VenueHTTP      VenueType = "HTTP"
	VenueWebSocket VenueType = "WEBSOCKET"
)

// Venue is a liquidity provider able to respond to RFQs.
type Venue struct {
	ID          string
	Name        string
	Type        VenueType
	Endpoint    string
	Enabled     bool
	Timeout     time.Duration
	MaxInFlight int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VenueHealth is a point-in-time view of a venue exposed by the API layer:
// breaker state plus recent performance.
type VenueHealth struct {
	VenueID      string
	BreakerState string
	Failures     int
	SuccessRate  float64
	AvgLatencyMs int64
	CheckedAt    time.Time
}

// Counterparty is a client allowed to submit RFQs.
type Counterparty struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}
