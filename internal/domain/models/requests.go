package models

// Requests for the RFQ HTTP endpoints. Defined in domain for consistency and reuse.

type CreateRfqRequest struct {
	CounterpartyID string  `json:"counterparty_id" validate:"required"`
	Instrument     string  `json:"instrument" validate:"required"`
	Side           string  `json:"side" validate:"required,oneof=BUY SELL"`
	Quantity       string  `json:"quantity" validate:"required"`
	LimitPrice     string  `json:"limit_price,omitempty"`
	TTLSeconds     int     `json:"ttl_seconds" default:"30" validate:"gte=1,lte=600"`
	Venues         []string `json:"venues,omitempty"`
	Strategy       string  `json:"strategy,omitempty" validate:"omitempty,oneof=best_price weighted_score"`
	MinQuotes      int     `json:"min_quotes" default:"0" validate:"gte=0,lte=50"`
}

type FillPlanRequest struct {
	Strategy     string `json:"strategy,omitempty" validate:"omitempty,oneof=best_price weighted_score"`
	FillStrategy string `json:"fill_strategy,omitempty" validate:"omitempty,oneof=best_price pro_rata"`
	Mode         string `json:"mode,omitempty" validate:"omitempty,oneof=ALL_OR_NOTHING FILL_OR_KILL MIN_QUANTITY BEST_EFFORT"`
	MinQuantity  string `json:"min_quantity,omitempty"`
}

type ExecuteRfqRequest struct {
	QuoteID string `json:"quote_id" validate:"required"`
}

type ListTradesRequest struct {
	VenueID string `query:"venue" json:"venue"`
	Limit   int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}
