package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"RFQHub/internal/domain/models"
	"RFQHub/internal/usecase"
	xhttp "RFQHub/pkg/http"
	xlogger "RFQHub/pkg/logger"
)

// RfqEchoHandler implements Echo-based HTTP handlers for the RFQ API.
type RfqEchoHandler struct {
	logger *xlogger.Logger
	svc    *usecase.RfqService
}

func NewRfqEchoHandler(logger *xlogger.Logger, svc *usecase.RfqService) *RfqEchoHandler {
	return &RfqEchoHandler{logger: logger, svc: svc}
}

func (h *RfqEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/rfqs", h.Create)
	g.GET("/rfqs/:id", h.Get)
	g.POST("/rfqs/:id/execute", h.Execute)
	g.POST("/rfqs/:id/fill-plan", h.FillPlan)
	g.DELETE("/rfqs/:id", h.Cancel)
	g.GET("/venues", h.Venues)
	g.GET("/venues/:id/health", h.VenueHealth)
	g.GET("/trades", h.Trades)
}

type rfqView struct {
	ID              string `json:"id"`
	CounterpartyID  string `json:"counterparty_id"`
	Instrument      string `json:"instrument"`
	Side            string `json:"side"`
	Quantity        string `json:"quantity"`
	LimitPrice      string `json:"limit_price,omitempty"`
	Status          string `json:"status"`
	SelectedQuoteID string `json:"selected_quote_id,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	ExpiresAt       string `json:"expires_at"`
}

type quoteView struct {
	ID         string  `json:"id"`
	VenueID    string  `json:"venue_id"`
	Price      string  `json:"price"`
	Quantity   string  `json:"quantity"`
	ValidUntil string  `json:"valid_until"`
	Rank       int     `json:"rank,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

type failureView struct {
	VenueID string `json:"venue_id"`
	Reason  string `json:"reason"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

type createRfqResponse struct {
	Rfq             rfqView       `json:"rfq"`
	Quotes          []quoteView   `json:"quotes"`
	Failures        []failureView `json:"failures,omitempty"`
	VenuesQueried   int           `json:"venues_queried"`
	VenuesResponded int           `json:"venues_responded"`
	FilteredOut     int           `json:"filtered_out"`
	ElapsedMs       int64         `json:"elapsed_ms"`
}

func (h *RfqEchoHandler) Create(c echo.Context) error {
	req := &models.CreateRfqRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rfq, result, err := h.svc.CreateRfq(c.Request().Context(), req)
	if err != nil {
		if appErr := domainError(err); appErr != nil {
			return xhttp.AppErrorResponse(c, appErr)
		}
		h.logger.Error("create rfq error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	resp := createRfqResponse{
		Rfq:             toRfqView(rfq),
		Quotes:          make([]quoteView, 0, len(result.RankedQuotes)),
		VenuesQueried:   result.VenuesQueried,
		VenuesResponded: result.VenuesResponded,
		FilteredOut:     result.FilteredOut,
		ElapsedMs:       result.Elapsed.Milliseconds(),
	}
	for _, rq := range result.RankedQuotes {
		resp.Quotes = append(resp.Quotes, toRankedQuoteView(rq))
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, failureView{
			VenueID: f.VenueID,
			Reason:  string(f.Reason),
			Kind:    f.Kind,
			Message: f.Message,
		})
	}
	return xhttp.CreatedResponse(c, resp)
}

func (h *RfqEchoHandler) Get(c echo.Context) error {
	rfq, quotes, err := h.svc.GetRfq(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.NotFoundResponse(c, "rfq not found")
	}

	views := make([]quoteView, 0, len(quotes))
	for _, q := range quotes {
		views = append(views, toQuoteView(q))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"rfq":    toRfqView(rfq),
		"quotes": views,
	})
}

type tradeView struct {
	ID         string `json:"id"`
	RfqID      string `json:"rfq_id"`
	QuoteID    string `json:"quote_id"`
	VenueID    string `json:"venue_id"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Status     string `json:"status"`
	TxRef      string `json:"tx_ref,omitempty"`
	ExecutedAt string `json:"executed_at"`
	SettledAt  string `json:"settled_at,omitempty"`
}

func (h *RfqEchoHandler) Execute(c echo.Context) error {
	req := &models.ExecuteRfqRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	trade, err := h.svc.Execute(c.Request().Context(), c.Param("id"), req.QuoteID)
	if err != nil {
		if appErr := domainError(err); appErr != nil {
			return xhttp.AppErrorResponse(c, appErr)
		}
		h.logger.Error("execute rfq error",
			xlogger.String("rfq_id", c.Param("id")),
			xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.CreatedResponse(c, toTradeView(trade))
}

type allocationView struct {
	VenueID  string `json:"venue_id"`
	QuoteID  string `json:"quote_id"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Notional string `json:"notional"`
}

// FillPlan previews how the RFQ's quantity would split across its quotes.
func (h *RfqEchoHandler) FillPlan(c echo.Context) error {
	req := &models.FillPlanRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	allocs, err := h.svc.PlanFill(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		if appErr := domainError(err); appErr != nil {
			return xhttp.AppErrorResponse(c, appErr)
		}
		h.logger.Error("fill plan error",
			xlogger.String("rfq_id", c.Param("id")),
			xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	views := make([]allocationView, 0, len(allocs))
	for _, a := range allocs {
		views = append(views, allocationView{
			VenueID:  a.VenueID,
			QuoteID:  a.QuoteID,
			Quantity: a.Quantity.String(),
			Price:    a.Price.String(),
			Notional: a.Notional().String(),
		})
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

// domainError maps known service errors to coded API errors. Unknown
// errors return nil and are treated as internal.
func domainError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, usecase.ErrCounterpartyUnknown):
		return xhttp.NewAppError("ERR_UNKNOWN_COUNTERPARTY", "counterparty_id", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrUnknownStrategy):
		return xhttp.NewAppError("ERR_UNKNOWN_STRATEGY", "strategy", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrNoVenues):
		return xhttp.BadRequestError(err.Error())
	case errors.Is(err, usecase.ErrExpiredRfq):
		return xhttp.NewAppError("ERR_RFQ_EXPIRED", "", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrRfqNotQuoted):
		return xhttp.NewAppError("ERR_RFQ_NOT_QUOTED", "", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrQuoteNotFound):
		return xhttp.NewAppError("ERR_QUOTE_NOT_FOUND", "quote_id", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrQuoteExpired):
		return xhttp.NewAppError("ERR_QUOTE_EXPIRED", "quote_id", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrUnknownFillStrategy):
		return xhttp.NewAppError("ERR_UNKNOWN_FILL_STRATEGY", "fill_strategy", err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrNoQuotesToFill):
		return xhttp.NewAppError("ERR_NO_QUOTES", "", err.Error(), http.StatusConflict)
	case errors.Is(err, usecase.ErrInsufficientLiquidity):
		return xhttp.NewAppError("ERR_INSUFFICIENT_LIQUIDITY", "", err.Error(), http.StatusConflict)
	case errors.Is(err, usecase.ErrFillBelowMinimum):
		return xhttp.NewAppError("ERR_MIN_QUANTITY_NOT_MET", "min_quantity", err.Error(), http.StatusConflict)
	}
	return nil
}

func (h *RfqEchoHandler) Cancel(c echo.Context) error {
	if err := h.svc.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		if appErr := domainError(err); appErr != nil {
			return xhttp.AppErrorResponse(c, appErr)
		}
		return xhttp.BadRequestResponse(c, err.Error())
	}
	return xhttp.NoContentResponse(c)
}

type venueView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Endpoint    string `json:"endpoint"`
	Enabled     bool   `json:"enabled"`
	TimeoutMs   int64  `json:"timeout_ms"`
	MaxInFlight int    `json:"max_in_flight"`
}

func (h *RfqEchoHandler) Venues(c echo.Context) error {
	venues, err := h.svc.ListVenues(c.Request().Context())
	if err != nil {
		h.logger.Error("list venues error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	views := make([]venueView, 0, len(venues))
	for _, v := range venues {
		views = append(views, venueView{
			ID:          v.ID,
			Name:        v.Name,
			Type:        string(v.Type),
			Endpoint:    v.Endpoint,
			Enabled:     v.Enabled,
			TimeoutMs:   v.Timeout.Milliseconds(),
			MaxInFlight: v.MaxInFlight,
		})
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func (h *RfqEchoHandler) VenueHealth(c echo.Context) error {
	health, err := h.svc.VenueHealth(c.Request().Context(), c.Param("id"))
	if err != nil {
		return xhttp.NotFoundResponse(c, "venue not found")
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"venue_id":      health.VenueID,
		"breaker_state": health.BreakerState,
		"failures":      health.Failures,
		"success_rate":  health.SuccessRate,
		"checked_at":    health.CheckedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *RfqEchoHandler) Trades(c echo.Context) error {
	req := &models.ListTradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	since := xhttp.ParseTimeDefault(c.QueryParam("since"), time.Time{})

	trades, err := h.svc.ListTrades(c.Request().Context(), req.VenueID, req.Limit)
	if err != nil {
		h.logger.Error("list trades error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		if !since.IsZero() && t.ExecutedAt.Before(since) {
			continue
		}
		views = append(views, toTradeView(t))
	}
	return xhttp.ListResponse(c, views, int64(len(views)))
}

func toRfqView(r *models.RFQ) rfqView {
	v := rfqView{
		ID:              r.ID,
		CounterpartyID:  r.CounterpartyID,
		Instrument:      r.Instrument,
		Side:            string(r.Side),
		Quantity:        r.Quantity.String(),
		Status:          string(r.Status),
		SelectedQuoteID: r.SelectedQuoteID,
		FailureReason:   r.FailureReason,
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:       r.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if r.LimitPrice != nil {
		v.LimitPrice = r.LimitPrice.String()
	}
	return v
}

func toQuoteView(q models.Quote) quoteView {
	return quoteView{
		ID:         q.ID,
		VenueID:    q.VenueID,
		Price:      q.Price.String(),
		Quantity:   q.Quantity.String(),
		ValidUntil: q.ValidUntil.UTC().Format(time.RFC3339Nano),
	}
}

func toRankedQuoteView(rq models.RankedQuote) quoteView {
	v := toQuoteView(rq.Quote)
	v.Rank = rq.Rank
	v.Score = rq.Score
	return v
}

func toTradeView(t *models.Trade) tradeView {
	v := tradeView{
		ID:         t.ID,
		RfqID:      t.RfqID,
		QuoteID:    t.QuoteID,
		VenueID:    t.VenueID,
		Side:       string(t.Side),
		Price:      t.Price.String(),
		Quantity:   t.Quantity.String(),
		Status:     string(t.Status),
		TxRef:      t.TxRef,
		ExecutedAt: t.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.SettledAt != nil {
		v.SettledAt = t.SettledAt.UTC().Format(time.RFC3339Nano)
	}
	return v
}
