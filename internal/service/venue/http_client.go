package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	xhttp "RFQHub/pkg/http"
)

// HTTPGateway requests quotes from venues speaking the JSON RFQ protocol.
type HTTPGateway struct {
	client *xhttp.Client
}

// NewHTTPGateway creates an HTTP venue gateway.
func NewHTTPGateway(timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

type quoteRequest struct {
	RfqID      string `json:"rfq_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity"`
	LimitPrice string `json:"limit_price,omitempty"`
	ExpiresAt  string `json:"expires_at"`
}

type quoteResponse struct {
	QuoteID    string `json:"quote_id"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	ValidUntil string `json:"valid_until"`
}

func (g *HTTPGateway) RequestQuote(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
	body := quoteRequest{
		RfqID:      rfq.ID,
		Instrument: rfq.Instrument,
		Side:       string(rfq.Side),
		Quantity:   rfq.Quantity.String(),
		ExpiresAt:  rfq.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if rfq.LimitPrice != nil {
		body.LimitPrice = rfq.LimitPrice.String()
	}

	resp, err := g.client.SendRequest(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    v.Endpoint + "/rfq/quote",
		Body:   body,
	})
	if err != nil {
		return nil, classifyTransport(v.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(v.ID, resp.StatusCode, string(msg))
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, drepo.NewGatewayError(v.ID, drepo.KindMalformed, "undecodable quote payload", err)
	}
	return buildQuote(v.ID, rfq.ID, qr)
}

func buildQuote(venueID, rfqID string, qr quoteResponse) (*models.Quote, error) {
	price, err := decimal.NewFromString(qr.Price)
	if err != nil {
		return nil, drepo.NewGatewayError(venueID, drepo.KindMalformed, fmt.Sprintf("bad price %q", qr.Price), err)
	}
	qty, err := decimal.NewFromString(qr.Quantity)
	if err != nil {
		return nil, drepo.NewGatewayError(venueID, drepo.KindMalformed, fmt.Sprintf("bad quantity %q", qr.Quantity), err)
	}

	now := time.Now()
	validUntil := now.Add(5 * time.Second)
	if qr.ValidUntil != "" {
		if ts, perr := time.Parse(time.RFC3339Nano, qr.ValidUntil); perr == nil {
			validUntil = ts
		}
	}

	id := qr.QuoteID
	if id == "" {
		id = uuid.NewString()
	}
	return &models.Quote{
		ID:         id,
		RfqID:      rfqID,
		VenueID:    venueID,
		Price:      price,
		Quantity:   qty,
		ReceivedAt: now,
		ValidUntil: validUntil,
	}, nil
}

// classifyTransport maps dial/read errors onto the gateway taxonomy.
func classifyTransport(venueID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return drepo.NewGatewayError(venueID, drepo.KindTimeout, "request timed out", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return drepo.NewGatewayError(venueID, drepo.KindTimeout, "request timed out", err)
	}
	return drepo.NewGatewayError(venueID, drepo.KindConnection, "request failed", err)
}

func classifyStatus(venueID string, status int, msg string) error {
	switch {
	case status == http.StatusBadRequest:
		return drepo.NewGatewayError(venueID, drepo.KindMalformed, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return drepo.NewGatewayError(venueID, drepo.KindTimeout, msg, nil)
	case status >= 400 && status < 500:
		return drepo.NewGatewayError(venueID, drepo.KindRejected, msg, nil)
	default:
		return drepo.NewGatewayError(venueID, drepo.KindConnection, fmt.Sprintf("status %d: %s", status, msg), nil)
	}
}
