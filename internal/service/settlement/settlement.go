package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	xhttp "RFQHub/pkg/http"
	xlogger "RFQHub/pkg/logger"
)

// HTTPClient settles trades against an external settlement service.
type HTTPClient struct {
	client  *xhttp.Client
	baseURL string
	logger  *xlogger.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, l *xlogger.Logger) *HTTPClient {
	return &HTTPClient{
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		baseURL: baseURL,
		logger:  l,
	}
}

type settleRequest struct {
	TradeID  string `json:"trade_id"`
	VenueID  string `json:"venue_id"`
	QuoteID  string `json:"quote_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type settleResponse struct {
	TxRef string `json:"tx_ref"`
}

func (c *HTTPClient) Settle(ctx context.Context, t *models.Trade) (string, error) {
	var resp settleResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.baseURL + "/settle",
		Body: settleRequest{
			TradeID:  t.ID,
			VenueID:  t.VenueID,
			QuoteID:  t.QuoteID,
			Side:     string(t.Side),
			Price:    t.Price.String(),
			Quantity: t.Quantity.String(),
		},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("settle trade %s: %w", t.ID, err)
	}
	if resp.TxRef == "" {
		return "", fmt.Errorf("settle trade %s: empty tx ref", t.ID)
	}
	return resp.TxRef, nil
}

var _ drepo.SettlementClient = (*HTTPClient)(nil)

// Noop acknowledges settlement locally without an external call. Used
// when no settlement rail is configured, mostly in development.
type Noop struct{}

func (Noop) Settle(_ context.Context, t *models.Trade) (string, error) {
	return "local-" + uuid.NewString(), nil
}

var _ drepo.SettlementClient = Noop{}
