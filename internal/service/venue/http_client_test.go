package venue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/ratelimit"
)

func wireRfq() *models.RFQ {
	return &models.RFQ{
		ID:         "rfq-wire",
		Instrument: "BTC-USD",
		Side:       models.Buy,
		Quantity:   decimal.NewFromInt(10),
		Status:     models.RfqAggregating,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Minute),
	}
}

func wireVenue(endpoint string) *models.Venue {
	return &models.Venue{
		ID:       "lp-wire",
		Name:     "Wire LP",
		Type:     models.VenueHTTP,
		Endpoint: endpoint,
		Enabled:  true,
		Timeout:  time.Second,
	}
}

func TestHTTPGatewayParsesQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rfq/quote", r.URL.Path)

		var req quoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rfq-wire", req.RfqID)
		assert.Equal(t, "BUY", req.Side)

		json.NewEncoder(w).Encode(quoteResponse{
			QuoteID:    "q-1",
			Price:      "101.25",
			Quantity:   "10",
			ValidUntil: time.Now().Add(5 * time.Second).Format(time.RFC3339Nano),
		})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(time.Second)
	q, err := gw.RequestQuote(context.Background(), wireVenue(srv.URL), wireRfq())
	require.NoError(t, err)
	assert.Equal(t, "q-1", q.ID)
	assert.Equal(t, "rfq-wire", q.RfqID)
	assert.Equal(t, "lp-wire", q.VenueID)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("101.25")))
}

func TestHTTPGatewayStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   drepo.ErrorKind
	}{
		{http.StatusBadRequest, drepo.KindMalformed},
		{http.StatusForbidden, drepo.KindRejected},
		{http.StatusUnprocessableEntity, drepo.KindRejected},
		{http.StatusGatewayTimeout, drepo.KindTimeout},
		{http.StatusInternalServerError, drepo.KindConnection},
		{http.StatusBadGateway, drepo.KindConnection},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		gw := NewHTTPGateway(time.Second)
		_, err := gw.RequestQuote(context.Background(), wireVenue(srv.URL), wireRfq())
		srv.Close()

		var ge *drepo.GatewayError
		require.ErrorAs(t, err, &ge, "status %d", tc.status)
		assert.Equal(t, tc.kind, ge.Kind, "status %d", tc.status)
	}
}

func TestHTTPGatewayTimeoutIsTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() never fires
		// and srv.Close hangs on this connection.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	gw := NewHTTPGateway(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := gw.RequestQuote(ctx, wireVenue(srv.URL), wireRfq())
	var ge *drepo.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, drepo.KindTimeout, ge.Kind)
	assert.True(t, ge.Transient())
}

func TestHTTPGatewayConnectionRefused(t *testing.T) {
	gw := NewHTTPGateway(time.Second)
	_, err := gw.RequestQuote(context.Background(), wireVenue("http://127.0.0.1:1"), wireRfq())

	var ge *drepo.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, drepo.KindConnection, ge.Kind)
	assert.True(t, ge.Transient())
}

func TestHTTPGatewayMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	gw := NewHTTPGateway(time.Second)
	_, err := gw.RequestQuote(context.Background(), wireVenue(srv.URL), wireRfq())

	var ge *drepo.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, drepo.KindMalformed, ge.Kind)
	assert.False(t, ge.Transient())
}

func TestDispatcherRateLimitDenialIsTransient(t *testing.T) {
	calls := 0
	gw := gatewayStub(func(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		calls++
		return nil, nil
	})

	d := NewDispatcher(gw, nil, ratelimit.New())
	v := wireVenue("http://unused")
	v.MaxInFlight = 1

	_, err := d.RequestQuote(context.Background(), v, wireRfq())
	require.NoError(t, err)

	_, err = d.RequestQuote(context.Background(), v, wireRfq())
	var ge *drepo.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, drepo.KindConnection, ge.Kind)
	assert.True(t, ge.Transient())
	assert.Equal(t, 1, calls)
}

type gatewayStub func(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error)

func (f gatewayStub) RequestQuote(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
	return f(ctx, v, rfq)
}

func TestDispatcherRoutesWebSocketVenues(t *testing.T) {
	httpCalled, wsCalled := false, false
	httpGW := gatewayStub(func(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		httpCalled = true
		return nil, nil
	})
	wsGW := gatewayStub(func(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
		wsCalled = true
		return nil, nil
	})

	d := NewDispatcher(httpGW, wsGW, nil)

	v := wireVenue("ws://unused")
	v.Type = models.VenueWebSocket
	_, err := d.RequestQuote(context.Background(), v, wireRfq())
	require.NoError(t, err)
	assert.True(t, wsCalled)
	assert.False(t, httpCalled)
}

func TestDispatcherMissingTransportRejected(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	_, err := d.RequestQuote(context.Background(), wireVenue("http://unused"), wireRfq())

	var ge *drepo.GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, drepo.KindRejected, ge.Kind)
	assert.False(t, errors.Is(err, context.Canceled))
}
