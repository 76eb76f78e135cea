package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/breaker"
	"RFQHub/internal/service/retry"
	"RFQHub/internal/usecase"
	xlogger "RFQHub/pkg/logger"
)

func testLogger(t *testing.T) *xlogger.Logger {
	t.Helper()
	l, err := xlogger.New(&xlogger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

var errNotFound = errors.New("not found")

type fakeStore struct {
	mu     sync.Mutex
	rfqs   map[string]*models.RFQ
	quotes map[string][]models.Quote
	trades map[string]*models.Trade
	venues []*models.Venue
	cps    map[string]*models.Counterparty
}

func newFakeStore(venues ...*models.Venue) *fakeStore {
	return &fakeStore{
		rfqs:   map[string]*models.RFQ{},
		quotes: map[string][]models.Quote{},
		trades: map[string]*models.Trade{},
		venues: venues,
		cps: map[string]*models.Counterparty{
			"cp-1": {ID: "cp-1", Name: "Alpha Fund", Active: true},
		},
	}
}

func (f *fakeStore) Save(_ context.Context, r *models.RFQ) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.rfqs[r.ID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*models.RFQ, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rfqs[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status models.RfqStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rfqs[id]
	if !ok {
		return errNotFound
	}
	r.Status = status
	r.FailureReason = reason
	return nil
}

func (f *fakeStore) SaveQuotes(_ context.Context, rfqID string, quotes []models.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[rfqID] = append(f.quotes[rfqID], quotes...)
	return nil
}

func (f *fakeStore) QuotesForRfq(_ context.Context, rfqID string) ([]models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Quote(nil), f.quotes[rfqID]...), nil
}

type fakeTrades struct{ f *fakeStore }

func (t fakeTrades) Save(_ context.Context, tr *models.Trade) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	cp := *tr
	t.f.trades[tr.ID] = &cp
	return nil
}

func (t fakeTrades) Get(_ context.Context, id string) (*models.Trade, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	tr, ok := t.f.trades[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *tr
	return &cp, nil
}

func (t fakeTrades) MarkSettled(_ context.Context, id, txRef string, at time.Time) error { return nil }
func (t fakeTrades) MarkFailed(_ context.Context, id, reason string) error               { return nil }

func (t fakeTrades) List(_ context.Context, venueID string, limit int) ([]*models.Trade, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	var res []*models.Trade
	for _, tr := range t.f.trades {
		if venueID == "" || tr.VenueID == venueID {
			cp := *tr
			res = append(res, &cp)
		}
	}
	return res, nil
}

type fakeVenues struct{ f *fakeStore }

func (v fakeVenues) Save(_ context.Context, venue *models.Venue) error { return nil }

func (v fakeVenues) Get(_ context.Context, id string) (*models.Venue, error) {
	for _, ven := range v.f.venues {
		if ven.ID == id {
			return ven, nil
		}
	}
	return nil, errNotFound
}

func (v fakeVenues) ListEnabled(_ context.Context) ([]*models.Venue, error) {
	return v.f.venues, nil
}

type fakeCps struct{ f *fakeStore }

func (c fakeCps) Save(_ context.Context, cp *models.Counterparty) error { return nil }

func (c fakeCps) Get(_ context.Context, id string) (*models.Counterparty, error) {
	cp, ok := c.f.cps[id]
	if !ok {
		return nil, errNotFound
	}
	return cp, nil
}

type okGateway struct{}

func (okGateway) RequestQuote(_ context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
	return &models.Quote{
		ID:         v.ID + "-q",
		RfqID:      rfq.ID,
		VenueID:    v.ID,
		Price:      decimal.NewFromInt(100),
		Quantity:   rfq.Quantity,
		ReceivedAt: time.Now(),
		ValidUntil: time.Now().Add(time.Minute),
	}, nil
}

var _ drepo.VenueGateway = okGateway{}

func newTestHandler(t *testing.T) (*echo.Echo, *fakeStore) {
	t.Helper()

	store := newFakeStore(
		&models.Venue{ID: "lp-1", Name: "LP One", Type: models.VenueHTTP, Enabled: true},
		&models.Venue{ID: "lp-2", Name: "LP Two", Type: models.VenueHTTP, Enabled: true},
	)

	breakers := breaker.New(breaker.DefaultConfig())
	policy := retry.New(retry.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond})
	engines := map[string]*usecase.Engine{
		"best_price": usecase.NewEngine(okGateway{}, breakers, policy, usecase.NewBestPrice()),
	}

	svc, err := usecase.NewRfqService(store, fakeTrades{store}, fakeVenues{store}, fakeCps{store},
		breakers, engines, "best_price",
		usecase.WithAggregationConfig(usecase.AggregationConfig{
			Deadline:        500 * time.Millisecond,
			PerVenueTimeout: 100 * time.Millisecond,
		}),
	)
	require.NoError(t, err)

	e := echo.New()
	NewRfqEchoHandler(testLogger(t), svc).RegisterRoutes(e)
	return e, store
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateRfqEndpoint(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-1","instrument":"WETH/USDC","side":"BUY","quantity":"10","ttl_seconds":30}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Status int `json:"status"`
		Data   struct {
			Rfq struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"rfq"`
			Quotes        []map[string]interface{} `json:"quotes"`
			VenuesQueried int                      `json:"venues_queried"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusCreated, env.Status)
	assert.Equal(t, "QUOTED", env.Data.Rfq.Status)
	assert.Len(t, env.Data.Quotes, 2)
	assert.Equal(t, 2, env.Data.VenuesQueried)
}

func TestCreateRfqValidation(t *testing.T) {
	e, _ := newTestHandler(t)

	// missing side
	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-1","instrument":"WETH/USDC","quantity":"10"}`)
	var env struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestCreateRfqUnknownCounterpartyIsBadRequest(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-ghost","instrument":"WETH/USDC","side":"BUY","quantity":"10"}`)
	var env struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestGetRfqEndpoint(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-1","instrument":"WETH/USDC","side":"BUY","quantity":"10"}`)
	var created struct {
		Data struct {
			Rfq struct {
				ID string `json:"id"`
			} `json:"rfq"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(e, http.MethodGet, "/api/rfqs/"+created.Data.Rfq.ID, "")
	var env struct {
		Status int `json:"status"`
		Data   struct {
			Quotes []map[string]interface{} `json:"quotes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Len(t, env.Data.Quotes, 2)

	rec = doJSON(e, http.MethodGet, "/api/rfqs/nope", "")
	// error envelopes carry a string/array in data; decode leniently
	var errEnv struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnv))
	assert.Equal(t, http.StatusNotFound, errEnv.Status)
}

func TestExecuteEndpoint(t *testing.T) {
	e, store := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-1","instrument":"WETH/USDC","side":"BUY","quantity":"10"}`)
	var created struct {
		Data struct {
			Rfq struct {
				ID string `json:"id"`
			} `json:"rfq"`
			Quotes []struct {
				ID string `json:"id"`
			} `json:"quotes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.Quotes)

	rec = doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/execute",
		`{"quote_id":"`+created.Data.Quotes[0].ID+`"}`)
	var env struct {
		Status int `json:"status"`
		Data   struct {
			Status  string `json:"status"`
			VenueID string `json:"venue_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusCreated, env.Status)
	assert.Equal(t, "PENDING", env.Data.Status)
	assert.Len(t, store.trades, 1)

	// executing again is rejected: rfq moved out of QUOTED
	rec = doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/execute",
		`{"quote_id":"`+created.Data.Quotes[0].ID+`"}`)
	// error envelopes carry a string/array in data; decode leniently
	var errEnv struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnv))
	assert.Equal(t, http.StatusBadRequest, errEnv.Status)
}

func TestFillPlanEndpoint(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-1","instrument":"WETH/USDC","side":"BUY","quantity":"10"}`)
	var created struct {
		Data struct {
			Rfq struct {
				ID string `json:"id"`
			} `json:"rfq"`
			Quotes []struct {
				ID string `json:"id"`
			} `json:"quotes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.Quotes)

	var env struct {
		Status int `json:"status"`
		Data   struct {
			Rows []struct {
				VenueID  string `json:"venue_id"`
				Quantity string `json:"quantity"`
				Notional string `json:"notional"`
			} `json:"rows"`
		} `json:"data"`
	}

	// the cascade takes everything from the top-ranked quote
	rec = doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/fill-plan", `{}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, http.StatusOK, env.Status)
	require.Len(t, env.Data.Rows, 1)
	assert.Equal(t, "10", env.Data.Rows[0].Quantity)
	assert.Equal(t, "1000", env.Data.Rows[0].Notional)

	// pro rata splits across both venues
	rec = doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/fill-plan",
		`{"fill_strategy":"pro_rata","mode":"ALL_OR_NOTHING"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, http.StatusOK, env.Status)
	require.Len(t, env.Data.Rows, 2)
	assert.Equal(t, "5", env.Data.Rows[0].Quantity)
	assert.Equal(t, "5", env.Data.Rows[1].Quantity)

	// once executed the rfq leaves QUOTED and can no longer be planned
	doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/execute",
		`{"quote_id":"`+created.Data.Quotes[0].ID+`"}`)
	rec = doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/fill-plan", `{}`)
	// error envelopes carry a string/array in data; decode leniently
	var errEnv struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnv))
	assert.Equal(t, http.StatusBadRequest, errEnv.Status)
}

func TestVenuesEndpoints(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodGet, "/api/venues", "")
	var env struct {
		Status int `json:"status"`
		Data   struct {
			Rows  []map[string]interface{} `json:"rows"`
			Total int64                    `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, int64(2), env.Data.Total)

	rec = doJSON(e, http.MethodGet, "/api/venues/lp-1/health", "")
	var health struct {
		Status int `json:"status"`
		Data   struct {
			BreakerState string `json:"breaker_state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, http.StatusOK, health.Status)
	assert.Equal(t, "closed", health.Data.BreakerState)

	rec = doJSON(e, http.MethodGet, "/api/venues/lp-ghost/health", "")
	// error envelopes carry a string/array in data; decode leniently
	var errEnv struct {
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnv))
	assert.Equal(t, http.StatusNotFound, errEnv.Status)
}

func TestTradesEndpoint(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodGet, "/api/trades?limit=10", "")
	var env struct {
		Status int `json:"status"`
		Data   struct {
			Rows  []map[string]interface{} `json:"rows"`
			Total int64                    `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, int64(0), env.Data.Total)
}

func TestTradesEndpointSinceFilter(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := doJSON(e, http.MethodPost, "/api/rfqs",
		`{"counterparty_id":"cp-1","instrument":"WETH/USDC","side":"BUY","quantity":"10","ttl_seconds":30}`)
	var created struct {
		Data struct {
			Rfq struct {
				ID string `json:"id"`
			} `json:"rfq"`
			Quotes []struct {
				ID string `json:"id"`
			} `json:"quotes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.Quotes)

	doJSON(e, http.MethodPost, "/api/rfqs/"+created.Data.Rfq.ID+"/execute",
		`{"quote_id":"`+created.Data.Quotes[0].ID+`"}`)

	var env struct {
		Status int `json:"status"`
		Data   struct {
			Rows []map[string]interface{} `json:"rows"`
		} `json:"data"`
	}

	rec = doJSON(e, http.MethodGet, "/api/trades", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Len(t, env.Data.Rows, 1)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = doJSON(e, http.MethodGet, "/api/trades?since="+url.QueryEscape(future), "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Empty(t, env.Data.Rows)
}
