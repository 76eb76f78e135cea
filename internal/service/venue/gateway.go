package venue

import (
	"context"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/ratelimit"
)

// Dispatcher routes a quote request to the adapter matching the venue's
// transport and enforces the per-venue request budget before dialing out.
type Dispatcher struct {
	http    drepo.VenueGateway
	ws      drepo.VenueGateway
	limiter *ratelimit.Limiter
}

// NewDispatcher creates a gateway dispatcher over the transport adapters.
func NewDispatcher(httpGW, wsGW drepo.VenueGateway, limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{http: httpGW, ws: wsGW, limiter: limiter}
}

func (d *Dispatcher) RequestQuote(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
	if d.limiter != nil && v.MaxInFlight > 0 {
		cap := float64(v.MaxInFlight)
		if !d.limiter.Allow(v.ID, cap, cap) {
			// transient: the retry policy backs off and tries again
			return nil, drepo.NewGatewayError(v.ID, drepo.KindConnection, "venue request budget exhausted", nil)
		}
	}

	switch v.Type {
	case models.VenueWebSocket:
		if d.ws == nil {
			return nil, drepo.NewGatewayError(v.ID, drepo.KindRejected, "websocket transport not configured", nil)
		}
		return d.ws.RequestQuote(ctx, v, rfq)
	default:
		if d.http == nil {
			return nil, drepo.NewGatewayError(v.ID, drepo.KindRejected, "http transport not configured", nil)
		}
		return d.http.RequestQuote(ctx, v, rfq)
	}
}
