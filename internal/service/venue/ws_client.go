package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
)

// WSGateway requests quotes over persistent WebSocket connections. One
// connection per venue, shared across in-flight requests; replies are
// correlated back to waiters by rfq id.
type WSGateway struct {
	handshakeTimeout time.Duration
	pingInterval     time.Duration

	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewWSGateway creates a WebSocket venue gateway.
func NewWSGateway(handshakeTimeout, pingInterval time.Duration) *WSGateway {
	return &WSGateway{
		handshakeTimeout: handshakeTimeout,
		pingInterval:     pingInterval,
		conns:            make(map[string]*wsConn),
	}
}

type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan quoteResponse
	closed  bool
}

type wsQuoteFrame struct {
	Type  string        `json:"type"`
	RfqID string        `json:"rfq_id"`
	Quote quoteResponse `json:"quote"`
	Error string        `json:"error,omitempty"`
}

func (g *WSGateway) RequestQuote(ctx context.Context, v *models.Venue, rfq *models.RFQ) (*models.Quote, error) {
	wc, err := g.connFor(ctx, v)
	if err != nil {
		return nil, classifyTransport(v.ID, err)
	}

	ch := make(chan quoteResponse, 1)
	wc.mu.Lock()
	if wc.closed {
		wc.mu.Unlock()
		g.drop(v.ID, wc)
		return nil, drepo.NewGatewayError(v.ID, drepo.KindConnection, "connection closed", nil)
	}
	wc.pending[rfq.ID] = ch
	wc.mu.Unlock()

	defer func() {
		wc.mu.Lock()
		delete(wc.pending, rfq.ID)
		wc.mu.Unlock()
	}()

	req := quoteRequest{
		RfqID:      rfq.ID,
		Instrument: rfq.Instrument,
		Side:       string(rfq.Side),
		Quantity:   rfq.Quantity.String(),
		ExpiresAt:  rfq.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	if rfq.LimitPrice != nil {
		req.LimitPrice = rfq.LimitPrice.String()
	}

	wc.writeMu.Lock()
	err = wc.conn.WriteJSON(map[string]any{"type": "quote_request", "request": req})
	wc.writeMu.Unlock()
	if err != nil {
		g.drop(v.ID, wc)
		return nil, drepo.NewGatewayError(v.ID, drepo.KindConnection, "write failed", err)
	}

	select {
	case <-ctx.Done():
		return nil, drepo.NewGatewayError(v.ID, drepo.KindTimeout, "no reply before deadline", ctx.Err())
	case qr, ok := <-ch:
		if !ok {
			return nil, drepo.NewGatewayError(v.ID, drepo.KindConnection, "connection closed", nil)
		}
		return buildQuote(v.ID, rfq.ID, qr)
	}
}

// connFor returns the live connection for the venue, dialing if needed.
func (g *WSGateway) connFor(ctx context.Context, v *models.Venue) (*wsConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if wc, ok := g.conns[v.ID]; ok && !wc.isClosed() {
		return wc, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: g.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, v.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", v.ID, err)
	}

	wc := &wsConn{conn: conn, pending: make(map[string]chan quoteResponse)}
	g.conns[v.ID] = wc

	go g.pingLoop(wc)
	go g.readLoop(v.ID, wc)
	return wc, nil
}

func (g *WSGateway) pingLoop(wc *wsConn) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if wc.isClosed() {
			return
		}
		wc.writeMu.Lock()
		err := wc.conn.WriteMessage(websocket.PingMessage, nil)
		wc.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (g *WSGateway) readLoop(venueID string, wc *wsConn) {
	defer g.drop(venueID, wc)
	for {
		_, b, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wsQuoteFrame
		if err := json.Unmarshal(b, &frame); err != nil {
			// ignore non-protocol frames
			continue
		}
		if frame.Type != "quote_response" {
			continue
		}
		wc.mu.Lock()
		ch, ok := wc.pending[frame.RfqID]
		wc.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- frame.Quote:
		default:
		}
	}
}

// drop closes the connection and wakes every waiter with a closed channel.
func (g *WSGateway) drop(venueID string, wc *wsConn) {
	wc.mu.Lock()
	if wc.closed {
		wc.mu.Unlock()
		return
	}
	wc.closed = true
	for id, ch := range wc.pending {
		close(ch)
		delete(wc.pending, id)
	}
	wc.mu.Unlock()

	_ = wc.conn.Close()

	g.mu.Lock()
	if g.conns[venueID] == wc {
		delete(g.conns, venueID)
	}
	g.mu.Unlock()
}

func (wc *wsConn) isClosed() bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.closed
}

// Close tears down all venue connections.
func (g *WSGateway) Close() error {
	g.mu.Lock()
	conns := make(map[string]*wsConn, len(g.conns))
	for id, wc := range g.conns {
		conns[id] = wc
	}
	g.mu.Unlock()

	for id, wc := range conns {
		g.drop(id, wc)
	}
	return nil
}
