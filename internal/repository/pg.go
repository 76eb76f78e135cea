package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"RFQHub/internal/domain/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("repository: not found")

// PgStore bundles the Postgres-backed repositories over one pool.
type PgStore struct {
	pool *pgxpool.Pool

	Rfqs           *PgRfqRepository
	Trades         *PgTradeRepository
	Venues         *PgVenueRepository
	Counterparties *PgCounterpartyRepository
}

// NewPgStore connects to Postgres and wires the repositories.
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgStore{
		pool:           pool,
		Rfqs:           &PgRfqRepository{pool: pool},
		Trades:         &PgTradeRepository{pool: pool},
		Venues:         &PgVenueRepository{pool: pool},
		Counterparties: &PgCounterpartyRepository{pool: pool},
	}, nil
}

// Health pings the pool.
func (s *PgStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgStore) Close() {
	s.pool.Close()
}

type PgRfqRepository struct {
	pool *pgxpool.Pool
}

func (r *PgRfqRepository) Save(ctx context.Context, q *models.RFQ) error {
	if q == nil {
		return errors.New("nil rfq")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO rfqs(id, counterparty_id, instrument, side, quantity, limit_price, status, selected_quote_id, failure_reason, created_at, expires_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  selected_quote_id = EXCLUDED.selected_quote_id,
  failure_reason = EXCLUDED.failure_reason,
  updated_at = EXCLUDED.updated_at
`, q.ID, q.CounterpartyID, q.Instrument, string(q.Side), q.Quantity, q.LimitPrice,
		string(q.Status), q.SelectedQuoteID, q.FailureReason, q.CreatedAt, q.ExpiresAt, q.UpdatedAt)
	return err
}

func (r *PgRfqRepository) Get(ctx context.Context, id string) (*models.RFQ, error) {
	var (
		q            models.RFQ
		side, status string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, counterparty_id, instrument, side, quantity, limit_price, status, selected_quote_id, failure_reason, created_at, expires_at, updated_at
FROM rfqs WHERE id = $1
`, id).Scan(&q.ID, &q.CounterpartyID, &q.Instrument, &side, &q.Quantity, &q.LimitPrice,
		&status, &q.SelectedQuoteID, &q.FailureReason, &q.CreatedAt, &q.ExpiresAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	q.Side = models.Side(side)
	q.Status = models.RfqStatus(status)
	return &q, nil
}

func (r *PgRfqRepository) UpdateStatus(ctx context.Context, id string, status models.RfqStatus, reason string) error {
	res, err := r.pool.Exec(ctx, `
UPDATE rfqs SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3
`, string(status), reason, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRfqRepository) SaveQuotes(ctx context.Context, rfqID string, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(`
INSERT INTO quotes(id, rfq_id, venue_id, price, quantity, received_at, valid_until)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`, q.ID, rfqID, q.VenueID, q.Price, q.Quantity, q.ReceivedAt, q.ValidUntil)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range quotes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save quotes: %w", err)
		}
	}
	return nil
}

func (r *PgRfqRepository) QuotesForRfq(ctx context.Context, rfqID string) ([]models.Quote, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, rfq_id, venue_id, price, quantity, received_at, valid_until
FROM quotes WHERE rfq_id = $1 ORDER BY received_at ASC
`, rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []models.Quote
	for rows.Next() {
		var q models.Quote
		if err := rows.Scan(&q.ID, &q.RfqID, &q.VenueID, &q.Price, &q.Quantity, &q.ReceivedAt, &q.ValidUntil); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

type PgTradeRepository struct {
	pool *pgxpool.Pool
}

func (r *PgTradeRepository) Save(ctx context.Context, t *models.Trade) error {
	if t == nil {
		return errors.New("nil trade")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO trades(id, rfq_id, quote_id, venue_id, side, price, quantity, status, tx_ref, executed_at, settled_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  tx_ref = EXCLUDED.tx_ref,
  settled_at = EXCLUDED.settled_at
`, t.ID, t.RfqID, t.QuoteID, t.VenueID, string(t.Side), t.Price, t.Quantity,
		string(t.Status), t.TxRef, t.ExecutedAt, t.SettledAt)
	return err
}

func (r *PgTradeRepository) Get(ctx context.Context, id string) (*models.Trade, error) {
	var (
		t            models.Trade
		side, status string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, rfq_id, quote_id, venue_id, side, price, quantity, status, tx_ref, executed_at, settled_at
FROM trades WHERE id = $1
`, id).Scan(&t.ID, &t.RfqID, &t.QuoteID, &t.VenueID, &side, &t.Price, &t.Quantity,
		&status, &t.TxRef, &t.ExecutedAt, &t.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	return &t, nil
}

func (r *PgTradeRepository) MarkSettled(ctx context.Context, id, txRef string, at time.Time) error {
	res, err := r.pool.Exec(ctx, `
UPDATE trades SET status = $1, tx_ref = $2, settled_at = $3 WHERE id = $4 AND status = $5
`, string(models.TradeSettled), txRef, at, id, string(models.TradePending))
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgTradeRepository) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.pool.Exec(ctx, `
UPDATE trades SET status = $1, tx_ref = $2 WHERE id = $3 AND status = $4
`, string(models.TradeFailed), reason, id, string(models.TradePending))
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgTradeRepository) List(ctx context.Context, venueID string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, rfq_id, quote_id, venue_id, side, price, quantity, status, tx_ref, executed_at, settled_at
FROM trades
WHERE ($1 = '' OR venue_id = $1)
ORDER BY executed_at DESC
LIMIT $2
`, venueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.Trade
	for rows.Next() {
		var (
			t            models.Trade
			side, status string
		)
		if err := rows.Scan(&t.ID, &t.RfqID, &t.QuoteID, &t.VenueID, &side, &t.Price, &t.Quantity,
			&status, &t.TxRef, &t.ExecutedAt, &t.SettledAt); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		t.Status = models.TradeStatus(status)
		res = append(res, &t)
	}
	return res, rows.Err()
}

type PgVenueRepository struct {
	pool *pgxpool.Pool
}

func (r *PgVenueRepository) Save(ctx context.Context, v *models.Venue) error {
	if v == nil {
		return errors.New("nil venue")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO venues(id, name, type, endpoint, enabled, timeout_ms, max_in_flight, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  type = EXCLUDED.type,
  endpoint = EXCLUDED.endpoint,
  enabled = EXCLUDED.enabled,
  timeout_ms = EXCLUDED.timeout_ms,
  max_in_flight = EXCLUDED.max_in_flight,
  updated_at = EXCLUDED.updated_at
`, v.ID, v.Name, string(v.Type), v.Endpoint, v.Enabled, v.Timeout.Milliseconds(), v.MaxInFlight, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r *PgVenueRepository) Get(ctx context.Context, id string) (*models.Venue, error) {
	v, err := scanVenue(r.pool.QueryRow(ctx, `
SELECT id, name, type, endpoint, enabled, timeout_ms, max_in_flight, created_at, updated_at
FROM venues WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *PgVenueRepository) ListEnabled(ctx context.Context) ([]*models.Venue, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, name, type, endpoint, enabled, timeout_ms, max_in_flight, created_at, updated_at
FROM venues WHERE enabled ORDER BY id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func scanVenue(row pgx.Row) (*models.Venue, error) {
	var (
		v         models.Venue
		typ       string
		timeoutMs int64
	)
	if err := row.Scan(&v.ID, &v.Name, &typ, &v.Endpoint, &v.Enabled, &timeoutMs, &v.MaxInFlight, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Type = models.VenueType(typ)
	v.Timeout = time.Duration(timeoutMs) * time.Millisecond
	return &v, nil
}

type PgCounterpartyRepository struct {
	pool *pgxpool.Pool
}

func (r *PgCounterpartyRepository) Save(ctx context.Context, c *models.Counterparty) error {
	if c == nil {
		return errors.New("nil counterparty")
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO counterparties(id, name, active, created_at)
VALUES($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
`, c.ID, c.Name, c.Active, c.CreatedAt)
	return err
}

func (r *PgCounterpartyRepository) Get(ctx context.Context, id string) (*models.Counterparty, error) {
	var c models.Counterparty
	err := r.pool.QueryRow(ctx, `
SELECT id, name, active, created_at FROM counterparties WHERE id = $1
`, id).Scan(&c.ID, &c.Name, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
