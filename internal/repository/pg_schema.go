package repository

import (
	"context"
	"fmt"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS counterparties (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS venues (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	endpoint      TEXT NOT NULL,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	timeout_ms    BIGINT NOT NULL DEFAULT 0,
	max_in_flight INT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS rfqs (
	id                TEXT PRIMARY KEY,
	counterparty_id   TEXT NOT NULL,
	instrument        TEXT NOT NULL,
	side              TEXT NOT NULL,
	quantity          NUMERIC NOT NULL,
	limit_price       NUMERIC,
	status            TEXT NOT NULL,
	selected_quote_id TEXT NOT NULL DEFAULT '',
	failure_reason    TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS quotes (
	id          TEXT PRIMARY KEY,
	rfq_id      TEXT NOT NULL REFERENCES rfqs(id),
	venue_id    TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	quantity    NUMERIC NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	valid_until TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_rfq ON quotes(rfq_id)`,
	`CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	rfq_id      TEXT NOT NULL,
	quote_id    TEXT NOT NULL,
	venue_id    TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       NUMERIC NOT NULL,
	quantity    NUMERIC NOT NULL,
	status      TEXT NOT NULL,
	tx_ref      TEXT NOT NULL DEFAULT '',
	executed_at TIMESTAMPTZ NOT NULL,
	settled_at  TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_venue ON trades(venue_id, executed_at DESC)`,
}

// Migrate ensures the schema exists (idempotent).
func (s *PgStore) Migrate(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pg migrate: %w", err)
		}
	}
	return nil
}
