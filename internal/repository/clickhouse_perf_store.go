package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"RFQHub/internal/domain/models"
	pkgch "RFQHub/pkg/clickhouse"
	applogger "RFQHub/pkg/logger"
)

// CHPerformanceStore implements PerformanceStore backed by ClickHouse.
type CHPerformanceStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHPerformanceStore(ch *pkgch.Client) *CHPerformanceStore {
	return &CHPerformanceStore{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHPerformanceStore) SetLogger(l *applogger.Logger) { s.l = l }

var perfSchema = []string{
	`CREATE DATABASE IF NOT EXISTS rfqhub`,
	`CREATE TABLE IF NOT EXISTS rfqhub.venue_perf (
        venue_id   String,
        rfq_id     String,
        outcome    LowCardinality(String),
        latency_ms Int64,
        ts         DateTime64(3)
    ) ENGINE = MergeTree()
    PARTITION BY toYYYYMMDD(ts)
    ORDER BY (venue_id, ts)
    TTL toDateTime(ts) + INTERVAL 90 DAY`,
}

// Init ensures the analytics schema exists (idempotent).
func (s *CHPerformanceStore) Init(ctx context.Context) error {
	for _, stmt := range perfSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("perf store init: %w", err)
		}
	}
	return nil
}

func (s *CHPerformanceStore) Store(ctx context.Context, e *models.PerformanceEvent) error {
	return s.StoreBatch(ctx, []*models.PerformanceEvent{e})
}

func (s *CHPerformanceStore) StoreBatch(ctx context.Context, events []*models.PerformanceEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("perf store begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO rfqhub.venue_perf (venue_id, rfq_id, outcome, latency_ms, ts)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("perf store prepare: %w", err)
	}
	for _, e := range events {
		if e == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, e.VenueID, e.RfqID, e.Outcome, e.LatencyMs, e.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("perf store insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("perf store commit: %w", err)
	}

	if s.l != nil {
		s.l.Debug("clickhouse perf batch stored",
			applogger.Int("events", len(events)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

// SuccessRate returns successes over total observations in the window.
// Venues with no observations yield an error so callers can fall back.
func (s *CHPerformanceStore) SuccessRate(ctx context.Context, venueID string, window time.Duration) (float64, error) {
	start := time.Now()
	const q = `
        SELECT countIf(outcome = 'success') AS ok, count() AS total
        FROM rfqhub.venue_perf
        WHERE venue_id = ? AND ts >= now64(3) - INTERVAL ? SECOND
    `
	var ok, total int64
	if err := s.db.QueryRowContext(ctx, q, venueID, int64(window.Seconds())).Scan(&ok, &total); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse success_rate query error",
				applogger.String("venue_id", venueID),
				applogger.Error(err),
			)
		}
		return 0, fmt.Errorf("success rate: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("success rate: no observations for %s", venueID)
	}
	rate := float64(ok) / float64(total)
	if s.l != nil {
		s.l.Debug("clickhouse success_rate ok",
			applogger.String("venue_id", venueID),
			applogger.Int64("total", total),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return rate, nil
}

// Health pings the backing pool.
func (s *CHPerformanceStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
