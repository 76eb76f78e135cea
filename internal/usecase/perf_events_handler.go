package usecase

import (
	"context"
	"encoding/json"
	"time"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	pkgkafka "RFQHub/pkg/kafka"
)

// PerfEventsHandler consumes venue performance events and writes them
// to the analytics store.
type PerfEventsHandler struct {
	topic   string
	store   drepo.PerformanceStore
	metrics drepo.Metrics
}

func NewPerfEventsHandler(topic string, store drepo.PerformanceStore, metrics drepo.Metrics) *PerfEventsHandler {
	return &PerfEventsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *PerfEventsHandler) Topic() string { return h.topic }

// incoming message schema: {venue_id, rfq_id, outcome, latency_ms, ts}
func (h *PerfEventsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		VenueID   string `json:"venue_id"`
		RfqID     string `json:"rfq_id"`
		Outcome   string `json:"outcome"`
		LatencyMs int64  `json:"latency_ms"`
		Timestamp string `json:"ts"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("perf_consumer_unmarshal")
		}
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	err = h.store.Store(ctx, &models.PerformanceEvent{
		VenueID:   m.VenueID,
		RfqID:     m.RfqID,
		Outcome:   m.Outcome,
		LatencyMs: m.LatencyMs,
		Timestamp: ts,
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("perf_consumer_store")
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*PerfEventsHandler)(nil)
