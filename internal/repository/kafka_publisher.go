package repository

import (
	"context"
	"time"

	"RFQHub/internal/domain/models"
	pkgkafka "RFQHub/pkg/kafka"
	applogger "RFQHub/pkg/logger"
)

// perfEventMsg is the wire form of a performance event.
type perfEventMsg struct {
	VenueID   string `json:"venue_id"`
	RfqID     string `json:"rfq_id"`
	Outcome   string `json:"outcome"`
	LatencyMs int64  `json:"latency_ms"`
	Timestamp string `json:"ts"`
}

// KafkaPerfPublisher implements PerformancePublisher over the shared
// producer. Events are keyed by venue so one venue's history stays
// ordered within a partition.
type KafkaPerfPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	l        *applogger.Logger
}

func NewKafkaPerfPublisher(producer *pkgkafka.Producer, topic string, l *applogger.Logger) *KafkaPerfPublisher {
	return &KafkaPerfPublisher{producer: producer, topic: topic, l: l}
}

func (p *KafkaPerfPublisher) Publish(ctx context.Context, e *models.PerformanceEvent) error {
	if e == nil {
		return nil
	}
	err := p.producer.Publish(ctx, p.topic, []byte(e.VenueID), encodePerfEvent(e))
	if err != nil && p.l != nil {
		p.l.Error("perf event publish failed",
			applogger.String("venue_id", e.VenueID),
			applogger.Error(err),
		)
	}
	return err
}

func (p *KafkaPerfPublisher) PublishBatch(ctx context.Context, events []*models.PerformanceEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(e.VenueID), Value: encodePerfEvent(e)})
	}
	err := p.producer.PublishBatch(ctx, p.topic, msgs)
	if err != nil && p.l != nil {
		p.l.Error("perf event batch publish failed",
			applogger.Int("events", len(msgs)),
			applogger.Error(err),
		)
	}
	return err
}

func (p *KafkaPerfPublisher) Close() error {
	return p.producer.Close()
}

func encodePerfEvent(e *models.PerformanceEvent) perfEventMsg {
	return perfEventMsg{
		VenueID:   e.VenueID,
		RfqID:     e.RfqID,
		Outcome:   e.Outcome,
		LatencyMs: e.LatencyMs,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
