package mmperf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"RFQHub/internal/domain/models"
	"RFQHub/internal/service/breaker"
)

type storeStub struct {
	rate float64
	err  error
}

func (s *storeStub) Init(context.Context) error                               { return nil }
func (s *storeStub) Store(context.Context, *models.PerformanceEvent) error    { return nil }
func (s *storeStub) StoreBatch(context.Context, []*models.PerformanceEvent) error { return nil }
func (s *storeStub) Health(context.Context) error                             { return nil }
func (s *storeStub) SuccessRate(context.Context, string, time.Duration) (float64, error) {
	return s.rate, s.err
}

func TestReliabilityNeutralWithoutSources(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil, nil)
	assert.Equal(t, 0.5, s.Reliability(context.Background(), "lp-1"))
}

func TestReliabilityUsesStoreAlone(t *testing.T) {
	s := New(DefaultConfig(), &storeStub{rate: 0.9}, nil, nil, nil)
	assert.InDelta(t, 0.9, s.Reliability(context.Background(), "lp-1"), 1e-9)
}

func TestReliabilityStoreErrorFallsBackToBreaker(t *testing.T) {
	reg := breaker.New(breaker.DefaultConfig())
	reg.Record("lp-1", true)
	reg.Record("lp-1", true)
	reg.Record("lp-1", false)
	reg.Record("lp-1", true)

	s := New(DefaultConfig(), &storeStub{err: errors.New("clickhouse down")}, reg, nil, nil)
	assert.InDelta(t, 0.75, s.Reliability(context.Background(), "lp-1"), 1e-9)
}

func TestReliabilityBlendsStoreAndBreaker(t *testing.T) {
	reg := breaker.New(breaker.DefaultConfig())
	reg.Record("lp-1", true)
	reg.Record("lp-1", true) // recent rate 1.0

	cfg := DefaultConfig() // 0.7 store, 0.3 recent
	s := New(cfg, &storeStub{rate: 0.5}, reg, nil, nil)

	got := s.Reliability(context.Background(), "lp-1")
	assert.InDelta(t, 0.5*0.7+1.0*0.3, got, 1e-9)
}

func TestReliabilityClampsStoreRate(t *testing.T) {
	s := New(DefaultConfig(), &storeStub{rate: 1.8}, nil, nil, nil)
	assert.Equal(t, 1.0, s.Reliability(context.Background(), "lp-1"))
}
