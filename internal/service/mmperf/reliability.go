package mmperf

import (
	"context"
	"time"

	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/breaker"
	"RFQHub/pkg/cache"
	"RFQHub/pkg/logger"
)

const (
	// score for venues with no history at all
	neutralReliability = 0.5

	cacheKeyPrefix = "reliability"
)

// Config tunes the reliability blend.
type Config struct {
	Window       time.Duration `yaml:"window"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	StoreWeight  float64       `yaml:"store_weight"`
	RecentWeight float64       `yaml:"recent_weight"`
}

// DefaultConfig returns the standard blend: historical success rate from
// the analytics store dominates, tempered by the in-process breaker view.
func DefaultConfig() Config {
	return Config{
		Window:       24 * time.Hour,
		CacheTTL:     30 * time.Second,
		StoreWeight:  0.7,
		RecentWeight: 0.3,
	}
}

// Service scores venue reliability for quote ranking. The historical
// component comes from the performance store and is cached; the recent
// component is read live from the circuit breaker registry.
type Service struct {
	cfg      Config
	store    drepo.PerformanceStore
	breakers *breaker.Registry
	cache    cache.Service
	log      *logger.Logger
}

// New creates a reliability service. store and cache may be nil; the
// service degrades to whatever sources remain.
func New(cfg Config, store drepo.PerformanceStore, breakers *breaker.Registry, c cache.Service, log *logger.Logger) *Service {
	if cfg.StoreWeight+cfg.RecentWeight <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{cfg: cfg, store: store, breakers: breakers, cache: c, log: log}
}

// Reliability returns a score in [0,1]. It never fails: missing or
// erroring sources fall back to the neutral score.
func (s *Service) Reliability(ctx context.Context, venueID string) float64 {
	historical, hasHistorical := s.historical(ctx, venueID)
	recent, hasRecent := s.recent(venueID)

	switch {
	case hasHistorical && hasRecent:
		total := s.cfg.StoreWeight + s.cfg.RecentWeight
		return (historical*s.cfg.StoreWeight + recent*s.cfg.RecentWeight) / total
	case hasHistorical:
		return historical
	case hasRecent:
		return recent
	default:
		return neutralReliability
	}
}

func (s *Service) historical(ctx context.Context, venueID string) (float64, bool) {
	if s.store == nil {
		return 0, false
	}

	key := cache.GenerateKey(cacheKeyPrefix, venueID)
	if s.cache != nil {
		var cached float64
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, true
		}
	}

	rate, err := s.store.SuccessRate(ctx, venueID, s.cfg.Window)
	if err != nil {
		if s.log != nil {
			s.log.Warn("reliability store lookup failed",
				logger.String("venue_id", venueID),
				logger.Error(err))
		}
		return 0, false
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, rate, s.cfg.CacheTTL); err != nil && s.log != nil {
			s.log.Debug("reliability cache write failed", logger.Error(err))
		}
	}
	return clamp01(rate), true
}

func (s *Service) recent(venueID string) (float64, bool) {
	if s.breakers == nil {
		return 0, false
	}
	snap := s.breakers.SnapshotOf(venueID)
	if snap.Total == 0 {
		return 0, false
	}
	return clamp01(snap.SuccessRate), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
