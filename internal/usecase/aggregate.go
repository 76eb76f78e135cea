package usecase

import (
	"context"
	"errors"
	"time"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/breaker"
	"RFQHub/internal/service/retry"
	xlogger "RFQHub/pkg/logger"
)

var (
	ErrExpiredRfq = errors.New("rfq is expired")
	ErrNoVenues   = errors.New("no venues configured")
)

// AggregationConfig controls one aggregation call.
type AggregationConfig struct {
	// Deadline is the overall time budget for quote collection.
	Deadline time.Duration
	// PerVenueTimeout bounds each individual gateway call.
	PerVenueTimeout time.Duration
	// MinQuotes enables early stop: once this many quotes arrived, the
	// engine waits only GracePeriod longer for slightly-late respondents.
	// Zero disables early stop.
	MinQuotes int
	// GracePeriod is the extra wait after MinQuotes is reached.
	GracePeriod time.Duration
	// MaxQuotes truncates the ranked result. Zero means no limit.
	MaxQuotes int
}

// DefaultAggregationConfig returns production defaults.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		Deadline:        3 * time.Second,
		PerVenueTimeout: 1500 * time.Millisecond,
		GracePeriod:     150 * time.Millisecond,
	}
}

// Engine fans an RFQ out to venues concurrently, collects quotes under the
// time budget, and ranks the survivors. Venue-level failures degrade the
// result set; only malformed input fails the call.
type Engine struct {
	gateway  drepo.VenueGateway
	breakers *breaker.Registry
	retry    *retry.Policy
	strategy RankingStrategy
	metrics  drepo.Metrics
	logger   *xlogger.Logger
	now      func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the time source (used in tests).
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEngineMetrics attaches a metrics recorder.
func WithEngineMetrics(m drepo.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineLogger attaches a logger.
func WithEngineLogger(l *xlogger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a quote aggregation engine.
func NewEngine(gateway drepo.VenueGateway, breakers *breaker.Registry, policy *retry.Policy, strategy RankingStrategy, opts ...EngineOption) *Engine {
	e := &Engine{
		gateway:  gateway,
		breakers: breakers,
		retry:    policy,
		strategy: strategy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the configured ranking strategy.
func (e *Engine) Strategy() RankingStrategy { return e.strategy }

// unitResult is the terminal outcome of one per-venue unit of work.
type unitResult struct {
	venueID string
	quote   *models.Quote
	failure *models.VenueFailure
}

// Aggregate runs one aggregation call. Venues whose breaker is open are
// skipped without a network call. Each dispatched unit reports its outcome
// to the breaker exactly once; results arriving after the stop condition
// are discarded.
func (e *Engine) Aggregate(ctx context.Context, rfq *models.RFQ, venues []*models.Venue, cfg AggregationConfig) (*models.AggregationResult, error) {
	start := e.now()

	if rfq.Expired(start) {
		return nil, ErrExpiredRfq
	}
	if len(venues) == 0 {
		return nil, ErrNoVenues
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultAggregationConfig().Deadline
	}

	result := &models.AggregationResult{
		RfqID:         rfq.ID,
		VenuesQueried: len(venues),
	}

	aggCtx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	results := make(chan unitResult, len(venues))
	pending := make(map[string]struct{}, len(venues))
	dispatchOrder := make([]string, 0, len(venues))
	for _, v := range venues {
		if !e.breakers.Check(v.ID) {
			result.Failures = append(result.Failures, models.VenueFailure{
				VenueID: v.ID,
				Reason:  models.FailureCircuitOpen,
				Message: "circuit open, venue skipped",
			})
			if e.metrics != nil {
				e.metrics.RecordVenueRequest(v.ID, "skipped", 0)
			}
			continue
		}
		pending[v.ID] = struct{}{}
		dispatchOrder = append(dispatchOrder, v.ID)
		go e.callVenue(aggCtx, v, rfq, cfg, results)
	}

	collected := e.collect(aggCtx, cfg, pending, results, result)
	cancel() // outstanding units observe this and stand down

	// Units still outstanding when the barrier stopped never reported;
	// they are timeouts from the caller's point of view.
	for _, id := range dispatchOrder {
		if _, ok := pending[id]; !ok {
			continue
		}
		result.Failures = append(result.Failures, models.VenueFailure{
			VenueID: id,
			Reason:  models.FailureTimeout,
			Message: "no response before aggregation stopped",
		})
	}

	e.finish(ctx, rfq, collected, cfg.MaxQuotes, result)
	result.Elapsed = e.now().Sub(start)

	if e.metrics != nil {
		e.metrics.RecordAggregation(e.strategy.Name(), len(result.RankedQuotes), result.Elapsed.Seconds())
	}
	if e.logger != nil {
		e.logger.Info("aggregation finished",
			xlogger.String("rfq_id", rfq.ID),
			xlogger.Int("quotes", len(result.RankedQuotes)),
			xlogger.Int("failures", len(result.Failures)),
			xlogger.Duration("elapsed", result.Elapsed),
		)
	}
	return result, nil
}

// callVenue is one concurrent unit of work: retry-wrapped gateway call with a
// single breaker record for its terminal outcome. A unit cancelled by the
// aggregation barrier records nothing.
func (e *Engine) callVenue(ctx context.Context, v *models.Venue, rfq *models.RFQ, cfg AggregationConfig, out chan<- unitResult) {
	started := e.now()

	perCall := cfg.PerVenueTimeout
	if v.Timeout > 0 && (perCall <= 0 || v.Timeout < perCall) {
		perCall = v.Timeout
	}

	var quote *models.Quote
	err := e.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 && e.metrics != nil {
			e.metrics.RecordRetry(v.ID)
		}
		callCtx := ctx
		if perCall > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, perCall)
			defer cancel()
		}
		q, callErr := e.gateway.RequestQuote(callCtx, v, rfq)
		if callErr != nil {
			return callErr
		}
		quote = q
		return nil
	})

	if ctx.Err() != nil && quote == nil {
		// The barrier stopped waiting; this unit never reached a terminal
		// outcome of its own, so it must not record one. It still has to
		// give back a half-open trial slot it may hold.
		e.breakers.Release(v.ID)
		return
	}

	elapsed := e.now().Sub(started)
	success := err == nil
	e.breakers.Record(v.ID, success)
	if e.metrics != nil {
		outcome := "success"
		if !success {
			outcome = "failure"
		}
		e.metrics.RecordVenueRequest(v.ID, outcome, elapsed.Seconds())
	}

	res := unitResult{venueID: v.ID}
	if success {
		res.quote = quote
	} else {
		res.failure = classifyFailure(v.ID, err)
		if e.logger != nil {
			e.logger.Warn("venue call failed",
				xlogger.String("venue_id", v.ID),
				xlogger.String("rfq_id", rfq.ID),
				xlogger.Error(err),
			)
		}
	}

	select {
	case out <- res:
	case <-ctx.Done():
	}
}

// collect waits at the aggregation barrier until the deadline elapses, all
// dispatched units complete, or the early-stop grace period runs out.
// Venues that report are removed from pending; the caller treats whatever
// is left as timed out.
func (e *Engine) collect(ctx context.Context, cfg AggregationConfig, pending map[string]struct{}, results <-chan unitResult, result *models.AggregationResult) []models.Quote {
	dispatched := len(pending)
	if dispatched == 0 {
		return nil
	}

	var quotes []models.Quote
	var graceCh <-chan time.Time
	received := 0

	for received < dispatched {
		select {
		case r := <-results:
			received++
			delete(pending, r.venueID)
			if r.quote != nil {
				quotes = append(quotes, *r.quote)
				result.VenuesResponded++
				if cfg.MinQuotes > 0 && graceCh == nil && len(quotes) >= cfg.MinQuotes {
					t := time.NewTimer(cfg.GracePeriod)
					defer t.Stop()
					graceCh = t.C
				}
			} else if r.failure != nil {
				result.Failures = append(result.Failures, *r.failure)
			}
		case <-graceCh:
			return quotes
		case <-ctx.Done():
			return quotes
		}
	}
	return quotes
}

// finish filters collected quotes for validity and ranks the survivors.
func (e *Engine) finish(ctx context.Context, rfq *models.RFQ, collected []models.Quote, maxQuotes int, result *models.AggregationResult) {
	now := e.now()

	valid := make([]models.Quote, 0, len(collected))
	for _, q := range collected {
		if q.Valid(rfq.ID, now) {
			valid = append(valid, q)
		} else {
			result.FilteredOut++
		}
	}

	ranked := e.strategy.Rank(ctx, valid, rfq)
	if maxQuotes > 0 && len(ranked) > maxQuotes {
		ranked = ranked[:maxQuotes]
	}
	result.RankedQuotes = ranked
}

func classifyFailure(venueID string, err error) *models.VenueFailure {
	f := &models.VenueFailure{VenueID: venueID, Reason: models.FailureGatewayError, Message: err.Error()}
	var ge *drepo.GatewayError
	if errors.As(err, &ge) {
		f.Kind = string(ge.Kind)
		if ge.Kind == drepo.KindTimeout {
			f.Reason = models.FailureTimeout
		}
	}
	return f
}
