package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/service/breaker"
	"RFQHub/pkg/queue"

	xlogger "RFQHub/pkg/logger"
)

var (
	ErrCounterpartyUnknown = errors.New("unknown or inactive counterparty")
	ErrUnknownStrategy     = errors.New("unknown ranking strategy")
	ErrRfqNotQuoted        = errors.New("rfq is not in quoted state")
	ErrQuoteNotFound       = errors.New("quote does not belong to this rfq")
	ErrQuoteExpired        = errors.New("selected quote has expired")
)

const settleTradeMsgType = "trade.settle"

// SettlePayload is the queue message for trade settlement.
type SettlePayload struct {
	TradeID string `json:"trade_id"`
}

// RfqService drives the RFQ lifecycle: intake, aggregation, execution
// and settlement hand-off.
type RfqService struct {
	rfqs           drepo.RfqRepository
	trades         drepo.TradeRepository
	venues         drepo.VenueRepository
	counterparties drepo.CounterpartyRepository
	perf           drepo.PerformancePublisher
	breakers       *breaker.Registry
	settleQueue    queue.QueueService

	engines         map[string]*Engine
	defaultStrategy string
	aggCfg          AggregationConfig

	logger *xlogger.Logger
	now    func() time.Time
}

// RfqServiceOption configures the service.
type RfqServiceOption func(*RfqService)

// WithServiceClock overrides the time source (used in tests).
func WithServiceClock(now func() time.Time) RfqServiceOption {
	return func(s *RfqService) { s.now = now }
}

// WithServiceLogger attaches a logger.
func WithServiceLogger(l *xlogger.Logger) RfqServiceOption {
	return func(s *RfqService) { s.logger = l }
}

// WithAggregationConfig overrides the default aggregation budget.
func WithAggregationConfig(cfg AggregationConfig) RfqServiceOption {
	return func(s *RfqService) { s.aggCfg = cfg }
}

// WithPerfPublisher attaches the performance event publisher.
func WithPerfPublisher(p drepo.PerformancePublisher) RfqServiceOption {
	return func(s *RfqService) { s.perf = p }
}

// WithSettlementQueue attaches the settlement queue.
func WithSettlementQueue(q queue.QueueService) RfqServiceOption {
	return func(s *RfqService) { s.settleQueue = q }
}

// NewRfqService creates the RFQ service. engines maps strategy names to
// ready engines; defaultStrategy must be one of the keys.
func NewRfqService(
	rfqs drepo.RfqRepository,
	trades drepo.TradeRepository,
	venues drepo.VenueRepository,
	counterparties drepo.CounterpartyRepository,
	breakers *breaker.Registry,
	engines map[string]*Engine,
	defaultStrategy string,
	opts ...RfqServiceOption,
) (*RfqService, error) {
	if _, ok := engines[defaultStrategy]; !ok {
		return nil, fmt.Errorf("default strategy %q has no engine", defaultStrategy)
	}
	s := &RfqService{
		rfqs:            rfqs,
		trades:          trades,
		venues:          venues,
		counterparties:  counterparties,
		breakers:        breakers,
		engines:         engines,
		defaultStrategy: defaultStrategy,
		aggCfg:          DefaultAggregationConfig(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRfq validates the request, persists the RFQ and runs quote
// aggregation synchronously. The returned result carries ranked quotes
// and per-venue failures.
func (s *RfqService) CreateRfq(ctx context.Context, req *models.CreateRfqRequest) (*models.RFQ, *models.AggregationResult, error) {
	cp, err := s.counterparties.Get(ctx, req.CounterpartyID)
	if err != nil || cp == nil || !cp.Active {
		return nil, nil, ErrCounterpartyUnknown
	}

	engine, err := s.engineFor(req.Strategy)
	if err != nil {
		return nil, nil, err
	}

	rfq, err := s.buildRfq(req)
	if err != nil {
		return nil, nil, err
	}
	if err := s.rfqs.Save(ctx, rfq); err != nil {
		return nil, nil, fmt.Errorf("save rfq: %w", err)
	}

	venues, err := s.selectVenues(ctx, req.Venues)
	if err != nil {
		return nil, nil, err
	}

	if err := s.rfqs.UpdateStatus(ctx, rfq.ID, models.RfqAggregating, ""); err != nil {
		return nil, nil, fmt.Errorf("update status: %w", err)
	}
	rfq.Status = models.RfqAggregating

	cfg := s.aggCfg
	if req.MinQuotes > 0 {
		cfg.MinQuotes = req.MinQuotes
	}

	result, err := engine.Aggregate(ctx, rfq, venues, cfg)
	if err != nil {
		status, reason := models.RfqFailed, err.Error()
		if errors.Is(err, ErrExpiredRfq) {
			status = models.RfqExpired
		}
		_ = s.rfqs.UpdateStatus(ctx, rfq.ID, status, reason)
		rfq.Status = status
		return rfq, nil, err
	}

	s.persistOutcome(ctx, rfq, result)
	s.publishPerfEvents(ctx, result)
	return rfq, result, nil
}

// GetRfq returns the RFQ with its stored quotes.
func (s *RfqService) GetRfq(ctx context.Context, id string) (*models.RFQ, []models.Quote, error) {
	rfq, err := s.rfqs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	quotes, err := s.rfqs.QuotesForRfq(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rfq, quotes, nil
}

// Execute turns a selected quote into a pending trade and hands it to
// the settlement queue.
func (s *RfqService) Execute(ctx context.Context, rfqID, quoteID string) (*models.Trade, error) {
	rfq, err := s.rfqs.Get(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if rfq.Status != models.RfqQuoted {
		return nil, ErrRfqNotQuoted
	}
	if rfq.Expired(s.now()) {
		_ = s.rfqs.UpdateStatus(ctx, rfqID, models.RfqExpired, "expired before execution")
		return nil, ErrExpiredRfq
	}

	quotes, err := s.rfqs.QuotesForRfq(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	var selected *models.Quote
	for i := range quotes {
		if quotes[i].ID == quoteID {
			selected = &quotes[i]
			break
		}
	}
	if selected == nil {
		return nil, ErrQuoteNotFound
	}
	if selected.Expired(s.now()) {
		return nil, ErrQuoteExpired
	}

	trade := &models.Trade{
		ID:         uuid.NewString(),
		RfqID:      rfq.ID,
		QuoteID:    selected.ID,
		VenueID:    selected.VenueID,
		Side:       rfq.Side,
		Price:      selected.Price,
		Quantity:   selected.Quantity,
		Status:     models.TradePending,
		ExecutedAt: s.now(),
	}
	if err := s.trades.Save(ctx, trade); err != nil {
		return nil, fmt.Errorf("save trade: %w", err)
	}

	rfq.SelectedQuoteID = selected.ID
	rfq.Status = models.RfqExecuting
	rfq.UpdatedAt = s.now()
	if err := s.rfqs.Save(ctx, rfq); err != nil {
		return nil, fmt.Errorf("update rfq: %w", err)
	}

	if s.settleQueue != nil {
		if err := s.settleQueue.PublishMessage(ctx, settleTradeMsgType, SettlePayload{TradeID: trade.ID}); err != nil {
			if s.logger != nil {
				s.logger.Error("settlement enqueue failed",
					xlogger.String("trade_id", trade.ID),
					xlogger.Error(err))
			}
			_ = s.trades.MarkFailed(ctx, trade.ID, "settlement enqueue failed")
			_ = s.rfqs.UpdateStatus(ctx, rfq.ID, models.RfqFailed, "settlement enqueue failed")
			return nil, fmt.Errorf("enqueue settlement: %w", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("trade created",
			xlogger.String("trade_id", trade.ID),
			xlogger.String("rfq_id", rfq.ID),
			xlogger.String("venue_id", trade.VenueID))
	}
	return trade, nil
}

// PlanFill computes a multi-venue allocation of the RFQ's quantity over
// its stored quotes without executing anything. Live quotes are re-ranked
// with the requested ranking strategy, then the fill strategy splits the
// target across them.
func (s *RfqService) PlanFill(ctx context.Context, rfqID string, req *models.FillPlanRequest) ([]models.Allocation, error) {
	rfq, err := s.rfqs.Get(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if rfq.Status != models.RfqQuoted {
		return nil, ErrRfqNotQuoted
	}

	engine, err := s.engineFor(req.Strategy)
	if err != nil {
		return nil, err
	}
	fill, err := FillStrategyFor(req.FillStrategy)
	if err != nil {
		return nil, err
	}

	terms := models.FillTerms{Mode: models.FillMode(req.Mode)}
	if terms.Mode == "" {
		terms.Mode = models.FillBestEffort
	}
	if req.MinQuantity != "" {
		mq, err := decimal.NewFromString(req.MinQuantity)
		if err != nil || mq.IsNegative() {
			return nil, fmt.Errorf("invalid min quantity %q", req.MinQuantity)
		}
		terms.MinQuantity = mq
	}

	quotes, err := s.rfqs.QuotesForRfq(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := make([]models.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Valid(rfqID, now) {
			live = append(live, q)
		}
	}

	ranked := engine.Strategy().Rank(ctx, live, rfq)
	return fill.Allocate(ranked, rfq.Quantity, terms)
}

// Cancel aborts an RFQ that has not been executed yet.
func (s *RfqService) Cancel(ctx context.Context, rfqID string) error {
	rfq, err := s.rfqs.Get(ctx, rfqID)
	if err != nil {
		return err
	}
	if !rfq.Active() {
		return fmt.Errorf("rfq %s is %s and cannot be cancelled", rfqID, rfq.Status)
	}
	return s.rfqs.UpdateStatus(ctx, rfqID, models.RfqCancelled, "cancelled by counterparty")
}

// ListVenues returns configured venues.
func (s *RfqService) ListVenues(ctx context.Context) ([]*models.Venue, error) {
	return s.venues.ListEnabled(ctx)
}

// VenueHealth reports the breaker view of one venue.
func (s *RfqService) VenueHealth(ctx context.Context, venueID string) (*models.VenueHealth, error) {
	if _, err := s.venues.Get(ctx, venueID); err != nil {
		return nil, err
	}
	snap := s.breakers.SnapshotOf(venueID)
	return &models.VenueHealth{
		VenueID:      venueID,
		BreakerState: snap.State.String(),
		Failures:     snap.Failures,
		SuccessRate:  snap.SuccessRate,
		CheckedAt:    s.now(),
	}, nil
}

// ListTrades returns recent trades, optionally filtered by venue.
func (s *RfqService) ListTrades(ctx context.Context, venueID string, limit int) ([]*models.Trade, error) {
	return s.trades.List(ctx, venueID, limit)
}

func (s *RfqService) engineFor(name string) (*Engine, error) {
	if name == "" {
		name = s.defaultStrategy
	}
	engine, ok := s.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return engine, nil
}

func (s *RfqService) buildRfq(req *models.CreateRfqRequest) (*models.RFQ, error) {
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || !qty.IsPositive() {
		return nil, fmt.Errorf("invalid quantity %q", req.Quantity)
	}

	var limit *decimal.Decimal
	if req.LimitPrice != "" {
		lp, err := decimal.NewFromString(req.LimitPrice)
		if err != nil || !lp.IsPositive() {
			return nil, fmt.Errorf("invalid limit price %q", req.LimitPrice)
		}
		limit = &lp
	}

	now := s.now()
	return &models.RFQ{
		ID:             uuid.NewString(),
		CounterpartyID: req.CounterpartyID,
		Instrument:     req.Instrument,
		Side:           models.Side(req.Side),
		Quantity:       qty,
		LimitPrice:     limit,
		Status:         models.RfqPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(req.TTLSeconds) * time.Second),
		UpdatedAt:      now,
	}, nil
}

// selectVenues loads enabled venues, optionally restricted to the
// requested subset. Unknown ids in the subset are ignored.
func (s *RfqService) selectVenues(ctx context.Context, only []string) ([]*models.Venue, error) {
	all, err := s.venues.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list venues: %w", err)
	}
	if len(only) == 0 {
		return all, nil
	}
	want := make(map[string]struct{}, len(only))
	for _, id := range only {
		want[id] = struct{}{}
	}
	filtered := make([]*models.Venue, 0, len(only))
	for _, v := range all {
		if _, ok := want[v.ID]; ok {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

func (s *RfqService) persistOutcome(ctx context.Context, rfq *models.RFQ, result *models.AggregationResult) {
	if len(result.RankedQuotes) > 0 {
		quotes := make([]models.Quote, 0, len(result.RankedQuotes))
		for _, rq := range result.RankedQuotes {
			quotes = append(quotes, rq.Quote)
		}
		if err := s.rfqs.SaveQuotes(ctx, rfq.ID, quotes); err != nil && s.logger != nil {
			s.logger.Error("save quotes failed",
				xlogger.String("rfq_id", rfq.ID),
				xlogger.Error(err))
		}
		_ = s.rfqs.UpdateStatus(ctx, rfq.ID, models.RfqQuoted, "")
		rfq.Status = models.RfqQuoted
		return
	}

	_ = s.rfqs.UpdateStatus(ctx, rfq.ID, models.RfqFailed, "no valid quotes")
	rfq.Status = models.RfqFailed
}

// publishPerfEvents derives one event per venue outcome from the
// aggregation result. Publishing is best effort; failures only log.
func (s *RfqService) publishPerfEvents(ctx context.Context, result *models.AggregationResult) {
	if s.perf == nil {
		return
	}
	ts := s.now()
	latency := result.Elapsed.Milliseconds()

	events := make([]*models.PerformanceEvent, 0, len(result.RankedQuotes)+len(result.Failures))
	for _, rq := range result.RankedQuotes {
		events = append(events, &models.PerformanceEvent{
			VenueID:   rq.Quote.VenueID,
			RfqID:     result.RfqID,
			Outcome:   "success",
			LatencyMs: latency,
			Timestamp: ts,
		})
	}
	for _, f := range result.Failures {
		outcome := "error"
		switch f.Reason {
		case models.FailureTimeout:
			outcome = "timeout"
		case models.FailureCircuitOpen:
			outcome = "skipped"
		}
		events = append(events, &models.PerformanceEvent{
			VenueID:   f.VenueID,
			RfqID:     result.RfqID,
			Outcome:   outcome,
			LatencyMs: latency,
			Timestamp: ts,
		})
	}
	if len(events) == 0 {
		return
	}
	if err := s.perf.PublishBatch(ctx, events); err != nil && s.logger != nil {
		s.logger.Warn("perf events publish failed", xlogger.Error(err))
	}
}
