package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"RFQHub/internal/domain/models"
	drepo "RFQHub/internal/domain/repository"
	"RFQHub/internal/handler/api"
	internalrepo "RFQHub/internal/repository"
	"RFQHub/internal/service/breaker"
	"RFQHub/internal/service/mmperf"
	"RFQHub/internal/service/ratelimit"
	"RFQHub/internal/service/retry"
	"RFQHub/internal/service/settlement"
	"RFQHub/internal/service/venue"
	"RFQHub/internal/usecase"
	"RFQHub/pkg/cache"
	pkgch "RFQHub/pkg/clickhouse"
	"RFQHub/pkg/config"
	xhttp "RFQHub/pkg/http"
	pkgkafka "RFQHub/pkg/kafka"
	applogger "RFQHub/pkg/logger"
	"RFQHub/pkg/metrics"
	"RFQHub/pkg/queue"
	"RFQHub/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lc := &applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "json"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	return applogger.New(lc)
}

// ProvidePgStore connects to Postgres, ensures the schema, and upserts
// the configured venue registry.
func ProvidePgStore(cfg *config.Config) (*internalrepo.PgStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := internalrepo.NewPgStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	for _, seed := range cfg.Venues.Registry {
		vt := models.VenueHTTP
		if seed.Type == "websocket" {
			vt = models.VenueWebSocket
		}
		v := &models.Venue{
			ID:          seed.ID,
			Name:        seed.Name,
			Type:        vt,
			Endpoint:    seed.Endpoint,
			Enabled:     seed.Enabled,
			Timeout:     time.Duration(seed.TimeoutMs) * time.Millisecond,
			MaxInFlight: seed.MaxInFlight,
		}
		if err := store.Venues.Save(ctx, v); err != nil {
			store.Close()
			return nil, fmt.Errorf("seed venue %s: %w", seed.ID, err)
		}
	}
	return store, nil
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvidePerformanceStore creates the ClickHouse-backed perf store and
// ensures its schema.
func ProvidePerformanceStore(chClient *pkgch.Client, l *applogger.Logger) (drepo.PerformanceStore, error) {
	store := internalrepo.NewCHPerformanceStore(chClient)
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePerfPublisher creates the Kafka performance event publisher.
func ProvidePerfPublisher(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) drepo.PerformancePublisher {
	return internalrepo.NewKafkaPerfPublisher(producer, cfg.Kafka.PerfTopic, l)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvidePerfEventsHandler registers the handler for the perf topic.
func ProvidePerfEventsHandler(store drepo.PerformanceStore, m drepo.Metrics, cfg *config.Config) *usecase.PerfEventsHandler {
	return usecase.NewPerfEventsHandler(cfg.Kafka.PerfTopic, store, m)
}

// ProvideRedisCache connects to Redis.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	host, port := splitAddr(cfg.Redis.Addr)
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache creates the layered cache over Redis.
func ProvideCache(rc *cache.RedisCache) *cache.LayeredCache {
	return cache.NewLayeredCache(rc)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideBreakers creates the per-venue circuit breaker registry.
func ProvideBreakers(cfg *config.Config) *breaker.Registry {
	bc := breaker.DefaultConfig()
	if cfg.Breaker.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.Breaker.FailureThreshold
	}
	if cfg.Breaker.RecoveryTimeout > 0 {
		bc.RecoveryTimeout = cfg.Breaker.RecoveryTimeout
	}
	return breaker.New(bc)
}

// ProvideRetryPolicy creates the venue retry policy.
func ProvideRetryPolicy(cfg *config.Config) *retry.Policy {
	rc := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseBackoff > 0 {
		rc.BaseBackoff = cfg.Retry.BaseBackoff
	}
	if cfg.Retry.Multiplier > 0 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.MaxBackoff > 0 {
		rc.MaxBackoff = cfg.Retry.MaxBackoff
	}
	rc.Jitter = cfg.Retry.Jitter
	return retry.New(rc)
}

// ProvideVenueGateway assembles the transport dispatcher.
func ProvideVenueGateway(cfg *config.Config) drepo.VenueGateway {
	httpTimeout := cfg.Venues.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 5 * time.Second
	}
	handshake := cfg.Venues.HandshakeTimeout
	if handshake <= 0 {
		handshake = 5 * time.Second
	}
	ping := cfg.Venues.PingInterval
	if ping <= 0 {
		ping = 15 * time.Second
	}

	httpGW := venue.NewHTTPGateway(httpTimeout)
	wsGW := venue.NewWSGateway(handshake, ping)
	return venue.NewDispatcher(httpGW, wsGW, ratelimit.New())
}

// ProvideReliability creates the venue reliability scorer.
func ProvideReliability(
	cfg *config.Config,
	store drepo.PerformanceStore,
	breakers *breaker.Registry,
	c *cache.LayeredCache,
	l *applogger.Logger,
) drepo.ReliabilityProvider {
	mc := mmperf.DefaultConfig()
	if cfg.Reliability.Window > 0 {
		mc.Window = cfg.Reliability.Window
	}
	if cfg.Reliability.CacheTTL > 0 {
		mc.CacheTTL = cfg.Reliability.CacheTTL
	}
	if cfg.Reliability.StoreWeight > 0 {
		mc.StoreWeight = cfg.Reliability.StoreWeight
	}
	if cfg.Reliability.RecentWeight > 0 {
		mc.RecentWeight = cfg.Reliability.RecentWeight
	}
	return mmperf.New(mc, store, breakers, c, l)
}

// ProvideEngines builds one aggregation engine per ranking strategy.
func ProvideEngines(
	gw drepo.VenueGateway,
	breakers *breaker.Registry,
	policy *retry.Policy,
	reliability drepo.ReliabilityProvider,
	m drepo.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) map[string]*usecase.Engine {
	weights := usecase.Weights{
		Price:       cfg.Aggregation.Weights.Price,
		FillRatio:   cfg.Aggregation.Weights.FillRatio,
		Reliability: cfg.Aggregation.Weights.Reliability,
	}
	if !weights.Valid() {
		weights = usecase.DefaultWeights()
	}

	opts := []usecase.EngineOption{
		usecase.WithEngineMetrics(m),
		usecase.WithEngineLogger(l),
	}
	return map[string]*usecase.Engine{
		"best_price":     usecase.NewEngine(gw, breakers, policy, usecase.NewBestPrice(), opts...),
		"weighted_score": usecase.NewEngine(gw, breakers, policy, usecase.NewWeightedScore(weights, reliability), opts...),
	}
}

// ProvideSettlementClient creates the settlement rail client.
func ProvideSettlementClient(cfg *config.Config, l *applogger.Logger) drepo.SettlementClient {
	if cfg.Settlement.BaseURL == "" {
		return settlement.Noop{}
	}
	timeout := cfg.Settlement.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return settlement.NewHTTPClient(cfg.Settlement.BaseURL, timeout, l)
}

// ProvideSettlementJob creates the queue job that settles trades.
func ProvideSettlementJob(store *internalrepo.PgStore, client drepo.SettlementClient, l *applogger.Logger) *usecase.SettlementJob {
	return usecase.NewSettlementJob(store.Trades, store.Rfqs, client, l)
}

// ProvideSettlementQueue creates the Redis-backed settlement queue with
// the settlement job registered.
func ProvideSettlementQueue(cfg *config.Config, l *applogger.Logger, rc *cache.RedisCache, job *usecase.SettlementJob) *queue.RedisQueue {
	qc := &queue.QueueConfig{
		Workers:    cfg.Settlement.Workers,
		RetryLimit: cfg.Settlement.RetryLimit,
		RetryDelay: cfg.Settlement.RetryDelay,
	}
	q := queue.NewRedisQueue(l, qc, rc.Client(), queue.ModeProducerConsumer,
		queue.WithKeyPrefix("rfqhub:settlement"))
	q.RegisterJob(job)
	return q
}

// ProvideRfqService assembles the RFQ lifecycle service.
func ProvideRfqService(
	store *internalrepo.PgStore,
	breakers *breaker.Registry,
	engines map[string]*usecase.Engine,
	perf drepo.PerformancePublisher,
	settleQueue *queue.RedisQueue,
	l *applogger.Logger,
	cfg *config.Config,
) (*usecase.RfqService, error) {
	aggCfg := usecase.DefaultAggregationConfig()
	if cfg.Aggregation.Deadline > 0 {
		aggCfg.Deadline = cfg.Aggregation.Deadline
	}
	if cfg.Aggregation.PerVenueTimeout > 0 {
		aggCfg.PerVenueTimeout = cfg.Aggregation.PerVenueTimeout
	}
	if cfg.Aggregation.GracePeriod > 0 {
		aggCfg.GracePeriod = cfg.Aggregation.GracePeriod
	}
	if cfg.Aggregation.MaxQuotes > 0 {
		aggCfg.MaxQuotes = cfg.Aggregation.MaxQuotes
	}

	strategy := cfg.Aggregation.DefaultStrategy
	if strategy == "" {
		strategy = "best_price"
	}

	return usecase.NewRfqService(
		store.Rfqs, store.Trades, store.Venues, store.Counterparties,
		breakers, engines, strategy,
		usecase.WithServiceLogger(l),
		usecase.WithAggregationConfig(aggCfg),
		usecase.WithPerfPublisher(perf),
		usecase.WithSettlementQueue(settleQueue),
	)
}

// ProvideHTTPHandler creates the Echo route handler.
func ProvideHTTPHandler(l *applogger.Logger, svc *usecase.RfqService) xhttp.Handler {
	return api.NewRfqEchoHandler(l, svc)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpHandler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	perfHandler *usecase.PerfEventsHandler,
	producer *pkgkafka.Producer,
	settleQueue *queue.RedisQueue,
	chClient *pkgch.Client,
	pgStore *internalrepo.PgStore,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}

	app := server.New(cfg, l, httpHandler, consumer, perfHandler, producer, settleQueue, chClient, pgStore)

	// Ship aggregated error logs to Kafka when a topic is configured.
	if cfg.Kafka.LogsTopic != "" && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      kafkaLogPublisher{producer: producer},
		})
		app.AddCloser(func() error {
			l.RemoveCollector()
			return nil
		})
	}
	return app
}

// kafkaLogPublisher adapts the Kafka producer to the log collector's
// publisher interface.
type kafkaLogPublisher struct {
	producer *pkgkafka.Producer
}

func (p kafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		if addr != "" {
			return addr, 6379
		}
		return "localhost", 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6379
	}
	return host, port
}
