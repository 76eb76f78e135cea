//go:build wireinject
// +build wireinject

package di

import (
	"RFQHub/pkg/config"
	"RFQHub/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvidePgStore,
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvidePerformanceStore,
		ProvidePerfPublisher,

		// Venue plumbing
		ProvideBreakers,
		ProvideRetryPolicy,
		ProvideVenueGateway,
		ProvideReliability,

		// Use cases
		ProvideEngines,
		ProvidePerfEventsHandler,
		ProvideSettlementClient,
		ProvideSettlementJob,
		ProvideSettlementQueue,
		ProvideRfqService,

		// HTTP
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
