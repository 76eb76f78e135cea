package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RFQHub/internal/repository"
	pkgch "RFQHub/pkg/clickhouse"
	"RFQHub/pkg/config"
	xhttp "RFQHub/pkg/http"
	pkgkafka "RFQHub/pkg/kafka"
	applogger "RFQHub/pkg/logger"
	"RFQHub/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server

	consumer    *pkgkafka.Consumer
	perfHandler pkgkafka.MessageHandler
	producer    *pkgkafka.Producer
	settleQueue *queue.RedisQueue
	chClient    *pkgch.Client
	pgStore     *repository.PgStore
	closers     []func() error
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	httpHandler xhttp.Handler,
	consumer *pkgkafka.Consumer,
	perfHandler pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	settleQueue *queue.RedisQueue,
	chClient *pkgch.Client,
	pgStore *repository.PgStore,
) *App {
	return &App{
		cfg:         cfg,
		logger:      logger,
		httpHandler: httpHandler,
		consumer:    consumer,
		perfHandler: perfHandler,
		producer:    producer,
		settleQueue: settleQueue,
		chClient:    chClient,
		pgStore:     pgStore,
	}
}

// AddCloser registers an extra resource to close on shutdown.
func (a *App) AddCloser(fn func() error) { a.closers = append(a.closers, fn) }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.logger

	serverOpts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	}
	if a.cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, xhttp.WithHTTPMetrics(l, time.Second))
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, serverOpts...)

	// Start settlement queue workers
	if a.settleQueue != nil {
		if err := a.settleQueue.Start(); err != nil {
			l.Error("settlement queue start error", applogger.Error(err))
			return err
		}
		l.Info("settlement queue started")
	}

	// Start perf events consumer if configured
	if a.consumer != nil && a.perfHandler != nil {
		a.consumer.RegisterHandler(a.perfHandler)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.perfHandler.Topic()))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.settleQueue != nil {
		if err := a.settleQueue.Stop(shutdownCtx); err != nil {
			l.Warn("settlement queue stop error", applogger.Error(err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if a.pgStore != nil {
		a.pgStore.Close()
	}

	for _, fn := range a.closers {
		if err := fn(); err != nil {
			l.Warn("resource close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
