// Package main provides the aggregator service.
//
// The service exposes the HTTP ingest API, runs the queue worker pool, and
// owns the PostgreSQL event store and Redis broker connections.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/aggregator-io/aggregator/internal/aliasing"
	"github.com/aggregator-io/aggregator/internal/api"
	"github.com/aggregator-io/aggregator/internal/api/middleware"
	"github.com/aggregator-io/aggregator/internal/broker"
	"github.com/aggregator-io/aggregator/internal/ingestion"
	"github.com/aggregator-io/aggregator/internal/storage"
	"github.com/aggregator-io/aggregator/internal/worker"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "aggregator"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting aggregator service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
	)

	// Event store
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	eventStore, err := storage.NewEventStore(dbConn)
	if err != nil {
		logger.Error("Failed to create event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	logger.Info("Event store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	// Topic and source alias resolution
	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Alias configuration unavailable, continuing without aliases",
			slog.String("error", err.Error()),
		)

		aliasConfig = &aliasing.Config{}
	}

	resolver := aliasing.NewResolver(aliasConfig)
	if resolver.AliasCount() > 0 {
		logger.Info("Alias resolver initialized", slog.Int("aliases", resolver.AliasCount()))
	}

	pipeline := ingestion.NewPipeline(eventStore, logger, ingestion.WithAliasResolver(resolver))

	// Broker and worker pool. The broker is optional: without it the
	// synchronous publish paths still work, the async path degrades.
	var (
		eventBroker *broker.Broker
		pool        *worker.Pool
	)

	brokerConfig := broker.LoadConfig()

	eventBroker, err = broker.NewBroker(brokerConfig)
	if err != nil {
		logger.Warn("Broker unavailable, async publish and workers disabled",
			slog.String("error", err.Error()),
		)

		eventBroker = nil
	} else {
		defer func() {
			_ = eventBroker.Close()
		}()

		workerConfig := worker.LoadConfig()

		if workerConfig.Enabled {
			pool, err = worker.NewPool(eventBroker, pipeline, workerConfig)
			if err != nil {
				logger.Error("Failed to create worker pool", slog.String("error", err.Error()))

				_ = eventBroker.Close()
				_ = dbConn.Close()
				os.Exit(1)
			}

			pool.Start(context.Background())
			defer pool.Stop()
		} else {
			logger.Info("Worker mode disabled, this instance serves HTTP only")
		}
	}

	// nil interface values must stay nil; a typed nil would pass the
	// server's nil checks
	var (
		queue   api.QueuePublisher
		workers api.WorkerStats
	)

	if eventBroker != nil {
		queue = eventBroker
	}

	if pool != nil {
		workers = pool
	}

	server := api.NewServer(serverConfig, pipeline, eventStore, queue, workers, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Aggregator service stopped")
}
