// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aggregator-io/aggregator/internal/api/middleware"
	"github.com/aggregator-io/aggregator/internal/ingestion"
	"github.com/aggregator-io/aggregator/internal/storage"
)

type (
	// Pipeline is the synchronous ingest surface the server depends on.
	Pipeline interface {
		Process(ctx context.Context, event *ingestion.Event, workerID string) (ingestion.Result, error)
		ProcessBatch(ctx context.Context, events []*ingestion.Event, workerID string) (ingestion.BatchResult, error)
	}

	// EventReader is the query and admin surface of the event store.
	EventReader interface {
		GetEvents(ctx context.Context, topic string, limit, offset int) ([]storage.StoredEvent, error)
		GetStatistics(ctx context.Context) (*storage.Statistics, error)
		Reset(ctx context.Context) error
		HealthCheck(ctx context.Context) error
	}

	// QueuePublisher is the broker surface used by the async publish path.
	QueuePublisher interface {
		PublishEvent(ctx context.Context, record map[string]interface{}) error
		QueueSize(ctx context.Context) (int64, error)
		HealthCheck(ctx context.Context) error
	}

	// WorkerStats exposes the worker pool's live worker count.
	WorkerStats interface {
		ActiveWorkers() int
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		pipeline    Pipeline
		events      EventReader
		queue       QueuePublisher
		workers     WorkerStats
		rateLimiter middleware.RateLimiter
	}
)

// NewServer creates a new HTTP server instance with structured logging and
// middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig:
// configuration (what) is separated from dependencies (how). queue and
// workers may be nil when the process runs without a broker; the affected
// endpoints degrade instead of failing.
func NewServer(
	cfg *ServerConfig,
	pipeline Pipeline,
	events EventReader,
	queue QueuePublisher,
	workers WorkerStats,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		pipeline:    pipeline,
		events:      events,
		queue:       queue,
		workers:     workers,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes(mux)

	if queue == nil {
		logger.Warn("Broker not configured - async publish endpoint disabled")
	}

	if rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Apply middleware chain using functional options pattern.
	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. RateLimit - block requests before expensive operations (optional)
	//   4. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   5. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Record server start time for uptime calculation
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting aggregator API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close rate limiter to stop background cleanup goroutines
	if limiter, ok := s.rateLimiter.(interface{ Close() }); ok {
		s.logger.Info("Closing rate limiter")
		limiter.Close()
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}

// uptimeSeconds returns elapsed time since the server started, in seconds.
func (s *Server) uptimeSeconds() float64 {
	if s.startTime.IsZero() {
		return 0
	}

	return time.Since(s.startTime).Seconds()
}

// formatUptime renders an uptime as "Dd Hh Mm Ss".
func formatUptime(d time.Duration) string {
	total := int64(d.Seconds())

	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}
