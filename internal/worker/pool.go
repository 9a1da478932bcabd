// Package worker provides the consumer pool that drains the broker queue and
// feeds events through the ingest pipeline.
//
// Delivery is at-least-once. A failed event is re-enqueued with an
// incremented retry counter; the worker that failed it sleeps the backoff
// delay itself, shedding load from the queue without blocking its siblings.
// Events that exhaust their retries are moved to the dead letter queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aggregator-io/aggregator/internal/broker"
	"github.com/aggregator-io/aggregator/internal/config"
	"github.com/aggregator-io/aggregator/internal/ingestion"
)

const (
	consumeTimeout  = 1 * time.Second
	errorPauseDelay = 1 * time.Second
	shutdownTimeout = 10 * time.Second

	// recoveryTimeout bounds the re-enqueue and dead-letter calls that run
	// on their own context after a processing failure.
	recoveryTimeout = 5 * time.Second
)

// ErrMalformedRecord is returned when a queued record cannot be decoded into
// an event. Malformed records go straight to the dead letter queue.
var ErrMalformedRecord = errors.New("malformed event record")

type (
	// Queue is the broker surface the pool consumes from.
	Queue interface {
		ConsumeEvent(ctx context.Context, timeout time.Duration) (map[string]interface{}, error)
		PublishEvent(ctx context.Context, record map[string]interface{}) error
		MoveToDeadLetter(ctx context.Context, record map[string]interface{}, processErr error) error
	}

	// Processor runs events through validation and idempotent storage.
	Processor interface {
		Process(ctx context.Context, event *ingestion.Event, workerID string) (ingestion.Result, error)
		ProcessBatch(ctx context.Context, events []*ingestion.Event, workerID string) (ingestion.BatchResult, error)
	}

	// Pool runs a fixed set of consumer goroutines against the queue.
	Pool struct {
		queue     Queue
		processor Processor
		config    *Config
		logger    *slog.Logger

		cancel context.CancelFunc
		wg     sync.WaitGroup
		active atomic.Int32
	}
)

// Compile-time checks that the Redis broker and the ingest pipeline satisfy
// the pool's surfaces.
var (
	_ Queue     = (*broker.Broker)(nil)
	_ Processor = (*ingestion.Pipeline)(nil)
)

// NewPool creates a worker pool. It does not start any goroutines.
func NewPool(queue Queue, processor Processor, cfg *Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker configuration: %w", err)
	}

	return &Pool{
		queue:     queue,
		processor: processor,
		config:    cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Start launches the configured number of consumer goroutines.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)

		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			p.run(ctx, workerID)
		}()
	}

	p.logger.Info("worker pool started", slog.Int("workers", p.config.WorkerCount))
}

// Stop signals all workers to exit and waits for them, bounded by
// shutdownTimeout. In-flight events finish; queued events stay queued.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}

	p.cancel()

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(shutdownTimeout):
		p.logger.Warn("worker pool stop timed out")
	}
}

// ActiveWorkers returns the number of currently running consumer goroutines.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// run is one worker's consume loop. Any error outside the per-event retry
// discipline pauses the worker briefly and resumes it; a worker never dies
// on an error.
func (p *Pool) run(ctx context.Context, workerID string) {
	p.active.Add(1)
	defer p.active.Add(-1)

	p.logger.Info("worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping", slog.String("worker_id", workerID))

			return
		default:
		}

		record, err := p.queue.ConsumeEvent(ctx, consumeTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			p.logger.Error("consume failed",
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()),
			)
			p.sleep(ctx, errorPauseDelay)

			continue
		}

		if record == nil {
			// Queue stayed empty for the poll window
			continue
		}

		records := p.drainBatch(ctx, record)

		if len(records) == 1 {
			p.handleRecord(ctx, workerID, records[0])
		} else {
			p.handleBatch(ctx, workerID, records)
		}
	}
}

// drainBatch opportunistically pulls more queued records behind the first so
// a backlog is stored in one transaction instead of one per record. Draining
// stops at BatchSize records, once BatchTimeout has elapsed, or as soon as
// the queue runs empty.
func (p *Pool) drainBatch(ctx context.Context, first map[string]interface{}) []map[string]interface{} {
	records := []map[string]interface{}{first}
	deadline := time.Now().Add(p.config.BatchTimeout)

	for len(records) < p.config.BatchSize && time.Now().Before(deadline) {
		record, err := p.queue.ConsumeEvent(ctx, consumeTimeout)
		if err != nil || record == nil {
			break
		}

		records = append(records, record)
	}

	return records
}

// handleRecord processes one record, applying the retry discipline on failure.
func (p *Pool) handleRecord(ctx context.Context, workerID string, record map[string]interface{}) {
	event, err := decodeRecord(record)
	if err != nil {
		// Undecodable records can never succeed; skip the retry cycle
		p.logger.Error("malformed record dead-lettered",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()),
		)
		p.deadLetter(record, err)

		return
	}

	result, err := p.processor.Process(ctx, event, workerID)
	if err != nil {
		p.retryOrDeadLetter(ctx, workerID, record, err)

		return
	}

	p.logger.Debug("event processed",
		slog.String("worker_id", workerID),
		slog.String("topic", event.Topic),
		slog.String("event_id", event.EventID),
		slog.Bool("is_duplicate", result.IsDuplicate),
	)
}

// handleBatch decodes a drained batch and stores it in one transaction.
// Malformed records are dead-lettered individually; a store failure sends
// every decodable record through the retry discipline, with a single backoff
// sleep for the whole batch.
func (p *Pool) handleBatch(ctx context.Context, workerID string, records []map[string]interface{}) {
	events := make([]*ingestion.Event, 0, len(records))
	decodable := make([]map[string]interface{}, 0, len(records))

	for _, record := range records {
		event, err := decodeRecord(record)
		if err != nil {
			p.logger.Error("malformed record dead-lettered",
				slog.String("worker_id", workerID),
				slog.String("error", err.Error()),
			)
			p.deadLetter(record, err)

			continue
		}

		events = append(events, event)
		decodable = append(decodable, record)
	}

	if len(events) == 0 {
		return
	}

	result, err := p.processor.ProcessBatch(ctx, events, workerID)
	if err != nil {
		var maxDelay time.Duration

		for _, record := range decodable {
			if delay := p.recoverFailedRecord(workerID, record, err); delay > maxDelay {
				maxDelay = delay
			}
		}

		if maxDelay > 0 {
			p.sleep(ctx, maxDelay)
		}

		return
	}

	p.logger.Debug("batch processed",
		slog.String("worker_id", workerID),
		slog.Int("total", result.TotalReceived),
		slog.Int("new", result.UniqueProcessed),
		slog.Int("duplicates", result.DuplicatesDropped),
	)
}

// retryOrDeadLetter re-enqueues a failed record with an incremented retry
// counter, or dead-letters it once retries are exhausted. The failing worker
// sleeps the backoff delay after re-enqueueing.
func (p *Pool) retryOrDeadLetter(ctx context.Context, workerID string, record map[string]interface{}, processErr error) {
	if delay := p.recoverFailedRecord(workerID, record, processErr); delay > 0 {
		p.sleep(ctx, delay)
	}
}

// recoverFailedRecord re-enqueues or dead-letters one failed record and
// returns the backoff delay the caller should sleep (zero when the record was
// dead-lettered). The queue calls run on recoveryContext, not the worker
// context: recovery must outlive pool shutdown or an already-dequeued record
// would be lost.
func (p *Pool) recoverFailedRecord(workerID string, record map[string]interface{}, processErr error) time.Duration {
	retries := recordRetries(record)

	if retries >= p.config.MaxRetries {
		p.logger.Error("retries exhausted",
			slog.String("worker_id", workerID),
			slog.Any("event_id", record["event_id"]),
			slog.Int("retries", retries),
			slog.String("error", processErr.Error()),
		)
		p.deadLetter(record, processErr)

		return 0
	}

	record[broker.RetriesKey] = retries + 1

	ctx, cancel := recoveryContext()
	defer cancel()

	if err := p.queue.PublishEvent(ctx, record); err != nil {
		p.logger.Error("retry publish failed, dead-lettering",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()),
		)
		p.deadLetter(record, processErr)

		return 0
	}

	delay := time.Duration(float64(p.config.RetryDelay) * math.Pow(p.config.BackoffMultiplier, float64(retries)))

	p.logger.Warn("event re-enqueued for retry",
		slog.String("worker_id", workerID),
		slog.Any("event_id", record["event_id"]),
		slog.Int("attempt", retries+1),
		slog.Duration("backoff", delay),
		slog.String("error", processErr.Error()),
	)

	return delay
}

// deadLetter moves a record to the dead letter queue on its own bounded
// context so the move still succeeds during shutdown.
func (p *Pool) deadLetter(record map[string]interface{}, processErr error) {
	ctx, cancel := recoveryContext()
	defer cancel()

	if err := p.queue.MoveToDeadLetter(ctx, record, processErr); err != nil {
		p.logger.Error("dead letter move failed", slog.String("error", err.Error()))
	}
}

// recoveryContext returns a fresh bounded context for queue recovery calls.
// It deliberately does not inherit the worker context; a record being
// recovered has already left the queue and must land somewhere even when the
// pool is stopping.
func recoveryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), recoveryTimeout)
}

// sleep waits for d or until the pool is stopping, whichever comes first.
func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// recordRetries reads the retry counter from a queued record. JSON numbers
// decode as float64.
func recordRetries(record map[string]interface{}) int {
	switch v := record[broker.RetriesKey].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// decodeRecord converts a queued wire record into an event.
func decodeRecord(record map[string]interface{}) (*ingestion.Event, error) {
	topic, _ := record["topic"].(string)
	eventID, _ := record["event_id"].(string)
	source, _ := record["source"].(string)

	if topic == "" || eventID == "" || source == "" {
		return nil, fmt.Errorf("%w: missing topic, event_id, or source", ErrMalformedRecord)
	}

	rawTimestamp, _ := record["timestamp"].(string)

	timestamp, err := ingestion.ParseTimestamp(rawTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	payload, _ := record["payload"].(map[string]interface{})

	return &ingestion.Event{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: timestamp,
		Source:    source,
		Payload:   payload,
	}, nil
}
