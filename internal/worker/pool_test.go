package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aggregator-io/aggregator/internal/broker"
	"github.com/aggregator-io/aggregator/internal/ingestion"
)

type fakeQueue struct {
	events chan map[string]interface{}
	dead   chan map[string]interface{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		events: make(chan map[string]interface{}, 64),
		dead:   make(chan map[string]interface{}, 64),
	}
}

func (q *fakeQueue) ConsumeEvent(ctx context.Context, timeout time.Duration) (map[string]interface{}, error) {
	select {
	case record := <-q.events:
		return record, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) PublishEvent(ctx context.Context, record map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.events <- record

	return nil
}

func (q *fakeQueue) MoveToDeadLetter(ctx context.Context, record map[string]interface{}, _ error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.dead <- record

	return nil
}

type fakeProcessor struct {
	err       error
	processed chan *ingestion.Event
	batches   chan []*ingestion.Event
}

func newFakeProcessor(err error) *fakeProcessor {
	return &fakeProcessor{
		err:       err,
		processed: make(chan *ingestion.Event, 64),
		batches:   make(chan []*ingestion.Event, 16),
	}
}

func (p *fakeProcessor) Process(_ context.Context, event *ingestion.Event, _ string) (ingestion.Result, error) {
	if p.err != nil {
		return ingestion.Result{}, p.err
	}

	p.processed <- event

	return ingestion.Result{IsNew: true, ReceivedAt: time.Now().UTC()}, nil
}

func (p *fakeProcessor) ProcessBatch(_ context.Context, events []*ingestion.Event, _ string) (ingestion.BatchResult, error) {
	if p.err != nil {
		return ingestion.BatchResult{}, p.err
	}

	p.batches <- events

	return ingestion.BatchResult{TotalReceived: len(events), UniqueProcessed: len(events)}, nil
}

// blockedProcessor simulates an in-flight event caught by shutdown: Process
// signals entry, then holds until the worker context is cancelled and fails.
type blockedProcessor struct {
	started chan struct{}
}

func (p *blockedProcessor) Process(ctx context.Context, _ *ingestion.Event, _ string) (ingestion.Result, error) {
	p.started <- struct{}{}
	<-ctx.Done()

	return ingestion.Result{}, fmt.Errorf("store unavailable: %w", ctx.Err())
}

func (p *blockedProcessor) ProcessBatch(ctx context.Context, _ []*ingestion.Event, _ string) (ingestion.BatchResult, error) {
	p.started <- struct{}{}
	<-ctx.Done()

	return ingestion.BatchResult{}, fmt.Errorf("store unavailable: %w", ctx.Err())
}

func testPoolConfig() *Config {
	return &Config{
		WorkerCount:       1,
		Enabled:           true,
		MaxRetries:        3,
		RetryDelay:        time.Millisecond,
		BackoffMultiplier: 2.0,
		BatchSize:         defaultBatchSize,
		BatchTimeout:      time.Second,
	}
}

func validRecord() map[string]interface{} {
	return map[string]interface{}{
		"topic":     "application-logs",
		"event_id":  "evt-12345678",
		"timestamp": "2026-01-15T10:30:00Z",
		"source":    "service-a",
		"payload":   map[string]interface{}{"level": "info"},
	}
}

func recordWithID(eventID string) map[string]interface{} {
	record := validRecord()
	record["event_id"] = eventID

	return record
}

func TestPool_ProcessesQueuedEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(nil)

	pool, err := NewPool(queue, processor, testPoolConfig())
	require.NoError(t, err)

	require.NoError(t, queue.PublishEvent(context.Background(), validRecord()))

	pool.Start(context.Background())
	defer pool.Stop()

	select {
	case event := <-processor.processed:
		assert.Equal(t, "application-logs", event.Topic)
		assert.Equal(t, "evt-12345678", event.EventID)
		assert.Equal(t, "service-a", event.Source)
	case <-time.After(3 * time.Second):
		t.Fatal("event was not processed in time")
	}
}

func TestPool_DrainsBacklogAsBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, queue.PublishEvent(context.Background(), recordWithID(fmt.Sprintf("evt-backlog-%d", i))))
	}

	pool, err := NewPool(queue, processor, testPoolConfig())
	require.NoError(t, err)

	pool.Start(context.Background())
	defer pool.Stop()

	select {
	case events := <-processor.batches:
		require.Len(t, events, 3, "backlog should be drained into one batch")
		assert.Equal(t, "evt-backlog-0", events[0].EventID)
		assert.Equal(t, "evt-backlog-2", events[2].EventID)
	case <-time.After(3 * time.Second):
		t.Fatal("backlog was not batch-processed in time")
	}
}

func TestPool_BatchSizeCapsDrain(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(nil)

	cfg := testPoolConfig()
	cfg.BatchSize = 2

	for i := 0; i < 3; i++ {
		require.NoError(t, queue.PublishEvent(context.Background(), recordWithID(fmt.Sprintf("evt-capped-%d", i))))
	}

	pool, err := NewPool(queue, processor, cfg)
	require.NoError(t, err)

	pool.Start(context.Background())
	defer pool.Stop()

	select {
	case events := <-processor.batches:
		assert.Len(t, events, 2, "drain should stop at the configured batch size")
	case <-time.After(3 * time.Second):
		t.Fatal("capped batch was not processed in time")
	}
}

func TestPool_RetriesThenDeadLetters(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(errors.New("store unavailable"))

	pool, err := NewPool(queue, processor, testPoolConfig())
	require.NoError(t, err)

	require.NoError(t, queue.PublishEvent(context.Background(), validRecord()))

	pool.Start(context.Background())
	defer pool.Stop()

	select {
	case record := <-queue.dead:
		assert.Equal(t, "evt-12345678", record["event_id"])
		assert.Equal(t, 3, recordRetries(record), "record should carry the exhausted retry count")
	case <-time.After(10 * time.Second):
		t.Fatal("event was not dead-lettered in time")
	}
}

func TestPool_BatchFailureRetriesEachRecord(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(errors.New("store unavailable"))

	require.NoError(t, queue.PublishEvent(context.Background(), recordWithID("evt-batchfail-0")))
	require.NoError(t, queue.PublishEvent(context.Background(), recordWithID("evt-batchfail-1")))

	pool, err := NewPool(queue, processor, testPoolConfig())
	require.NoError(t, err)

	pool.Start(context.Background())
	defer pool.Stop()

	seen := map[string]int{}

	for len(seen) < 2 {
		select {
		case record := <-queue.dead:
			id, _ := record["event_id"].(string)
			seen[id] = recordRetries(record)
		case <-time.After(15 * time.Second):
			t.Fatalf("batch records were not dead-lettered in time, got %v", seen)
		}
	}

	assert.Equal(t, 3, seen["evt-batchfail-0"], "each record cycles through the full retry budget")
	assert.Equal(t, 3, seen["evt-batchfail-1"], "each record cycles through the full retry budget")
}

func TestPool_StopDoesNotLoseInFlightEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := &blockedProcessor{started: make(chan struct{}, 1)}

	pool, err := NewPool(queue, processor, testPoolConfig())
	require.NoError(t, err)

	require.NoError(t, queue.PublishEvent(context.Background(), validRecord()))

	pool.Start(context.Background())

	select {
	case <-processor.started:
	case <-time.After(3 * time.Second):
		t.Fatal("event never reached the processor")
	}

	// The worker is now holding the dequeued record; stopping the pool
	// cancels its context mid-processing.
	pool.Stop()

	select {
	case record := <-queue.events:
		assert.Equal(t, "evt-12345678", record["event_id"])
		assert.Equal(t, 1, recordRetries(record), "in-flight record is re-enqueued, not dropped")
	default:
		select {
		case record := <-queue.dead:
			t.Fatalf("in-flight record was dead-lettered instead of re-enqueued: %v", record)
		default:
			t.Fatal("in-flight record vanished from both queues during shutdown")
		}
	}
}

func TestPool_MalformedRecordGoesStraightToDeadLetter(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(nil)

	pool, err := NewPool(queue, processor, testPoolConfig())
	require.NoError(t, err)

	require.NoError(t, queue.PublishEvent(context.Background(), map[string]interface{}{
		"event_id": "evt-no-topic",
	}))

	pool.Start(context.Background())
	defer pool.Stop()

	select {
	case record := <-queue.dead:
		assert.Equal(t, "evt-no-topic", record["event_id"])
		assert.Equal(t, 0, recordRetries(record), "malformed records skip the retry cycle")
	case <-time.After(3 * time.Second):
		t.Fatal("malformed record was not dead-lettered in time")
	}
}

func TestPool_ActiveWorkers(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue()
	processor := newFakeProcessor(nil)

	cfg := testPoolConfig()
	cfg.WorkerCount = 3

	pool, err := NewPool(queue, processor, cfg)
	require.NoError(t, err)

	assert.Equal(t, 0, pool.ActiveWorkers())

	pool.Start(context.Background())

	require.Eventually(t, func() bool {
		return pool.ActiveWorkers() == 3
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop()

	require.Eventually(t, func() bool {
		return pool.ActiveWorkers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPool_InvalidConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewPool(newFakeQueue(), newFakeProcessor(nil), &Config{WorkerCount: 0})
	assert.ErrorIs(t, err, ErrInvalidWorkerCount)

	_, err = NewPool(newFakeQueue(), newFakeProcessor(nil), &Config{WorkerCount: 1, BackoffMultiplier: 0.5})
	assert.ErrorIs(t, err, ErrInvalidBackoffMultiplier)

	_, err = NewPool(newFakeQueue(), newFakeProcessor(nil), &Config{WorkerCount: 1, BackoffMultiplier: 2.0, BatchSize: 0})
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestDecodeRecord(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event, err := decodeRecord(validRecord())
	require.NoError(t, err)
	assert.Equal(t, "application-logs", event.Topic)
	assert.Equal(t, "evt-12345678", event.EventID)
	assert.Equal(t, "info", event.Payload["level"])
	assert.Equal(t, 2026, event.Timestamp.Year())

	_, err = decodeRecord(map[string]interface{}{"topic": "t", "event_id": "evt-12345678", "source": "s", "timestamp": "not a time"})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = decodeRecord(map[string]interface{}{})
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestRecordRetries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, 0, recordRetries(map[string]interface{}{}))
	assert.Equal(t, 2, recordRetries(map[string]interface{}{broker.RetriesKey: float64(2)}))
	assert.Equal(t, 3, recordRetries(map[string]interface{}{broker.RetriesKey: 3}))
	assert.Equal(t, 0, recordRetries(map[string]interface{}{broker.RetriesKey: "2"}))
}

func TestLoadConfig_WorkerDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadConfig()

	assert.Equal(t, defaultWorkerCount, cfg.WorkerCount)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, defaultBackoffMultiplier, cfg.BackoffMultiplier)
	assert.Equal(t, defaultBatchSize, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.BatchTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_WorkerEnvOverrides(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("RETRY_DELAY_SECONDS", "0.5")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("BATCH_SIZE", "25")

	cfg := LoadConfig()

	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 25, cfg.BatchSize)
}
