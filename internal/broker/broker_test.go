package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := &Config{
		brokerURL:           "redis://" + mr.Addr(),
		MaxConnections:      defaultMaxConnections,
		EventQueueName:      defaultEventQueue,
		ProcessingQueueName: defaultProcessingQueue,
		DeadLetterQueueName: defaultDeadLetterQueue,
	}

	b, err := NewBroker(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = b.Close()
	})

	return b, mr
}

func TestBroker_PublishConsume(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, _ := newTestBroker(t)

	record := map[string]interface{}{
		"topic":    "application-logs",
		"event_id": "evt-12345678",
		"source":   "service-a",
	}

	require.NoError(t, b.PublishEvent(ctx, record))

	got, err := b.ConsumeEvent(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "application-logs", got["topic"])
	assert.Equal(t, "evt-12345678", got["event_id"])
}

func TestBroker_FIFOOrder(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, _ := newTestBroker(t)

	for _, id := range []string{"evt-first-01", "evt-second-01", "evt-third-01"} {
		require.NoError(t, b.PublishEvent(ctx, map[string]interface{}{"event_id": id}))
	}

	var order []string

	for i := 0; i < 3; i++ {
		got, err := b.ConsumeEvent(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, got)

		order = append(order, got["event_id"].(string))
	}

	assert.Equal(t, []string{"evt-first-01", "evt-second-01", "evt-third-01"}, order)
}

func TestBroker_ConsumeEmptyQueueTimesOut(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, _ := newTestBroker(t)

	got, err := b.ConsumeEvent(ctx, 50*time.Millisecond)
	require.NoError(t, err, "empty queue is not an error")
	assert.Nil(t, got)
}

func TestBroker_PublishBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, _ := newTestBroker(t)

	records := []map[string]interface{}{
		{"event_id": "evt-batch-001"},
		{"event_id": "evt-batch-002"},
		{"event_id": "evt-batch-003"},
	}

	require.NoError(t, b.PublishBatch(ctx, records))

	size, err := b.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	// Batch preserves submission order
	got, err := b.ConsumeEvent(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "evt-batch-001", got["event_id"])
}

func TestBroker_PublishBatchEmpty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, _ := newTestBroker(t)

	require.NoError(t, b.PublishBatch(ctx, nil))

	size, err := b.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestBroker_MoveToDeadLetter(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, mr := newTestBroker(t)

	record := map[string]interface{}{
		"topic":    "application-logs",
		"event_id": "evt-failed-01",
		RetriesKey: float64(3),
	}

	require.NoError(t, b.MoveToDeadLetter(ctx, record, errors.New("store unavailable")))

	size, err := b.DeadLetterSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	raw, err := mr.Lpop(defaultDeadLetterQueue)
	require.NoError(t, err)

	var dead map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &dead))

	assert.Equal(t, "evt-failed-01", dead["event_id"])
	assert.Equal(t, "store unavailable", dead[ErrorKey])

	failedAt, ok := dead[FailedAtKey].(string)
	require.True(t, ok, "failed_at must be a string")

	_, err = time.Parse(time.RFC3339, failedAt)
	assert.NoError(t, err, "failed_at must be RFC3339")

	// Original record is not mutated
	assert.NotContains(t, record, ErrorKey)
}

func TestBroker_HealthCheck(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	b, mr := newTestBroker(t)

	require.NoError(t, b.HealthCheck(ctx))

	mr.Close()

	assert.Error(t, b.HealthCheck(ctx))
}

func TestBroker_NotConnected(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	var b *Broker

	assert.ErrorIs(t, b.PublishEvent(ctx, nil), ErrNotConnected)
	assert.ErrorIs(t, b.HealthCheck(ctx), ErrNotConnected)

	_, err := b.ConsumeEvent(ctx, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = b.QueueSize(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = b.DeadLetterSize(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLoadConfig_BrokerDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadConfig()

	assert.Equal(t, defaultBrokerURL, cfg.brokerURL)
	assert.Equal(t, defaultEventQueue, cfg.EventQueueName)
	assert.Equal(t, defaultDeadLetterQueue, cfg.DeadLetterQueueName)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_BrokerEnvOverrides(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("BROKER_URL", "redis://example:6380/1")
	t.Setenv("EVENT_QUEUE_NAME", "custom_queue")
	t.Setenv("REDIS_MAX_CONNECTIONS", "25")

	cfg := LoadConfig()

	assert.Equal(t, "redis://example:6380/1", cfg.brokerURL)
	assert.Equal(t, "custom_queue", cfg.EventQueueName)
	assert.Equal(t, 25, cfg.MaxConnections)
}
