// Package broker provides the Redis-backed FIFO queue between the HTTP
// surface and the worker pool.
//
// Events are pushed to the head of a Redis list and popped from the tail,
// giving per-queue FIFO delivery. Delivery is at-least-once: a worker that
// dies after popping loses nothing downstream because the store deduplicates,
// but the popped record itself is not redelivered.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aggregator-io/aggregator/internal/config"
)

// Reserved record keys. Underscore-prefixed keys carry delivery metadata and
// never collide with event fields.
const (
	RetriesKey  = "_retries"
	ErrorKey    = "_error"
	FailedAtKey = "_failed_at"
)

const connectTimeout = 5 * time.Second

var (
	// ErrBrokerUnavailable is returned when Redis cannot be reached.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrNotConnected is returned when operating on a closed or nil broker.
	ErrNotConnected = errors.New("broker not connected")
)

// Broker is a Redis list-backed event queue.
type Broker struct {
	client *redis.Client
	config *Config
	logger *slog.Logger
}

// NewBroker connects to Redis and verifies connectivity with PING.
func NewBroker(cfg *Config) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker configuration: %w", err)
	}

	opts, err := redis.ParseURL(cfg.brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	return &Broker{
		client: client,
		config: cfg,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// PublishEvent pushes one record to the head of the event queue.
func (b *Broker) PublishEvent(ctx context.Context, record map[string]interface{}) error {
	if b == nil || b.client == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode event record: %w", err)
	}

	if err := b.client.LPush(ctx, b.config.EventQueueName, data).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	return nil
}

// PublishBatch pushes multiple records atomically using a transactional
// pipeline. Either all records are enqueued or none are.
func (b *Broker) PublishBatch(ctx context.Context, records []map[string]interface{}) error {
	if b == nil || b.client == nil {
		return ErrNotConnected
	}

	if len(records) == 0 {
		return nil
	}

	pipe := b.client.TxPipeline()

	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode event record: %w", err)
		}

		pipe.LPush(ctx, b.config.EventQueueName, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	return nil
}

// ConsumeEvent pops one record from the tail of the event queue, blocking up
// to timeout. Returns (nil, nil) when the queue stayed empty for the full
// timeout, so callers can poll without treating emptiness as an error.
func (b *Broker) ConsumeEvent(ctx context.Context, timeout time.Duration) (map[string]interface{}, error) {
	if b == nil || b.client == nil {
		return nil, ErrNotConnected
	}

	result, err := b.client.BRPop(ctx, timeout, b.config.EventQueueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	// BRPOP returns [queue name, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(result))
	}

	var record map[string]interface{}
	if err := json.Unmarshal([]byte(result[1]), &record); err != nil {
		return nil, fmt.Errorf("failed to decode event record: %w", err)
	}

	return record, nil
}

// MoveToDeadLetter annotates a record with the failure reason and timestamp,
// then pushes it to the dead letter queue for operator inspection.
func (b *Broker) MoveToDeadLetter(ctx context.Context, record map[string]interface{}, processErr error) error {
	if b == nil || b.client == nil {
		return ErrNotConnected
	}

	annotated := make(map[string]interface{}, len(record)+2)
	for k, v := range record {
		annotated[k] = v
	}

	annotated[ErrorKey] = processErr.Error()
	annotated[FailedAtKey] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(annotated)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter record: %w", err)
	}

	if err := b.client.LPush(ctx, b.config.DeadLetterQueueName, data).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	b.logger.Warn("event moved to dead letter queue",
		slog.Any("event_id", record["event_id"]),
		slog.String("error", processErr.Error()),
	)

	return nil
}

// QueueSize returns the current depth of the event queue.
func (b *Broker) QueueSize(ctx context.Context) (int64, error) {
	if b == nil || b.client == nil {
		return 0, ErrNotConnected
	}

	return b.listLength(ctx, b.config.EventQueueName)
}

// DeadLetterSize returns the current depth of the dead letter queue.
func (b *Broker) DeadLetterSize(ctx context.Context) (int64, error) {
	if b == nil || b.client == nil {
		return 0, ErrNotConnected
	}

	return b.listLength(ctx, b.config.DeadLetterQueueName)
}

func (b *Broker) listLength(ctx context.Context, queue string) (int64, error) {
	if b == nil || b.client == nil {
		return 0, ErrNotConnected
	}

	size, err := b.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	return size, nil
}

// HealthCheck verifies Redis connectivity with PING.
func (b *Broker) HealthCheck(ctx context.Context) error {
	if b == nil || b.client == nil {
		return ErrNotConnected
	}

	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
	}

	return nil
}

// Close releases the Redis connection pool.
func (b *Broker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}

	return b.client.Close()
}
