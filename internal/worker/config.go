package worker

import (
	"errors"
	"time"

	"github.com/aggregator-io/aggregator/internal/config"
)

const (
	defaultWorkerCount       = 4
	defaultMaxRetries        = 3
	defaultRetryDelaySecs    = 1.0
	defaultBackoffMultiplier = 2.0
	defaultBatchSize         = 100
	defaultBatchTimeoutSecs  = 5.0
)

var (
	// ErrInvalidWorkerCount is returned when the worker count is not positive.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")

	// ErrInvalidBackoffMultiplier is returned when the multiplier is below 1.
	ErrInvalidBackoffMultiplier = errors.New("retry backoff multiplier must be at least 1")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

// Config holds worker pool configuration.
type Config struct {
	WorkerCount       int           // Number of consumer goroutines
	Enabled           bool          // Whether this process runs workers at all
	MaxRetries        int           // Delivery attempts before dead-lettering
	RetryDelay        time.Duration // Base delay before re-enqueueing a failed event
	BackoffMultiplier float64       // Per-retry delay growth factor
	BatchSize         int           // Max events drained per batch cycle
	BatchTimeout      time.Duration // Max wait for a batch to fill
}

// LoadConfig loads worker configuration from environment variables with fallback to defaults.
//
// RETRY_DELAY_SECONDS and BATCH_TIMEOUT_SECONDS accept fractional seconds.
func LoadConfig() *Config {
	retryDelay := config.GetEnvFloat("RETRY_DELAY_SECONDS", defaultRetryDelaySecs)
	batchTimeout := config.GetEnvFloat("BATCH_TIMEOUT_SECONDS", defaultBatchTimeoutSecs)

	return &Config{
		WorkerCount:       config.GetEnvInt("WORKER_COUNT", defaultWorkerCount),
		Enabled:           config.GetEnvBool("WORKER_MODE", true),
		MaxRetries:        config.GetEnvInt("MAX_RETRIES", defaultMaxRetries),
		RetryDelay:        time.Duration(retryDelay * float64(time.Second)),
		BackoffMultiplier: config.GetEnvFloat("RETRY_BACKOFF_MULTIPLIER", defaultBackoffMultiplier),
		BatchSize:         config.GetEnvInt("BATCH_SIZE", defaultBatchSize),
		BatchTimeout:      time.Duration(batchTimeout * float64(time.Second)),
	}
}

// Validate checks if the worker configuration is valid.
func (c *Config) Validate() error {
	if c.WorkerCount <= 0 {
		return ErrInvalidWorkerCount
	}

	if c.BackoffMultiplier < 1 {
		return ErrInvalidBackoffMultiplier
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	return nil
}
