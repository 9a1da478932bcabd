package broker

import (
	"errors"
	"strings"

	"github.com/aggregator-io/aggregator/internal/config"
)

const (
	defaultBrokerURL       = "redis://localhost:6379/0"
	defaultMaxConnections  = 50
	defaultEventQueue      = "event_queue"
	defaultProcessingQueue = "processing_queue"
	defaultDeadLetterQueue = "dead_letter_queue"
)

var (
	// ErrBrokerURLEmpty is returned when the broker url is an empty string.
	ErrBrokerURLEmpty = errors.New("broker URL cannot be empty")
)

// Config holds Redis broker configuration.
type Config struct {
	brokerURL           string
	MaxConnections      int    // Connection pool size
	EventQueueName      string // Main FIFO ingest queue
	ProcessingQueueName string // Reserved for in-flight tracking
	DeadLetterQueueName string // Terminal queue for exhausted events
}

// LoadConfig loads broker configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		brokerURL:           config.GetEnvStr("BROKER_URL", defaultBrokerURL),
		MaxConnections:      config.GetEnvInt("REDIS_MAX_CONNECTIONS", defaultMaxConnections),
		EventQueueName:      config.GetEnvStr("EVENT_QUEUE_NAME", defaultEventQueue),
		ProcessingQueueName: config.GetEnvStr("PROCESSING_QUEUE_NAME", defaultProcessingQueue),
		DeadLetterQueueName: config.GetEnvStr("DEAD_LETTER_QUEUE_NAME", defaultDeadLetterQueue),
	}
}

// Validate checks if the broker configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.brokerURL) == "" {
		return ErrBrokerURLEmpty
	}

	return nil
}
