// Package ingestion provides the log-event domain model, validation, and the
// ingest pipeline that turns validated events into dedup decisions.
package ingestion

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// Event represents a single log event submitted by a producer - Domain Model.
	//
	// Producers tag every event with a (topic, event_id) pair; the aggregator
	// persists each logical pair exactly once regardless of how many times it is
	// delivered. This is a pure domain model without JSON tags. The API layer
	// uses its own request types and maps to this domain type.
	Event struct {
		// Topic is the logical channel the event belongs to.
		// Non-empty after trimming, max 255 characters.
		Topic string

		// EventID uniquely identifies the event within its topic.
		// Minimum 8 characters for collision resistance, max 255.
		EventID string

		// Timestamp is the producer-supplied event time (RFC 3339).
		// Storage separately records received_at and processed_at.
		Timestamp time.Time

		// Source identifies the producing service.
		// Non-empty after trimming, max 255 characters.
		Source string

		// Payload is an opaque JSON object. The aggregator never inspects its
		// contents; it only serialises and stores them. Defaults to {}.
		Payload map[string]interface{}
	}

	// Result is the outcome of processing a single event through the pipeline.
	Result struct {
		// IsNew is true when the event was persisted for the first time.
		IsNew bool

		// IsDuplicate is true when the (topic, event_id) pair already existed.
		IsDuplicate bool

		// ReceivedAt is when the aggregator accepted the event.
		ReceivedAt time.Time
	}

	// BatchResult aggregates the outcome of a batch insert.
	BatchResult struct {
		TotalReceived     int
		UniqueProcessed   int
		DuplicatesDropped int
	}
)

const (
	maxFieldLength   = 255
	minEventIDLength = 8
)

// Sentinel errors for event validation failures.
var (
	ErrNilEvent        = errors.New("event cannot be nil")
	ErrTopicEmpty      = errors.New("topic cannot be empty or whitespace only")
	ErrTopicTooLong    = errors.New("topic cannot exceed 255 characters")
	ErrEventIDEmpty    = errors.New("event_id cannot be empty or whitespace only")
	ErrEventIDTooShort = errors.New("event_id must be at least 8 characters for collision resistance")
	ErrEventIDTooLong  = errors.New("event_id cannot exceed 255 characters")
	ErrSourceEmpty     = errors.New("source cannot be empty or whitespace only")
	ErrSourceTooLong   = errors.New("source cannot exceed 255 characters")
	ErrTimestampZero   = errors.New("timestamp is required")
)

// Normalize trims whitespace from topic, event_id, and source, and defaults a
// nil payload to an empty object. Call before Validate so that trim-only
// fields are rejected as empty rather than accepted with padding.
func (e *Event) Normalize() {
	if e == nil {
		return
	}

	e.Topic = strings.TrimSpace(e.Topic)
	e.EventID = strings.TrimSpace(e.EventID)
	e.Source = strings.TrimSpace(e.Source)

	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
}

// Validate performs domain validation on the Event.
//
// Validation rules:
//   - topic: required after trim, ≤255 chars
//   - event_id: required after trim, ≥8 chars, ≤255 chars
//   - source: required after trim, ≤255 chars
//   - timestamp: required (not zero)
//
// Returns a sentinel error (wrapped with detail) for errors.Is checks.
func (e *Event) Validate() error {
	if e == nil {
		return ErrNilEvent
	}

	if strings.TrimSpace(e.Topic) == "" {
		return ErrTopicEmpty
	}

	if len(e.Topic) > maxFieldLength {
		return fmt.Errorf("%w: got %d characters", ErrTopicTooLong, len(e.Topic))
	}

	if strings.TrimSpace(e.EventID) == "" {
		return ErrEventIDEmpty
	}

	if len(strings.TrimSpace(e.EventID)) < minEventIDLength {
		return fmt.Errorf("%w: got %d characters", ErrEventIDTooShort, len(strings.TrimSpace(e.EventID)))
	}

	if len(e.EventID) > maxFieldLength {
		return fmt.Errorf("%w: got %d characters", ErrEventIDTooLong, len(e.EventID))
	}

	if strings.TrimSpace(e.Source) == "" {
		return ErrSourceEmpty
	}

	if len(e.Source) > maxFieldLength {
		return fmt.Errorf("%w: got %d characters", ErrSourceTooLong, len(e.Source))
	}

	if e.Timestamp.IsZero() {
		return ErrTimestampZero
	}

	return nil
}

// ParseTimestamp parses a producer-supplied timestamp string.
// Accepts RFC 3339 instants with a trailing Z or an explicit offset.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}

	return ts, nil
}
