// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"fmt"
	"time"

	"github.com/aggregator-io/aggregator/internal/ingestion"
)

type (
	// EventRequest is the payload of a publish request. It is separate from
	// the domain model (ingestion.Event) to decouple the API contract from
	// internal types.
	EventRequest struct {
		Topic     string                 `json:"topic"`
		EventID   string                 `json:"event_id"`
		Timestamp string                 `json:"timestamp,omitempty"`
		Source    string                 `json:"source"`
		Payload   map[string]interface{} `json:"payload,omitempty"`
	}

	// BatchEventsRequest is the payload of a batch publish request.
	BatchEventsRequest struct {
		Events []EventRequest `json:"events"`
	}

	// PublishResponse is returned by single-event publish endpoints.
	PublishResponse struct {
		Success     bool   `json:"success"`
		Message     string `json:"message"`
		EventID     string `json:"event_id"`
		IsDuplicate bool   `json:"is_duplicate"`
		ReceivedAt  string `json:"received_at"`
	}

	// BatchPublishResponse is returned by the batch publish endpoint.
	BatchPublishResponse struct {
		Success           bool `json:"success"`
		TotalReceived     int  `json:"total_received"`
		UniqueProcessed   int  `json:"unique_processed"`
		DuplicatesDropped int  `json:"duplicates_dropped"`
		Failed            int  `json:"failed"`
	}

	// EventRecord is one stored event in a list response.
	EventRecord struct {
		Topic       string                 `json:"topic"`
		EventID     string                 `json:"event_id"`
		Timestamp   string                 `json:"timestamp"`
		Source      string                 `json:"source"`
		Payload     map[string]interface{} `json:"payload"`
		ReceivedAt  string                 `json:"received_at"`
		ProcessedAt string                 `json:"processed_at,omitempty"`
	}

	// EventsListResponse is returned by the event listing endpoint.
	EventsListResponse struct {
		Success bool          `json:"success"`
		Topic   string        `json:"topic,omitempty"`
		Count   int           `json:"count"`
		Events  []EventRecord `json:"events"`
	}

	// StatsResponse is returned by the statistics endpoint.
	StatsResponse struct {
		Received         int64            `json:"received"`
		UniqueProcessed  int64            `json:"unique_processed"`
		DuplicateDropped int64            `json:"duplicate_dropped"`
		Topics           []string         `json:"topics"`
		TopicCounts      map[string]int64 `json:"topic_counts"`
		UptimeSeconds    float64          `json:"uptime_seconds"`
		UptimeFormatted  string           `json:"uptime_formatted"`
		WorkersActive    int              `json:"workers_active"`
		QueueSize        int64            `json:"queue_size"`
	}

	// MessageResponse is a generic success acknowledgement.
	MessageResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	// HealthResponse is returned by the health endpoint. The HTTP status is
	// 200 regardless of component health; consumers read the status field.
	HealthResponse struct {
		Status        string  `json:"status"`
		Database      string  `json:"database"`
		Broker        string  `json:"broker"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Version       string  `json:"version"`
	}
)

// toEvent converts an API request into a domain event. A missing timestamp
// defaults to the current time; an unparseable one is rejected.
func (req *EventRequest) toEvent() (*ingestion.Event, error) {
	timestamp := time.Now().UTC()

	if req.Timestamp != "" {
		parsed, err := ingestion.ParseTimestamp(req.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp: %w", err)
		}

		timestamp = parsed
	}

	return &ingestion.Event{
		Topic:     req.Topic,
		EventID:   req.EventID,
		Timestamp: timestamp,
		Source:    req.Source,
		Payload:   req.Payload,
	}, nil
}

// toWireRecord converts a normalized domain event into the queue wire format.
func toWireRecord(event *ingestion.Event) map[string]interface{} {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	return map[string]interface{}{
		"topic":     event.Topic,
		"event_id":  event.EventID,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"source":    event.Source,
		"payload":   payload,
	}
}
