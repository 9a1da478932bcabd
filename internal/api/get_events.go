// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// handleGetEvents lists stored events, newest first, optionally filtered by
// topic. limit must be in [1, 1000] (default 100) and offset must be
// non-negative; out-of-range values are rejected with 422.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	topic := query.Get("topic")

	limit, errResp := parseIntParam(query.Get("limit"), defaultListLimit)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	offset, errResp := parseIntParam(query.Get("offset"), 0)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	if limit < 1 || limit > maxListLimit {
		WriteErrorResponse(w, r, s.logger, ValidationError(fmt.Sprintf("limit must be between 1 and %d", maxListLimit)))

		return
	}

	if offset < 0 {
		WriteErrorResponse(w, r, s.logger, ValidationError("offset must not be negative"))

		return
	}

	stored, err := s.events.GetEvents(r.Context(), topic, limit, offset)
	if err != nil {
		s.logger.Error("event listing failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list events"))

		return
	}

	records := make([]EventRecord, 0, len(stored))

	for _, e := range stored {
		record := EventRecord{
			Topic:      e.Topic,
			EventID:    e.EventID,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			Source:     e.Source,
			Payload:    e.Payload,
			ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339),
		}

		if e.ProcessedAt != nil {
			record.ProcessedAt = e.ProcessedAt.UTC().Format(time.RFC3339)
		}

		records = append(records, record)
	}

	s.writeJSON(w, r, http.StatusOK, EventsListResponse{
		Success: true,
		Topic:   topic,
		Count:   len(records),
		Events:  records,
	})
}

// parseIntParam parses an optional integer query parameter.
func parseIntParam(value string, defaultValue int) (int, *ErrorResponse) {
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, ValidationError("Query parameter must be an integer: " + value)
	}

	return parsed, nil
}
