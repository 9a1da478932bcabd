// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"log/slog"
	"net/http"
	"time"
)

// handlePublishQueue enqueues one event for asynchronous processing.
//
// The event is validated here so malformed input is rejected at the edge,
// but the dedup decision is deferred to the workers: is_duplicate is always
// false in this response.
func (s *Server) handlePublishQueue(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if errResp := s.decodeJSONBody(w, r, &req); errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	event, err := req.toEvent()
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ValidationError(err.Error()))

		return
	}

	event.Normalize()

	if err := event.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, ValidationError(err.Error()))

		return
	}

	if s.queue == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Broker not available"))

		return
	}

	if err := s.queue.PublishEvent(r.Context(), toWireRecord(event)); err != nil {
		s.logger.Error("queue publish failed",
			slog.String("topic", event.Topic),
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to queue event"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, PublishResponse{
		Success:     true,
		Message:     "Event queued for processing",
		EventID:     event.EventID,
		IsDuplicate: false,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}
