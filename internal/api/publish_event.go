// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aggregator-io/aggregator/internal/api/middleware"
)

const httpWorkerID = "http-api"

// handlePublish ingests one event synchronously.
//
// The event goes through the full pipeline in the request path: validation,
// alias resolution, and the idempotent store transaction. The response tells
// the caller whether the event was new or a duplicate; both are success.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

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

	result, err := s.pipeline.Process(r.Context(), event, httpWorkerID)
	if err != nil {
		if isValidationFailure(err) {
			WriteErrorResponse(w, r, s.logger, ValidationError(err.Error()))

			return
		}

		s.logger.Error("publish failed",
			slog.String("correlation_id", correlationID),
			slog.String("topic", event.Topic),
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to process event"))

		return
	}

	message := "Event processed"
	if result.IsDuplicate {
		message = "Duplicate event dropped"
	}

	s.writeJSON(w, r, http.StatusOK, PublishResponse{
		Success:     true,
		Message:     message,
		EventID:     event.EventID,
		IsDuplicate: result.IsDuplicate,
		ReceivedAt:  result.ReceivedAt.Format(time.RFC3339),
	})
}
