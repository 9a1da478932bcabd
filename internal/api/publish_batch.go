// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aggregator-io/aggregator/internal/ingestion"
)

const maxBatchSize = 1000

// handlePublishBatch ingests up to 1000 events in one atomic transaction.
//
// All-or-nothing: a single invalid event rejects the whole batch with 422
// before any storage side effect. Duplicates within the batch and against
// stored events count toward duplicates_dropped, never toward failed.
func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEventsRequest
	if errResp := s.decodeJSONBody(w, r, &req); errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	if len(req.Events) == 0 {
		WriteErrorResponse(w, r, s.logger, ValidationError("Batch must contain at least one event"))

		return
	}

	if len(req.Events) > maxBatchSize {
		WriteErrorResponse(w, r, s.logger, ValidationError(
			fmt.Sprintf("Batch size %d exceeds maximum of %d", len(req.Events), maxBatchSize),
		))

		return
	}

	events := make([]*ingestion.Event, 0, len(req.Events))

	for i, item := range req.Events {
		event, err := item.toEvent()
		if err != nil {
			WriteErrorResponse(w, r, s.logger, ValidationError(
				fmt.Sprintf("event %d: %s", i, err.Error()),
			))

			return
		}

		events = append(events, event)
	}

	result, err := s.pipeline.ProcessBatch(r.Context(), events, httpWorkerID)
	if err != nil {
		if isValidationFailure(err) {
			WriteErrorResponse(w, r, s.logger, ValidationError(err.Error()))

			return
		}

		s.logger.Error("batch publish failed",
			slog.Int("batch_size", len(events)),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to process batch"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, BatchPublishResponse{
		Success:           true,
		TotalReceived:     result.TotalReceived,
		UniqueProcessed:   result.UniqueProcessed,
		DuplicatesDropped: result.DuplicatesDropped,
		Failed:            0,
	})
}
