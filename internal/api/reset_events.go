// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"log/slog"
	"net/http"
)

// handleResetEvents deletes all stored events and zeroes the statistics
// counters. Intended for test environments; the deletion and counter reset
// happen in one transaction so the counter identity holds throughout.
func (s *Server) handleResetEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.events.Reset(r.Context()); err != nil {
		s.logger.Error("reset failed", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to clear events"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, MessageResponse{
		Success: true,
		Message: "All events cleared",
	})
}
