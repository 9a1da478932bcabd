// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aggregator-io/aggregator/internal/api/middleware"
	"github.com/aggregator-io/aggregator/internal/ingestion"
)

const healthCheckTimeout = 2 * time.Second

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Publish endpoints
	mux.HandleFunc("POST /publish", s.handlePublish)
	mux.HandleFunc("POST /publish/batch", s.handlePublishBatch)
	mux.HandleFunc("POST /publish/queue", s.handlePublishQueue)

	// Query and admin endpoints
	mux.HandleFunc("GET /events", s.handleGetEvents)
	mux.HandleFunc("DELETE /events", s.handleResetEvents)
	mux.HandleFunc("GET /stats", s.handleGetStats)

	// Health endpoint
	mux.HandleFunc("GET /health", s.handleHealth)

	// Catch-all handler for 404 responses
	mux.HandleFunc("/", s.handleNotFound)
}

// handleHealth reports component connectivity. The HTTP status is 200 even
// when a component is down; load balancers poll this without flapping, and
// consumers read the status field.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	database := "connected"
	if s.events == nil || s.events.HealthCheck(ctx) != nil {
		database = "disconnected"
	}

	brokerState := "connected"
	if s.queue == nil || s.queue.HealthCheck(ctx) != nil {
		brokerState = "disconnected"
	}

	status := "healthy"
	if database != "connected" || brokerState != "connected" {
		status = "unhealthy"
	}

	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:        status,
		Database:      database,
		Broker:        brokerState,
		UptimeSeconds: s.uptimeSeconds(),
		Version:       s.config.Version,
	})
}

// handleNotFound returns a JSON 404 response for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals v and writes it with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		// Headers already sent, log only
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// decodeJSONBody decodes a JSON request body into dst, enforcing the
// configured request size limit and a JSON content type. Returns an
// ErrorResponse ready to write on failure.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) *ErrorResponse {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return BadRequest("Content-Type must be application/json")
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return BadRequest("Request body too large")
		}

		return ValidationError("Request body is not valid JSON: " + err.Error())
	}

	return nil
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

// isValidationFailure reports whether err is an event validation error, which
// maps to a 422 response rather than a 500.
func isValidationFailure(err error) bool {
	for _, sentinel := range []error{
		ingestion.ErrNilEvent,
		ingestion.ErrTopicEmpty,
		ingestion.ErrTopicTooLong,
		ingestion.ErrEventIDEmpty,
		ingestion.ErrEventIDTooShort,
		ingestion.ErrEventIDTooLong,
		ingestion.ErrSourceEmpty,
		ingestion.ErrSourceTooLong,
		ingestion.ErrTimestampZero,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}
