// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aggregator-io/aggregator/internal/api/middleware"
)

// ErrorResponse is the wire shape for all error responses.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`

	status int
}

// NewErrorResponse creates an error response with the current timestamp.
func NewErrorResponse(status int, title, detail string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     title,
		Detail:    detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		status:    status,
	}
}

// WriteErrorResponse writes a JSON error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, resp *ErrorResponse) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", resp.status),
		)

		// Fallback to basic error response
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// ValidationError creates a 422 Unprocessable Entity response.
func ValidationError(detail string) *ErrorResponse {
	return NewErrorResponse(
		http.StatusUnprocessableEntity,
		"Validation Error",
		detail,
	)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(detail string) *ErrorResponse {
	return NewErrorResponse(
		http.StatusInternalServerError,
		"Internal Server Error",
		detail,
	)
}

// BadRequest creates a 400 Bad Request response.
func BadRequest(detail string) *ErrorResponse {
	return NewErrorResponse(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// NotFound creates a 404 Not Found response.
func NotFound(detail string) *ErrorResponse {
	return NewErrorResponse(
		http.StatusNotFound,
		"Not Found",
		detail,
	)
}
