// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// errorBody is the wire shape all aggregator error responses share.
type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

// writeErrorBody writes a JSON error response in the aggregator format.
func writeErrorBody(w http.ResponseWriter, status int, title, detail string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(errorBody{
		Success:   false,
		Error:     title,
		Detail:    detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Recovery creates a middleware that recovers from panics and logs them.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func(ctx context.Context) {
				if err := recover(); err != nil {
					correlationID := GetCorrelationID(ctx)

					logger.Error("HTTP request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("correlation_id", correlationID),
						slog.Any("panic", err),
						slog.String("stack_trace", string(debug.Stack())),
					)

					writeErr := writeErrorBody(
						w,
						http.StatusInternalServerError,
						"Internal Server Error",
						"An unexpected error occurred while processing the request",
					)
					if writeErr != nil {
						logger.Error("Failed to encode error response",
							slog.Any("error", writeErr),
							slog.String("correlation_id", correlationID),
						)
					}
				}
			}(r.Context())

			next.ServeHTTP(w, r)
		})
	}
}
