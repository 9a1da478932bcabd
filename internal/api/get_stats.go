// Package api provides the HTTP API server for the aggregator service.
package api

import (
	"log/slog"
	"net/http"
	"time"
)

// handleGetStats returns the aggregate counters plus runtime gauges.
//
// Queue depth and worker count are best-effort: a missing or unreachable
// broker reports zero rather than failing the whole endpoint.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.events.GetStatistics(r.Context())
	if err != nil {
		s.logger.Error("statistics query failed", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read statistics"))

		return
	}

	var queueSize int64

	if s.queue != nil {
		size, err := s.queue.QueueSize(r.Context())
		if err != nil {
			s.logger.Warn("queue size unavailable", slog.String("error", err.Error()))
		} else {
			queueSize = size
		}
	}

	workersActive := 0
	if s.workers != nil {
		workersActive = s.workers.ActiveWorkers()
	}

	uptime := time.Duration(0)
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}

	s.writeJSON(w, r, http.StatusOK, StatsResponse{
		Received:         stats.Received,
		UniqueProcessed:  stats.UniqueProcessed,
		DuplicateDropped: stats.DuplicateDropped,
		Topics:           stats.Topics,
		TopicCounts:      stats.TopicCounts,
		UptimeSeconds:    uptime.Seconds(),
		UptimeFormatted:  formatUptime(uptime),
		WorkersActive:    workersActive,
		QueueSize:        queueSize,
	})
}
