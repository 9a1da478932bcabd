package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"github.com/aggregator-io/aggregator/internal/config"
	"github.com/aggregator-io/aggregator/internal/ingestion"
)

// Sentinel errors for event storage operations.
var (
	// ErrEventStoreFailed is returned when an event storage operation fails.
	ErrEventStoreFailed = errors.New("event storage failed")

	// ErrStoreUnavailable is returned when the database is unreachable after
	// the bounded retry is exhausted. Callers decide whether to re-enqueue.
	ErrStoreUnavailable = errors.New("store unavailable")

	// EventStore implements ingestion.Store (compile-time assertion).
	_ ingestion.Store = (*EventStore)(nil)
)

// Retry configuration for transient transport errors around the insert
// transaction. Retries are safe because the inner transaction is
// all-or-nothing: a rolled-back transaction left no visible effect.
const (
	insertMaxAttempts        = 3
	insertBackoffInitial     = 1 * time.Second
	insertBackoffMax         = 10 * time.Second
	insertBackoffMultiplier  = 2.0
	defaultQueryLimit        = 100
	maxQueryLimit            = 1000
)

type (
	// EventStore implements ingestion.Store with a PostgreSQL backend.
	//
	// The dedup decision is made entirely inside one READ COMMITTED
	// transaction: the unique constraint on (topic, event_id) serializes
	// concurrent inserts of the same key, and the losing writer observes zero
	// rows affected and takes the duplicate branch. Counter updates take row
	// locks on the three statistics rows, serialising increments per row
	// without blocking unrelated inserts.
	EventStore struct {
		conn   *Connection
		logger *slog.Logger
	}

	// StoredEvent is an event row as returned by queries.
	StoredEvent struct {
		Topic       string
		EventID     string
		Timestamp   time.Time
		Source      string
		Payload     map[string]interface{}
		ReceivedAt  time.Time
		ProcessedAt *time.Time
	}

	// Statistics holds the aggregate counters plus per-topic breakdowns.
	//
	// The three reads (counters, distinct topics, per-topic counts) run on a
	// single connection but without snapshot semantics across them; counters
	// may slightly lead topic counts under concurrent ingest.
	Statistics struct {
		Received         int64
		UniqueProcessed  int64
		DuplicateDropped int64
		Topics           []string
		TopicCounts      map[string]int64
	}
)

// NewEventStore creates a PostgreSQL-backed event store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewEventStore(conn *Connection) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// InsertEventIdempotent implements ingestion.Store.
//
// Within a single READ COMMITTED transaction:
//  1. Insert into events with ON CONFLICT (topic, event_id) DO NOTHING and
//     detect whether a row was written.
//  2. If written: insert processed_events (same conflict guard), increment
//     unique_processed, append an INSERT audit row.
//  3. If not written: increment duplicate_dropped, append a DUPLICATE audit row.
//  4. Unconditionally increment received.
//
// The whole call is wrapped in a bounded retry (3 attempts, exponential
// backoff 1s to 10s) on transient transport errors only. A committed
// transaction is never retried; exhausted retries surface ErrStoreUnavailable.
func (s *EventStore) InsertEventIdempotent(
	ctx context.Context,
	event *ingestion.Event,
	workerID string,
) (bool, error) {
	var isNew bool

	operation := func() error {
		n, err := s.insertEventTx(ctx, event, workerID)
		if err != nil {
			if isConnectionError(err) {
				return err // transient, retry
			}

			return backoff.Permanent(err)
		}

		isNew = n

		return nil
	}

	if err := backoff.Retry(operation, s.insertBackOff(ctx)); err != nil {
		if isConnectionError(err) {
			return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		return false, fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
	}

	return isNew, nil
}

// insertBackOff builds the retry schedule for insert transactions.
func (s *EventStore) insertBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = insertBackoffInitial
	b.MaxInterval = insertBackoffMax
	b.Multiplier = insertBackoffMultiplier
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	return backoff.WithContext(backoff.WithMaxRetries(b, insertMaxAttempts-1), ctx)
}

// insertEventTx runs the idempotent insert transaction once.
func (s *EventStore) insertEventTx(
	ctx context.Context,
	event *ingestion.Event,
	workerID string,
) (bool, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.conn.CommandTimeout())
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO events (topic, event_id, timestamp, source, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (topic, event_id) DO NOTHING
	`, event.Topic, event.EventID, event.Timestamp, event.Source, payload)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	isNew := rows == 1

	if isNew {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO processed_events (topic, event_id, worker_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (topic, event_id) DO NOTHING
		`, event.Topic, event.EventID, workerID); err != nil {
			return false, fmt.Errorf("failed to record processed event: %w", err)
		}

		if err := s.incrementCounter(ctx, tx, "unique_processed", 1); err != nil {
			return false, err
		}

		if err := s.appendAudit(ctx, tx, "INSERT", event.Topic, event.EventID, map[string]interface{}{
			"source":    event.Source,
			"worker_id": workerID,
		}); err != nil {
			return false, err
		}
	} else {
		if err := s.incrementCounter(ctx, tx, "duplicate_dropped", 1); err != nil {
			return false, err
		}

		if err := s.appendAudit(ctx, tx, "DUPLICATE", event.Topic, event.EventID, map[string]interface{}{
			"worker_id": workerID,
		}); err != nil {
			return false, err
		}
	}

	// Always increment the received counter
	if err := s.incrementCounter(ctx, tx, "received", 1); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if isNew {
		s.logger.Info("new event processed",
			slog.String("topic", event.Topic),
			slog.String("event_id", event.EventID),
			slog.String("worker_id", workerID),
		)
	} else {
		s.logger.Info("duplicate event dropped",
			slog.String("topic", event.Topic),
			slog.String("event_id", event.EventID),
			slog.String("worker_id", workerID),
		)
	}

	return isNew, nil
}

// BatchInsertEvents implements ingestion.Store.
//
// A single transaction containing, per event, the same conflict-aware insert
// pair as the single path, followed by three counter updates for the whole
// batch. If the transaction aborts, no counter, event, or processed row is
// visible. Duplicates within the batch count as one unique plus n-1
// duplicates via the per-row conflict check.
//
// Unlike the single path, the batch path does not write per-row audit_log
// entries; audit coverage is provided by the single-insert path only.
func (s *EventStore) BatchInsertEvents(
	ctx context.Context,
	events []*ingestion.Event,
	workerID string,
) (int, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.conn.CommandTimeout())
	defer cancel()

	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: failed to begin transaction: %w", s.classify(err), err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	newCount := 0
	duplicateCount := 0

	for _, event := range events {
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: failed to marshal payload: %w", ErrEventStoreFailed, err)
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO events (topic, event_id, timestamp, source, payload, processed_at)
			VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
			ON CONFLICT (topic, event_id) DO NOTHING
		`, event.Topic, event.EventID, event.Timestamp, event.Source, payload)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %w", s.classify(err), err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
		}

		if rows == 1 {
			newCount++

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO processed_events (topic, event_id, worker_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (topic, event_id) DO NOTHING
			`, event.Topic, event.EventID, workerID); err != nil {
				return 0, 0, 0, fmt.Errorf("%w: %w", s.classify(err), err)
			}
		} else {
			duplicateCount++
		}
	}

	total := len(events)

	// Counter rows are locked in a fixed order, consistent with the
	// single-event path (branch counter before received), so concurrent
	// transactions cannot deadlock on the statistics table.
	counters := []struct {
		key   string
		delta int
	}{
		{"duplicate_dropped", duplicateCount},
		{"unique_processed", newCount},
		{"received", total},
	}

	for _, counter := range counters {
		if err := s.incrementCounter(ctx, tx, counter.key, counter.delta); err != nil {
			return 0, 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	s.logger.Info("batch processed",
		slog.Int("total", total),
		slog.Int("new", newCount),
		slog.Int("duplicates", duplicateCount),
		slog.String("worker_id", workerID),
	)

	return total, newCount, duplicateCount, nil
}

// GetEvents returns events ordered by timestamp DESC, optionally filtered by
// topic. Limit is clamped to [1, 1000] with default 100; negative offsets are
// treated as 0.
func (s *EventStore) GetEvents(ctx context.Context, topic string, limit, offset int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT topic, event_id, timestamp, source, payload, received_at, processed_at
		FROM events
		ORDER BY timestamp DESC
		LIMIT $1 OFFSET $2
	`
	args := []interface{}{limit, offset}

	if topic != "" {
		query = `
			SELECT topic, event_id, timestamp, source, payload, received_at, processed_at
			FROM events
			WHERE topic = $1
			ORDER BY timestamp DESC
			LIMIT $2 OFFSET $3
		`
		args = []interface{}{topic, limit, offset}
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	defer func() {
		_ = rows.Close()
	}()

	events := make([]StoredEvent, 0, limit)

	for rows.Next() {
		var (
			event       StoredEvent
			payload     []byte
			processedAt sql.NullTime
		)

		if err := rows.Scan(
			&event.Topic,
			&event.EventID,
			&event.Timestamp,
			&event.Source,
			&payload,
			&event.ReceivedAt,
			&processedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan event row: %w", ErrEventStoreFailed, err)
		}

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("%w: failed to decode payload: %w", ErrEventStoreFailed, err)
			}
		}

		if processedAt.Valid {
			t := processedAt.Time
			event.ProcessedAt = &t
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	return events, nil
}

// GetStatistics returns the aggregate counters plus topic breakdowns.
func (s *EventStore) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		Topics:      []string{},
		TopicCounts: make(map[string]int64),
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT stat_key, stat_value FROM statistics`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			key   string
			value int64
		)

		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%w: failed to scan statistics row: %w", ErrEventStoreFailed, err)
		}

		switch key {
		case "received":
			stats.Received = value
		case "unique_processed":
			stats.UniqueProcessed = value
		case "duplicate_dropped":
			stats.DuplicateDropped = value
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	topicRows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT topic FROM events ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	defer func() {
		_ = topicRows.Close()
	}()

	for topicRows.Next() {
		var topic string
		if err := topicRows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("%w: failed to scan topic row: %w", ErrEventStoreFailed, err)
		}

		stats.Topics = append(stats.Topics, topic)
	}

	if err := topicRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	countRows, err := s.conn.QueryContext(ctx, `
		SELECT topic, COUNT(*) AS count FROM events GROUP BY topic ORDER BY count DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	defer func() {
		_ = countRows.Close()
	}()

	for countRows.Next() {
		var (
			topic string
			count int64
		)

		if err := countRows.Scan(&topic, &count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan topic count row: %w", ErrEventStoreFailed, err)
		}

		stats.TopicCounts[topic] = count
	}

	if err := countRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	return stats, nil
}

// EventExists reports whether a (topic, event_id) pair is already stored.
//
// Advisory pre-check only: there is a window between this check and any
// subsequent insert (TOCTOU). The idempotent insert is the sole dedup guard.
func (s *EventStore) EventExists(ctx context.Context, topic, eventID string) (bool, error) {
	var one int

	err := s.conn.QueryRowContext(ctx, `
		SELECT 1 FROM events WHERE topic = $1 AND event_id = $2
	`, topic, eventID).Scan(&one)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: %w", s.classify(err), err)
	}

	return true, nil
}

// Reset deletes all events, processed rows, and audit entries, and zeroes the
// statistics counters in one transaction. Intended for test fixtures only.
func (s *EventStore) Reset(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: %w", s.classify(err), err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	for _, stmt := range []string{
		`DELETE FROM audit_log`,
		`DELETE FROM processed_events`,
		`DELETE FROM events`,
		`UPDATE statistics SET stat_value = 0, updated_at = CURRENT_TIMESTAMP`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %w", s.classify(err), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", s.classify(err), err)
	}

	s.logger.Warn("all events cleared and statistics reset")

	return nil
}

// incrementCounter bumps a statistics row inside the given transaction.
func (s *EventStore) incrementCounter(ctx context.Context, tx *sql.Tx, key string, delta int) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE statistics SET stat_value = stat_value + $1, updated_at = CURRENT_TIMESTAMP
		WHERE stat_key = $2
	`, delta, key); err != nil {
		return fmt.Errorf("failed to update %s counter: %w", key, err)
	}

	return nil
}

// appendAudit writes one audit_log row inside the given transaction.
func (s *EventStore) appendAudit(
	ctx context.Context,
	tx *sql.Tx,
	operation, topic, eventID string,
	details map[string]interface{},
) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (operation, topic, event_id, details)
		VALUES ($1, $2, $3, $4)
	`, operation, topic, eventID, detailsJSON); err != nil {
		return fmt.Errorf("failed to append audit log: %w", err)
	}

	return nil
}

// classify maps an error to the sentinel callers should wrap it with.
func (s *EventStore) classify(err error) error {
	if isConnectionError(err) {
		return ErrStoreUnavailable
	}

	return ErrEventStoreFailed
}

// isConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08) and standard database/sql errors for
// robust detection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// Check PostgreSQL error codes (Class 08 = Connection Exception)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	// Check standard database/sql connection errors, plus context deadline
	// from the command timeout
	return errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded)
}
