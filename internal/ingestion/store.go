// Package ingestion provides the log-event domain model and persistence interfaces.
//
// This package defines the Store interface which represents what the domain needs
// for idempotent event persistence, following the Dependency Inversion Principle.
// Concrete implementations (PostgreSQL) live in the internal/storage package.
package ingestion

import "context"

// Store defines the interface for idempotent event persistence.
//
// The domain package defines this interface to specify what it needs for event
// storage, without depending on concrete implementations. The storage package
// asserts conformance at compile time.
//
// Implementations must guarantee:
//   - Idempotency: the same (topic, event_id) pair persists exactly once, no
//     matter how many times or how concurrently it is submitted
//   - Atomicity: event row, processed-event row, counters, and audit entries
//     commit together or not at all
//   - Counter identity: received == unique_processed + duplicate_dropped after
//     any sequence of calls
type Store interface {
	// InsertEventIdempotent persists a single event inside one transaction.
	//
	// Returns (isNew, error) where:
	//   - isNew=true: the event row was written for the first time
	//   - isNew=false, err=nil: the (topic, event_id) pair already existed and
	//     the duplicate counter was incremented instead
	//
	// Duplicates are NOT errors. The first transaction to commit wins; any
	// concurrent submission of the same key takes the duplicate branch.
	InsertEventIdempotent(ctx context.Context, event *Event, workerID string) (bool, error)

	// BatchInsertEvents persists a batch of events in a single transaction.
	//
	// Returns (total, newCount, duplicateCount, error). The side-effect set is
	// indivisible: if the transaction aborts, no event row or counter change is
	// visible. Duplicates within the batch are normal and expected; two entries
	// sharing a (topic, event_id) count as one unique plus n-1 duplicates.
	BatchInsertEvents(ctx context.Context, events []*Event, workerID string) (total, newCount, duplicateCount int, err error)

	// HealthCheck verifies the storage backend is reachable.
	HealthCheck(ctx context.Context) error
}
