package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aggregator-io/aggregator/internal/aliasing"
)

// Pipeline glues validation, normalization, and the idempotent store call
// together. It is the single entry point used by both the HTTP surface and the
// queue workers; the dedup decision always happens in the store transaction.
//
// Thread-safe: the pipeline holds no mutable state beyond its dependencies.
type Pipeline struct {
	store    Store
	resolver *aliasing.Resolver
	logger   *slog.Logger
}

// PipelineOption configures optional Pipeline behavior.
type PipelineOption func(*Pipeline)

// WithAliasResolver sets the topic/source alias resolver.
// If not set, no alias resolution is applied (passthrough behavior).
func WithAliasResolver(r *aliasing.Resolver) PipelineOption {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// NewPipeline creates an ingest pipeline backed by the given store.
func NewPipeline(store Store, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:  store,
		logger: logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Process validates, normalizes, and persists a single event.
//
// The event is mutated in place by normalization (trim, alias resolution,
// payload default). On success the result classifies the dedup decision:
// exactly one of IsNew/IsDuplicate is true.
//
// Validation failures return a sentinel error from this package; storage
// failures are returned wrapped so callers can classify with errors.Is.
func (p *Pipeline) Process(ctx context.Context, event *Event, workerID string) (Result, error) {
	if event == nil {
		return Result{}, ErrNilEvent
	}

	event.Normalize()
	p.resolveAliases(event)

	if err := event.Validate(); err != nil {
		return Result{}, err
	}

	isNew, err := p.store.InsertEventIdempotent(ctx, event, workerID)
	if err != nil {
		return Result{}, fmt.Errorf("idempotent insert failed: %w", err)
	}

	return Result{
		IsNew:       isNew,
		IsDuplicate: !isNew,
		ReceivedAt:  time.Now().UTC(),
	}, nil
}

// ProcessBatch validates all events, then persists them in one atomic store
// transaction. A single invalid event rejects the whole batch before any
// storage side effect.
func (p *Pipeline) ProcessBatch(ctx context.Context, events []*Event, workerID string) (BatchResult, error) {
	for i, event := range events {
		if event == nil {
			return BatchResult{}, fmt.Errorf("event %d: %w", i, ErrNilEvent)
		}

		event.Normalize()
		p.resolveAliases(event)

		if err := event.Validate(); err != nil {
			return BatchResult{}, fmt.Errorf("event %d: %w", i, err)
		}
	}

	total, newCount, duplicateCount, err := p.store.BatchInsertEvents(ctx, events, workerID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("batch insert failed: %w", err)
	}

	p.logger.Debug("batch processed",
		slog.Int("total", total),
		slog.Int("new", newCount),
		slog.Int("duplicates", duplicateCount),
	)

	return BatchResult{
		TotalReceived:     total,
		UniqueProcessed:   newCount,
		DuplicatesDropped: duplicateCount,
	}, nil
}

// resolveAliases maps producer-specific topic and source names to their
// canonical forms. No-op when no resolver is configured.
func (p *Pipeline) resolveAliases(event *Event) {
	if p.resolver == nil {
		return
	}

	event.Topic = p.resolver.ResolveTopic(event.Topic)
	event.Source = p.resolver.ResolveSource(event.Source)
}
