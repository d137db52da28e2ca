package repository

import (
	"context"

	"telemetry-ingest/backend/internal/event/domain"
)

// Repository defines persistence for events.
type Repository interface {
	// InsertBatch stores all events atomically: either every event is stored or none is.
	// Returns db.ErrDuplicate when any event id already exists for its organization.
	InsertBatch(ctx context.Context, events []*domain.Event) error
	// StatsByTransaction aggregates the stored events of a transaction.
	StatsByTransaction(ctx context.Context, transactionID string) (*domain.Stats, error)
}
