package repository

import (
	"context"
	"time"

	"telemetry-ingest/backend/internal/transaction/domain"
)

// Repository defines persistence for transactions. Status changes are conditional updates so
// concurrent callers never move a transaction backwards.
type Repository interface {
	// GetByID returns the transaction for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	Create(ctx context.Context, t *domain.Transaction) error
	// ListOpenBySession returns pending and active transactions owned by the session within the org.
	ListOpenBySession(ctx context.Context, sessionID, orgID string) ([]*domain.Transaction, error)
	// MarkActive moves a pending transaction to active. Reports whether this call made the change.
	MarkActive(ctx context.Context, id string) (bool, error)
	// MarkCompleted moves a non-completed transaction to completed at the given time.
	// Reports whether this call made the change.
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}
