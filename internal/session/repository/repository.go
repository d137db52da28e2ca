package repository

import (
	"context"
	"time"

	"telemetry-ingest/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Token lookups and swaps are keyed on the token hash;
// plaintext tokens never reach the store.
type Repository interface {
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetByTokenHash returns the session whose current token hashes to tokenHash, or nil if none.
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Create inserts a new session. Returns db.ErrDuplicate if the id already exists.
	Create(ctx context.Context, s *domain.Session) error
	// SwapToken replaces the token hash only if the active session still holds oldHash ("" matches
	// a session that has no token yet), and extends expiry. Reports whether the swap won.
	SwapToken(ctx context.Context, id, oldHash, newHash string, expiresAt, at time.Time) (bool, error)
	// TouchActivity records the last-activity timestamp.
	TouchActivity(ctx context.Context, id string, at time.Time) error
	// Deactivate marks the session inactive and clears its token hash.
	Deactivate(ctx context.Context, id string) error
}
