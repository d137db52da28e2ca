package repository

import (
	"context"
	"errors"

	"telemetry-ingest/backend/internal/organization/domain"
)

// ErrNotFound is returned by updates that target an organization that does not exist.
var ErrNotFound = errors.New("organization not found")

// Repository defines persistence for organizations.
type Repository interface {
	// GetOrganizationByID returns the organization with its allowed domains, or nil if not found.
	GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error)
	CreateOrganization(ctx context.Context, o *domain.Org) error
	SetAllowedDomains(ctx context.Context, id string, domains []string) error
	SetAPIKeyHash(ctx context.Context, id, hash string) error
}
