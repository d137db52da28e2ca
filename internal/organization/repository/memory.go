package repository

import (
	"context"
	"sync"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/organization/domain"
)

// MemoryRepository keeps organizations in process memory. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	orgs map[string]*domain.Org
}

// NewMemoryRepository returns an empty in-memory organization repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orgs: make(map[string]*domain.Org)}
}

func (r *MemoryRepository) GetOrganizationByID(_ context.Context, id string) (*domain.Org, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orgs[id]
	if !ok {
		return nil, nil
	}
	return cloneOrg(o), nil
}

func (r *MemoryRepository) CreateOrganization(_ context.Context, o *domain.Org) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orgs[o.ID]; ok {
		return db.ErrDuplicate
	}
	c := cloneOrg(o)
	c.AllowedDomains = domain.NormalizeDomains(c.AllowedDomains)
	r.orgs[o.ID] = c
	return nil
}

func (r *MemoryRepository) SetAllowedDomains(_ context.Context, id string, domains []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return ErrNotFound
	}
	o.AllowedDomains = domain.NormalizeDomains(domains)
	return nil
}

func (r *MemoryRepository) SetAPIKeyHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return ErrNotFound
	}
	o.APIKeyHash = hash
	return nil
}

func cloneOrg(o *domain.Org) *domain.Org {
	c := *o
	c.AllowedDomains = append([]string(nil), o.AllowedDomains...)
	return &c
}
