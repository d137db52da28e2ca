// Package service provisions organizations: creation with a one-time API key, key rotation, and
// origin whitelist updates. It backs orgctl and the in-memory development setup of the server.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/organization/domain"
	"telemetry-ingest/backend/internal/organization/repository"
	"telemetry-ingest/backend/internal/security"
)

// ErrExists is returned by Create when the organization id is taken.
var ErrExists = errors.New("organization already exists")

// Service provisions organizations.
type Service struct {
	repo   repository.Repository
	hasher *security.Hasher
}

// NewService returns a provisioning Service.
func NewService(repo repository.Repository, hasher *security.Hasher) *Service {
	return &Service{repo: repo, hasher: hasher}
}

// Create stores a new organization and returns it with its API key. The key is not recoverable later.
func (s *Service) Create(ctx context.Context, id, name string, domains []string) (*domain.Org, string, error) {
	apiKey, hash, err := s.hasher.NewAPIKey(id)
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	org := &domain.Org{
		ID:             id,
		Name:           name,
		APIKeyHash:     hash,
		AllowedDomains: domain.NormalizeDomains(domains),
		CreatedAt:      time.Now().UTC(),
	}
	if err := org.Validate(); err != nil {
		return nil, "", err
	}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, "", ErrExists
		}
		return nil, "", err
	}
	return org, apiKey, nil
}

// RotateKey replaces the organization's API key; the previous key stops authenticating immediately.
func (s *Service) RotateKey(ctx context.Context, id string) (string, error) {
	apiKey, hash, err := s.hasher.NewAPIKey(id)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	if err := s.repo.SetAPIKeyHash(ctx, id, hash); err != nil {
		return "", err
	}
	return apiKey, nil
}

// SetDomains replaces the origin whitelist. Entries are exact hosts or "*.suffix" wildcards.
func (s *Service) SetDomains(ctx context.Context, id string, domains []string) ([]string, error) {
	normalized := domain.NormalizeDomains(domains)
	if err := s.repo.SetAllowedDomains(ctx, id, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// Get returns the organization, or repository.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.Org, error) {
	org, err := s.repo.GetOrganizationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, repository.ErrNotFound
	}
	return org, nil
}

// EnsureDevOrg creates the development organization if it does not exist. The API key is returned only
// when the organization was created by this call.
func (s *Service) EnsureDevOrg(ctx context.Context, id string, domains []string) (*domain.Org, string, error) {
	org, err := s.repo.GetOrganizationByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if org != nil {
		return org, "", nil
	}
	return s.Create(ctx, id, "Development", domains)
}
