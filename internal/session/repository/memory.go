package repository

import (
	"context"
	"sync"
	"time"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory with a secondary index on token hash.
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*domain.Session
	byToken map[string]string
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.Session),
		byToken: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *MemoryRepository) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Session, error) {
	if tokenHash == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[tokenHash]
	if !ok {
		return nil, nil
	}
	c := *r.byID[id]
	return &c, nil
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; ok {
		return db.ErrDuplicate
	}
	if s.TokenHash != "" {
		if _, ok := r.byToken[s.TokenHash]; ok {
			return db.ErrDuplicate
		}
		r.byToken[s.TokenHash] = s.ID
	}
	c := *s
	r.byID[s.ID] = &c
	return nil
}

func (r *MemoryRepository) SwapToken(_ context.Context, id, oldHash, newHash string, expiresAt, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || !s.Active || s.TokenHash != oldHash {
		return false, nil
	}
	if _, taken := r.byToken[newHash]; taken {
		return false, db.ErrDuplicate
	}
	if oldHash != "" {
		delete(r.byToken, oldHash)
	}
	s.TokenHash = newHash
	s.ExpiresAt = expiresAt
	s.LastActivityAt = at
	r.byToken[newHash] = id
	return true, nil
}

func (r *MemoryRepository) TouchActivity(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (r *MemoryRepository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil
	}
	if s.TokenHash != "" {
		delete(r.byToken, s.TokenHash)
	}
	s.TokenHash = ""
	s.Active = false
	return nil
}
