package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/transaction/domain"
)

// MemoryRepository keeps transactions in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	txns map[string]*domain.Transaction
}

// NewMemoryRepository returns an empty in-memory transaction repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{txns: make(map[string]*domain.Transaction)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok {
		return nil, nil
	}
	return clone(t), nil
}

func (r *MemoryRepository) Create(_ context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txns[t.ID]; ok {
		return db.ErrDuplicate
	}
	r.txns[t.ID] = clone(t)
	return nil
}

func (r *MemoryRepository) ListOpenBySession(_ context.Context, sessionID, orgID string) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range r.txns {
		if t.OwnedBy(sessionID, orgID) && t.Open() {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) MarkActive(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	t.Status = domain.StatusActive
	return true, nil
}

func (r *MemoryRepository) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[id]
	if !ok || t.Status == domain.StatusCompleted {
		return false, nil
	}
	t.Status = domain.StatusCompleted
	t.CompletedAt = &at
	return true, nil
}

func clone(t *domain.Transaction) *domain.Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
