package repository

import (
	"context"
	"sync"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/event/domain"
)

type eventKey struct {
	orgID string
	id    string
}

// MemoryRepository keeps events in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	events map[eventKey]*domain.Event
	byTxn  map[string][]*domain.Event
}

// NewMemoryRepository returns an empty in-memory event repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: make(map[eventKey]*domain.Event),
		byTxn:  make(map[string][]*domain.Event),
	}
}

func (r *MemoryRepository) InsertBatch(_ context.Context, events []*domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[eventKey]struct{}, len(events))
	for _, e := range events {
		k := eventKey{e.OrgID, e.ID}
		if _, ok := r.events[k]; ok {
			return db.ErrDuplicate
		}
		if _, ok := seen[k]; ok {
			return db.ErrDuplicate
		}
		seen[k] = struct{}{}
	}
	for _, e := range events {
		c := *e
		r.events[eventKey{e.OrgID, e.ID}] = &c
		r.byTxn[e.TransactionID] = append(r.byTxn[e.TransactionID], &c)
	}
	return nil
}

func (r *MemoryRepository) StatsByTransaction(_ context.Context, transactionID string) (*domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.Stats{EventsByType: make(map[string]int)}
	for _, e := range r.byTxn[transactionID] {
		stats.TotalEvents++
		stats.EventsByType[e.EventType]++
		if stats.LastEventAt == nil || e.ReceivedAt.After(*stats.LastEventAt) {
			at := e.ReceivedAt
			stats.LastEventAt = &at
		}
	}
	return stats, nil
}

// Count returns the number of stored events. Used by tests.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
