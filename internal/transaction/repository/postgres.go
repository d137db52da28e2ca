package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/transaction/domain"
)

const txnColumns = `id, session_id, org_id, status, metadata, completed_at, created_at`

const (
	getTransactionSQL    = `SELECT ` + txnColumns + ` FROM transactions WHERE id = $1`
	createTransactionSQL = `INSERT INTO transactions (` + txnColumns + `) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`
	listOpenSQL          = `SELECT ` + txnColumns + ` FROM transactions WHERE session_id = $1 AND org_id = $2 AND status <> 'completed' ORDER BY created_at`
	markActiveSQL        = `UPDATE transactions SET status = 'active' WHERE id = $1 AND status = 'pending'`
	markCompletedSQL     = `UPDATE transactions SET status = 'completed', completed_at = $2 WHERE id = $1 AND status <> 'completed'`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a transaction repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the transaction for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx, getTransactionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Create persists the transaction. Metadata is stored as JSONB.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Transaction) error {
	var meta sql.NullString
	if t.Metadata != nil {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return err
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	var completed sql.NullTime
	if t.CompletedAt != nil {
		completed = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, createTransactionSQL,
		t.ID, t.SessionID, t.OrgID, string(t.Status), meta, completed, t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return db.ErrDuplicate
	}
	return err
}

func (r *PostgresRepository) ListOpenBySession(ctx context.Context, sessionID, orgID string) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, listOpenSQL, sessionID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkActive is guarded by status = 'pending' so concurrent first batches apply it once.
func (r *PostgresRepository) MarkActive(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, markActiveSQL, id)
}

// MarkCompleted is guarded by status <> 'completed' so completed_at is written once.
func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.exec(ctx, markCompletedSQL, id, at)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		t         domain.Transaction
		status    string
		meta      []byte
		completed sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.SessionID, &t.OrgID, &status, &meta, &completed, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, err
		}
	}
	if completed.Valid {
		at := completed.Time
		t.CompletedAt = &at
	}
	return &t, nil
}
