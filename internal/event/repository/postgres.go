package repository

import (
	"context"
	"database/sql"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/event/domain"
)

const (
	insertEventSQL = `INSERT INTO events (org_id, id, transaction_id, session_id, device_id, batch_id, event_type, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`
	statsByTransactionSQL = `SELECT event_type, COUNT(*), MAX(received_at) FROM events WHERE transaction_id = $1 GROUP BY event_type`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InsertBatch writes every event inside one database transaction; any failure rolls back the batch.
func (r *PostgresRepository) InsertBatch(ctx context.Context, events []*domain.Event) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range events {
		_, err = stmt.ExecContext(ctx, e.OrgID, e.ID, e.TransactionID, e.SessionID, e.DeviceID,
			e.BatchID, e.EventType, string(e.Payload), e.ReceivedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				err = db.ErrDuplicate
			}
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) StatsByTransaction(ctx context.Context, transactionID string) (*domain.Stats, error) {
	rows, err := r.db.QueryContext(ctx, statsByTransactionSQL, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := &domain.Stats{EventsByType: make(map[string]int)}
	for rows.Next() {
		var (
			eventType string
			n         int
			last      sql.NullTime
		)
		if err := rows.Scan(&eventType, &n, &last); err != nil {
			return nil, err
		}
		stats.EventsByType[eventType] = n
		stats.TotalEvents += n
		if last.Valid && (stats.LastEventAt == nil || last.Time.After(*stats.LastEventAt)) {
			at := last.Time
			stats.LastEventAt = &at
		}
	}
	return stats, rows.Err()
}
