package repository

import (
	"context"
	"database/sql"

	"telemetry-ingest/backend/internal/audit/domain"
)

const (
	createAuditLogSQL = `INSERT INTO audit_logs (id, org_id, session_id, action, resource, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	listAuditLogsByOrgSQL = `SELECT id, org_id, session_id, action, resource, ip, metadata, created_at
FROM audit_logs WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	sid := sql.NullString{String: a.SessionID, Valid: a.SessionID != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := r.db.ExecContext(ctx, createAuditLogSQL,
		a.ID, a.OrgID, sid, a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return err
}

// ListByOrg returns audit logs for the given org, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, listAuditLogsByOrgSQL, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			sid  sql.NullString
			meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &sid, &a.Action, &a.Resource, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.SessionID = sid.String
		a.Metadata = meta.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
