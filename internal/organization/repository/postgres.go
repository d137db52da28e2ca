package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/organization/domain"
)

const (
	getOrganizationSQL = `SELECT id, name, api_key_hash, created_at FROM organizations WHERE id = $1`
	listDomainsSQL     = `SELECT domain FROM organization_domains WHERE org_id = $1 ORDER BY domain`
	createOrgSQL       = `INSERT INTO organizations (id, name, api_key_hash, created_at) VALUES ($1, $2, $3, $4)`
	deleteDomainsSQL   = `DELETE FROM organization_domains WHERE org_id = $1`
	insertDomainSQL    = `INSERT INTO organization_domains (org_id, domain) VALUES ($1, $2)`
	orgExistsSQL       = `SELECT 1 FROM organizations WHERE id = $1 FOR UPDATE`
	setAPIKeyHashSQL   = `UPDATE organizations SET api_key_hash = $2 WHERE id = $1`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetOrganizationByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error) {
	var o domain.Org
	err := r.db.QueryRowContext(ctx, getOrganizationSQL, id).Scan(&o.ID, &o.Name, &o.APIKeyHash, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, listDomainsSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		o.AllowedDomains = append(o.AllowedDomains, d)
	}
	return &o, rows.Err()
}

// CreateOrganization persists the organization and its allowed domains in one transaction.
// Returns db.ErrDuplicate when the id is taken.
func (r *PostgresRepository) CreateOrganization(ctx context.Context, o *domain.Org) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createOrgSQL, o.ID, o.Name, o.APIKeyHash, o.CreatedAt); err != nil {
			if db.IsUniqueViolation(err) {
				return db.ErrDuplicate
			}
			return err
		}
		return insertDomains(ctx, tx, o.ID, o.AllowedDomains)
	})
}

// SetAllowedDomains replaces the organization's whitelist.
func (r *PostgresRepository) SetAllowedDomains(ctx context.Context, id string, domains []string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		if err := tx.QueryRowContext(ctx, orgExistsSQL, id).Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteDomainsSQL, id); err != nil {
			return err
		}
		return insertDomains(ctx, tx, id, domains)
	})
}

// SetAPIKeyHash replaces the stored API key hash, invalidating the previous key.
func (r *PostgresRepository) SetAPIKeyHash(ctx context.Context, id, hash string) error {
	res, err := r.db.ExecContext(ctx, setAPIKeyHashSQL, id, hash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertDomains(ctx context.Context, tx *sql.Tx, orgID string, domains []string) error {
	for _, d := range domain.NormalizeDomains(domains) {
		if _, err := tx.ExecContext(ctx, insertDomainSQL, orgID, d); err != nil {
			return fmt.Errorf("insert domain %q: %w", d, err)
		}
	}
	return nil
}
