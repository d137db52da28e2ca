package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/session/domain"
)

const sessionColumns = `id, org_id, device_id, token_hash, handshake_hash, active, expires_at, last_activity_at, created_at`

const (
	getSessionSQL        = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	getSessionByTokenSQL = `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	createSessionSQL     = `INSERT INTO sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	swapTokenSQL         = `UPDATE sessions SET token_hash = $3, expires_at = $4, last_activity_at = $5 WHERE id = $1 AND active AND token_hash IS NOT DISTINCT FROM $2::text`
	touchActivitySQL     = `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`
	deactivateSessionSQL = `UPDATE sessions SET active = FALSE, token_hash = NULL WHERE id = $1`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, getSessionSQL, id))
}

// GetByTokenHash returns the session holding tokenHash via the unique token index, or nil if none.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return scanSession(r.db.QueryRowContext(ctx, getSessionByTokenSQL, tokenHash))
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, createSessionSQL,
		s.ID, s.OrgID, s.DeviceID, nullString(s.TokenHash), s.HandshakeHash, s.Active,
		s.ExpiresAt, nullTime(s.LastActivityAt), s.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return db.ErrDuplicate
	}
	return err
}

// SwapToken is a single conditional UPDATE; zero affected rows means another writer got there first.
func (r *PostgresRepository) SwapToken(ctx context.Context, id, oldHash, newHash string, expiresAt, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, swapTokenSQL, id, nullString(oldHash), newHash, expiresAt, at)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, db.ErrDuplicate
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, touchActivitySQL, id, at)
	return err
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, deactivateSessionSQL, id)
	return err
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var (
		s            domain.Session
		tokenHash    sql.NullString
		lastActivity sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OrgID, &s.DeviceID, &tokenHash, &s.HandshakeHash, &s.Active,
		&s.ExpiresAt, &lastActivity, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.TokenHash = tokenHash.String
	if lastActivity.Valid {
		s.LastActivityAt = lastActivity.Time
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
