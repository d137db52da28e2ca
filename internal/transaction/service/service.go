// Package service implements the transaction lifecycle: bootstrap, resolution of the open
// transaction for a session, the pending→active advance, and idempotent completion.
package service

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	"telemetry-ingest/backend/internal/audit"
	eventdomain "telemetry-ingest/backend/internal/event/domain"
	"telemetry-ingest/backend/internal/security"
	"telemetry-ingest/backend/internal/transaction/domain"
)

// TransactionRepo is the transaction persistence the lifecycle needs.
type TransactionRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	Create(ctx context.Context, t *domain.Transaction) error
	ListOpenBySession(ctx context.Context, sessionID, orgID string) ([]*domain.Transaction, error)
	MarkActive(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
}

// EventStats aggregates stored events for completion summaries.
type EventStats interface {
	StatsByTransaction(ctx context.Context, transactionID string) (*eventdomain.Stats, error)
}

// BootstrapRequest starts a new client flow for an API-key-authenticated organization.
type BootstrapRequest struct {
	OrgID string
	// SessionID is generated when empty.
	SessionID string
	DeviceID  string
	Metadata  map[string]any
}

// BootstrapResult is the created transaction plus the signed configuration token for the client.
type BootstrapResult struct {
	Transaction          *domain.Transaction
	ConfigToken          string
	ConfigTokenExpiresAt time.Time
}

// CompletionResult summarizes a completed transaction.
type CompletionResult struct {
	Transaction *domain.Transaction
	Stats       *eventdomain.Stats
	// AlreadyCompleted is true when the call was a repeat and changed nothing.
	AlreadyCompleted bool
}

// ConfigStatus is the result of a configuration token check.
type ConfigStatus struct {
	Claims            *security.ConfigClaims
	TransactionStatus domain.Status
}

// Service drives the transaction state machine pending → active → completed.
type Service struct {
	repo   TransactionRepo
	events EventStats
	tokens *security.ConfigTokenProvider
	audit  audit.AuditLogger
	log    *zap.Logger
	nowF   func() time.Time
}

// NewService returns a Service. auditLogger and log may be nil.
func NewService(repo TransactionRepo, events EventStats, tokens *security.ConfigTokenProvider, auditLogger audit.AuditLogger, log *zap.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NewLogger(nil, nil, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, events: events, tokens: tokens, audit: auditLogger, log: log, nowF: time.Now}
}

// Bootstrap creates a pending transaction and signs a configuration token binding it to the session.
func (s *Service) Bootstrap(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error) {
	if req.OrgID == "" {
		return nil, apperr.Invalid("organization id is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	meta := maps.Clone(req.Metadata)
	if req.DeviceID != "" {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta[domain.MetadataDeviceID] = req.DeviceID
	}
	txn := &domain.Transaction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		OrgID:     req.OrgID,
		Status:    domain.StatusPending,
		Metadata:  meta,
		CreatedAt: s.nowF().UTC(),
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		return nil, apperr.Store("create transaction", err)
	}
	token, exp, err := s.tokens.Issue(txn.OrgID, txn.SessionID, txn.ID)
	if err != nil {
		return nil, apperr.Store("sign config token", err)
	}
	s.audit.LogEvent(ctx, txn.OrgID, txn.SessionID, audit.ActionTransactionCreated, audit.ResourceTransaction,
		audit.Fields(map[string]string{"transactionId": txn.ID}))
	return &BootstrapResult{Transaction: txn, ConfigToken: token, ConfigTokenExpiresAt: exp}, nil
}

// ResolveOpen returns the single pending or active transaction owned by the session. Zero or several
// open transactions is ErrNoActiveTransaction; the caller must not guess between them.
func (s *Service) ResolveOpen(ctx context.Context, sessionID, orgID string) (*domain.Transaction, error) {
	open, err := s.repo.ListOpenBySession(ctx, sessionID, orgID)
	if err != nil {
		return nil, apperr.Store("list open transactions", err)
	}
	if len(open) != 1 {
		if len(open) > 1 {
			s.log.Warn("ambiguous open transactions", zap.String("session_id", sessionID), zap.Int("count", len(open)))
		}
		return nil, apperr.ErrNoActiveTransaction
	}
	return open[0], nil
}

// MarkActive advances a pending transaction to active. Already-active transactions cause no write.
// Reports whether this call performed the transition.
func (s *Service) MarkActive(ctx context.Context, txn *domain.Transaction) (bool, error) {
	if txn.Status != domain.StatusPending {
		return false, nil
	}
	changed, err := s.repo.MarkActive(ctx, txn.ID)
	if err != nil {
		return false, apperr.Store("activate transaction", err)
	}
	if changed {
		txn.Status = domain.StatusActive
	}
	return changed, nil
}

// Ownership loads the transaction and checks it belongs to the session within the organization.
func (s *Service) Ownership(ctx context.Context, transactionID, sessionID, orgID string) (*domain.Transaction, error) {
	if transactionID == "" {
		return nil, apperr.Invalid("transactionId is required")
	}
	txn, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperr.Store("get transaction", err)
	}
	if txn == nil {
		return nil, apperr.ErrUnknownTransaction
	}
	if !txn.OwnedBy(sessionID, orgID) {
		return nil, apperr.ErrInvalidTransactionContext
	}
	return txn, nil
}

// Complete marks the caller's transaction completed and returns its event summary. Completing an
// already-completed transaction succeeds without changing CompletedAt.
func (s *Service) Complete(ctx context.Context, transactionID, sessionID, orgID string) (*CompletionResult, error) {
	txn, err := s.Ownership(ctx, transactionID, sessionID, orgID)
	if err != nil {
		return nil, err
	}
	changed := false
	if txn.Status != domain.StatusCompleted {
		if changed, err = s.repo.MarkCompleted(ctx, txn.ID, s.nowF().UTC()); err != nil {
			return nil, apperr.Store("complete transaction", err)
		}
		// Re-read so a concurrent completion's timestamp is the one reported.
		if txn, err = s.repo.GetByID(ctx, transactionID); err != nil {
			return nil, apperr.Store("get transaction", err)
		}
		if txn == nil {
			return nil, apperr.ErrUnknownTransaction
		}
	}
	stats, err := s.events.StatsByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, apperr.Store("transaction stats", err)
	}
	if changed {
		s.audit.LogEvent(ctx, orgID, sessionID, audit.ActionTransactionCompleted, audit.ResourceTransaction,
			audit.Fields(map[string]string{"transactionId": txn.ID}))
	}
	return &CompletionResult{Transaction: txn, Stats: stats, AlreadyCompleted: !changed}, nil
}

// CheckConfig verifies a configuration token and that it was issued to the calling session.
func (s *Service) CheckConfig(ctx context.Context, configToken, sessionID, orgID string) (*ConfigStatus, error) {
	if configToken == "" {
		return nil, apperr.MissingHeader("X-Config-Token")
	}
	claims, err := s.tokens.Validate(configToken)
	if err != nil {
		if errors.Is(err, security.ErrInvalidConfigToken) {
			return nil, &apperr.DetailError{Err: apperr.ErrInvalidToken, Detail: "configuration token"}
		}
		return nil, apperr.Store("validate config token", err)
	}
	if claims.OrgID != orgID {
		return nil, apperr.ErrOrganizationMismatch
	}
	if claims.SessionID != sessionID {
		return nil, &apperr.DetailError{Err: apperr.ErrInvalidToken, Detail: "configuration token issued to another session"}
	}
	txn, err := s.Ownership(ctx, claims.TransactionID, sessionID, orgID)
	if err != nil {
		return nil, err
	}
	return &ConfigStatus{Claims: claims, TransactionStatus: txn.Status}, nil
}
