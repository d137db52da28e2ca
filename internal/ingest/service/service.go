// Package service accepts event batches for an authenticated session: it validates and flattens
// the batch, rotates the caller's token, stores the batch atomically against the session's open
// transaction, and advances the transaction.
package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	authservice "telemetry-ingest/backend/internal/auth/service"
	"telemetry-ingest/backend/internal/db"
	eventdomain "telemetry-ingest/backend/internal/event/domain"
	"telemetry-ingest/backend/internal/security"
	"telemetry-ingest/backend/internal/telemetry"
	txndomain "telemetry-ingest/backend/internal/transaction/domain"
)

// EventStore persists a batch all-or-nothing; a repeated event id yields db.ErrDuplicate.
type EventStore interface {
	InsertBatch(ctx context.Context, events []*eventdomain.Event) error
}

// Transactions resolves and advances the caller's open transaction.
type Transactions interface {
	ResolveOpen(ctx context.Context, sessionID, orgID string) (*txndomain.Transaction, error)
	MarkActive(ctx context.Context, txn *txndomain.Transaction) (bool, error)
}

// TokenValidator rotates the caller's session token before the batch is stored.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token, orgID string, rotate bool) (*authservice.ValidationResult, error)
}

// Request is one ingestion call.
type Request struct {
	OrgID     string
	SessionID string
	Token     string
	Body      []byte
	// SignatureTimestamp and Signature carry X-Batch-Timestamp and X-Batch-Signature.
	SignatureTimestamp string
	Signature          string
}

// Result describes an accepted batch and the caller's rotated token.
type Result struct {
	EventsProcessed int
	BatchID         string
	TransactionID   string
	ProcessedAt     time.Time
	NewToken        string
	TokenExpiresAt  time.Time
}

// Options holds the optional collaborators of Service.
type Options struct {
	// RequireSignature rejects batches without a valid timestamped signature over the batch id.
	RequireSignature bool
	ReplayWindow     time.Duration
	Emitter          telemetry.EventEmitter
	Metrics          *telemetry.Metrics
	Logger           *zap.Logger
	Now              func() time.Time
}

var tracer = otel.Tracer("telemetry-ingest/backend/internal/ingest")

// Service ingests event batches.
type Service struct {
	events EventStore
	txns   Transactions
	tokens TokenValidator
	crypto *security.CryptoService
	opts   Options
	log    *zap.Logger
	nowF   func() time.Time
}

// NewService returns an ingestion Service.
func NewService(events EventStore, txns Transactions, tokens TokenValidator, crypto *security.CryptoService, opts Options) *Service {
	s := &Service{events: events, txns: txns, tokens: tokens, crypto: crypto, opts: opts, log: opts.Logger, nowF: opts.Now}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.nowF == nil {
		s.nowF = time.Now
	}
	if s.opts.ReplayWindow <= 0 {
		s.opts.ReplayWindow = 30 * time.Second
	}
	return s
}

// IngestBatch validates, stores, and acknowledges one batch. Nothing is stored unless the whole batch
// validates; a batch id already stored for the organization is ErrDuplicateBatch.
//
// The caller's token is consumed before anything is written, so one token admits at most one stored
// batch. Structural and signature failures are rejected before that and leave the token valid. Once
// the token has been rotated, the returned Result carries the new token even when err is non-nil.
func (s *Service) IngestBatch(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.batch", trace.WithAttributes(
		attribute.String("org.id", req.OrgID),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	res, err := s.ingest(ctx, req)
	if err != nil {
		code, _ := apperr.From(err)
		s.opts.Metrics.Batch(ctx, code.Code, 0)
		span.SetStatus(otelcodes.Error, code.Code)
		return res, err
	}
	s.opts.Metrics.Batch(ctx, "ok", res.EventsProcessed)
	span.SetAttributes(
		attribute.String("batch.id", res.BatchID),
		attribute.String("transaction.id", res.TransactionID),
		attribute.Int("batch.events", res.EventsProcessed),
	)
	return res, nil
}

func (s *Service) ingest(ctx context.Context, req Request) (*Result, error) {
	batch, err := ParseBatch(req.Body)
	if err != nil {
		return nil, err
	}
	if err := s.checkSignature(batch.BatchID, req); err != nil {
		return nil, err
	}

	// Claim the token; a request that loses the swap stores nothing.
	rotated, err := s.tokens.ValidateToken(ctx, req.Token, req.OrgID, true)
	if err != nil {
		return nil, err
	}
	res := &Result{BatchID: batch.BatchID, NewToken: rotated.NewToken, TokenExpiresAt: rotated.Session.ExpiresAt}

	txn, err := s.txns.ResolveOpen(ctx, req.SessionID, req.OrgID)
	if err != nil {
		return res, err
	}

	receivedAt := s.nowF().UTC()
	events := batch.Flatten(req.OrgID, req.SessionID, txn.ID, receivedAt)
	activated := false
	if len(events) > 0 {
		if err := s.events.InsertBatch(ctx, events); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return res, apperr.ErrDuplicateBatch
			}
			return res, apperr.Store("insert batch", err)
		}
		if activated, err = s.txns.MarkActive(ctx, txn); err != nil {
			s.log.Warn("batch stored but transaction activation failed",
				zap.String("batch_id", batch.BatchID), zap.String("transaction_id", txn.ID), zap.Error(err))
			return res, err
		}
	}

	telemetry.EmitAsync(s.opts.Emitter, &telemetry.BatchRecord{
		OrgID:           req.OrgID,
		SessionID:       req.SessionID,
		TransactionID:   txn.ID,
		DeviceID:        batch.DeviceID,
		BatchID:         batch.BatchID,
		BatchTimestamp:  batch.BatchTimestamp,
		EventsProcessed: len(events),
		EventsByType:    countByType(events),
		ActivatedTxn:    activated,
		ReceivedAt:      receivedAt,
	}, s.log)

	res.EventsProcessed = len(events)
	res.TransactionID = txn.ID
	res.ProcessedAt = receivedAt
	return res, nil
}

// checkSignature enforces the replay guard when it is required, and verifies a signature whenever one is sent.
func (s *Service) checkSignature(batchID string, req Request) error {
	if req.Signature == "" && req.SignatureTimestamp == "" {
		if s.opts.RequireSignature {
			return apperr.MissingHeader("X-Batch-Signature")
		}
		return nil
	}
	if req.Signature == "" {
		return apperr.MissingHeader("X-Batch-Signature")
	}
	if req.SignatureTimestamp == "" {
		return apperr.MissingHeader("X-Batch-Timestamp")
	}
	ts, err := strconv.ParseInt(req.SignatureTimestamp, 10, 64)
	if err != nil {
		return apperr.Invalid("X-Batch-Timestamp must be milliseconds since epoch")
	}
	if !s.crypto.VerifyTimestampedHash(req.Signature, batchID, ts, s.opts.ReplayWindow) {
		return &apperr.DetailError{Err: apperr.ErrInvalidToken, Detail: "batch signature invalid or outside replay window"}
	}
	return nil
}

func countByType(events []*eventdomain.Event) map[string]int {
	out := make(map[string]int)
	for _, e := range events {
		out[e.EventType]++
	}
	return out
}
