package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	"telemetry-ingest/backend/internal/audit"
	"telemetry-ingest/backend/internal/db"
	orgdomain "telemetry-ingest/backend/internal/organization/domain"
	"telemetry-ingest/backend/internal/origin"
	"telemetry-ingest/backend/internal/security"
	sessiondomain "telemetry-ingest/backend/internal/session/domain"
	"telemetry-ingest/backend/internal/telemetry"
	txndomain "telemetry-ingest/backend/internal/transaction/domain"
)

// DefaultSessionTTL is the lifetime granted to a session on each token issuance.
const DefaultSessionTTL = 15 * time.Minute

// issueAttempts bounds the compare-and-swap loop during handshake issuance.
const issueAttempts = 3

var errTokenContention = errors.New("token swap lost repeatedly")

// OrgRepo is the minimal organization repository needed by the auth service.
type OrgRepo interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	SwapToken(ctx context.Context, id, oldHash, newHash string, expiresAt, at time.Time) (bool, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

// TransactionRepo is the minimal transaction repository needed by the auth service.
type TransactionRepo interface {
	GetByID(ctx context.Context, id string) (*txndomain.Transaction, error)
}

// HandshakeRequest carries the identifiers a client proves knowledge of with its handshake hash.
type HandshakeRequest struct {
	Hash          string
	OrgID         string
	SessionID     string
	TransactionID string
	// DeviceID may be empty; the device recorded on the transaction at bootstrap is used instead.
	DeviceID string
}

// TokenResult is a freshly issued session token.
type TokenResult struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// ValidationResult is the outcome of ValidateToken. NewToken is set only when the token was rotated.
type ValidationResult struct {
	Session  *sessiondomain.Session
	NewToken string
}

// Options holds the optional collaborators of AuthService.
type Options struct {
	SessionTTL time.Duration
	Audit      audit.AuditLogger
	Metrics    *telemetry.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// AuthService implements the origin gate, handshake token issuance, and token validation/rotation.
type AuthService struct {
	orgRepo     OrgRepo
	sessionRepo SessionRepo
	txnRepo     TransactionRepo
	crypto      *security.CryptoService
	hasher      *security.Hasher
	origins     origin.Evaluator
	sessionTTL  time.Duration
	audit       audit.AuditLogger
	metrics     *telemetry.Metrics
	log         *zap.Logger
	nowF        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	orgRepo OrgRepo,
	sessionRepo SessionRepo,
	txnRepo TransactionRepo,
	crypto *security.CryptoService,
	hasher *security.Hasher,
	origins origin.Evaluator,
	opts Options,
) *AuthService {
	s := &AuthService{
		orgRepo:     orgRepo,
		sessionRepo: sessionRepo,
		txnRepo:     txnRepo,
		crypto:      crypto,
		hasher:      hasher,
		origins:     origins,
		sessionTTL:  opts.SessionTTL,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		nowF:        opts.Now,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.audit == nil {
		s.audit = audit.NewLogger(nil, nil, nil)
	}
	if s.nowF == nil {
		s.nowF = time.Now
	}
	return s
}

func (s *AuthService) now() time.Time {
	return s.nowF().UTC()
}

// CheckOrigin admits the request only if the Origin (or Referer) host is whitelisted for orgID.
func (s *AuthService) CheckOrigin(ctx context.Context, orgID, originHeader, referer string) (*orgdomain.Org, error) {
	if orgID == "" {
		return nil, apperr.MissingHeader("X-Organization-ID")
	}
	org, err := s.orgRepo.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, apperr.Store("get organization", err)
	}
	if org == nil {
		return nil, apperr.ErrInvalidOrganization
	}
	host, err := origin.HostFromHeaders(originHeader, referer)
	if err != nil {
		return nil, apperr.ErrInvalidOrigin
	}
	ok, err := s.origins.Allowed(ctx, host, org.AllowedDomains)
	if err != nil {
		return nil, apperr.Store("evaluate origin policy", err)
	}
	if !ok {
		s.log.Info("origin rejected", zap.String("org_id", orgID), zap.String("host", host))
		return nil, apperr.ErrInvalidOrigin
	}
	return org, nil
}

// AuthenticateOrganization resolves an "<orgID>.<secret>" API key to its organization.
func (s *AuthService) AuthenticateOrganization(ctx context.Context, apiKey string) (*orgdomain.Org, error) {
	orgID, secret, err := security.SplitAPIKey(apiKey)
	if err != nil {
		s.audit.LogEvent(ctx, "", "", audit.ActionAPIKeyRejected, audit.ResourceOrganization, audit.Fields(map[string]string{"reason": "malformed"}))
		return nil, apperr.ErrInvalidAPIKey
	}
	org, err := s.orgRepo.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, apperr.Store("get organization", err)
	}
	if org == nil || org.APIKeyHash == "" || s.hasher.Compare(org.APIKeyHash, []byte(secret)) != nil {
		s.audit.LogEvent(ctx, orgID, "", audit.ActionAPIKeyRejected, audit.ResourceOrganization, "")
		return nil, apperr.ErrInvalidAPIKey
	}
	return org, nil
}

// IssueToken verifies a handshake and binds a new token to the session, creating the session on first use.
// The previous token of the session, if any, stops validating.
func (s *AuthService) IssueToken(ctx context.Context, req HandshakeRequest) (*TokenResult, error) {
	res, err := s.issueToken(ctx, req)
	code := "ok"
	if err != nil {
		e, _ := apperr.From(err)
		code = e.Code
		s.audit.LogEvent(ctx, req.OrgID, req.SessionID, audit.ActionHandshakeFailure, audit.ResourceSession,
			audit.Fields(map[string]string{"reason": code, "transactionId": req.TransactionID}))
	} else {
		s.metrics.TokenRotated(ctx, "handshake")
		s.audit.LogEvent(ctx, req.OrgID, req.SessionID, audit.ActionHandshakeSuccess, audit.ResourceSession,
			audit.Fields(map[string]string{"transactionId": req.TransactionID}))
	}
	s.metrics.Handshake(ctx, code)
	return res, err
}

func (s *AuthService) issueToken(ctx context.Context, req HandshakeRequest) (*TokenResult, error) {
	org, err := s.orgRepo.GetOrganizationByID(ctx, req.OrgID)
	if err != nil {
		return nil, apperr.Store("get organization", err)
	}
	if org == nil {
		return nil, apperr.ErrInvalidOrganization
	}
	txn, err := s.txnRepo.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, apperr.Store("get transaction", err)
	}
	deviceID := req.DeviceID
	if deviceID == "" && txn != nil {
		deviceID = txn.DeviceID()
	}
	if deviceID == "" {
		// Without a header the device comes from the transaction; an unknown or device-less one is a bad context.
		return nil, apperr.ErrInvalidTransactionContext
	}
	if !s.crypto.VerifyHandshakeHash(req.Hash, req.OrgID, req.TransactionID, req.SessionID, deviceID) {
		return nil, apperr.ErrInvalidHandshake
	}
	if txn == nil || !txn.OwnedBy(req.SessionID, req.OrgID) {
		return nil, apperr.ErrInvalidTransactionContext
	}

	sess, err := s.loadOrCreateSession(ctx, req, deviceID)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := s.crypto.NewSessionToken()
		if err != nil {
			return nil, apperr.Store("generate token", err)
		}
		now := s.now()
		expires := now.Add(s.sessionTTL)
		ok, err := s.sessionRepo.SwapToken(ctx, sess.ID, sess.TokenHash, security.HashToken(token), expires, now)
		if err != nil && !errors.Is(err, db.ErrDuplicate) {
			return nil, apperr.Store("store token", err)
		}
		if ok {
			return &TokenResult{Token: token, SessionID: sess.ID, ExpiresAt: expires}, nil
		}
		// Lost the swap to a concurrent issuance or rotation; the verified handshake still stands.
		if sess, err = s.sessionRepo.GetByID(ctx, req.SessionID); err != nil {
			return nil, apperr.Store("get session", err)
		}
		if sess == nil || !sess.Usable(s.now()) {
			return nil, apperr.ErrExpiredSession
		}
	}
	return nil, apperr.Store("issue token", errTokenContention)
}

// loadOrCreateSession returns the session named by the handshake. Creation is only reachable after the
// handshake hash has been verified, so clients cannot mint arbitrary session ids.
func (s *AuthService) loadOrCreateSession(ctx context.Context, req HandshakeRequest, deviceID string) (*sessiondomain.Session, error) {
	sess, err := s.sessionRepo.GetByID(ctx, req.SessionID)
	if err != nil {
		return nil, apperr.Store("get session", err)
	}
	if sess == nil {
		now := s.now()
		sess = &sessiondomain.Session{
			ID:             req.SessionID,
			OrgID:          req.OrgID,
			DeviceID:       deviceID,
			HandshakeHash:  req.Hash,
			Active:         true,
			ExpiresAt:      now.Add(s.sessionTTL),
			LastActivityAt: now,
			CreatedAt:      now,
		}
		err := s.sessionRepo.Create(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, db.ErrDuplicate) {
			return nil, apperr.Store("create session", err)
		}
		// A concurrent handshake created it first; fall through and check the winner.
		if sess, err = s.sessionRepo.GetByID(ctx, req.SessionID); err != nil {
			return nil, apperr.Store("get session", err)
		}
		if sess == nil {
			return nil, apperr.ErrExpiredSession
		}
	}
	if sess.OrgID != req.OrgID {
		return nil, apperr.ErrOrganizationMismatch
	}
	if sess.DeviceID != deviceID {
		return nil, apperr.ErrInvalidHandshake
	}
	if !sess.Usable(s.now()) {
		s.expire(ctx, sess)
		return nil, apperr.ErrExpiredSession
	}
	return sess, nil
}

// ValidateToken resolves token to its session for orgID and touches its activity. With rotate, the token
// is replaced through a compare-and-swap on its hash: of two concurrent rotations of the same token
// exactly one succeeds and the other gets ErrInvalidToken.
func (s *AuthService) ValidateToken(ctx context.Context, token, orgID string, rotate bool) (*ValidationResult, error) {
	if !security.IsWellFormedToken(token) {
		return nil, apperr.ErrInvalidToken
	}
	hash := security.HashToken(token)
	sess, err := s.sessionRepo.GetByTokenHash(ctx, hash)
	if err != nil {
		return nil, apperr.Store("get session by token", err)
	}
	if sess == nil || !security.TokenHashEqual(token, sess.TokenHash) {
		return nil, apperr.ErrInvalidToken
	}
	now := s.now()
	if !sess.Usable(now) {
		s.expire(ctx, sess)
		return nil, apperr.ErrInvalidToken
	}
	if sess.OrgID != orgID {
		return nil, apperr.ErrOrganizationMismatch
	}
	if err := s.sessionRepo.TouchActivity(ctx, sess.ID, now); err != nil {
		return nil, apperr.Store("touch session", err)
	}
	sess.LastActivityAt = now
	if !rotate {
		return &ValidationResult{Session: sess}, nil
	}

	next, err := s.crypto.NewSessionToken()
	if err != nil {
		return nil, apperr.Store("generate token", err)
	}
	nextHash := security.HashToken(next)
	expires := now.Add(s.sessionTTL)
	ok, err := s.sessionRepo.SwapToken(ctx, sess.ID, hash, nextHash, expires, now)
	if err != nil {
		return nil, apperr.Store("rotate token", err)
	}
	if !ok {
		return nil, apperr.ErrInvalidToken
	}
	s.metrics.TokenRotated(ctx, "rotate")
	sess.TokenHash = nextHash
	sess.ExpiresAt = expires
	return &ValidationResult{Session: sess, NewToken: next}, nil
}

// RefreshToken forces a rotation and returns the new token with the extended expiry.
func (s *AuthService) RefreshToken(ctx context.Context, token, orgID string) (*TokenResult, error) {
	res, err := s.ValidateToken(ctx, token, orgID, true)
	if err != nil {
		return nil, err
	}
	return &TokenResult{Token: res.NewToken, SessionID: res.Session.ID, ExpiresAt: res.Session.ExpiresAt}, nil
}

// RevokeToken deactivates the token's session; neither the token nor the session can be used again.
func (s *AuthService) RevokeToken(ctx context.Context, token, orgID string) error {
	res, err := s.ValidateToken(ctx, token, orgID, false)
	if err != nil {
		return err
	}
	if err := s.sessionRepo.Deactivate(ctx, res.Session.ID); err != nil {
		return apperr.Store("revoke session", err)
	}
	s.audit.LogEvent(ctx, orgID, res.Session.ID, audit.ActionTokenRevoked, audit.ResourceSession, "")
	return nil
}

// expire lazily deactivates a session found past its expiry. Best-effort.
func (s *AuthService) expire(ctx context.Context, sess *sessiondomain.Session) {
	if !sess.Active {
		return
	}
	if err := s.sessionRepo.Deactivate(ctx, sess.ID); err != nil {
		s.log.Warn("deactivate expired session", zap.String("session_id", sess.ID), zap.Error(err))
	}
}
