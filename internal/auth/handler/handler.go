// Package handler exposes the handshake and session token endpoints over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	authservice "telemetry-ingest/backend/internal/auth/service"
	mw "telemetry-ingest/backend/internal/server/middleware"
)

// TokenService is the auth service as used by the handlers.
type TokenService interface {
	IssueToken(ctx context.Context, req authservice.HandshakeRequest) (*authservice.TokenResult, error)
	RefreshToken(ctx context.Context, token, orgID string) (*authservice.TokenResult, error)
	RevokeToken(ctx context.Context, token, orgID string) error
}

// Handler serves /v1/handshake and /v1/token.
type Handler struct {
	svc TokenService
	log *zap.Logger
}

// New returns an auth Handler.
func New(svc TokenService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type sessionResponse struct {
	SessionID      string     `json:"sessionId"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	LastActivityAt *time.Time `json:"lastActivityAt,omitempty"`
}

// Handshake verifies the path hash against the identifying headers and returns the new token in
// X-Session-Token with an empty body.
func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	org := mw.OrgFrom(r.Context())
	sessionID := r.Header.Get(mw.HeaderSessionID)
	if sessionID == "" {
		mw.WriteError(w, r, h.log, apperr.MissingHeader(mw.HeaderSessionID))
		return
	}
	transactionID := r.Header.Get(mw.HeaderTransactionID)
	if transactionID == "" {
		mw.WriteError(w, r, h.log, apperr.MissingHeader(mw.HeaderTransactionID))
		return
	}
	res, err := h.svc.IssueToken(r.Context(), authservice.HandshakeRequest{
		Hash:          chi.URLParam(r, "hash"),
		OrgID:         org.ID,
		SessionID:     sessionID,
		TransactionID: transactionID,
		DeviceID:      r.Header.Get(mw.HeaderDeviceID),
	})
	if err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.SetTokenHeaders(w, res.Token, res.ExpiresAt)
	w.WriteHeader(http.StatusOK)
}

// Refresh rotates the caller's token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		mw.WriteError(w, r, h.log, apperr.ErrInvalidToken)
		return
	}
	res, err := h.svc.RefreshToken(r.Context(), caller.Token, caller.OrgID)
	if err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.SetTokenHeaders(w, res.Token, res.ExpiresAt)
	mw.WriteJSON(w, http.StatusOK, sessionResponse{SessionID: res.SessionID, ExpiresAt: res.ExpiresAt})
}

// Validate reports the caller's session without changing its token.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		mw.WriteError(w, r, h.log, apperr.ErrInvalidToken)
		return
	}
	last := caller.LastActivityAt
	mw.WriteJSON(w, http.StatusOK, sessionResponse{SessionID: caller.SessionID, ExpiresAt: caller.ExpiresAt, LastActivityAt: &last})
}

// Revoke invalidates the caller's token and session.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		mw.WriteError(w, r, h.log, apperr.ErrInvalidToken)
		return
	}
	if err := h.svc.RevokeToken(r.Context(), caller.Token, caller.OrgID); err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.WriteJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
