// Package handler exposes transaction bootstrap, configuration checks, and completion over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	mw "telemetry-ingest/backend/internal/server/middleware"
	"telemetry-ingest/backend/internal/transaction/service"
)

// Lifecycle is the transaction service as used by the handlers.
type Lifecycle interface {
	Bootstrap(ctx context.Context, req service.BootstrapRequest) (*service.BootstrapResult, error)
	CheckConfig(ctx context.Context, configToken, sessionID, orgID string) (*service.ConfigStatus, error)
	Complete(ctx context.Context, transactionID, sessionID, orgID string) (*service.CompletionResult, error)
}

// Handler serves /v1/transactions and /v1/config.
type Handler struct {
	svc Lifecycle
	log *zap.Logger
}

// New returns a transaction Handler.
func New(svc Lifecycle, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type bootstrapRequest struct {
	SessionID string         `json:"sessionId"`
	DeviceID  string         `json:"deviceId"`
	Metadata  map[string]any `json:"metadata"`
}

type bootstrapResponse struct {
	TransactionID        string    `json:"transactionId"`
	SessionID            string    `json:"sessionId"`
	OrganizationID       string    `json:"organizationId"`
	Status               string    `json:"status"`
	ConfigToken          string    `json:"configToken"`
	ConfigTokenExpiresAt time.Time `json:"configTokenExpiresAt"`
}

// Bootstrap creates a pending transaction for the API-key-authenticated organization.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	org := mw.OrgFrom(r.Context())
	var req bootstrapRequest
	if err := mw.DecodeJSON(r, &req, true); err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = r.Header.Get(mw.HeaderDeviceID)
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get(mw.HeaderSessionID)
	}
	res, err := h.svc.Bootstrap(r.Context(), service.BootstrapRequest{
		OrgID:     org.ID,
		SessionID: req.SessionID,
		DeviceID:  req.DeviceID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.WriteJSON(w, http.StatusCreated, bootstrapResponse{
		TransactionID:        res.Transaction.ID,
		SessionID:            res.Transaction.SessionID,
		OrganizationID:       res.Transaction.OrgID,
		Status:               string(res.Transaction.Status),
		ConfigToken:          res.ConfigToken,
		ConfigTokenExpiresAt: res.ConfigTokenExpiresAt,
	})
}

type configResponse struct {
	Valid             bool      `json:"valid"`
	OrganizationID    string    `json:"organizationId"`
	SessionID         string    `json:"sessionId"`
	TransactionID     string    `json:"transactionId"`
	TransactionStatus string    `json:"transactionStatus"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// Config confirms that X-Config-Token still matches the caller.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		mw.WriteError(w, r, h.log, apperr.ErrInvalidToken)
		return
	}
	st, err := h.svc.CheckConfig(r.Context(), r.Header.Get(mw.HeaderConfigToken), caller.SessionID, caller.OrgID)
	if err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.WriteJSON(w, http.StatusOK, configResponse{
		Valid:             true,
		OrganizationID:    st.Claims.OrgID,
		SessionID:         st.Claims.SessionID,
		TransactionID:     st.Claims.TransactionID,
		TransactionStatus: string(st.TransactionStatus),
		ExpiresAt:         st.Claims.ExpiresAt.Time,
	})
}

type completeRequest struct {
	TransactionID string `json:"transactionId"`
}

type completeResponse struct {
	TransactionID string         `json:"transactionId"`
	Status        string         `json:"status"`
	CompletedAt   *time.Time     `json:"completedAt"`
	TotalEvents   int            `json:"totalEvents"`
	EventsByType  map[string]int `json:"eventsByType"`
	LastEventAt   *time.Time     `json:"lastEventAt"`
}

// Complete closes the caller's transaction and returns its event summary.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		mw.WriteError(w, r, h.log, apperr.ErrInvalidToken)
		return
	}
	var req completeRequest
	if err := mw.DecodeJSON(r, &req, false); err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	res, err := h.svc.Complete(r.Context(), req.TransactionID, caller.SessionID, caller.OrgID)
	if err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.WriteJSON(w, http.StatusOK, completeResponse{
		TransactionID: res.Transaction.ID,
		Status:        string(res.Transaction.Status),
		CompletedAt:   res.Transaction.CompletedAt,
		TotalEvents:   res.Stats.TotalEvents,
		EventsByType:  res.Stats.EventsByType,
		LastEventAt:   res.Stats.LastEventAt,
	})
}
