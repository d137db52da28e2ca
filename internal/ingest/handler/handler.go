// Package handler exposes event batch ingestion over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	"telemetry-ingest/backend/internal/ingest/service"
	mw "telemetry-ingest/backend/internal/server/middleware"
)

// Ingester is the ingestion service as used by the handler.
type Ingester interface {
	IngestBatch(ctx context.Context, req service.Request) (*service.Result, error)
}

// Handler serves POST /v1/events.
type Handler struct {
	svc Ingester
	log *zap.Logger
}

// New returns an ingestion Handler.
func New(svc Ingester, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type ingestResponse struct {
	EventsProcessed int       `json:"eventsProcessed"`
	BatchID         string    `json:"batchId"`
	TransactionID   string    `json:"transactionId"`
	ProcessedAt     time.Time `json:"processedAt"`
}

// Ingest stores the batch in the body and returns the rotated token in X-Session-Token, also on errors
// raised after the token was consumed.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		mw.WriteError(w, r, h.log, apperr.ErrInvalidToken)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			mw.WriteError(w, r, h.log, apperr.Malformed("body", "exceeds the size limit"))
			return
		}
		mw.WriteError(w, r, h.log, apperr.Malformed("body", "could not be read"))
		return
	}
	res, err := h.svc.IngestBatch(r.Context(), service.Request{
		OrgID:              caller.OrgID,
		SessionID:          caller.SessionID,
		Token:              caller.Token,
		Body:               body,
		SignatureTimestamp: r.Header.Get("X-Batch-Timestamp"),
		Signature:          r.Header.Get("X-Batch-Signature"),
	})
	if res != nil {
		mw.SetTokenHeaders(w, res.NewToken, res.TokenExpiresAt)
	}
	if err != nil {
		mw.WriteError(w, r, h.log, err)
		return
	}
	mw.WriteJSON(w, http.StatusOK, ingestResponse{
		EventsProcessed: res.EventsProcessed,
		BatchID:         res.BatchID,
		TransactionID:   res.TransactionID,
		ProcessedAt:     res.ProcessedAt,
	})
}
