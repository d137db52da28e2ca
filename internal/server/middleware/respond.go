package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
)

// Response headers carrying a freshly issued session token.
const (
	HeaderSessionToken   = "X-Session-Token"
	HeaderTokenExpiresAt = "X-Token-Expires-At"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError renders err as {"error":{"code","message"}}. Errors outside the taxonomy become a
// generic STORE_FAILURE; their cause is logged, never returned.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	e, msg := apperr.From(err)
	if e.Kind == apperr.KindInternal && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	WriteJSON(w, e.Status, errorBody{Error: errorDetail{Code: e.Code, Message: msg}})
}

// DecodeJSON decodes the request body into v. An empty body leaves v untouched when allowEmpty is set.
func DecodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.Invalid("request body is required")
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Invalid("request body too large")
	}
	return apperr.Invalid("request body must be a JSON object")
}
