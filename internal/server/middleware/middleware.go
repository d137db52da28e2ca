// Package middleware holds the HTTP guards and helpers shared by the API handlers: request logging,
// panic recovery, body limits, the origin gate, and API key and session token authentication.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"telemetry-ingest/backend/internal/apperr"
	authdomain "telemetry-ingest/backend/internal/auth/domain"
	authservice "telemetry-ingest/backend/internal/auth/service"
	orgdomain "telemetry-ingest/backend/internal/organization/domain"
)

// Request headers.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderSessionID      = "X-Session-ID"
	HeaderTransactionID  = "X-Transaction-ID"
	HeaderDeviceID       = "X-Device-ID"
	HeaderConfigToken    = "X-Config-Token"
)

const bearerPrefix = "bearer "

// Authenticator is the subset of the auth service the guards use.
type Authenticator interface {
	CheckOrigin(ctx context.Context, orgID, originHeader, referer string) (*orgdomain.Org, error)
	AuthenticateOrganization(ctx context.Context, apiKey string) (*orgdomain.Org, error)
	ValidateToken(ctx context.Context, token, orgID string, rotate bool) (*authservice.ValidationResult, error)
}

// Logger logs one line per request with its outcome.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("org_id", r.Header.Get(HeaderOrganizationID)),
			)
		})
	}
}

// Recoverer turns a handler panic into a STORE_FAILURE response and logs it.
func Recoverer(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("request_id", middleware.GetReqID(r.Context())),
						zap.Stack("stack"))
					WriteError(w, r, nil, apperr.ErrStoreFailure)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBody caps request bodies at n bytes.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OriginGate admits requests whose Origin (or Referer) is whitelisted for X-Organization-ID and
// stores the organization in the context.
func OriginGate(auth Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org, err := auth.CheckOrigin(r.Context(), r.Header.Get(HeaderOrganizationID), r.Header.Get("Origin"), r.Header.Get("Referer"))
			if err != nil {
				WriteError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOrg(r.Context(), org)))
		})
	}
}

// APIKey authenticates "Authorization: Bearer <orgID>.<secret>" and stores the organization in the context.
func APIKey(auth Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractBearer(r.Header.Get("Authorization"))
			if key == "" {
				WriteError(w, r, log, apperr.MissingHeader("Authorization"))
				return
			}
			org, err := auth.AuthenticateOrganization(r.Context(), key)
			if err != nil {
				WriteError(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOrg(r.Context(), org)))
		})
	}
}

// Token validates X-Session-Token for the organization admitted by OriginGate and stores the Caller
// in the context. With rotate, the token is replaced and the new one is returned in X-Session-Token.
func Token(auth Authenticator, log *zap.Logger, rotate bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderSessionToken)
			if token == "" {
				WriteError(w, r, log, apperr.MissingHeader(HeaderSessionToken))
				return
			}
			orgID := r.Header.Get(HeaderOrganizationID)
			if org := OrgFrom(r.Context()); org != nil {
				orgID = org.ID
			}
			res, err := auth.ValidateToken(r.Context(), token, orgID, rotate)
			if err != nil {
				WriteError(w, r, log, err)
				return
			}
			if res.NewToken != "" {
				token = res.NewToken
				SetTokenHeaders(w, res.NewToken, res.Session.ExpiresAt)
			}
			caller := &authdomain.Caller{
				OrgID:          res.Session.OrgID,
				SessionID:      res.Session.ID,
				DeviceID:       res.Session.DeviceID,
				Token:          token,
				ExpiresAt:      res.Session.ExpiresAt,
				LastActivityAt: res.Session.LastActivityAt,
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// SetTokenHeaders returns a newly issued token to the client.
func SetTokenHeaders(w http.ResponseWriter, token string, expiresAt time.Time) {
	w.Header().Set(HeaderSessionToken, token)
	w.Header().Set(HeaderTokenExpiresAt, expiresAt.UTC().Format(time.RFC3339))
}

// extractBearer returns the credential of a Bearer authorization value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
