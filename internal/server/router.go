// Package server assembles the HTTP API and the gRPC health server from explicitly constructed services.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	authhandler "telemetry-ingest/backend/internal/auth/handler"
	authservice "telemetry-ingest/backend/internal/auth/service"
	healthhandler "telemetry-ingest/backend/internal/health/handler"
	ingesthandler "telemetry-ingest/backend/internal/ingest/handler"
	ingestservice "telemetry-ingest/backend/internal/ingest/service"
	mw "telemetry-ingest/backend/internal/server/middleware"
	txnhandler "telemetry-ingest/backend/internal/transaction/handler"
	txnservice "telemetry-ingest/backend/internal/transaction/service"
)

// DefaultMaxBodyBytes limits request bodies when Deps.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 5 << 20

// Deps holds the services the HTTP API is built from.
type Deps struct {
	Auth         *authservice.AuthService
	Transactions *txnservice.Service
	Ingest       *ingestservice.Service
	// Health backs GET /healthz. If nil, /healthz always reports ok.
	Health *healthhandler.Server
	Logger *zap.Logger
	// RotateByDefault controls token rotation on guarded routes without a fixed policy (/v1/config,
	// /v1/transactions/complete).
	RotateByDefault bool
	MaxBodyBytes    int64
}

// NewRouter returns the HTTP API.
//
// Route → guard:
//   - POST /v1/transactions            → API key
//   - POST /v1/handshake/{hash}        → origin
//   - POST /v1/token/refresh           → origin + token (handler rotates)
//   - GET  /v1/token/validate          → origin + token, never rotates
//   - POST /v1/token/revoke            → origin + token
//   - GET  /v1/config                  → origin + token, default rotation
//   - POST /v1/events                  → origin + token, rotated after the batch is stored
//   - POST /v1/transactions/complete   → origin + token, default rotation
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil, nil, log)
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	auth := authhandler.New(deps.Auth, log)
	txns := txnhandler.New(deps.Transactions, log)
	ingest := ingesthandler.New(deps.Ingest, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.ClientIP)
	r.Use(mw.Logger(log))
	r.Use(mw.Recoverer(log))
	r.Use(mw.MaxBody(maxBody))

	r.Method(http.MethodGet, "/healthz", health)

	r.Route("/v1", func(v1 chi.Router) {
		v1.With(mw.APIKey(deps.Auth, log)).Post("/transactions", txns.Bootstrap)

		v1.Group(func(g chi.Router) {
			g.Use(mw.OriginGate(deps.Auth, log))
			g.Post("/handshake/{hash}", auth.Handshake)

			g.With(mw.Token(deps.Auth, log, false)).Post("/token/refresh", auth.Refresh)
			g.With(mw.Token(deps.Auth, log, false)).Get("/token/validate", auth.Validate)
			g.With(mw.Token(deps.Auth, log, false)).Post("/token/revoke", auth.Revoke)
			g.With(mw.Token(deps.Auth, log, false)).Post("/events", ingest.Ingest)
			g.With(mw.Token(deps.Auth, log, deps.RotateByDefault)).Get("/config", txns.Config)
			g.With(mw.Token(deps.Auth, log, deps.RotateByDefault)).Post("/transactions/complete", txns.Complete)
		})
	})
	return r
}
