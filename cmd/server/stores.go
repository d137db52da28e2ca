package main

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	auditrepo "telemetry-ingest/backend/internal/audit/repository"
	"telemetry-ingest/backend/internal/config"
	"telemetry-ingest/backend/internal/db"
	"telemetry-ingest/backend/internal/db/migrate"
	eventrepo "telemetry-ingest/backend/internal/event/repository"
	orgrepo "telemetry-ingest/backend/internal/organization/repository"
	orgservice "telemetry-ingest/backend/internal/organization/service"
	"telemetry-ingest/backend/internal/security"
	sessionrepo "telemetry-ingest/backend/internal/session/repository"
	txnrepo "telemetry-ingest/backend/internal/transaction/repository"
)

const devOrgID = "dev-org"

// stores is the persistence layer the services run on: Postgres when DATABASE_URL is set, process memory otherwise.
type stores struct {
	conn     *sql.DB
	orgs     orgrepo.Repository
	sessions sessionrepo.Repository
	txns     txnrepo.Repository
	events   eventrepo.Repository
	audits   auditrepo.Repository
}

func openStores(ctx context.Context, cfg *config.Config, runMigrations bool, hasher *security.Hasher, log *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		s := &stores{
			orgs:     orgrepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(),
			txns:     txnrepo.NewMemoryRepository(),
			events:   eventrepo.NewMemoryRepository(),
			audits:   auditrepo.NewMemoryRepository(),
		}
		log.Warn("DATABASE_URL not set; using in-memory stores, all data is lost on exit")
		if cfg.Env != "production" {
			org, apiKey, err := orgservice.NewService(s.orgs, hasher).EnsureDevOrg(ctx, devOrgID, []string{"localhost", "127.0.0.1"})
			if err != nil {
				return nil, err
			}
			log.Info("development organization created",
				zap.String("org_id", org.ID), zap.Strings("allowed_domains", org.AllowedDomains), zap.String("api_key", apiKey))
		}
		return s, nil
	}

	if runMigrations {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up, 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, err
		}
	}
	conn, err := db.OpenWithRetry(ctx, cfg.DatabaseURL, cfg.DBConnectTimeoutDuration(), log)
	if err != nil {
		return nil, err
	}
	return &stores{
		conn:     conn,
		orgs:     orgrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		txns:     txnrepo.NewPostgresRepository(conn),
		events:   eventrepo.NewPostgresRepository(conn),
		audits:   auditrepo.NewPostgresRepository(conn),
	}, nil
}

func (s *stores) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
