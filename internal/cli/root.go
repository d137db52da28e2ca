// Package cli implements orgctl, the operator tool for provisioning organizations.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"telemetry-ingest/backend/internal/config"
	"telemetry-ingest/backend/internal/db"
	orgrepo "telemetry-ingest/backend/internal/organization/repository"
	orgservice "telemetry-ingest/backend/internal/organization/service"
	"telemetry-ingest/backend/internal/security"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Opener returns the provisioning service and a function releasing its resources.
type Opener func(ctx context.Context) (*orgservice.Service, func(), error)

// NewRootCommand creates the orgctl root command. open connects to the organization store.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "orgctl",
		Short: "Provision organizations for the ingestion service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewOrgCommand(opts, open))
	return cmd
}

// PostgresOpener opens the organization store named by DATABASE_URL.
func PostgresOpener(ctx context.Context) (*orgservice.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	svc := orgservice.NewService(orgrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	return svc, func() { closeQuietly(conn) }, nil
}

func closeQuietly(conn *sql.DB) {
	_ = conn.Close()
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
