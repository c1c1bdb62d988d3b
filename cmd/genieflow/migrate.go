package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/genieflow/genieflow/internal/common/config"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/store/secondary"
)

// newMigrateCmd builds the `genieflow migrate` subcommand: prepares the
// pgx-backed SecondaryStore's archive table (internal/store/secondary),
// the durable home for a session's final dialogue once its flow reaches
// a terminal state - the primary Redis/sqlite object store expires on a
// TTL and would otherwise lose it (spec §3).
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the secondary archival store's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	archive := secondary.New(pool, cfg.Store.AppPrefix, cfg.Store.Compression, log)
	if err := archive.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating secondary store: %w", err)
	}

	log.Info("secondary store schema is up to date")
	return nil
}
