package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"EscrowLedger/internal/config"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|records|rebuild>")
	fmt.Println("  up      - apply all pending migrations")
	fmt.Println("  down    - roll back the last migration")
	fmt.Println("  records - rewrite projected escrow records in the current layout")
	fmt.Println("  rebuild - rebuild all projections from the event log")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ESCROW_POSTGRES_DSN    - Postgres connection string")
	fmt.Println("  ESCROW_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
	fmt.Println("  ESCROW_ASSET           - settlement asset, used by rebuild (default: SOL)")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "records":
		n, err := projection.MigrateLegacyRecords(ctx, db, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate records")
		}
		logger.Info().Int("records", n).Msg("escrow records migrated")

	case "rebuild":
		if _, err := projection.Rebuild(ctx, db, cfg.Asset, logger); err != nil {
			logger.Fatal().Err(err).Msg("rebuild projections")
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
