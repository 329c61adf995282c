package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"SpotLedger/internal/config"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/persistence"
	"SpotLedger/migrations"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|status>")
		fmt.Println("  up     - apply all pending migrations")
		fmt.Println("  down   - roll back the last migration")
		fmt.Println("  status - list migrations and whether they are applied")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  SPOT_CONFIG          - optional YAML config file")
		fmt.Println("  SPOT_POSTGRES_DSN    - Postgres connection string")
		fmt.Println("  SPOT_MIGRATIONS_DIR  - migrations directory (default: embedded set)")
		os.Exit(1)
	}

	log := observability.NewLogger("migrate")

	cfg, err := config.Load(os.Getenv("SPOT_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := persistence.Open(ctx, cfg.Postgres.DSN, persistence.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	var fsys fs.FS = migrations.FS
	if cfg.Migrations.Dir != "" {
		fsys = os.DirFS(cfg.Migrations.Dir)
	}
	migrator := persistence.NewMigrator(db, fsys, log)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate status")
		}
		for _, st := range statuses {
			mark := " "
			if st.Applied {
				mark = "x"
			}
			fmt.Printf("[%s] %s\n", mark, st.Filename)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
