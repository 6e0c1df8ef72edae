// kouba-keys administers tenants and API keys.
//
// It connects with the schema-owner role (KOUBA_MIGRATE_URL, falling back to
// DATABASE_URL) because credential rows are written outside any tenant
// binding. Raw keys are printed exactly once, at mint time; only their hash
// is stored.
//
// Usage:
//
//	kouba-keys create-tenant "Acme Fabrication"
//	kouba-keys mint --tenant <id> --name line-3 --tools fetch_jobs,start_operation --rate-limit 120
//	kouba-keys list --tenant <id>
//	kouba-keys revoke --tenant <id> --key <id>
//	kouba-keys usage --tenant <id> [--key <id>] [--limit 20]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kouba/internal/storage"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(func(ctx context.Context) (keyStore, func(), error) {
		dsn := os.Getenv("KOUBA_MIGRATE_URL")
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("set KOUBA_MIGRATE_URL or DATABASE_URL")
		}
		db, err := storage.New(ctx, dsn, storage.PoolOptions{MaxConns: 2}, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
