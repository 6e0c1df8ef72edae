package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/kouba/internal/auth"
	"github.com/ashita-ai/kouba/internal/config"
	"github.com/ashita-ai/kouba/internal/dispatch"
	"github.com/ashita-ai/kouba/internal/mcp"
	"github.com/ashita-ai/kouba/internal/ratelimit"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/server"
	"github.com/ashita-ai/kouba/internal/storage"
	"github.com/ashita-ai/kouba/internal/telemetry"
	"github.com/ashita-ai/kouba/internal/tools"
	"github.com/ashita-ai/kouba/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, cfgErr := config.Load()

	// stdout carries the protocol in stdio mode, so logs go to stderr there.
	out := os.Stdout
	if os.Getenv("KOUBA_TRANSPORT") == config.TransportStdio {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfgErr != nil {
		slog.Error("load config", "error", cfgErr)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("kouba starting", "version", version, "transport", cfg.Transport, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	if cfg.MigrateURL != "" {
		if err := migrate(ctx, cfg, logger); err != nil {
			return err
		}
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, storage.PoolOptions{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	bypass, err := db.BypassesRLS(ctx)
	if err != nil {
		return err
	}
	if bypass {
		if cfg.RequireRLS {
			return errors.New("database role bypasses row-level security; connect as the application role or set KOUBA_REQUIRE_RLS=false")
		}
		slog.Warn("database role bypasses row-level security; tenant isolation relies on query predicates only")
	}

	reg := registry.New()
	tools.Register(reg, nil)

	validator := auth.NewValidator(db, auth.NewHasher(auth.DefaultParams), logger)
	limiter, err := ratelimit.NewMemoryLimiter(cfg.RateLimitWindow)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	defer func() { _ = limiter.Close() }()
	auditor := dispatch.NewAuditor(db, logger, dispatch.AuditorOptions{
		MaxInFlight: int64(cfg.AuditMaxInFlight),
		Timeout:     cfg.AuditTimeout,
	})

	dispatcher := dispatch.New(dispatch.Deps{
		Registry:  reg,
		Validator: validator,
		Limiter:   limiter,
		Binder:    db,
		Auditor:   auditor,
		Logger:    logger,
	})
	mcpSrv := mcp.New(dispatcher, logger, version)

	slog.Info("tools registered", "count", reg.Len())

	var serveErr error
	switch cfg.Transport {
	case config.TransportStdio:
		serveErr = serveStdio(ctx, cfg, mcpSrv)
	default:
		serveErr = serveHTTP(ctx, cfg, logger, dispatcher, db, mcpSrv)
	}

	// Drain background writes after the transport stops. Each phase gets its
	// own timeout so early completion leaves more budget for the next.
	auditCtx, auditCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := auditor.Drain(auditCtx); err != nil {
		slog.Warn("audit drain incomplete", "error", err)
	}
	auditCancel()
	validator.Wait()

	slog.Info("kouba stopped")
	return serveErr
}

// migrate applies embedded migrations over the owner connection and grants
// the runtime role its privileges.
func migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	owner, err := storage.New(ctx, cfg.MigrateURL, storage.PoolOptions{MaxConns: 2}, logger)
	if err != nil {
		return fmt.Errorf("storage: migrate connection: %w", err)
	}
	defer owner.Close()

	if err := owner.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if cfg.AppRole != "" {
		if err := owner.GrantRuntimeRole(ctx, cfg.AppRole); err != nil {
			return fmt.Errorf("grant runtime role: %w", err)
		}
	}
	return nil
}

func serveStdio(ctx context.Context, cfg config.Config, srv *mcp.Server) error {
	if cfg.APIKey == "" {
		slog.Warn("KOUBA_API_KEY is empty; every tool call will fail with missing_credential")
	}
	err := srv.ServeStdio(ctx, cfg.APIKey, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, cfg config.Config, logger *slog.Logger, d *dispatch.Dispatcher, db *storage.DB, mcpSrv *mcp.Server) error {
	srv := server.New(server.ServerConfig{
		Dispatcher:          d,
		Logger:              logger,
		DB:                  db,
		MCP:                 mcpSrv.HTTPHandler(),
		Addr:                cfg.Addr(),
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer httpCancel()
	start := time.Now()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("http server stopped", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}
