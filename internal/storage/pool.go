// Package storage provides the PostgreSQL storage layer for kouba.
//
// It manages connection pooling (via pgxpool), tenant-bound transactions
// that set app.tenant_id for row-level security, credential lookup, usage
// logging, and query methods for the production tables.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PoolOptions tunes the connection pool. Zero values keep pgxpool defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

// New creates a new DB with a connection pool and verifies connectivity.
func New(ctx context.Context, dsn string, opts PoolOptions, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolCfg.MinConns = opts.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool for use by other packages.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// BypassesRLS reports whether the connected role ignores row-level security
// (superusers and roles with BYPASSRLS). Tenant isolation then rests on the
// explicit tenant predicates alone.
func (db *DB) BypassesRLS(ctx context.Context) (bool, error) {
	var bypass bool
	err := db.pool.QueryRow(ctx,
		`SELECT rolsuper OR rolbypassrls FROM pg_roles WHERE rolname = current_user`,
	).Scan(&bypass)
	if err != nil {
		return false, fmt.Errorf("storage: check rls bypass: %w", err)
	}
	return bypass, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}
