// Package testutil provides shared test infrastructure for integration tests
// that need a PostgreSQL container.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    testDB, _ = tc.NewTestDB(context.Background(), testutil.TestLogger())
//	    code := m.Run()
//	    tc.Terminate()
//	    os.Exit(code)
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/storage"
	"github.com/ashita-ai/kouba/migrations"
)

// AppRole is the non-superuser role test databases connect as, so row-level
// security is enforced the way it is in production.
const AppRole = "kouba_app"

// TestContainer wraps a testcontainers container with DSNs for connecting.
type TestContainer struct {
	Container testcontainers.Container
	// OwnerDSN connects as the superuser that owns the schema.
	OwnerDSN string
	// AppDSN connects as AppRole.
	AppDSN string
	// Owner is set by NewTestDB. Use it to seed tenants and fixtures.
	Owner *storage.DB
}

// MustStartPostgres starts a PostgreSQL container and creates AppRole.
// Calls os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kouba",
			"POSTGRES_PASSWORD": "kouba",
			"POSTGRES_DB":       "kouba",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get container port: %v\n", err)
		os.Exit(1)
	}

	ownerDSN := fmt.Sprintf("postgres://kouba:kouba@%s:%s/kouba?sslmode=disable", host, port.Port())
	appDSN := fmt.Sprintf("postgres://%s:%s@%s:%s/kouba?sslmode=disable", AppRole, AppRole, host, port.Port())

	bootstrapConn, err := pgx.Connect(ctx, ownerDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to bootstrap connection: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrapConn.Exec(ctx,
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s' NOSUPERUSER NOBYPASSRLS", AppRole, AppRole),
	); err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to create app role: %v\n", err)
		os.Exit(1)
	}
	_ = bootstrapConn.Close(ctx)

	return &TestContainer{Container: container, OwnerDSN: ownerDSN, AppDSN: appDSN}
}

// NewTestDB runs migrations as the owner, grants AppRole, and returns a
// storage.DB connected as AppRole. The owner connection stays open in
// tc.Owner until Terminate.
func (tc *TestContainer) NewTestDB(ctx context.Context, logger *slog.Logger) (*storage.DB, error) {
	owner, err := storage.New(ctx, tc.OwnerDSN, storage.PoolOptions{}, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create owner DB: %w", err)
	}
	tc.Owner = owner
	if err := owner.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("testutil: run migrations: %w", err)
	}
	if err := owner.GrantRuntimeRole(ctx, AppRole); err != nil {
		return nil, err
	}

	db, err := storage.New(ctx, tc.AppDSN, storage.PoolOptions{}, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: create app DB: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	if tc.Owner != nil {
		tc.Owner.Close()
	}
	_ = tc.Container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Fixture is a minimal production tree for one tenant: a job with one part,
// one operation and one task.
type Fixture struct {
	TenantID    uuid.UUID
	JobID       string
	PartID      string
	OperationID string
	TaskID      string
}

// SeedTenant creates a tenant and a production tree whose ids are prefixed
// with idPrefix. Two tenants may share a prefix; ids are unique per tenant.
// db must be allowed to insert tenants (tc.Owner).
func SeedTenant(ctx context.Context, db *storage.DB, name, idPrefix string) (Fixture, error) {
	tenant, err := db.CreateTenant(ctx, name)
	if err != nil {
		return Fixture{}, err
	}
	f := Fixture{
		TenantID:    tenant.ID,
		JobID:       idPrefix + "J1",
		PartID:      idPrefix + "P1",
		OperationID: idPrefix + "OP1",
		TaskID:      idPrefix + "T1",
	}
	err = pgx.BeginFunc(ctx, db.Pool(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenant.ID.String()); err != nil {
			return err
		}
		stmts := []struct {
			sql  string
			args []any
		}{
			{`INSERT INTO jobs (id, job_number, customer, priority) VALUES ($1, $2, 'Acme', 1)`,
				[]any{f.JobID, idPrefix + "JOB-1001"}},
			{`INSERT INTO parts (id, job_id, part_number, material, quantity) VALUES ($1, $2, 'BRKT-7', 'steel', 4)`,
				[]any{f.PartID, f.JobID}},
			{`INSERT INTO operations (id, part_id, operation_name, cell, sequence, estimated_minutes) VALUES ($1, $2, 'laser cut', 'LASER-1', 10, 45)`,
				[]any{f.OperationID, f.PartID}},
			{`INSERT INTO tasks (id, operation_id, title, assigned_to) VALUES ($1, $2, 'load sheet', 'dana')`,
				[]any{f.TaskID, f.OperationID}},
		}
		for _, st := range stmts {
			if _, err := tx.Exec(ctx, st.sql, st.args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Fixture{}, fmt.Errorf("testutil: seed tenant %s: %w", name, err)
	}
	return f, nil
}

// MintKey stores a test-environment credential for tenantID.
func MintKey(ctx context.Context, db *storage.DB, tenantID uuid.UUID, prefix, hash string, allowed []string, rateLimit int) (model.APIKey, error) {
	return db.CreateAPIKey(ctx, model.APIKey{
		TenantID:     tenantID,
		Name:         "test",
		Prefix:       prefix,
		KeyHash:      hash,
		AllowedTools: allowed,
		RateLimit:    rateLimit,
		Environment:  model.EnvTest,
	})
}
