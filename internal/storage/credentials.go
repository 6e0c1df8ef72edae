package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kouba/internal/model"
)

const apiKeyColumns = `id, tenant_id, name, prefix, key_hash, allowed_tools, rate_limit,
	environment, active, created_at, last_used_at`

// CreateTenant inserts a tenant.
func (db *DB) CreateTenant(ctx context.Context, name string) (model.Tenant, error) {
	rows, err := db.pool.Query(ctx,
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id, name, created_at`, name)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: create tenant: %w", err)
	}
	t, err := collectOne[model.Tenant](rows)
	if err != nil {
		return model.Tenant{}, fmt.Errorf("storage: create tenant: %w", err)
	}
	return t, nil
}

// CreateAPIKey inserts a credential. KeyHash must already be set; the raw key
// is never stored.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.AllowedTools == nil {
		key.AllowedTools = []string{}
	}
	rows, err := db.pool.Query(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, prefix, key_hash, allowed_tools, rate_limit, environment, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
		 RETURNING `+apiKeyColumns,
		key.ID, key.TenantID, key.Name, key.Prefix, key.KeyHash,
		key.AllowedTools, key.RateLimit, string(key.Environment),
	)
	if err != nil {
		return model.APIKey{}, wrapErr("create api key", err)
	}
	created, err := collectOne[model.APIKey](rows)
	if err != nil {
		return model.APIKey{}, wrapErr("create api key", err)
	}
	return created, nil
}

// GetActiveAPIKeysByPrefix returns active credentials with the given public
// prefix. Global (no tenant predicate): it runs before the tenant is known.
func (db *DB) GetActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = $1 AND active`, prefix)
	if err != nil {
		return nil, wrapErr("get api keys by prefix", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.APIKey])
	if err != nil {
		return nil, wrapErr("get api keys by prefix", err)
	}
	return keys, nil
}

// ListAPIKeys returns a tenant's credentials, newest first, revoked included.
func (db *DB) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, wrapErr("list api keys", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.APIKey])
	if err != nil {
		return nil, wrapErr("list api keys", err)
	}
	return keys, nil
}

// RevokeAPIKey deactivates a credential. Rows are never deleted so usage
// logs keep resolving to a key. Returns ErrNotFound if no active key matched.
func (db *DB) RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET active = false WHERE id = $1 AND tenant_id = $2 AND active`,
		keyID, tenantID)
	if err != nil {
		return wrapErr("revoke api key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey stamps last_used_at. Never moves the stamp backwards when
// concurrent calls finish out of order.
func (db *DB) TouchAPIKey(ctx context.Context, keyID uuid.UUID, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = $2
		 WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)`,
		keyID, at)
	if err != nil {
		return fmt.Errorf("storage: touch api key last_used: %w", err)
	}
	return nil
}
