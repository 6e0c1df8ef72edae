package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/kouba/internal/model"
)

// RecordUsage appends one usage log row. The table is append-only.
func (db *DB) RecordUsage(ctx context.Context, e model.UsageLogEntry) error {
	args := e.Arguments
	if args == nil {
		args = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_key_usage_logs (
		     tenant_id, key_id, tool_name, arguments, success,
		     error_kind, error_message, response_time_ms, request_id, created_at
		 )
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)`,
		e.TenantID, e.KeyID, e.ToolName, args, e.Success,
		e.ErrorKind, e.ErrorMessage, e.ResponseTimeMs, e.RequestID, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storage: insert usage log: %w", err)
	}
	return nil
}

// UsageFilter narrows ListUsage. Zero values mean "any".
type UsageFilter struct {
	KeyID    uuid.UUID
	ToolName string
	Limit    int
}

// ListUsage returns a tenant's most recent usage rows, newest first.
func (db *DB) ListUsage(ctx context.Context, tenantID uuid.UUID, f UsageFilter) ([]model.UsageLogEntry, error) {
	w := tenantWhere(tenantID)
	if f.KeyID != uuid.Nil {
		w.args = append(w.args, f.KeyID)
		w.clauses = append(w.clauses, fmt.Sprintf("key_id = $%d", len(w.args)))
	}
	w.eq("tool_name", f.ToolName)
	rows, err := db.pool.Query(ctx,
		`SELECT tenant_id, key_id, tool_name, arguments, success,
		        COALESCE(error_kind, '') AS error_kind, COALESCE(error_message, '') AS error_message,
		        response_time_ms, COALESCE(request_id, '') AS request_id, created_at AS timestamp
		 FROM api_key_usage_logs
		 WHERE `+w.String()+`
		 ORDER BY created_at DESC, id DESC `+w.limit(model.ClampLimit(f.Limit)),
		w.args...)
	if err != nil {
		return nil, wrapErr("list usage", err)
	}
	defer rows.Close()

	var out []model.UsageLogEntry
	for rows.Next() {
		var e model.UsageLogEntry
		if err := rows.Scan(&e.TenantID, &e.KeyID, &e.ToolName, &e.Arguments, &e.Success,
			&e.ErrorKind, &e.ErrorMessage, &e.ResponseTimeMs, &e.RequestID, &e.Timestamp); err != nil {
			return nil, wrapErr("list usage", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list usage", err)
	}
	return out, nil
}
