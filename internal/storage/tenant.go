package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kouba/internal/store"
)

// BindTenant opens a transaction scoped to tenantID. The tenant is set as the
// transaction-local app.tenant_id, which the row-level security policies on
// every production table key on; queries also carry an explicit tenant
// predicate. The caller must Commit or Rollback the returned session.
func (db *DB) BindTenant(ctx context.Context, tenantID uuid.UUID) (store.Session, error) {
	if tenantID == uuid.Nil {
		return nil, errors.New("storage: bind tenant: nil tenant id")
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: bind tenant: begin: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("storage: bind tenant: set app.tenant_id: %w", err)
	}
	return &session{tx: tx, tenantID: tenantID}, nil
}

// session implements store.Session on a single pgx transaction.
type session struct {
	tx       pgx.Tx
	tenantID uuid.UUID
}

var _ store.Session = (*session)(nil)

func (s *session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return wrapErr("commit", err)
	}
	return nil
}

// Rollback is a no-op after Commit.
func (s *session) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return wrapErr("rollback", err)
	}
	return nil
}

// updateOne applies p to the single row id in table and returns the row.
// Columns not in allowed are rejected so a patch can never touch tenant_id,
// id or the audit timestamps. updated_at is always stamped.
func updateOne[T any](ctx context.Context, s *session, table, entity, id, returning string, allowed map[string]bool, p store.Patch) (T, error) {
	var zero T
	if len(p) == 0 {
		return zero, fmt.Errorf("storage: update %s: empty patch", entity)
	}

	sets := make([]string, 0, len(p)+1)
	args := make([]any, 0, len(p)+2)
	seen := make(map[string]int, len(p))
	for _, set := range p {
		if !allowed[set.Column] {
			return zero, fmt.Errorf("storage: update %s: column %q is not writable", entity, set.Column)
		}
		// Later assignments to the same column win.
		if i, ok := seen[set.Column]; ok {
			args[i] = set.Value
			continue
		}
		args = append(args, set.Value)
		seen[set.Column] = len(args) - 1
		sets = append(sets, fmt.Sprintf("%s = $%d", set.Column, len(args)))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, s.tenantID, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE tenant_id = $%d AND id = $%d RETURNING %s`,
		table, strings.Join(sets, ", "), len(args)-1, len(args), returning)

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return zero, wrapErr("update "+entity, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
	if err != nil {
		return zero, notFound(wrapErr("update "+entity, err), entity, id)
	}
	return row, nil
}

// where accumulates AND-ed predicates with positional arguments. It starts
// with the tenant predicate.
type where struct {
	clauses []string
	args    []any
}

func tenantWhere(tenantID uuid.UUID) *where {
	return &where{clauses: []string{"tenant_id = $1"}, args: []any{tenantID}}
}

// eq adds column = value when value is non-empty.
func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *where) String() string {
	return strings.Join(w.clauses, " AND ")
}

// limit appends a LIMIT placeholder and returns its SQL.
func (w *where) limit(n int) string {
	w.args = append(w.args, n)
	return fmt.Sprintf("LIMIT $%d", len(w.args))
}

func listRows[T any](ctx context.Context, s *session, op, query string, args []any) ([]T, error) {
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, wrapErr(op, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func collectOne[T any](rows pgx.Rows) (T, error) {
	return pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
}
