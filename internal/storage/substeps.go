package storage

import (
	"context"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/store"
)

const substepColumns = `id, tenant_id, operation_id, name, sequence, status, notes, completed_at, created_at, updated_at`

var substepWritable = map[string]bool{
	"name": true, "sequence": true, "notes": true,
	model.ColStatus: true, model.ColCompletedAt: true,
}

// ListSubsteps returns an operation's substeps in sequence order.
func (s *session) ListSubsteps(ctx context.Context, operationID string) ([]model.Substep, error) {
	return listRows[model.Substep](ctx, s, "list substeps",
		`SELECT `+substepColumns+` FROM substeps
		 WHERE tenant_id = $1 AND operation_id = $2
		 ORDER BY sequence, created_at, id`,
		[]any{s.tenantID, operationID})
}

// CreateSubstep attaches a substep to an operation visible to the tenant.
// The row is built from the operation itself, so a missing or foreign
// operation inserts nothing and reports not found. A zero Sequence appends.
func (s *session) CreateSubstep(ctx context.Context, in model.NewSubstep) (model.Substep, error) {
	rows, err := s.tx.Query(ctx,
		`INSERT INTO substeps (tenant_id, operation_id, name, sequence, notes)
		 SELECT o.tenant_id, o.id, $3,
		        CASE WHEN $4::int > 0 THEN $4::int
		             ELSE COALESCE((SELECT max(sequence) FROM substeps x
		                            WHERE x.tenant_id = o.tenant_id AND x.operation_id = o.id), 0) + 1
		        END,
		        $5
		 FROM operations o
		 WHERE o.tenant_id = $1 AND o.id = $2
		 RETURNING `+substepColumns,
		s.tenantID, in.OperationID, in.Name, in.Sequence, in.Notes,
	)
	if err != nil {
		return model.Substep{}, wrapErr("create substep", err)
	}
	sub, err := collectOne[model.Substep](rows)
	if err != nil {
		return model.Substep{}, notFound(wrapErr("create substep", err), "operation", in.OperationID)
	}
	return sub, nil
}

func (s *session) UpdateSubstep(ctx context.Context, id string, p store.Patch) (model.Substep, error) {
	return updateOne[model.Substep](ctx, s, "substeps", "substep", id, substepColumns, substepWritable, p)
}

// DeleteSubstep removes the substep and returns the deleted row.
func (s *session) DeleteSubstep(ctx context.Context, id string) (model.Substep, error) {
	rows, err := s.tx.Query(ctx,
		`DELETE FROM substeps WHERE tenant_id = $1 AND id = $2 RETURNING `+substepColumns,
		s.tenantID, id)
	if err != nil {
		return model.Substep{}, wrapErr("delete substep", err)
	}
	sub, err := collectOne[model.Substep](rows)
	if err != nil {
		return model.Substep{}, notFound(wrapErr("delete substep", err), "substep", id)
	}
	return sub, nil
}
