package storage

import (
	"context"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/store"
)

const operationColumns = `id, tenant_id, part_id, operation_name, cell, sequence, status,
	completion_percentage, estimated_minutes, actual_minutes, assigned_to, notes,
	started_at, paused_at, resumed_at, completed_at, created_at, updated_at`

var operationWritable = map[string]bool{
	"cell": true, "completion_percentage": true, "estimated_minutes": true,
	"actual_minutes": true, "assigned_to": true, "notes": true,
	model.ColStatus: true, model.ColStartedAt: true, model.ColPausedAt: true,
	model.ColResumedAt: true, model.ColCompletedAt: true,
}

// ListOperations returns operations in routing order.
func (s *session) ListOperations(ctx context.Context, f model.OperationFilter) ([]model.Operation, error) {
	w := tenantWhere(s.tenantID)
	w.eq("part_id", f.PartID)
	w.eq("status", f.Status)
	w.eq("cell", f.Cell)
	w.eq("assigned_to", f.AssignedTo)
	query := `SELECT ` + operationColumns + ` FROM operations WHERE ` + w.String() +
		` ORDER BY part_id, sequence, id ` + w.limit(model.ClampLimit(f.Limit))
	return listRows[model.Operation](ctx, s, "list operations", query, w.args)
}

func (s *session) UpdateOperation(ctx context.Context, id string, p store.Patch) (model.Operation, error) {
	return updateOne[model.Operation](ctx, s, "operations", "operation", id, operationColumns, operationWritable, p)
}
