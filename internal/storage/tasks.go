package storage

import (
	"context"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/store"
)

const taskColumns = `id, tenant_id, operation_id, title, assigned_to, status, notes,
	started_at, paused_at, resumed_at, completed_at, created_at, updated_at`

var taskWritable = map[string]bool{
	"title": true, "assigned_to": true, "notes": true,
	model.ColStatus: true, model.ColStartedAt: true, model.ColPausedAt: true,
	model.ColResumedAt: true, model.ColCompletedAt: true,
}

func (s *session) ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error) {
	w := tenantWhere(s.tenantID)
	w.eq("operation_id", f.OperationID)
	w.eq("assigned_to", f.AssignedTo)
	w.eq("status", f.Status)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + w.String() +
		` ORDER BY created_at, id ` + w.limit(model.ClampLimit(f.Limit))
	return listRows[model.Task](ctx, s, "list tasks", query, w.args)
}

func (s *session) UpdateTask(ctx context.Context, id string, p store.Patch) (model.Task, error) {
	return updateOne[model.Task](ctx, s, "tasks", "task", id, taskColumns, taskWritable, p)
}
