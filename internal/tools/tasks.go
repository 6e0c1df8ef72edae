package tools

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
)

type fetchTasksArgs struct {
	OperationID string `json:"operation_id"`
	AssignedTo  string `json:"assigned_to"`
	Status      string `json:"status"`
	Limit       int    `json:"limit"`
}

type updateTaskArgs struct {
	ID         string  `json:"id"`
	Title      *string `json:"title"`
	AssignedTo *string `json:"assigned_to"`
	Status     *string `json:"status"`
	Notes      *string `json:"notes"`
}

func (a updateTaskArgs) Validate() error {
	if err := requireID("id", a.ID); err != nil {
		return err
	}
	if a.Title != nil {
		if err := requireID("title", *a.Title); err != nil {
			return err
		}
	}
	return checkStatus(a.Status, model.TaskStatuses)
}

func (h *handlers) registerTasks(reg *registry.Registry) {
	reg.MustRegister(
		registry.Definition{
			Tool: tool("fetch_tasks", `List tasks, optionally for one operation, operator or status.`,
				readOnly(),
				opts(
					mcplib.WithString("operation_id", mcplib.Description("Only tasks of this operation")),
					mcplib.WithString("assigned_to", mcplib.Description("Only tasks assigned to this operator")),
					withStatus("Only tasks in this status", model.TaskStatuses),
					withLimit(),
				)),
			Category: CategoryTasks,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a fetchTasksArgs) (any, error) {
			tasks, err := tx.ListTasks(ctx, model.TaskFilter{
				OperationID: a.OperationID,
				AssignedTo:  a.AssignedTo,
				Status:      a.Status,
				Limit:       a.Limit,
			})
			if err != nil {
				return nil, err
			}
			return listResult("tasks", tasks), nil
		}),
	)

	updateTask := func(ctx context.Context, tx store.Tenant, id string, p store.Patch) (any, error) {
		return tx.UpdateTask(ctx, id, p)
	}
	h.lifecycleTool(reg, "start_task", CategoryTasks, "task",
		"Start a task: status in_progress, started_at now, clears paused_at.", start, updateTask)
	h.lifecycleTool(reg, "complete_task", CategoryTasks, "task",
		"Complete a task: status completed, completed_at now.", complete, updateTask)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("update_task", `Change fields on a task. Only the fields you pass are written.`,
				mutating(true),
				opts(
					withID("task"),
					mcplib.WithString("title", mcplib.Description("Task title")),
					mcplib.WithString("assigned_to", mcplib.Description("Operator")),
					withStatus("New status", model.TaskStatuses),
					withNotes(),
				)),
			Category: CategoryTasks,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a updateTaskArgs) (any, error) {
			var pf patchFields
			setIf(&pf, "title", a.Title)
			setIf(&pf, "assigned_to", a.AssignedTo)
			setIf(&pf, model.ColStatus, a.Status)
			setIf(&pf, "notes", a.Notes)
			p, err := pf.build()
			if err != nil {
				return nil, err
			}
			return tx.UpdateTask(ctx, a.ID, p)
		}),
	)
}
