package tools

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

type fetchOperationsArgs struct {
	PartID     string `json:"part_id"`
	Status     string `json:"status"`
	Cell       string `json:"cell"`
	AssignedTo string `json:"assigned_to"`
	Limit      int    `json:"limit"`
}

type updateOperationArgs struct {
	ID                   string  `json:"id"`
	Cell                 *string `json:"cell"`
	CompletionPercentage *int    `json:"completion_percentage"`
	EstimatedMinutes     *int    `json:"estimated_minutes"`
	ActualMinutes        *int    `json:"actual_minutes"`
	AssignedTo           *string `json:"assigned_to"`
	Status               *string `json:"status"`
	Notes                *string `json:"notes"`
}

func (a updateOperationArgs) Validate() error {
	if err := requireID("id", a.ID); err != nil {
		return err
	}
	if p := a.CompletionPercentage; p != nil && (*p < 0 || *p > 100) {
		return toolerr.Validation("completion_percentage must be between 0 and 100")
	}
	if err := checkNonNegative("estimated_minutes", a.EstimatedMinutes); err != nil {
		return err
	}
	if err := checkNonNegative("actual_minutes", a.ActualMinutes); err != nil {
		return err
	}
	return checkStatus(a.Status, model.OperationStatuses)
}

func (h *handlers) registerOperations(reg *registry.Registry) {
	reg.MustRegister(
		registry.Definition{
			Tool: tool("fetch_operations", `List operations (routing steps) in part and sequence order.

Use cell to see a work-cell queue, or assigned_to for one operator's work.`,
				readOnly(),
				opts(
					mcplib.WithString("part_id", mcplib.Description("Only operations of this part")),
					withStatus("Only operations in this status", model.OperationStatuses),
					mcplib.WithString("cell", mcplib.Description("Only operations routed to this work cell")),
					mcplib.WithString("assigned_to", mcplib.Description("Only operations assigned to this operator")),
					withLimit(),
				)),
			Category: CategoryOperations,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a fetchOperationsArgs) (any, error) {
			ops, err := tx.ListOperations(ctx, model.OperationFilter{
				PartID:     a.PartID,
				Status:     a.Status,
				Cell:       a.Cell,
				AssignedTo: a.AssignedTo,
				Limit:      a.Limit,
			})
			if err != nil {
				return nil, err
			}
			return listResult("operations", ops), nil
		}),
	)

	updateOp := func(ctx context.Context, tx store.Tenant, id string, p store.Patch) (any, error) {
		return tx.UpdateOperation(ctx, id, p)
	}
	h.lifecycleTool(reg, "start_operation", CategoryOperations, "operation",
		"Start an operation: status in_progress, started_at now, clears paused_at.", start, updateOp)
	h.lifecycleTool(reg, "pause_operation", CategoryOperations, "operation",
		"Put an operation on hold: status on_hold, paused_at now.", pause, updateOp)
	h.lifecycleTool(reg, "resume_operation", CategoryOperations, "operation",
		"Resume a paused operation: status in_progress, resumed_at now, clears paused_at.", resume, updateOp)
	h.lifecycleTool(reg, "complete_operation", CategoryOperations, "operation",
		"Complete an operation: status completed, completed_at now, completion_percentage 100.", complete,
		func(ctx context.Context, tx store.Tenant, id string, p store.Patch) (any, error) {
			return tx.UpdateOperation(ctx, id, p.With("completion_percentage", 100))
		})

	reg.MustRegister(
		registry.Definition{
			Tool: tool("update_operation", `Change fields on an operation. Only the fields you pass are written.

Setting status here does not stamp lifecycle timestamps; use the
start/pause/resume/complete_operation tools for that.`,
				mutating(true),
				opts(
					withID("operation"),
					mcplib.WithString("cell", mcplib.Description("Work cell")),
					mcplib.WithNumber("completion_percentage", mcplib.Description("Progress 0-100"), mcplib.Min(0), mcplib.Max(100)),
					mcplib.WithNumber("estimated_minutes", mcplib.Description("Planned duration"), mcplib.Min(0)),
					mcplib.WithNumber("actual_minutes", mcplib.Description("Booked duration"), mcplib.Min(0)),
					mcplib.WithString("assigned_to", mcplib.Description("Operator")),
					withStatus("New status", model.OperationStatuses),
					withNotes(),
				)),
			Category: CategoryOperations,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a updateOperationArgs) (any, error) {
			var pf patchFields
			setIf(&pf, "cell", a.Cell)
			setIf(&pf, "completion_percentage", a.CompletionPercentage)
			setIf(&pf, "estimated_minutes", a.EstimatedMinutes)
			setIf(&pf, "actual_minutes", a.ActualMinutes)
			setIf(&pf, "assigned_to", a.AssignedTo)
			setIf(&pf, model.ColStatus, a.Status)
			setIf(&pf, "notes", a.Notes)
			p, err := pf.build()
			if err != nil {
				return nil, err
			}
			return tx.UpdateOperation(ctx, a.ID, p)
		}),
	)
}
