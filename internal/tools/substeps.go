package tools

import (
	"context"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

type fetchSubstepsArgs struct {
	OperationID string `json:"operation_id"`
}

func (a fetchSubstepsArgs) Validate() error {
	return requireID("operation_id", a.OperationID)
}

type addSubstepArgs struct {
	OperationID string  `json:"operation_id"`
	Name        string  `json:"name"`
	Sequence    int     `json:"sequence"`
	Notes       *string `json:"notes"`
}

func (a addSubstepArgs) Validate() error {
	if err := requireID("operation_id", a.OperationID); err != nil {
		return err
	}
	if err := requireID("name", a.Name); err != nil {
		return err
	}
	if a.Sequence < 0 {
		return toolerr.Validation("sequence must be >= 1")
	}
	return nil
}

type updateSubstepArgs struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Sequence *int    `json:"sequence"`
	Status   *string `json:"status"`
	Notes    *string `json:"notes"`
}

func (a updateSubstepArgs) Validate() error {
	if err := requireID("id", a.ID); err != nil {
		return err
	}
	if a.Name != nil {
		if err := requireID("name", *a.Name); err != nil {
			return err
		}
	}
	if err := checkNonNegative("sequence", a.Sequence); err != nil {
		return err
	}
	return checkStatus(a.Status, model.SubstepStatuses)
}

func (h *handlers) registerSubsteps(reg *registry.Registry) {
	reg.MustRegister(
		registry.Definition{
			Tool: tool("fetch_substeps", `List an operation's checklist substeps in sequence order.`,
				readOnly(),
				opts(mcplib.WithString("operation_id", mcplib.Description("The operation id"), mcplib.Required())),
			),
			Category: CategorySubsteps,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a fetchSubstepsArgs) (any, error) {
			subs, err := tx.ListSubsteps(ctx, a.OperationID)
			if err != nil {
				return nil, err
			}
			return listResult("substeps", subs), nil
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("add_substep", `Add a checklist substep to an operation.

Omit sequence to append after the last substep.`,
				mutating(false),
				opts(
					mcplib.WithString("operation_id", mcplib.Description("The operation id"), mcplib.Required()),
					mcplib.WithString("name", mcplib.Description("What to do, e.g. deburr edges"), mcplib.Required()),
					mcplib.WithNumber("sequence", mcplib.Description("Position in the checklist"), mcplib.Min(1)),
					withNotes(),
				)),
			Category: CategorySubsteps,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a addSubstepArgs) (any, error) {
			return tx.CreateSubstep(ctx, model.NewSubstep{
				OperationID: a.OperationID,
				Name:        strings.TrimSpace(a.Name),
				Sequence:    a.Sequence,
				Notes:       a.Notes,
			})
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("update_substep", `Change fields on a substep. Only the fields you pass are written.`,
				mutating(true),
				opts(
					withID("substep"),
					mcplib.WithString("name", mcplib.Description("Substep name")),
					mcplib.WithNumber("sequence", mcplib.Description("Position in the checklist"), mcplib.Min(0)),
					withStatus("New status", model.SubstepStatuses),
					withNotes(),
				)),
			Category: CategorySubsteps,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a updateSubstepArgs) (any, error) {
			var pf patchFields
			setIf(&pf, "name", a.Name)
			setIf(&pf, "sequence", a.Sequence)
			setIf(&pf, model.ColStatus, a.Status)
			setIf(&pf, "notes", a.Notes)
			p, err := pf.build()
			if err != nil {
				return nil, err
			}
			return tx.UpdateSubstep(ctx, a.ID, p)
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("complete_substep", `Mark a substep completed and stamp completed_at.`,
				mutating(false),
				opts(withID("substep")),
			),
			Category: CategorySubsteps,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a idArgs) (any, error) {
			return tx.UpdateSubstep(ctx, a.ID, store.Patch{}.
				With(model.ColStatus, model.StatusCompleted).
				With(model.ColCompletedAt, h.now()))
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("delete_substep", `Delete a substep permanently. Returns the deleted row.`,
				opts(
					mcplib.WithReadOnlyHintAnnotation(false),
					mcplib.WithDestructiveHintAnnotation(true),
					mcplib.WithIdempotentHintAnnotation(false),
					mcplib.WithOpenWorldHintAnnotation(false),
					withID("substep"),
				)),
			Category: CategorySubsteps,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a idArgs) (any, error) {
			deleted, err := tx.DeleteSubstep(ctx, a.ID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "substep": deleted}, nil
		}),
	)
}
