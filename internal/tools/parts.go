package tools

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
)

type fetchPartsArgs struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

type updatePartArgs struct {
	ID       string  `json:"id"`
	Material *string `json:"material"`
	Quantity *int    `json:"quantity"`
	Status   *string `json:"status"`
	Notes    *string `json:"notes"`
}

func (a updatePartArgs) Validate() error {
	if err := requireID("id", a.ID); err != nil {
		return err
	}
	if err := checkNonNegative("quantity", a.Quantity); err != nil {
		return err
	}
	return checkStatus(a.Status, model.PartStatuses)
}

func (h *handlers) registerParts(reg *registry.Registry) {
	reg.MustRegister(
		registry.Definition{
			Tool: tool("fetch_parts", `List parts, optionally for one job or in one status.`,
				readOnly(),
				opts(
					mcplib.WithString("job_id", mcplib.Description("Only parts of this job")),
					withStatus("Only parts in this status", model.PartStatuses),
					withLimit(),
				)),
			Category: CategoryParts,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a fetchPartsArgs) (any, error) {
			parts, err := tx.ListParts(ctx, model.PartFilter{JobID: a.JobID, Status: a.Status, Limit: a.Limit})
			if err != nil {
				return nil, err
			}
			return listResult("parts", parts), nil
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("update_part", `Change fields on a part. Only the fields you pass are written.`,
				mutating(true),
				opts(
					withID("part"),
					mcplib.WithString("material", mcplib.Description("Material, e.g. 304 stainless")),
					mcplib.WithNumber("quantity", mcplib.Description("Number of pieces"), mcplib.Min(0)),
					withStatus("New status", model.PartStatuses),
					withNotes(),
				)),
			Category: CategoryParts,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a updatePartArgs) (any, error) {
			var pf patchFields
			setIf(&pf, "material", a.Material)
			setIf(&pf, "quantity", a.Quantity)
			setIf(&pf, model.ColStatus, a.Status)
			setIf(&pf, "notes", a.Notes)
			p, err := pf.build()
			if err != nil {
				return nil, err
			}
			return tx.UpdatePart(ctx, a.ID, p)
		}),
	)
}
