package tools

import (
	"context"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

type fetchJobsArgs struct {
	Status   string `json:"status"`
	Customer string `json:"customer"`
	Limit    int    `json:"limit"`
}

type createJobArgs struct {
	JobNumber string  `json:"job_number"`
	Customer  *string `json:"customer"`
	DueDate   *string `json:"due_date"`
	Priority  int     `json:"priority"`
	Notes     *string `json:"notes"`

	due *time.Time
}

func (a *createJobArgs) Validate() error {
	if err := requireID("job_number", a.JobNumber); err != nil {
		return err
	}
	due, err := parseDate(a.DueDate)
	if err != nil {
		return err
	}
	a.due = due
	return nil
}

type updateJobArgs struct {
	ID       string  `json:"id"`
	Customer *string `json:"customer"`
	DueDate  *string `json:"due_date"`
	Priority *int    `json:"priority"`
	Status   *string `json:"status"`
	Notes    *string `json:"notes"`

	due *time.Time
}

func (a *updateJobArgs) Validate() error {
	if err := requireID("id", a.ID); err != nil {
		return err
	}
	if err := checkStatus(a.Status, model.JobStatuses); err != nil {
		return err
	}
	due, err := parseDate(a.DueDate)
	if err != nil {
		return err
	}
	a.due = due
	return nil
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, toolerr.Validation("due_date %q is not a date (want YYYY-MM-DD)", v)
}

func (h *handlers) registerJobs(reg *registry.Registry) {
	reg.MustRegister(
		registry.Definition{
			Tool: tool("fetch_jobs", `List jobs (customer orders), highest priority and earliest due date first.

Filter by status or by a case-insensitive customer substring.`,
				readOnly(),
				opts(
					withStatus("Only jobs in this status", model.JobStatuses),
					mcplib.WithString("customer", mcplib.Description("Case-insensitive substring of the customer name")),
					withLimit(),
				)),
			Category: CategoryJobs,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a fetchJobsArgs) (any, error) {
			jobs, err := tx.ListJobs(ctx, model.JobFilter{Status: a.Status, Customer: a.Customer, Limit: a.Limit})
			if err != nil {
				return nil, err
			}
			return listResult("jobs", jobs), nil
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("create_job", `Create a job in the not_started state. job_number must be unique.`,
				mutating(false),
				opts(
					mcplib.WithString("job_number", mcplib.Description("Shop job number, e.g. JOB-1042"), mcplib.Required()),
					mcplib.WithString("customer", mcplib.Description("Customer name")),
					mcplib.WithString("due_date", mcplib.Description("Due date as YYYY-MM-DD")),
					mcplib.WithNumber("priority", mcplib.Description("Higher runs first"), mcplib.Min(0), mcplib.Max(100)),
					withNotes(),
				)),
			Category: CategoryJobs,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a createJobArgs) (any, error) {
			return tx.CreateJob(ctx, model.NewJob{
				JobNumber: strings.TrimSpace(a.JobNumber),
				Customer:  a.Customer,
				DueDate:   a.due,
				Priority:  a.Priority,
				Notes:     a.Notes,
			})
		}),
	)

	reg.MustRegister(
		registry.Definition{
			Tool: tool("update_job", `Change fields on a job. Only the fields you pass are written.

Setting status here does not stamp lifecycle timestamps; use start_job,
pause_job, resume_job or complete_job for that.`,
				mutating(true),
				opts(
					withID("job"),
					mcplib.WithString("customer", mcplib.Description("Customer name")),
					mcplib.WithString("due_date", mcplib.Description("Due date as YYYY-MM-DD")),
					mcplib.WithNumber("priority", mcplib.Description("Higher runs first"), mcplib.Min(0), mcplib.Max(100)),
					withStatus("New status", model.JobStatuses),
					withNotes(),
				)),
			Category: CategoryJobs,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a updateJobArgs) (any, error) {
			var pf patchFields
			setIf(&pf, "customer", a.Customer)
			setIf(&pf, "due_date", a.due)
			setIf(&pf, "priority", a.Priority)
			setIf(&pf, model.ColStatus, a.Status)
			setIf(&pf, "notes", a.Notes)
			p, err := pf.build()
			if err != nil {
				return nil, err
			}
			return tx.UpdateJob(ctx, a.ID, p)
		}),
	)

	updateJob := func(ctx context.Context, tx store.Tenant, id string, p store.Patch) (any, error) {
		return tx.UpdateJob(ctx, id, p)
	}
	h.lifecycleTool(reg, "start_job", CategoryJobs, "job",
		"Start a job: status in_progress, started_at now, clears paused_at.", start, updateJob)
	h.lifecycleTool(reg, "pause_job", CategoryJobs, "job",
		"Put a job on hold: status on_hold, paused_at now.", pause, updateJob)
	h.lifecycleTool(reg, "resume_job", CategoryJobs, "job",
		"Resume a paused job: status in_progress, resumed_at now, clears paused_at.", resume, updateJob)
	h.lifecycleTool(reg, "complete_job", CategoryJobs, "job",
		"Complete a job: status completed, completed_at now.", complete, updateJob)
}
