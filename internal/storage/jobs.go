package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/store"
)

const jobColumns = `id, tenant_id, job_number, customer, due_date, priority, status, notes,
	started_at, paused_at, resumed_at, completed_at, created_at, updated_at`

var jobWritable = map[string]bool{
	"customer": true, "due_date": true, "priority": true, "notes": true,
	model.ColStatus: true, model.ColStartedAt: true, model.ColPausedAt: true,
	model.ColResumedAt: true, model.ColCompletedAt: true,
}

// ListJobs returns jobs ordered by priority then due date.
func (s *session) ListJobs(ctx context.Context, f model.JobFilter) ([]model.Job, error) {
	w := tenantWhere(s.tenantID)
	w.eq("status", f.Status)
	if f.Customer != "" {
		w.args = append(w.args, "%"+f.Customer+"%")
		w.clauses = append(w.clauses, fmt.Sprintf("customer ILIKE $%d", len(w.args)))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + w.String() +
		` ORDER BY priority DESC, due_date ASC NULLS LAST, job_number ` + w.limit(model.ClampLimit(f.Limit))
	return listRows[model.Job](ctx, s, "list jobs", query, w.args)
}

func (s *session) GetJob(ctx context.Context, id string) (model.Job, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE tenant_id = $1 AND id = $2`, s.tenantID, id)
	if err != nil {
		return model.Job{}, wrapErr("get job", err)
	}
	j, err := collectOne[model.Job](rows)
	if err != nil {
		return model.Job{}, notFound(wrapErr("get job", err), "job", id)
	}
	return j, nil
}

// CreateJob inserts a job in the not_started state.
func (s *session) CreateJob(ctx context.Context, in model.NewJob) (model.Job, error) {
	rows, err := s.tx.Query(ctx,
		`INSERT INTO jobs (tenant_id, job_number, customer, due_date, priority, notes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+jobColumns,
		s.tenantID, in.JobNumber, in.Customer, in.DueDate, in.Priority, in.Notes,
	)
	if err != nil {
		return model.Job{}, wrapErr("create job", err)
	}
	j, err := collectOne[model.Job](rows)
	if err != nil {
		return model.Job{}, wrapErr("create job", err)
	}
	return j, nil
}

func (s *session) UpdateJob(ctx context.Context, id string, p store.Patch) (model.Job, error) {
	return updateOne[model.Job](ctx, s, "jobs", "job", id, jobColumns, jobWritable, p)
}
