// Package store defines the tenant-scoped storage contract that tool handlers
// run against. The PostgreSQL implementation lives in internal/storage; the
// contract lives here so handlers never see an unscoped connection.
package store

import (
	"context"
	"errors"

	"github.com/ashita-ai/kouba/internal/model"
)

// ErrNotFound is returned when a requested row does not exist in the bound
// tenant's scope.
var ErrNotFound = errors.New("store: not found")

// DatabaseError reports a failed storage operation.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *DatabaseError) Unwrap() error { return e.Err }

// Tenant is the storage handle a tool handler receives. Every method is
// implicitly scoped to the tenant the handle was bound to.
type Tenant interface {
	ListJobs(ctx context.Context, f model.JobFilter) ([]model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	CreateJob(ctx context.Context, j model.NewJob) (model.Job, error)
	UpdateJob(ctx context.Context, id string, p Patch) (model.Job, error)

	ListParts(ctx context.Context, f model.PartFilter) ([]model.Part, error)
	UpdatePart(ctx context.Context, id string, p Patch) (model.Part, error)

	ListOperations(ctx context.Context, f model.OperationFilter) ([]model.Operation, error)
	UpdateOperation(ctx context.Context, id string, p Patch) (model.Operation, error)

	ListTasks(ctx context.Context, f model.TaskFilter) ([]model.Task, error)
	UpdateTask(ctx context.Context, id string, p Patch) (model.Task, error)

	ListSubsteps(ctx context.Context, operationID string) ([]model.Substep, error)
	CreateSubstep(ctx context.Context, s model.NewSubstep) (model.Substep, error)
	UpdateSubstep(ctx context.Context, id string, p Patch) (model.Substep, error)
	DeleteSubstep(ctx context.Context, id string) (model.Substep, error)
}

// Session is a Tenant handle bound to one call. The dispatcher commits it
// after a successful handler and rolls it back otherwise. Rollback after
// Commit is a no-op.
type Session interface {
	Tenant
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Set assigns one column. A nil Value writes NULL.
type Set struct {
	Column string
	Value  any
}

// Patch is an ordered list of column assignments for a single-row update.
// Implementations stamp updated_at on every write themselves.
type Patch []Set

// With returns p with column set to value.
func (p Patch) With(column string, value any) Patch {
	return append(p, Set{Column: column, Value: value})
}

// Clear returns p with column set to NULL.
func (p Patch) Clear(column string) Patch {
	return append(p, Set{Column: column, Value: nil})
}

// Value returns the last value assigned to column and whether it was set.
func (p Patch) Value(column string) (any, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Column == column {
			return p[i].Value, true
		}
	}
	return nil, false
}
