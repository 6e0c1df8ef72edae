// Package storetest provides an in-memory store.Session for handler and
// dispatcher tests. Each tenant's rows live in their own map; a session works
// on a private copy and publishes it on Commit.
package storetest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

type tenantData struct {
	jobs       map[string]model.Job
	parts      map[string]model.Part
	operations map[string]model.Operation
	tasks      map[string]model.Task
	substeps   map[string]model.Substep
}

func newTenantData() *tenantData {
	return &tenantData{
		jobs:       map[string]model.Job{},
		parts:      map[string]model.Part{},
		operations: map[string]model.Operation{},
		tasks:      map[string]model.Task{},
		substeps:   map[string]model.Substep{},
	}
}

func (d *tenantData) clone() *tenantData {
	return &tenantData{
		jobs:       cloneMap(d.jobs),
		parts:      cloneMap(d.parts),
		operations: cloneMap(d.operations),
		tasks:      cloneMap(d.tasks),
		substeps:   cloneMap(d.substeps),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Memory is an in-memory multi-tenant store.
type Memory struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*tenantData
	now     func() time.Time
	seq     int

	// BindErr, when set, makes BindTenant fail.
	BindErr error
	// CommitErr, when set, makes Commit fail.
	CommitErr error

	binds   int
	commits int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		tenants: map[uuid.UUID]*tenantData{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Stats reports how many sessions were bound and committed.
func (m *Memory) Stats() (binds, commits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binds, m.commits
}

func (m *Memory) data(tenantID uuid.UUID) *tenantData {
	d, ok := m.tenants[tenantID]
	if !ok {
		d = newTenantData()
		m.tenants[tenantID] = d
	}
	return d
}

// SeedJob stores j for tenantID, filling tenant and timestamps.
func (m *Memory) SeedJob(tenantID uuid.UUID, j model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.TenantID = tenantID
	j.CreatedAt, j.UpdatedAt = m.now(), m.now()
	if j.Status == "" {
		j.Status = model.StatusNotStarted
	}
	m.data(tenantID).jobs[j.ID] = j
}

// SeedPart stores p for tenantID.
func (m *Memory) SeedPart(tenantID uuid.UUID, p model.Part) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.TenantID = tenantID
	p.CreatedAt, p.UpdatedAt = m.now(), m.now()
	if p.Status == "" {
		p.Status = model.StatusNotStarted
	}
	m.data(tenantID).parts[p.ID] = p
}

// SeedOperation stores o for tenantID.
func (m *Memory) SeedOperation(tenantID uuid.UUID, o model.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.TenantID = tenantID
	o.CreatedAt, o.UpdatedAt = m.now(), m.now()
	if o.Status == "" {
		o.Status = model.StatusPending
	}
	m.data(tenantID).operations[o.ID] = o
}

// SeedTask stores t for tenantID.
func (m *Memory) SeedTask(tenantID uuid.UUID, t model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.TenantID = tenantID
	t.CreatedAt, t.UpdatedAt = m.now(), m.now()
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	m.data(tenantID).tasks[t.ID] = t
}

// Job returns the committed job id for tenantID.
func (m *Memory) Job(tenantID uuid.UUID, id string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.data(tenantID).jobs[id]
	return j, ok
}

// Operation returns the committed operation id for tenantID.
func (m *Memory) Operation(tenantID uuid.UUID, id string) (model.Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.data(tenantID).operations[id]
	return o, ok
}

// BindTenant opens a session on a private copy of tenantID's rows.
func (m *Memory) BindTenant(_ context.Context, tenantID uuid.UUID) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BindErr != nil {
		return nil, m.BindErr
	}
	if tenantID == uuid.Nil {
		return nil, errors.New("storetest: nil tenant id")
	}
	m.binds++
	return &Session{m: m, tenantID: tenantID, d: m.data(tenantID).clone()}, nil
}

// Session implements store.Session over Memory.
type Session struct {
	m        *Memory
	tenantID uuid.UUID
	d        *tenantData
	done     bool
}

var _ store.Session = (*Session)(nil)

func (s *Session) Commit(context.Context) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.done {
		return errors.New("storetest: session already closed")
	}
	s.done = true
	if s.m.CommitErr != nil {
		return s.m.CommitErr
	}
	s.m.tenants[s.tenantID] = s.d
	s.m.commits++
	return nil
}

func (s *Session) Rollback(context.Context) error {
	s.done = true
	return nil
}

func (s *Session) nextID(prefix string) string {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.seq++
	return fmt.Sprintf("%s-%d", prefix, s.m.seq)
}

func limited[T any](rows []T, limit int) []T {
	if n := model.ClampLimit(limit); len(rows) > n {
		return rows[:n]
	}
	if rows == nil {
		return []T{}
	}
	return rows
}

func (s *Session) ListJobs(_ context.Context, f model.JobFilter) ([]model.Job, error) {
	var out []model.Job
	for _, j := range s.d.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Customer != "" && (j.Customer == nil || !strings.Contains(strings.ToLower(*j.Customer), strings.ToLower(f.Customer))) {
			continue
		}
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b model.Job) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.JobNumber, b.JobNumber)
	})
	return limited(out, f.Limit), nil
}

func (s *Session) GetJob(_ context.Context, id string) (model.Job, error) {
	j, ok := s.d.jobs[id]
	if !ok {
		return model.Job{}, toolerr.NotFound("job", id)
	}
	return j, nil
}

func (s *Session) CreateJob(_ context.Context, in model.NewJob) (model.Job, error) {
	for _, j := range s.d.jobs {
		if j.JobNumber == in.JobNumber {
			return model.Job{}, toolerr.Validation("create job: duplicate value (jobs_tenant_id_job_number_key)")
		}
	}
	now := s.m.now()
	j := model.Job{
		ID:        s.nextID("job"),
		TenantID:  s.tenantID,
		JobNumber: in.JobNumber,
		Customer:  in.Customer,
		DueDate:   in.DueDate,
		Priority:  in.Priority,
		Status:    model.StatusNotStarted,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.d.jobs[j.ID] = j
	return j, nil
}

func (s *Session) UpdateJob(_ context.Context, id string, p store.Patch) (model.Job, error) {
	return update(s, s.d.jobs, "job", id, p)
}

func (s *Session) ListParts(_ context.Context, f model.PartFilter) ([]model.Part, error) {
	var out []model.Part
	for _, p := range s.d.parts {
		if (f.JobID == "" || p.JobID == f.JobID) && (f.Status == "" || p.Status == f.Status) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b model.Part) int { return cmp.Compare(a.PartNumber, b.PartNumber) })
	return limited(out, f.Limit), nil
}

func (s *Session) UpdatePart(_ context.Context, id string, p store.Patch) (model.Part, error) {
	return update(s, s.d.parts, "part", id, p)
}

func (s *Session) ListOperations(_ context.Context, f model.OperationFilter) ([]model.Operation, error) {
	var out []model.Operation
	for _, o := range s.d.operations {
		if f.PartID != "" && o.PartID != f.PartID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Cell != "" && (o.Cell == nil || *o.Cell != f.Cell) {
			continue
		}
		if f.AssignedTo != "" && (o.AssignedTo == nil || *o.AssignedTo != f.AssignedTo) {
			continue
		}
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b model.Operation) int {
		if c := cmp.Compare(a.PartID, b.PartID); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return limited(out, f.Limit), nil
}

func (s *Session) UpdateOperation(_ context.Context, id string, p store.Patch) (model.Operation, error) {
	return update(s, s.d.operations, "operation", id, p)
}

func (s *Session) ListTasks(_ context.Context, f model.TaskFilter) ([]model.Task, error) {
	var out []model.Task
	for _, t := range s.d.tasks {
		if f.OperationID != "" && t.OperationID != f.OperationID {
			continue
		}
		if f.AssignedTo != "" && (t.AssignedTo == nil || *t.AssignedTo != f.AssignedTo) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b model.Task) int { return cmp.Compare(a.ID, b.ID) })
	return limited(out, f.Limit), nil
}

func (s *Session) UpdateTask(_ context.Context, id string, p store.Patch) (model.Task, error) {
	return update(s, s.d.tasks, "task", id, p)
}

func (s *Session) ListSubsteps(_ context.Context, operationID string) ([]model.Substep, error) {
	out := []model.Substep{}
	for _, sub := range s.d.substeps {
		if sub.OperationID == operationID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b model.Substep) int {
		if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Session) CreateSubstep(ctx context.Context, in model.NewSubstep) (model.Substep, error) {
	if _, ok := s.d.operations[in.OperationID]; !ok {
		return model.Substep{}, toolerr.NotFound("operation", in.OperationID)
	}
	seq := in.Sequence
	if seq <= 0 {
		existing, _ := s.ListSubsteps(ctx, in.OperationID)
		seq = 1
		if n := len(existing); n > 0 {
			seq = existing[n-1].Sequence + 1
		}
	}
	now := s.m.now()
	sub := model.Substep{
		ID:          s.nextID("sub"),
		TenantID:    s.tenantID,
		OperationID: in.OperationID,
		Name:        in.Name,
		Sequence:    seq,
		Status:      model.StatusPending,
		Notes:       in.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.d.substeps[sub.ID] = sub
	return sub, nil
}

func (s *Session) UpdateSubstep(_ context.Context, id string, p store.Patch) (model.Substep, error) {
	return update(s, s.d.substeps, "substep", id, p)
}

func (s *Session) DeleteSubstep(_ context.Context, id string) (model.Substep, error) {
	sub, ok := s.d.substeps[id]
	if !ok {
		return model.Substep{}, toolerr.NotFound("substep", id)
	}
	delete(s.d.substeps, id)
	return sub, nil
}

// update applies p to rows[id] by matching db struct tags, then stamps
// updated_at, mirroring the SQL implementation.
func update[T any](s *Session, rows map[string]T, entity, id string, p store.Patch) (T, error) {
	row, ok := rows[id]
	if !ok {
		var zero T
		return zero, toolerr.NotFound(entity, id)
	}
	v := reflect.ValueOf(&row).Elem()
	for _, set := range p {
		if err := assign(v, set.Column, set.Value); err != nil {
			var zero T
			return zero, fmt.Errorf("storetest: update %s: %w", entity, err)
		}
	}
	_ = assign(v, "updated_at", s.m.now())
	rows[id] = row
	return row, nil
}

func assign(v reflect.Value, column string, value any) error {
	t := v.Type()
	for i := range t.NumField() {
		if t.Field(i).Tag.Get("db") != column {
			continue
		}
		if column == "id" || column == "tenant_id" {
			return fmt.Errorf("column %q is not writable", column)
		}
		f := v.Field(i)
		if value == nil {
			f.SetZero()
			return nil
		}
		val := reflect.ValueOf(value)
		if f.Kind() == reflect.Pointer {
			if val.Kind() != reflect.Pointer {
				ptr := reflect.New(f.Type().Elem())
				ptr.Elem().Set(val.Convert(f.Type().Elem()))
				f.Set(ptr)
				return nil
			}
		}
		f.Set(val.Convert(f.Type()))
		return nil
	}
	return fmt.Errorf("column %q is not writable", column)
}
