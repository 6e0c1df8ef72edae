package model

import (
	"time"

	"github.com/google/uuid"
)

// Status values. Each entity draws from its own closed subset; see the
// *Statuses slices below.
const (
	StatusNotStarted = "not_started"
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusOnHold     = "on_hold"
	StatusCompleted  = "completed"
	StatusSkipped    = "skipped"
)

var (
	JobStatuses       = []string{StatusNotStarted, StatusInProgress, StatusOnHold, StatusCompleted}
	PartStatuses      = []string{StatusNotStarted, StatusInProgress, StatusCompleted}
	OperationStatuses = []string{StatusPending, StatusInProgress, StatusOnHold, StatusCompleted}
	TaskStatuses      = []string{StatusPending, StatusInProgress, StatusOnHold, StatusCompleted}
	SubstepStatuses   = []string{StatusPending, StatusInProgress, StatusCompleted, StatusSkipped}
)

// Lifecycle timestamp columns shared by jobs, operations and tasks. They mark
// the most recent transition only, not a history.
const (
	ColStatus      = "status"
	ColStartedAt   = "started_at"
	ColPausedAt    = "paused_at"
	ColResumedAt   = "resumed_at"
	ColCompletedAt = "completed_at"
)

// Job is a customer order moving through the shop.
type Job struct {
	ID          string     `json:"id" db:"id"`
	TenantID    uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	JobNumber   string     `json:"job_number" db:"job_number"`
	Customer    *string    `json:"customer" db:"customer"`
	DueDate     *time.Time `json:"due_date" db:"due_date"`
	Priority    int        `json:"priority" db:"priority"`
	Status      string     `json:"status" db:"status"`
	Notes       *string    `json:"notes" db:"notes"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	PausedAt    *time.Time `json:"paused_at" db:"paused_at"`
	ResumedAt   *time.Time `json:"resumed_at" db:"resumed_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// NewJob is the input for creating a job.
type NewJob struct {
	JobNumber string
	Customer  *string
	DueDate   *time.Time
	Priority  int
	Notes     *string
}

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status   string
	Customer string
	Limit    int
}

// Part is a physical item produced for a job.
type Part struct {
	ID         string    `json:"id" db:"id"`
	TenantID   uuid.UUID `json:"tenant_id" db:"tenant_id"`
	JobID      string    `json:"job_id" db:"job_id"`
	PartNumber string    `json:"part_number" db:"part_number"`
	Material   *string   `json:"material" db:"material"`
	Quantity   int       `json:"quantity" db:"quantity"`
	Status     string    `json:"status" db:"status"`
	Notes      *string   `json:"notes" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PartFilter narrows ListParts.
type PartFilter struct {
	JobID  string
	Status string
	Limit  int
}

// Operation is one routing step (cut, bend, weld, ...) performed on a part.
type Operation struct {
	ID                   string     `json:"id" db:"id"`
	TenantID             uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	PartID               string     `json:"part_id" db:"part_id"`
	OperationName        string     `json:"operation_name" db:"operation_name"`
	Cell                 *string    `json:"cell" db:"cell"`
	Sequence             int        `json:"sequence" db:"sequence"`
	Status               string     `json:"status" db:"status"`
	CompletionPercentage int        `json:"completion_percentage" db:"completion_percentage"`
	EstimatedMinutes     *int       `json:"estimated_minutes" db:"estimated_minutes"`
	ActualMinutes        *int       `json:"actual_minutes" db:"actual_minutes"`
	AssignedTo           *string    `json:"assigned_to" db:"assigned_to"`
	Notes                *string    `json:"notes" db:"notes"`
	StartedAt            *time.Time `json:"started_at" db:"started_at"`
	PausedAt             *time.Time `json:"paused_at" db:"paused_at"`
	ResumedAt            *time.Time `json:"resumed_at" db:"resumed_at"`
	CompletedAt          *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// OperationFilter narrows ListOperations.
type OperationFilter struct {
	PartID     string
	Status     string
	Cell       string
	AssignedTo string
	Limit      int
}

// Task is an assignable unit of work attached to an operation.
type Task struct {
	ID          string     `json:"id" db:"id"`
	TenantID    uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	OperationID string     `json:"operation_id" db:"operation_id"`
	Title       string     `json:"title" db:"title"`
	AssignedTo  *string    `json:"assigned_to" db:"assigned_to"`
	Status      string     `json:"status" db:"status"`
	Notes       *string    `json:"notes" db:"notes"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	PausedAt    *time.Time `json:"paused_at" db:"paused_at"`
	ResumedAt   *time.Time `json:"resumed_at" db:"resumed_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	OperationID string
	AssignedTo  string
	Status      string
	Limit       int
}

// Substep is a checklist item inside an operation.
type Substep struct {
	ID          string     `json:"id" db:"id"`
	TenantID    uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	OperationID string     `json:"operation_id" db:"operation_id"`
	Name        string     `json:"name" db:"name"`
	Sequence    int        `json:"sequence" db:"sequence"`
	Status      string     `json:"status" db:"status"`
	Notes       *string    `json:"notes" db:"notes"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// NewSubstep is the input for adding a substep to an operation. A zero
// Sequence appends after the operation's last substep.
type NewSubstep struct {
	OperationID string
	Name        string
	Sequence    int
	Notes       *string
}

// DefaultListLimit and MaxListLimit bound list queries.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit applies the default and maximum list limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
