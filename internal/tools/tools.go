// Package tools implements the production tool catalogue: jobs, parts,
// operations, tasks and substeps. Handlers only see a tenant-bound
// store.Tenant; authentication, permission and transaction handling belong to
// the dispatcher.
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

// Tool categories, used for grouping in listings.
const (
	CategoryJobs       = "jobs"
	CategoryParts      = "parts"
	CategoryOperations = "operations"
	CategoryTasks      = "tasks"
	CategorySubsteps   = "substeps"
)

// Clock returns the current time. Transition timestamps come from it so tests
// can pin them.
type Clock func() time.Time

// handlers carries what every tool needs besides its store.
type handlers struct {
	now Clock
}

// Register adds every production tool to reg. It panics on a duplicate name.
func Register(reg *registry.Registry, now Clock) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	h := &handlers{now: now}
	h.registerJobs(reg)
	h.registerParts(reg)
	h.registerOperations(reg)
	h.registerTasks(reg)
	h.registerSubsteps(reg)
}

// transition is a lifecycle move shared by jobs, operations and tasks.
type transition int

const (
	start transition = iota
	pause
	resume
	complete
)

// patch returns the column assignments for t. Timestamps mark the most recent
// transition only; each move sets its own marker and clears the one it
// supersedes. There is no current-state guard.
func (t transition) patch(now time.Time) store.Patch {
	switch t {
	case start:
		return store.Patch{}.
			With(model.ColStatus, model.StatusInProgress).
			With(model.ColStartedAt, now).
			Clear(model.ColPausedAt)
	case pause:
		return store.Patch{}.
			With(model.ColStatus, model.StatusOnHold).
			With(model.ColPausedAt, now)
	case resume:
		return store.Patch{}.
			With(model.ColStatus, model.StatusInProgress).
			With(model.ColResumedAt, now).
			Clear(model.ColPausedAt)
	default:
		return store.Patch{}.
			With(model.ColStatus, model.StatusCompleted).
			With(model.ColCompletedAt, now)
	}
}

// idArgs is the argument shape of every single-row transition tool.
type idArgs struct {
	ID string `json:"id"`
}

func (a idArgs) Validate() error {
	return requireID("id", a.ID)
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return toolerr.Validation("%s must not be empty", field)
	}
	return nil
}

// listResult wraps a list payload with its count under key.
func listResult[T any](key string, items []T) map[string]any {
	return map[string]any{key: items, "count": len(items)}
}

// patchFields builds an update patch from optional arguments, skipping nil
// pointers. It fails when nothing would change.
type patchFields struct {
	p store.Patch
}

func setIf[T any](pf *patchFields, column string, v *T) {
	if v != nil {
		pf.p = pf.p.With(column, *v)
	}
}

func (pf *patchFields) build() (store.Patch, error) {
	if len(pf.p) == 0 {
		return nil, toolerr.Validation("no fields to update")
	}
	return pf.p, nil
}

func checkStatus(status *string, allowed []string) error {
	if status == nil {
		return nil
	}
	for _, s := range allowed {
		if *status == s {
			return nil
		}
	}
	return toolerr.Validation("status must be one of: %s", strings.Join(allowed, ", "))
}

func checkNonNegative(field string, v *int) error {
	if v != nil && *v < 0 {
		return toolerr.Validation("%s must be >= 0", field)
	}
	return nil
}

// Shared schema options.

func withID(entity string) mcplib.ToolOption {
	return mcplib.WithString("id",
		mcplib.Description("The "+entity+" id"),
		mcplib.Required(),
	)
}

func withLimit() mcplib.ToolOption {
	return mcplib.WithNumber("limit",
		mcplib.Description("Maximum number of rows to return"),
		mcplib.Min(1),
		mcplib.Max(model.MaxListLimit),
		mcplib.DefaultNumber(model.DefaultListLimit),
	)
}

func withStatus(desc string, statuses []string) mcplib.ToolOption {
	return mcplib.WithString("status",
		mcplib.Description(desc),
		mcplib.Enum(statuses...),
	)
}

func withNotes() mcplib.ToolOption {
	return mcplib.WithString("notes", mcplib.Description("Free-text notes; replaces the current notes"))
}

func readOnly() []mcplib.ToolOption {
	return []mcplib.ToolOption{
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithIdempotentHintAnnotation(true),
		mcplib.WithOpenWorldHintAnnotation(false),
	}
}

func mutating(idempotent bool) []mcplib.ToolOption {
	return []mcplib.ToolOption{
		mcplib.WithReadOnlyHintAnnotation(false),
		mcplib.WithDestructiveHintAnnotation(false),
		mcplib.WithIdempotentHintAnnotation(idempotent),
		mcplib.WithOpenWorldHintAnnotation(false),
	}
}

func tool(name, description string, groups ...[]mcplib.ToolOption) mcplib.Tool {
	opts := []mcplib.ToolOption{mcplib.WithDescription(description)}
	for _, g := range groups {
		opts = append(opts, g...)
	}
	return mcplib.NewTool(name, opts...)
}

func opts(o ...mcplib.ToolOption) []mcplib.ToolOption { return o }

// lifecycleTool registers a start/pause/resume/complete tool whose only
// argument is the row id.
func (h *handlers) lifecycleTool(reg *registry.Registry, name, category, entity, description string, t transition,
	apply func(ctx context.Context, tx store.Tenant, id string, p store.Patch) (any, error)) {
	reg.MustRegister(
		registry.Definition{
			Tool:     tool(name, description, mutating(false), opts(withID(entity))),
			Category: category,
		},
		registry.Bind(func(ctx context.Context, tx store.Tenant, a idArgs) (any, error) {
			return apply(ctx, tx, a.ID, t.patch(h.now()))
		}),
	)
}
