// Package dispatch runs the authenticated tool-dispatch pipeline.
//
// A call moves through a fixed order: credential validation, rate limit,
// tenant binding, permission check, registry lookup, argument validation,
// handler, commit. Every call produces exactly one envelope and one audit
// attempt, whatever stage it stops at. Transports (MCP, plain HTTP) only
// build a Call and return the envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kouba/internal/authz"
	"github.com/ashita-ai/kouba/internal/ctxutil"
	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/ratelimit"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/telemetry"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

// CredentialValidator authenticates a raw credential.
type CredentialValidator interface {
	Validate(ctx context.Context, raw string) (*model.AuthContext, error)
}

// TenantBinder opens a storage session scoped to one tenant.
type TenantBinder interface {
	BindTenant(ctx context.Context, tenantID uuid.UUID) (store.Session, error)
}

// Call is one inbound invocation. Credential travels beside the arguments,
// never inside them.
type Call struct {
	Tool       string
	Arguments  map[string]any
	Credential string
}

// Deps are the collaborators a Dispatcher needs. Limiter may be nil to
// disable rate limiting.
type Deps struct {
	Registry  *registry.Registry
	Validator CredentialValidator
	Limiter   ratelimit.Limiter
	Binder    TenantBinder
	Auditor   *Auditor
	Logger    *slog.Logger
}

// Dispatcher executes calls. Safe for concurrent use.
type Dispatcher struct {
	registry  *registry.Registry
	validator CredentialValidator
	limiter   ratelimit.Limiter
	binder    TenantBinder
	auditor   *Auditor
	logger    *slog.Logger
	now       func() time.Time

	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Dispatcher.
func New(d Deps) *Dispatcher {
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	meter := telemetry.Meter("kouba/dispatch")
	calls, _ := meter.Int64Counter("kouba.tool.calls",
		metric.WithDescription("Tool calls by tool and outcome"),
	)
	duration, _ := meter.Float64Histogram("kouba.tool.duration",
		metric.WithDescription("Time from receipt to envelope (ms)"),
		metric.WithUnit("ms"),
	)
	return &Dispatcher{
		registry:  d.Registry,
		validator: d.Validator,
		limiter:   limiter,
		binder:    d.Binder,
		auditor:   d.Auditor,
		logger:    d.Logger,
		now:       time.Now,
		tracer:    telemetry.Tracer("kouba/dispatch"),
		calls:     calls,
		duration:  duration,
	}
}

// Registry returns the tool registry the dispatcher serves.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch runs call through the pipeline and returns its envelope. It never
// returns a Go error: every failure is rendered into the envelope as
// "<kind>: <message>" with IsError set.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) *mcplib.CallToolResult {
	start := d.now()
	ctx, span := d.tracer.Start(ctx, "tool "+call.Tool,
		trace.WithAttributes(attribute.String("kouba.tool", call.Tool)))
	defer span.End()

	ac, out, err := d.run(ctx, call)
	result := envelope(out, err)
	if err == nil && result.IsError {
		// The payload could not be rendered; the write is already committed.
		err = toolerr.New(toolerr.KindInternal, "render result")
	}
	elapsed := d.now().Sub(start)

	kind := toolerr.KindOf(err)
	entry := model.UsageLogEntry{
		ToolName:       call.Tool,
		Arguments:      maps.Clone(call.Arguments),
		Success:        err == nil,
		ResponseTimeMs: elapsed.Milliseconds(),
		RequestID:      ctxutil.RequestIDFromContext(ctx),
		Timestamp:      start.UTC(),
	}
	if ac != nil {
		entry.TenantID = &ac.TenantID
		entry.KeyID = &ac.KeyID
		span.SetAttributes(
			attribute.String("kouba.tenant_id", ac.TenantID.String()),
			attribute.String("kouba.key_id", ac.KeyID.String()),
		)
	}
	if err != nil {
		entry.ErrorKind = string(kind)
		entry.ErrorMessage = toolerr.Message(err)
		span.SetStatus(codes.Error, string(kind))
		if kind == toolerr.KindInternal || kind == toolerr.KindDatabase {
			span.RecordError(err)
		}
	}
	d.auditor.Record(ctx, entry)

	outcome := "success"
	if err != nil {
		outcome = string(kind)
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", call.Tool),
		attribute.String("outcome", outcome),
	)
	d.calls.Add(ctx, 1, attrs)
	d.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	d.log(ctx, call.Tool, ac, elapsed, err)

	return result
}

func (d *Dispatcher) run(ctx context.Context, call Call) (*model.AuthContext, any, error) {
	ac, err := d.validator.Validate(ctx, call.Credential)
	if err != nil {
		return nil, nil, err
	}
	ctx = ctxutil.WithAuth(ctx, ac)

	allowed, err := d.limiter.Allow(ctx, ac.KeyID.String(), ac.RateLimit)
	if err != nil {
		return ac, nil, toolerr.Wrap(toolerr.KindRateLimited, err, "rate limiter unavailable")
	}
	if !allowed {
		return ac, nil, toolerr.New(toolerr.KindRateLimited, "rate limit of %d calls exceeded, retry later", ac.RateLimit)
	}

	sess, err := d.binder.BindTenant(ctx, ac.TenantID)
	if err != nil {
		return ac, nil, toolerr.Wrap(toolerr.KindTenantBindingFailed, err, "could not bind tenant context")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := sess.Rollback(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("dispatch: rollback failed", "tool", call.Tool, "error", err)
		}
	}()

	// Permission is decided before lookup so restricted callers cannot discover
	// which tool names exist.
	if !authz.Allowed(ac, call.Tool) {
		return ac, nil, toolerr.New(toolerr.KindForbidden,
			"tool %q is not permitted for this credential; allowed tools: %s",
			call.Tool, authz.DescribeAllowList(ac))
	}

	entry, ok := d.registry.Lookup(call.Tool)
	if !ok {
		return ac, nil, toolerr.New(toolerr.KindUnknownTool, "no tool named %q", call.Tool)
	}

	raw, err := entry.ValidateArguments(call.Arguments)
	if err != nil {
		return ac, nil, err
	}

	out, err := d.invoke(ctx, entry, sess, raw)
	if err != nil {
		return ac, nil, err
	}

	// A caller that disconnects after the handler finished still gets its
	// write committed.
	if err := sess.Commit(context.WithoutCancel(ctx)); err != nil {
		committed = true
		if toolerr.KindOf(err) == toolerr.KindInternal {
			err = &store.DatabaseError{Op: "commit", Err: err}
		}
		return ac, nil, err
	}
	committed = true
	return ac, out, nil
}

// invoke runs the handler, turning a panic into an internal error.
func (d *Dispatcher) invoke(ctx context.Context, e *registry.Entry, tx store.Tenant, raw json.RawMessage) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: handler panicked",
				"tool", e.Name(), "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("dispatch: handler %s panicked: %v", e.Name(), r)
		}
	}()
	return e.Invoke(ctx, tx, raw)
}

// ListTools returns the definitions credential may invoke, in registration
// order. Discovery applies the same allow-list rule as calls.
func (d *Dispatcher) ListTools(ctx context.Context, credential string) ([]registry.Definition, error) {
	ac, err := d.validator.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}
	names := authz.FilterNames(ac, d.registry.Names())
	out := make([]registry.Definition, 0, len(names))
	for _, name := range names {
		if e, ok := d.registry.Lookup(name); ok {
			out = append(out, e.Definition)
		}
	}
	return out, nil
}

func (d *Dispatcher) log(ctx context.Context, tool string, ac *model.AuthContext, elapsed time.Duration, err error) {
	attrs := []any{
		"tool", tool,
		"duration_ms", elapsed.Milliseconds(),
	}
	if rid := ctxutil.RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if ac != nil {
		attrs = append(attrs, "tenant_id", ac.TenantID, "key_id", ac.KeyID)
	}
	if err == nil {
		d.logger.Info("tool call", attrs...)
		return
	}
	kind := toolerr.KindOf(err)
	attrs = append(attrs, "error_kind", kind, "error", err)
	switch kind {
	case toolerr.KindInternal, toolerr.KindDatabase, toolerr.KindTenantBindingFailed:
		d.logger.Error("tool call failed", attrs...)
	default:
		d.logger.Warn("tool call rejected", attrs...)
	}
}

// envelope renders a handler result or error as an MCP tool result.
func envelope(out any, err error) *mcplib.CallToolResult {
	if err != nil {
		return errorResult(toolerr.Message(err))
	}
	data, mErr := json.MarshalIndent(out, "", "  ")
	if mErr != nil {
		return errorResult(string(toolerr.KindInternal) + ": internal error")
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
