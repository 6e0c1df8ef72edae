package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

func noop(context.Context, store.Tenant, json.RawMessage) (any, error) { return "ok", nil }

func def(name string, opts ...mcplib.ToolOption) registry.Definition {
	return registry.Definition{Tool: mcplib.NewTool(name, opts...), Category: "test"}
}

func TestRegister_RejectsDuplicateAndEmpty(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(def("fetch_jobs"), noop))

	err := r.Register(def("fetch_jobs"), noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Error(t, r.Register(registry.Definition{}, noop))
	assert.Error(t, r.Register(def("no_handler"), nil))
	assert.Equal(t, 1, r.Len())
}

func TestMustRegister_Panics(t *testing.T) {
	r := registry.New()
	r.MustRegister(def("fetch_jobs"), noop)
	assert.Panics(t, func() { r.MustRegister(def("fetch_jobs"), noop) })
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	r := registry.New()
	for _, name := range []string{"update_job", "fetch_jobs", "add_substep"} {
		r.MustRegister(def(name), noop)
	}
	var got []string
	for _, d := range r.List() {
		got = append(got, d.Name())
	}
	assert.Equal(t, []string{"update_job", "fetch_jobs", "add_substep"}, got)
	assert.Equal(t, got, r.Names())
}

func TestLookup(t *testing.T) {
	r := registry.New()
	r.MustRegister(def("fetch_jobs", mcplib.WithDescription("list jobs")), noop)

	e, ok := r.Lookup("fetch_jobs")
	require.True(t, ok)
	assert.Equal(t, "list jobs", e.Tool.Description)
	out, err := e.Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, ok = r.Lookup("drop_tables")
	assert.False(t, ok)
}

func TestRegister_RejectsBrokenSchema(t *testing.T) {
	r := registry.New()
	bad := def("fetch_jobs")
	bad.Tool.InputSchema.Properties = map[string]any{"status": map[string]any{"type": "no_such_type"}}
	err := r.Register(bad, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input schema")
	assert.Zero(t, r.Len())
}

func TestValidateArguments_PassesNullsThrough(t *testing.T) {
	r := registry.New()
	r.MustRegister(def("update_job",
		mcplib.WithString("id", mcplib.Required()),
		mcplib.WithString("notes"),
	), noop)
	e, _ := r.Lookup("update_job")

	raw, err := e.ValidateArguments(map[string]any{"id": "J1", "notes": nil})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"J1","notes":null}`, string(raw))
}

func TestValidateArguments(t *testing.T) {
	r := registry.New()
	r.MustRegister(def("update_job",
		mcplib.WithString("id", mcplib.Required()),
		mcplib.WithString("status", mcplib.Enum("not_started", "in_progress", "on_hold", "completed")),
		mcplib.WithNumber("priority", mcplib.Min(0), mcplib.Max(10)),
		mcplib.WithBoolean("rush"),
		mcplib.WithArray("tags", mcplib.WithStringItems()),
	), noop)
	e, _ := r.Lookup("update_job")

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"valid", map[string]any{"id": "J1", "status": "on_hold", "priority": float64(3), "rush": true}, ""},
		{"only required", map[string]any{"id": "J1"}, ""},
		{"null optional", map[string]any{"id": "J1", "status": nil}, ""},
		{"missing required", map[string]any{"status": "on_hold"}, `missing required argument "id"`},
		{"null required", map[string]any{"id": nil}, `missing required argument "id"`},
		{"nil args", nil, `missing required argument "id"`},
		{"unknown property", map[string]any{"id": "J1", "colour": "red"}, `unknown argument "colour"`},
		{"wrong type", map[string]any{"id": float64(1)}, `argument "id"`},
		{"bad enum", map[string]any{"id": "J1", "status": "exploded"}, `argument "status"`},
		{"below minimum", map[string]any{"id": "J1", "priority": float64(-1)}, `argument "priority"`},
		{"above maximum", map[string]any{"id": "J1", "priority": float64(11)}, `argument "priority"`},
		{"bool type", map[string]any{"id": "J1", "rush": "yes"}, `argument "rush"`},
		{"nested items", map[string]any{"id": "J1", "tags": []any{"a", float64(2)}}, `argument "tags.1"`},
		{"reports every violation", map[string]any{"colour": "red"}, `missing required argument "id"; unknown argument "colour"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := e.ValidateArguments(tt.args)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.True(t, json.Valid(raw))
				return
			}
			require.Error(t, err)
			assert.Equal(t, toolerr.KindValidation, toolerr.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type jobArgs struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a jobArgs) Validate() error {
	if a.Status == "bogus" {
		return errors.New("status bogus is not allowed")
	}
	return nil
}

func TestBind(t *testing.T) {
	var got jobArgs
	h := registry.Bind(func(_ context.Context, _ store.Tenant, a jobArgs) (any, error) {
		got = a
		return a.ID, nil
	})

	out, err := h(context.Background(), nil, json.RawMessage(`{"id":"J1","status":"on_hold"}`))
	require.NoError(t, err)
	assert.Equal(t, "J1", out)
	assert.Equal(t, jobArgs{ID: "J1", Status: "on_hold"}, got)

	_, err = h(context.Background(), nil, json.RawMessage(`{"id":"J1","status":"bogus"}`))
	assert.Equal(t, toolerr.KindValidation, toolerr.KindOf(err))

	_, err = h(context.Background(), nil, json.RawMessage(`{"id":7}`))
	assert.Equal(t, toolerr.KindValidation, toolerr.KindOf(err))

	out, err = h(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestBind_HandlerErrorPassesThrough(t *testing.T) {
	h := registry.Bind(func(context.Context, store.Tenant, jobArgs) (any, error) {
		return nil, toolerr.NotFound("job", "J9")
	})
	_, err := h(context.Background(), nil, json.RawMessage(`{"id":"J9"}`))
	assert.Equal(t, toolerr.KindNotFound, toolerr.KindOf(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
