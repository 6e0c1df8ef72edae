// Package registry maps tool names to their schema and handler.
//
// Tools are registered once at startup and the registry is read-only after
// that. Each entry pairs an mcp-go Tool (name, description, input schema,
// annotations) with a Handler that runs against a tenant-bound store.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ashita-ai/kouba/internal/store"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

// Definition describes a tool to callers.
type Definition struct {
	Tool     mcplib.Tool
	Category string
}

// Name returns the tool name.
func (d Definition) Name() string { return d.Tool.Name }

// Handler executes one tool call. args is the schema-checked JSON object the
// caller sent. The returned value is rendered as the success payload.
type Handler func(ctx context.Context, tx store.Tenant, args json.RawMessage) (any, error)

// Validator is implemented by argument structs with cross-field rules the
// input schema cannot express.
type Validator interface {
	Validate() error
}

// Bind adapts a typed handler into a Handler. Arguments are decoded into A
// and, if A implements Validator, validated before fn runs. Decode and
// Validate failures are reported as validation errors.
func Bind[A any](fn func(ctx context.Context, tx store.Tenant, args A) (any, error)) Handler {
	return func(ctx context.Context, tx store.Tenant, raw json.RawMessage) (any, error) {
		var args A
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return nil, toolerr.Validation("invalid arguments: %v", err)
			}
		}
		if err := validate(&args); err != nil {
			return nil, err
		}
		return fn(ctx, tx, args)
	}
}

func validate(args any) error {
	v, ok := args.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		var te *toolerr.Error
		if errors.As(err, &te) {
			return err
		}
		return toolerr.Validation("%s", err.Error())
	}
	return nil
}

// Entry is a registered tool.
type Entry struct {
	Definition
	handler Handler
	schema  *gojsonschema.Schema
}

// Invoke runs the entry's handler.
func (e *Entry) Invoke(ctx context.Context, tx store.Tenant, args json.RawMessage) (any, error) {
	return e.handler(ctx, tx, args)
}

// Registry holds the registered tools.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a tool. It fails on an empty or duplicate name, a nil
// handler, or an input schema that is not an object or does not compile.
func (r *Registry) Register(def Definition, h Handler) error {
	name := def.Tool.Name
	if name == "" {
		return errors.New("registry: tool name is required")
	}
	if h == nil {
		return fmt.Errorf("registry: tool %q has no handler", name)
	}
	if t := def.Tool.InputSchema.Type; t != "" && t != "object" {
		return fmt.Errorf("registry: tool %q input schema must be an object, got %q", name, t)
	}
	schema, err := compileSchema(def.Tool.InputSchema)
	if err != nil {
		return fmt.Errorf("registry: tool %q input schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("registry: tool %q already registered", name)
	}
	r.entries[name] = &Entry{Definition: def, handler: h, schema: schema}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for startup wiring. It panics on error.
func (r *Registry) MustRegister(def Definition, h Handler) {
	if err := r.Register(def, h); err != nil {
		panic(err)
	}
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].Definition)
	}
	return defs
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
