// Package tools implements the closed tool registry.
//
// The registry is the only dispatch path for model-requested tool calls:
// tools are registered at startup, looked up by name, and invoked with
// schema-validated arguments. Unknown names, malformed arguments, and
// handler failures all produce a structured Result the model can reason
// about; invocation never panics and never surfaces a raw Go error to
// the model.
//
// Tools are additionally registered with Genkit so the model gateway can
// advertise their definitions, but Genkit never executes them: generation
// runs with tool requests returned to the agent loop, which dispatches
// through this registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/murmurhq/murmur/internal/log"
)

// Tool is a named, schema-validated operation the model may request.
// Construct with NewTool; the zero value is unusable.
type Tool struct {
	name        string
	description string
	resolved    *jsonschema.Resolved

	// invoke is the type-erased execution path used by Registry.Invoke.
	invoke func(ctx context.Context, args json.RawMessage) *Result

	// define registers the typed handler with Genkit for definition
	// advertisement (schema derivation from the input type).
	define func(g *genkit.Genkit) ai.Tool
}

// Name returns the tool's unique identifier.
func (t *Tool) Name() string { return t.name }

// Description returns the tool's functionality description.
// The model uses this to decide when to call the tool.
func (t *Tool) Description() string { return t.description }

// NewTool creates a tool with type-safe input handling.
//
// The input type's JSON Schema is derived once at construction and every
// invocation is validated against it before the handler runs, so handlers
// can trust their input shape.
func NewTool[In any](name, description string, handler func(context.Context, In) *Result) (*Tool, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving schema for tool %q: %w", name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema for tool %q: %w", name, err)
	}

	t := &Tool{
		name:        name,
		description: description,
		resolved:    resolved,
	}

	t.invoke = func(ctx context.Context, args json.RawMessage) *Result {
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		var generic any
		if err := json.Unmarshal(args, &generic); err != nil {
			return Errorf(ErrCodeInvalidArgs, "arguments are not valid JSON: %v", err)
		}
		if err := resolved.Validate(generic); err != nil {
			return Errorf(ErrCodeInvalidArgs, "schema validation failed: %v", err)
		}

		var in In
		if err := json.Unmarshal(args, &in); err != nil {
			return Errorf(ErrCodeInvalidArgs, "decoding arguments: %v", err)
		}
		return handler(ctx, in)
	}

	t.define = func(g *genkit.Genkit) ai.Tool {
		return genkit.DefineTool(g, name, description,
			func(tc *ai.ToolContext, in In) (*Result, error) {
				// Reached only if something generates without
				// returning tool requests; same handler either way.
				return handler(tc.Context, in), nil
			})
	}

	return t, nil
}

// Registry is the closed lookup table for tool dispatch.
//
// Registration happens at startup before any Invoke; after that the
// registry is read-only and safe for concurrent use.
type Registry struct {
	logger log.Logger
	tools  map[string]*Tool
	refs   []ai.ToolRef
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]*Tool),
	}
}

// Register adds a tool to the registry and advertises it with Genkit.
// Duplicate names are rejected: a closed registry has exactly one
// implementation per name.
func (r *Registry) Register(g *genkit.Genkit, t *Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	if _, exists := r.tools[t.name]; exists {
		return fmt.Errorf("tool %q already registered", t.name)
	}
	r.tools[t.name] = t
	if g != nil {
		r.refs = append(r.refs, t.define(g))
	}
	r.logger.Debug("tool registered", "tool", t.name)
	return nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refs returns the Genkit tool references for definition advertisement.
func (r *Registry) Refs() []ai.ToolRef {
	return r.refs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Invoke dispatches one tool call. Args is the raw JSON argument payload
// from the model's tool request.
//
// The returned Result is always non-nil: unknown tools, invalid
// arguments, and handler panics become error Results so the caller can
// fold them back into the conversation.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (res *Result) {
	start := time.Now()

	// A panicking handler must not take the turn down with it.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			res = Errorf(ErrCodeInternal, "tool %q failed internally", name)
		}
	}()

	t, ok := r.tools[name]
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return Errorf(ErrCodeUnknownTool, "tool %q is not available; available tools: %v", name, r.Names())
	}

	res = t.invoke(ctx, args)

	r.logger.Debug("tool invoked",
		"tool", name,
		"status", res.Status,
		"elapsed", time.Since(start),
	)
	return res
}
