// Package tools implements the tool registry: registration, dispatch with
// per-call error isolation, and output truncation, grounded on
// original_source/tools/__init__.py.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/providers"
)

// DefaultTruncationLimit is the output size, in characters, at which a
// tool's result is cut and suffixed with a truncation marker.
const DefaultTruncationLimit = 30000

// Executor is the dispatch surface the agentic loop needs. *Registry
// satisfies it directly; sub-agent scoping wraps a Registry behind a
// narrower Executor so a denied tool can't be reached even if a model
// asks for it by name.
type Executor interface {
	Execute(ctx context.Context, name string, arguments json.RawMessage) string
}

// Handler is a registered tool's implementation. It receives already
// json.Unmarshal-validated arguments and returns plain text (or a
// JSON-encoded content-block list for tools that emit structured output,
// e.g. an image).
type Handler func(ctx context.Context, arguments json.RawMessage) (string, error)

// entry is one registered tool.
type entry struct {
	name        string
	description string
	inputSchema json.RawMessage
	handler     Handler
}

// Registry registers tool handlers and dispatches calls from the agentic
// loop, isolating a failing tool's error from the rest of the turn.
type Registry struct {
	mu              sync.RWMutex
	tools           map[string]entry
	schemas         sync.Map // name -> *jsonschema.Schema, compiled lazily
	TruncationLimit int

	// Metrics is optional; when set, every call records outcome and
	// latency.
	Metrics *observability.Metrics
}

// New returns an empty Registry with the default truncation limit.
func New() *Registry {
	return &Registry{tools: make(map[string]entry), TruncationLimit: DefaultTruncationLimit}
}

// Register adds or replaces a tool.
func (r *Registry) Register(name, description string, inputSchema json.RawMessage, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = entry{name: name, description: description, inputSchema: inputSchema, handler: handler}
	r.schemas.Delete(name)
}

// Unregister removes a tool by name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Schemas returns the tool schema list for passing to a provider.
func (r *Registry) Schemas() []providers.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, providers.ToolSchema{Name: t.name, Description: t.description, InputSchema: t.inputSchema})
	}
	return out
}

// BriefDescriptions returns (name, description) pairs for system-prompt
// context building.
func (r *Registry) BriefDescriptions() [][2]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][2]string, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, [2]string{t.name, t.description})
	}
	return out
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Has reports whether a tool by that name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute dispatches one tool call by name. It never returns a Go error:
// every failure mode (unknown tool, bad arguments, handler panic-free
// failure) is folded into the returned string, matching the source's
// error-isolation contract so one bad tool call can't abort a turn.
func (r *Registry) Execute(ctx context.Context, name string, arguments json.RawMessage) string {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		if r.Metrics == nil {
			return
		}
		r.Metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
		r.Metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	if err := r.validateArguments(t, arguments); err != nil {
		outcome = "error"
		return fmt.Sprintf("Error: Invalid arguments for '%s': %s", name, err)
	}

	result, err := r.invoke(ctx, t, arguments)
	if err != nil {
		outcome = "error"
		if ie, ok := err.(*invalidArgumentsError); ok {
			return fmt.Sprintf("Error: Invalid arguments for '%s': %s", name, ie.cause)
		}
		return fmt.Sprintf("Error: Tool '%s' execution failed", name)
	}

	limit := r.TruncationLimit
	if limit <= 0 {
		limit = DefaultTruncationLimit
	}
	if utf8.RuneCountInString(result) > limit {
		result = string([]rune(result)[:limit]) + fmt.Sprintf("\n[truncated at %d chars]", limit)
	}
	return result
}

// validateArguments checks arguments against the tool's declared JSON
// Schema before the handler ever sees them, so malformed calls fail with
// the same message a handler-side check would produce, one layer earlier.
// Schemas are compiled once and cached; a tool registered with no schema is
// not validated here and relies on its handler's own checks.
func (r *Registry) validateArguments(t entry, arguments json.RawMessage) error {
	if len(t.inputSchema) == 0 {
		return nil
	}
	schema, err := r.compiledSchema(t)
	if err != nil {
		return nil // an unparsable declared schema is a registration bug, not a caller error
	}
	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

func (r *Registry) compiledSchema(t entry) (*jsonschema.Schema, error) {
	if cached, ok := r.schemas.Load(t.name); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(t.name+".schema.json", string(t.inputSchema))
	if err != nil {
		return nil, err
	}
	r.schemas.Store(t.name, compiled)
	return compiled, nil
}

// invalidArgumentsError marks a handler failure caused by malformed
// arguments, as opposed to an internal execution failure, so Execute can
// surface the two cases with different messages (mirroring the source's
// TypeError-vs-Exception split).
type invalidArgumentsError struct{ cause error }

func (e *invalidArgumentsError) Error() string { return e.cause.Error() }

// InvalidArguments wraps a handler-side argument validation error so
// Execute reports it as "Invalid arguments" rather than a generic failure.
func InvalidArguments(cause error) error { return &invalidArgumentsError{cause: cause} }

func (r *Registry) invoke(ctx context.Context, t entry, arguments json.RawMessage) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return t.handler(ctx, arguments)
}
