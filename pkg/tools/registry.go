package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/viacanvas/intelligence/pkg/llm"
)

// ErrUnknownTool is returned when a name has no registration.
var ErrUnknownTool = errors.New("tools: unknown tool")

type entry struct {
	tool   Tool
	schema *jsonschema.Schema // nil when the tool declares no schema
}

// Registry maps tool names to definitions and handlers. Schemas are
// compiled once at registration, so an invalid schema fails wiring at
// startup instead of the first call.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool, compiling its argument schema. Names are unique;
// re-registering a name is a wiring bug and fails.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tools: tool name is empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", t.Name)
	}

	var schema *jsonschema.Schema
	if t.Schema != "" {
		var err error
		schema, err = compileSchema(t.Name, t.Schema)
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: tool %q already registered", t.Name)
	}
	r.tools[t.Name] = &entry{tool: t, schema: schema}
	r.logger.Debug("tool registered", "tool", t.Name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Validate checks args against the tool's compiled schema. Tools without a
// schema accept anything.
func (r *Registry) Validate(name string, args Args) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if e.schema == nil {
		return nil
	}
	return e.schema.Validate(map[string]any(args))
}

// Definitions returns tool definitions for the model. With names given,
// the listed tools are returned in that order (unknown names are logged
// and skipped); without names, every registered tool is returned sorted
// by name.
func (r *Registry) Definitions(names ...string) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = make([]string, 0, len(r.tools))
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			r.logger.Warn("tool set references unregistered tool", "tool", name)
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:             e.tool.Name,
			Description:      e.tool.Description,
			ParametersSchema: e.tool.Schema,
		})
	}
	return defs
}

// Names lists every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resource)
}
