// Package tools holds the registry of callable tools and the executor that
// runs them, routing sensitive calls through the approval flow first.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tailored-agentic-units/relay/protocol"
)

// Handler is the function signature for tool implementations. Handlers
// receive the request context and the JSON-encoded arguments produced by
// the model.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Result is a tool's output as it feeds back into the conversation.
// IsError marks a failure the model should see and react to, as opposed
// to a Go error, which aborts the call.
type Result struct {
	Content string
	IsError bool
}

type entry struct {
	tool    protocol.Tool
	handler Handler
}

// Registry maps tool names to definitions and handlers. The zero value is
// not usable; construct with NewRegistry. All methods are safe for
// concurrent use.
type Registry struct {
	entries map[string]entry
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Default is the process-wide registry the package-level functions operate
// on. Binaries register their tools here at startup; tests that need
// isolation construct their own Registry.
var Default = NewRegistry()

// Register adds a tool. Returns ErrAlreadyExists if the name is taken;
// use Replace to swap an existing tool's handler.
func (r *Registry) Register(tool protocol.Tool, handler Handler) error {
	if tool.Name == "" {
		return ErrEmptyName
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, tool.Name)
	}

	r.entries[tool.Name] = entry{tool: tool, handler: handler}
	return nil
}

// Replace updates an existing tool's definition and handler. Returns
// ErrNotFound if no tool with the given name is registered.
func (r *Registry) Replace(tool protocol.Tool, handler Handler) error {
	if tool.Name == "" {
		return ErrEmptyName
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tool.Name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, tool.Name)
	}

	r.entries[tool.Name] = entry{tool: tool, handler: handler}
	return nil
}

// Get retrieves a handler by tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return e.handler, true
}

// Definition retrieves a tool's definition by name.
func (r *Registry) Definition(name string) (protocol.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return protocol.Tool{}, false
	}
	return e.tool, true
}

// List returns the definitions of all registered tools, sorted by name so
// runtime adapters advertise a stable tool order.
func (r *Registry) List() []protocol.Tool {
	r.mu.RLock()
	defs := make([]protocol.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.tool)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Execute dispatches a call to the registered handler by name. Returns
// ErrNotFound if the tool is not registered; handler errors are wrapped
// with the tool name for context.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	handler, exists := r.Get(name)
	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	result, err := handler(ctx, args)
	if err != nil {
		return Result{}, fmt.Errorf("tool %s execution failed: %w", name, err)
	}

	return result, nil
}

// Register adds a tool to the default registry.
func Register(tool protocol.Tool, handler Handler) error {
	return Default.Register(tool, handler)
}

// Replace updates a tool in the default registry.
func Replace(tool protocol.Tool, handler Handler) error {
	return Default.Replace(tool, handler)
}

// Get retrieves a handler from the default registry.
func Get(name string) (Handler, bool) {
	return Default.Get(name)
}

// List returns the definitions in the default registry, sorted by name.
func List() []protocol.Tool {
	return Default.List()
}

// Execute dispatches a call against the default registry.
func Execute(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	return Default.Execute(ctx, name, args)
}
