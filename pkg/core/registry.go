package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/logging"
)

// Registry maps tool names to tools. It is constructed explicitly and
// shared by reference; registration is expected to happen before lookups
// start, but the RWMutex keeps late mutation safe.
type Registry struct {
	tools  map[string]Tool
	mu     sync.RWMutex
	logger *logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registration events.
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.GetLogger()
	}
	return r
}

// Register adds tool under its metadata name. An existing tool with the same
// name is replaced.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New(errors.InvalidInput, "cannot register nil tool")
	}
	meta := tool.Metadata()
	if meta == nil || meta.Name == "" {
		return errors.New(errors.InvalidInput, "tool metadata must include a name")
	}

	r.mu.Lock()
	_, replaced := r.tools[meta.Name]
	r.tools[meta.Name] = tool
	r.mu.Unlock()

	if replaced {
		r.logger.Warn(context.Background(), "replaced tool: %s", meta.Name)
	} else {
		r.logger.Info(context.Background(), "registered tool: %s", meta.Name)
	}
	return nil
}

// MustRegister registers every tool and panics on the first error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if ok {
		r.logger.Info(context.Background(), "unregistered tool: %s", name)
	}
	return ok
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "tool not found in registry"),
			errors.Fields{"name": name},
		)
	}
	return tool, nil
}

// List returns name -> description for every registered tool.
func (r *Registry) List() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.tools))
	for name, tool := range r.tools {
		out[name] = tool.Metadata().Description
	}
	return out
}

// Names returns the registered names in sorted order.
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

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke looks up name and runs it through the uniform envelope. An unknown
// name is reported as a failure result, never as an error.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) ToolResult {
	tool, err := r.Get(name)
	if err != nil {
		return NewToolFailure(name, NotFoundMessage(name))
	}
	return Invoke(ctx, tool, params)
}

// NotFoundMessage is the failure text for an unknown tool.
func NotFoundMessage(name string) string {
	return fmt.Sprintf("tool '%s' not found", name)
}
