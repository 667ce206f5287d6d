package tool

import (
	"context"
	"sync"

	"github.com/tetherhq/tether/gateway/pkg/errors"
)

// Tool is one capability the model can invoke. Execute reports failures
// through Result.IsError and never panics out; the model sees the error text
// and may retry with different arguments.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON-schema declaration of the tool's parameters.
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Result is the outcome of a tool execution.
type Result struct {
	Output  string
	IsError bool
}

// Errorf builds an error result from a plain message.
func Errorf(message string) *Result {
	return &Result{Output: message, IsError: true}
}

// Definition is the schema form of a tool embedded in completion requests.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry holds the closed set of tools offered to the model.
type Registry interface {
	Register(t Tool) error
	Get(name string) (Tool, bool)
	// Schemas returns tool definitions in registration order.
	Schemas() []Definition
}

// InMemoryRegistry is the default Registry. Safe for concurrent use.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Duplicate names are rejected.
func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return errors.NewInternalError("tool already registered: "+name, nil)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get looks up a tool by name.
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Schemas returns the definitions of all registered tools in registration
// order, ready to be embedded in a completion request.
func (r *InMemoryRegistry) Schemas() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
