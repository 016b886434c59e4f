// Package tool holds the closed set of in-process tool kinds and the
// registry mapping tool names to typed handlers.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/quivermind/mnemo/internal/provider"
)

// Kind classifies a tool. The set is closed; the registry is the single
// extensibility point.
type Kind int

const (
	// KindMemory reads or writes the memory tiers.
	KindMemory Kind = iota
	// KindEntity manages projects and tasks.
	KindEntity
	// KindKnowledge queries or fills the knowledge cache.
	KindKnowledge
	// KindExternal delegates to the external-tool gateway.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindEntity:
		return "entity"
	case KindKnowledge:
		return "knowledge"
	case KindExternal:
		return "external"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handler executes one tool call. Arguments arrive decoded; results are
// returned as a map the caller serializes.
type Handler func(ctx context.Context, call Call) (map[string]interface{}, error)

// Call is one tool invocation, already scoped to a turn.
type Call struct {
	Owner   string
	Session string
	Args    map[string]interface{}
}

// Definition describes a registered tool.
type Definition struct {
	Name        string
	Kind        Kind
	Description string
	Parameters  map[string]interface{}
}

type registered struct {
	def     Definition
	handler Handler
}

// Registry maps tool names to handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registered)}
}

// Register adds a tool. Re-registering a name replaces the handler.
func (r *Registry) Register(def Definition, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; !ok {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = registered{def: def, handler: h}
}

// Lookup returns the definition for a name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.def, ok
}

// Execute runs a tool by name.
func (r *Registry) Execute(ctx context.Context, name string, call Call) (map[string]interface{}, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return reg.handler(ctx, call)
}

// Definitions renders the registry for an LLM request, in registration
// order.
func (r *Registry) Definitions() []provider.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].def
		out = append(out, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}
