// Package command implements the explicit slash-command tier: fully
// specified operations that hit the stores directly, no LLM involved.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/tool"
)

// Command is one slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     Handler `json:"-"`
}

// Handler executes a command with its raw argument string.
type Handler func(ctx context.Context, args string, cc *Context) (*Result, error)

// Context carries the turn scope and store handles into handlers.
type Context struct {
	Owner    string
	Session  string
	Mem      *memory.Store
	Entities *tool.Entities
}

// Result is a command's output.
type Result struct {
	Content     string   `json:"content"`
	SideEffects []string `json:"side_effects,omitempty"`
}

// Registry holds the registered commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
}

// IsCommand reports whether the input looks like a slash command.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// Dispatch parses "/name args..." and runs the matching handler. An
// unknown name answers with a pointer to /help rather than falling
// through to the LLM; a leading slash is always an explicit command
// attempt.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *Context) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	cmd, ok := r.commands[name]
	if !ok {
		return &Result{
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}
	return cmd.Handler(ctx, args, cc)
}

// List returns all commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
