package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/tool"
)

// RegisterBuiltins installs the standard command set.
func RegisterBuiltins(r *Registry) {
	r.Register(&Command{
		Name:        "remember",
		Description: "Store a preference",
		Usage:       "/remember <key> <value>",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			key, value, ok := strings.Cut(args, " ")
			if !ok || value == "" {
				return &Result{Content: "Usage: /remember <key> <value>"}, nil
			}
			err := cc.Mem.RecordPreference(ctx, cc.Owner, key, strings.TrimSpace(value),
				memory.SourceExplicit, 0.9)
			if err != nil {
				return nil, err
			}
			return &Result{
				Content:     fmt.Sprintf("Remembered %s = %s.", key, strings.TrimSpace(value)),
				SideEffects: []string{"preference:" + key},
			}, nil
		},
	})

	r.Register(&Command{
		Name:        "recall",
		Description: "Search past events",
		Usage:       "/recall <query>",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			if args == "" {
				return &Result{Content: "Usage: /recall <query>"}, nil
			}
			hits, err := cc.Mem.SearchEvents(ctx, cc.Owner, args, 5)
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return &Result{Content: "I don't have that information."}, nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "- [%s] %s\n",
					h.Event.Timestamp.Format("Jan 2 15:04"), h.Event.Summary)
			}
			return &Result{Content: b.String()}, nil
		},
	})

	r.Register(&Command{
		Name:        "forget",
		Description: "Delete a preference",
		Usage:       "/forget <key>",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			if args == "" {
				return &Result{Content: "Usage: /forget <key>"}, nil
			}
			if err := cc.Mem.DeletePreference(ctx, cc.Owner, args); err != nil {
				if fault.IsAbsent(err) {
					return &Result{Content: "I don't have that information."}, nil
				}
				return nil, err
			}
			return &Result{
				Content:     fmt.Sprintf("Forgot %s.", args),
				SideEffects: []string{"preference_deleted:" + args},
			}, nil
		},
	})

	r.Register(&Command{
		Name:        "rule",
		Description: "Store a trigger rule",
		Usage:       "/rule <trigger> => <action>",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			trigger, action, ok := strings.Cut(args, "=>")
			trigger, action = strings.TrimSpace(trigger), strings.TrimSpace(action)
			if !ok || trigger == "" || action == "" {
				return &Result{Content: "Usage: /rule <trigger> => <action>"}, nil
			}
			err := cc.Mem.RecordRule(ctx, cc.Owner, trigger, action, nil,
				memory.SourceExplicit, 0.9)
			if err != nil {
				return nil, err
			}
			return &Result{
				Content:     fmt.Sprintf("Rule stored: %q runs %s.", memory.Normalize(trigger), action),
				SideEffects: []string{"rule:" + memory.Normalize(trigger)},
			}, nil
		},
	})

	r.Register(&Command{
		Name:        "project",
		Description: "Create a project",
		Usage:       "/project <name>",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			if args == "" {
				return &Result{Content: "Usage: /project <name>"}, nil
			}
			p, err := cc.Entities.CreateProject(ctx, cc.Owner, args)
			if err != nil {
				return nil, err
			}
			cc.Mem.SetWorking(ctx, cc.Owner, cc.Session, memory.SlotCurrentProject, p.Name)
			return &Result{
				Content:     fmt.Sprintf("Created project %s.", p.Name),
				SideEffects: []string{"project:" + p.ID},
			}, nil
		},
	})

	r.Register(&Command{
		Name:        "task",
		Description: "Create a task",
		Usage:       "/task <title>",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			if args == "" {
				return &Result{Content: "Usage: /task <title>"}, nil
			}
			t, err := cc.Entities.CreateTask(ctx, cc.Owner, "", args)
			if err != nil {
				return nil, err
			}
			cc.Mem.SetWorking(ctx, cc.Owner, cc.Session, memory.SlotCurrentTask, t.Title)
			return &Result{
				Content:     fmt.Sprintf("Created task %s.", t.Title),
				SideEffects: []string{"task:" + t.ID},
			}, nil
		},
	})

	r.Register(&Command{
		Name:        "tasks",
		Description: "List open tasks",
		Usage:       "/tasks",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			tasks, err := cc.Entities.ListTasks(ctx, cc.Owner, tool.StatusActive, "")
			if err != nil {
				return nil, err
			}
			if len(tasks) == 0 {
				return &Result{Content: "No open tasks."}, nil
			}
			var b strings.Builder
			for _, t := range tasks {
				fmt.Fprintf(&b, "- %s (%s)\n", t.Title, t.ID)
			}
			return &Result{Content: b.String()}, nil
		},
	})

	r.Register(&Command{
		Name:        "status",
		Description: "Show current session context",
		Usage:       "/status",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			slots, err := cc.Mem.WorkingSnapshot(ctx, cc.Owner, cc.Session)
			if err != nil {
				return nil, err
			}
			if len(slots) == 0 {
				return &Result{Content: "No active session context."}, nil
			}
			var b strings.Builder
			for slot, value := range slots {
				fmt.Fprintf(&b, "- %s: %s\n", slot, value)
			}
			return &Result{Content: b.String()}, nil
		},
	})

	r.Register(&Command{
		Name:        "clear",
		Description: "Clear session context",
		Usage:       "/clear",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			if err := cc.Mem.ClearWorking(ctx, cc.Owner, cc.Session); err != nil {
				return nil, err
			}
			return &Result{
				Content:     "Session context cleared.",
				SideEffects: []string{"working_cleared"},
			}, nil
		},
	})

	r.Register(&Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help",
		Handler: func(ctx context.Context, args string, cc *Context) (*Result, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, cmd := range r.List() {
				fmt.Fprintf(&b, "  %-28s %s\n", cmd.Usage, cmd.Description)
			}
			return &Result{Content: b.String()}, nil
		},
	})
}
