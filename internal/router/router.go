// Package router is the top-level turn dispatcher. Each inbound request
// walks four tiers in priority order: explicit slash commands, regex
// shortcuts, procedural memory (rules and workflow templates), and
// finally the LLM tool-calling loop with external-tool delegation. A
// tier that declines falls through cleanly; no side effect ever runs
// twice across tiers.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/assembler"
	"github.com/quivermind/mnemo/internal/command"
	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/gateway"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/provider"
	"github.com/quivermind/mnemo/internal/tool"
	"github.com/quivermind/mnemo/internal/workflow"
)

// LLM is the chat surface the router needs; provider.Chain satisfies it.
type LLM interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Turn is one inbound request.
type Turn struct {
	Owner    string        `json:"owner"`
	Session  string        `json:"session"`
	Input    string        `json:"input"`
	Deadline time.Duration `json:"deadline,omitempty"`
}

// Outcome is what a turn produced.
type Outcome struct {
	Reply       string      `json:"reply"`
	SideEffects []string    `json:"side_effects,omitempty"`
	Trace       []TraceStep `json:"debug_trace,omitempty"`
}

// TraceStep records which tier looked at the turn. Advisory output for
// observability; nothing parses it.
type TraceStep struct {
	Tier     string        `json:"tier"`
	Resolved bool          `json:"resolved"`
	Detail   string        `json:"detail,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Router wires the tiers together.
type Router struct {
	commands *command.Registry
	mem      *memory.Store
	entities *tool.Entities
	asm      *assembler.Assembler
	tools    *tool.Registry
	llm      LLM
	gw       *gateway.Gateway
	logger   *zap.Logger

	defaultDeadline time.Duration
}

// Config bundles the router's dependencies.
type Config struct {
	Commands *command.Registry
	Memory   *memory.Store
	Entities *tool.Entities
	Asm      *assembler.Assembler
	Tools    *tool.Registry
	LLM      LLM
	Gateway  *gateway.Gateway
	Deadline time.Duration
}

// New builds the router.
func New(cfg Config, logger *zap.Logger) *Router {
	if cfg.Deadline == 0 {
		cfg.Deadline = 60 * time.Second
	}
	return &Router{
		commands:        cfg.Commands,
		mem:             cfg.Memory,
		entities:        cfg.Entities,
		asm:             cfg.Asm,
		tools:           cfg.Tools,
		llm:             cfg.LLM,
		gw:              cfg.Gateway,
		logger:          logger,
		defaultDeadline: cfg.Deadline,
	}
}

// HandleTurn resolves one turn. Turns for the same session must be
// serialized by the caller; different sessions are safe concurrently.
func (r *Router) HandleTurn(ctx context.Context, turn *Turn) (*Outcome, error) {
	deadline := turn.Deadline
	if deadline == 0 {
		deadline = r.defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	out := &Outcome{}

	// Tier 1: explicit commands.
	if resolved := r.tryCommand(ctx, turn, out); resolved {
		return out, nil
	}

	// Tier 2: regex shortcuts rewritten into direct store calls.
	if resolved := r.tryShortcut(ctx, turn, out); resolved {
		return out, nil
	}

	// Tier 3: procedural memory.
	if resolved := r.tryProcedural(ctx, turn, out); resolved {
		return out, nil
	}

	// Tier 4: the LLM tool-calling loop.
	r.runLoop(ctx, turn, out)
	return out, nil
}

func (r *Router) tryCommand(ctx context.Context, turn *Turn, out *Outcome) bool {
	start := time.Now()
	if !command.IsCommand(turn.Input) {
		out.Trace = append(out.Trace, TraceStep{Tier: "command", Elapsed: time.Since(start)})
		return false
	}

	res, err := r.commands.Dispatch(ctx, turn.Input, &command.Context{
		Owner:    turn.Owner,
		Session:  turn.Session,
		Mem:      r.mem,
		Entities: r.entities,
	})
	step := TraceStep{Tier: "command", Resolved: true, Elapsed: time.Since(start)}
	if err != nil {
		step.Detail = err.Error()
		out.Trace = append(out.Trace, step)
		out.Reply = userFacing(err)
		return true
	}
	out.Reply = res.Content
	out.SideEffects = res.SideEffects
	out.Trace = append(out.Trace, step)
	return true
}

func (r *Router) tryProcedural(ctx context.Context, turn *Turn, out *Outcome) bool {
	start := time.Now()

	if rule, err := r.mem.MatchTrigger(ctx, turn.Owner, turn.Input); err == nil {
		out.Trace = append(out.Trace, TraceStep{
			Tier: "procedural", Resolved: true,
			Detail:  "rule " + rule.Trigger,
			Elapsed: time.Since(start),
		})
		r.runRule(ctx, turn, rule, out)
		return true
	} else if !fault.IsAbsent(err) {
		r.logger.Warn("trigger match failed", zap.Error(err))
	}

	if tmpl, err := r.mem.FindTemplate(ctx, turn.Owner, turn.Input); err == nil {
		out.Trace = append(out.Trace, TraceStep{
			Tier: "procedural", Resolved: true,
			Detail:  "template " + tmpl.Name,
			Elapsed: time.Since(start),
		})
		r.runTemplate(ctx, turn, tmpl, out)
		return true
	} else if !fault.IsAbsent(err) {
		r.logger.Warn("template lookup failed", zap.Error(err))
	}

	out.Trace = append(out.Trace, TraceStep{Tier: "procedural", Elapsed: time.Since(start)})
	return false
}

// runRule executes a matched rule's single action through the tool
// registry.
func (r *Router) runRule(ctx context.Context, turn *Turn, rule *memory.Rule, out *Outcome) {
	result, err := r.tools.Execute(ctx, rule.ActionType, tool.Call{
		Owner:   turn.Owner,
		Session: turn.Session,
		Args:    rule.Parameters,
	})
	if err != nil {
		out.Reply = userFacing(err)
		return
	}
	out.Reply = summarizeToolResult(rule.ActionType, result)
	out.SideEffects = append(out.SideEffects, "rule:"+rule.Trigger)
}

// runTemplate hands a matched workflow template to the orchestrator.
func (r *Router) runTemplate(ctx context.Context, turn *Turn, tmpl *memory.WorkflowTemplate, out *Outcome) {
	orch := workflow.New(&tool.TurnExecutor{
		Registry: r.tools,
		Owner:    turn.Owner,
		Session:  turn.Session,
	}, r.logger)

	report, err := orch.Execute(ctx, tmpl, map[string]string{"input.text": turn.Input})
	if report != nil {
		for _, s := range report.Steps {
			if s.Status == workflow.StepSucceeded {
				out.SideEffects = append(out.SideEffects, "step:"+s.StepID)
			}
		}
	}
	if err != nil {
		if report != nil && report.FailedIndex() >= 0 {
			out.Reply = workflow.Describe(report)
		} else {
			out.Reply = userFacing(err)
		}
		return
	}

	if bumpErr := r.mem.BumpTemplateUsage(ctx, turn.Owner, tmpl.Name); bumpErr != nil {
		r.logger.Warn("template usage bump failed", zap.Error(bumpErr))
	}
	out.Reply = workflow.Describe(report)
}

// userFacing maps internal errors to the small set of user-visible
// outcomes. Raw internals never reach the user.
func userFacing(err error) string {
	switch {
	case fault.IsTimeout(err):
		return "That's taking longer than expected."
	case fault.IsAbsent(err):
		return "I don't have that information."
	case errors.Is(err, fault.ErrValidation):
		return "I couldn't do that: the request was incomplete."
	default:
		return "Something went wrong handling that request."
	}
}

func summarizeToolResult(action string, result map[string]interface{}) string {
	if msg, ok := result["summary"].(string); ok {
		return msg
	}
	if count, ok := result["count"]; ok {
		return fmt.Sprintf("Done: %s returned %v items.", action, count)
	}
	return fmt.Sprintf("Done: %s completed.", action)
}
