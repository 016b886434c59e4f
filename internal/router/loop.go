package router

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/assembler"
	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/provider"
	"github.com/quivermind/mnemo/internal/tool"
)

const maxToolRounds = 5

// compressAbove is the serialized size past which tool results get
// compressed before re-entering the conversation.
const compressAbove = 2048

// runLoop is tier 4: the full LLM tool-calling loop. The assembled
// memory context rides in the system message; registered tools execute
// locally and unknown names delegate to the external gateway.
func (r *Router) runLoop(ctx context.Context, turn *Turn, out *Outcome) {
	start := time.Now()

	system := r.asm.BuildContext(ctx, turn.Owner, turn.Session)
	req := &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: turn.Input},
		},
		Tools: r.tools.Definitions(),
	}

	var reply string
	for round := 0; round < maxToolRounds; round++ {
		resp, err := r.llm.Chat(ctx, req)
		if err != nil {
			r.logger.Warn("llm call failed", zap.Int("round", round), zap.Error(err))
			out.Reply = userFacing(err)
			out.Trace = append(out.Trace, TraceStep{
				Tier: "llm", Resolved: true, Detail: "error", Elapsed: time.Since(start),
			})
			return
		}

		if len(resp.ToolCalls) == 0 {
			reply = resp.Content
			break
		}

		req.Messages = append(req.Messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := r.executeToolCall(ctx, turn, tc, out)
			req.Messages = append(req.Messages, provider.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	if reply == "" {
		reply = "I wasn't able to finish that within the allowed tool budget."
	}
	out.Reply = reply
	out.Trace = append(out.Trace, TraceStep{Tier: "llm", Resolved: true, Elapsed: time.Since(start)})

	r.postTurn(ctx, turn, reply, out)
}

// executeToolCall runs one tool call and serializes its result for the
// conversation. Errors become {"error": "..."} payloads so the model
// can recover instead of the turn aborting.
func (r *Router) executeToolCall(ctx context.Context, turn *Turn, tc provider.ToolCall, out *Outcome) string {
	name := tc.Function.Name
	var args map[string]interface{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return errJSON("bad arguments: " + err.Error())
		}
	}

	var (
		raw interface{}
		err error
	)
	if _, ok := r.tools.Lookup(name); ok {
		raw, err = r.tools.Execute(ctx, name, tool.Call{
			Owner:   turn.Owner,
			Session: turn.Session,
			Args:    args,
		})
	} else if r.gw != nil {
		var text string
		text, err = r.gw.Invoke(ctx, name, args, 0)
		raw = text
	} else {
		err = fault.Validation("unknown tool %q", name)
	}

	if err != nil {
		r.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		return errJSON(err.Error())
	}
	out.SideEffects = append(out.SideEffects, "tool:"+name)

	if s, ok := raw.(string); ok {
		if len(s) > compressAbove {
			return s[:compressAbove]
		}
		return s
	}
	b, merr := json.Marshal(raw)
	if merr != nil {
		return errJSON("unserializable result")
	}
	if len(b) > compressAbove {
		if cb, cerr := json.Marshal(assembler.CompressToolResult(raw)); cerr == nil {
			return string(cb)
		}
	}
	return string(b)
}

// postTurn extracts durable updates from the exchange and applies them.
// Failures degrade to warnings; the reply already went out.
func (r *Router) postTurn(ctx context.Context, turn *Turn, reply string, out *Outcome) {
	updates := assembler.Extract(turn.Owner, turn.Session, turn.Input, nil)
	if err := r.asm.Apply(ctx, turn.Owner, turn.Session, updates); err != nil {
		r.logger.Warn("post-turn memory update failed", zap.Error(err))
		return
	}
	for _, p := range updates.Preferences {
		out.SideEffects = append(out.SideEffects, "learned:"+p.Key)
	}

	ev := &memory.EpisodicEvent{
		OwnerID:    turn.Owner,
		SessionID:  turn.Session,
		ActionType: "conversation_turn",
		Summary:    truncate(turn.Input, 200),
		EntityPayload: map[string]interface{}{
			"reply": truncate(reply, 200),
		},
	}
	if err := r.mem.RecordEvent(ctx, ev); err != nil {
		r.logger.Warn("turn event record failed", zap.Error(err))
	}
}

func errJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
