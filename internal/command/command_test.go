package command

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/tool"
	"github.com/quivermind/mnemo/internal/ttlstore"
)

func newContext(t *testing.T) (*Registry, *Context) {
	t.Helper()
	docs := docstore.NewMemory()
	mem := memory.NewStore(docs, ttlstore.NewMemory(), nil, zap.NewNop())
	r := NewRegistry()
	RegisterBuiltins(r)
	return r, &Context{
		Owner:    "u1",
		Session:  "s1",
		Mem:      mem,
		Entities: tool.NewEntities(docs),
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	r, cc := newContext(t)
	res, err := r.Dispatch(context.Background(), "/frobnicate", cc)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(res.Content, "/help") {
		t.Errorf("unknown command reply %q", res.Content)
	}
}

func TestRememberAndForget(t *testing.T) {
	r, cc := newContext(t)
	ctx := context.Background()

	res, err := r.Dispatch(ctx, "/remember editor vim", cc)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if len(res.SideEffects) != 1 {
		t.Errorf("side effects %v", res.SideEffects)
	}

	prefs, _ := cc.Mem.GetPreferences(ctx, "u1", 0.5)
	if len(prefs) != 1 || prefs[0].Value != "vim" || prefs[0].Source != memory.SourceExplicit {
		t.Fatalf("preference not stored: %+v", prefs)
	}

	if _, err := r.Dispatch(ctx, "/forget editor", cc); err != nil {
		t.Fatalf("forget: %v", err)
	}
	prefs, _ = cc.Mem.GetPreferences(ctx, "u1", 0)
	if len(prefs) != 0 {
		t.Errorf("preference survived /forget")
	}

	res, _ = r.Dispatch(ctx, "/forget editor", cc)
	if !strings.Contains(res.Content, "don't have") {
		t.Errorf("double forget reply %q", res.Content)
	}
}

func TestRuleCommand(t *testing.T) {
	r, cc := newContext(t)
	ctx := context.Background()

	if _, err := r.Dispatch(ctx, "/rule Morning  Standup => list_tasks", cc); err != nil {
		t.Fatalf("rule: %v", err)
	}
	rules, _ := cc.Mem.Rules(ctx, "u1", 0)
	if len(rules) != 1 || rules[0].Trigger != "morning standup" {
		t.Fatalf("rule not normalized/stored: %+v", rules)
	}

	res, _ := r.Dispatch(ctx, "/rule nonsense", cc)
	if !strings.Contains(res.Content, "Usage") {
		t.Errorf("malformed rule reply %q", res.Content)
	}
}

func TestProjectTaskStatusClear(t *testing.T) {
	r, cc := newContext(t)
	ctx := context.Background()

	r.Dispatch(ctx, "/project Alpha", cc)
	r.Dispatch(ctx, "/task draft launch email", cc)

	res, err := r.Dispatch(ctx, "/tasks", cc)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if !strings.Contains(res.Content, "draft launch email") {
		t.Errorf("tasks listing %q", res.Content)
	}

	res, _ = r.Dispatch(ctx, "/status", cc)
	if !strings.Contains(res.Content, "current_project: Alpha") {
		t.Errorf("status %q", res.Content)
	}

	r.Dispatch(ctx, "/clear", cc)
	res, _ = r.Dispatch(ctx, "/status", cc)
	if !strings.Contains(res.Content, "No active session") {
		t.Errorf("status after clear %q", res.Content)
	}
}

func TestHelpListsEverything(t *testing.T) {
	r, cc := newContext(t)
	res, err := r.Dispatch(context.Background(), "/help", cc)
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, name := range []string{"/remember", "/recall", "/rule", "/tasks", "/clear"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help missing %s", name)
		}
	}
}

func TestIsCommand(t *testing.T) {
	if !IsCommand("  /tasks") {
		t.Error("leading whitespace slash not recognized")
	}
	if IsCommand("list my tasks") {
		t.Error("plain text treated as command")
	}
}
