package tool

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/ttlstore"
)

func newRegistry(t *testing.T) (*Registry, *Entities) {
	t.Helper()
	docs := docstore.NewMemory()
	mem := memory.NewStore(docs, ttlstore.NewMemory(), nil, zap.NewNop())
	entities := NewEntities(docs)
	r := NewRegistry()
	RegisterBuiltins(r, mem, entities)
	return r, entities
}

func TestRegistryUnknownTool(t *testing.T) {
	r, _ := newRegistry(t)
	if _, err := r.Execute(context.Background(), "launch_rockets", Call{Owner: "u1"}); err == nil {
		t.Fatal("unknown tool did not error")
	}
}

func TestDefinitionsOrderedAndComplete(t *testing.T) {
	r, _ := newRegistry(t)
	defs := r.Definitions()
	if len(defs) < 10 {
		t.Fatalf("only %d tool definitions registered", len(defs))
	}
	if defs[0].Function.Name != "remember_preference" {
		t.Errorf("registration order lost: first is %s", defs[0].Function.Name)
	}
	for _, d := range defs {
		if d.Function.Description == "" {
			t.Errorf("tool %s has no description", d.Function.Name)
		}
	}
}

func TestProjectTaskLifecycleViaTools(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	call := func(name string, args map[string]interface{}) map[string]interface{} {
		t.Helper()
		out, err := r.Execute(ctx, name, Call{Owner: "u1", Session: "s1", Args: args})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return out
	}

	proj := call("create_project", map[string]interface{}{"name": "Alpha"})
	projectID := proj["project_id"].(string)

	task := call("create_task", map[string]interface{}{
		"title": "write docs", "project": projectID})
	taskID := task["task_id"].(string)

	out := call("list_tasks", map[string]interface{}{"status": StatusActive})
	if out["count"] != 1 {
		t.Fatalf("count %v, want 1", out["count"])
	}

	done := call("complete_task", map[string]interface{}{"task_id": taskID})
	if done["status"] != StatusDone {
		t.Errorf("status %v", done["status"])
	}

	out = call("list_tasks", map[string]interface{}{"status": StatusActive})
	if out["count"] != 0 {
		t.Errorf("completed task still listed active")
	}
}

func TestCompleteTaskMissing(t *testing.T) {
	_, entities := newRegistry(t)
	_, err := entities.CompleteTask(context.Background(), "u1", "no-such-task")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryToolsRoundTrip(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Execute(ctx, "remember_preference", Call{Owner: "u1", Args: map[string]interface{}{
		"key": "tone", "value": "concise", "source": "explicit", "confidence": 0.9,
	}})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	out, err := r.Execute(ctx, "get_preferences", Call{Owner: "u1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	prefs := out["preferences"].([]map[string]interface{})
	if len(prefs) != 1 || prefs[0]["value"] != "concise" {
		t.Errorf("preferences %v", prefs)
	}

	// Owner scoping: another owner sees nothing.
	out, _ = r.Execute(ctx, "get_preferences", Call{Owner: "u2"})
	if prefs := out["preferences"].([]map[string]interface{}); len(prefs) != 0 {
		t.Errorf("preferences leaked across owners")
	}
}

func TestKnowledgeToolsMissThenHit(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "knowledge_lookup", Call{Owner: "u1", Args: map[string]interface{}{
		"query": "capital of france"}})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if out["hit"] != false {
		t.Errorf("cold cache reported a hit")
	}

	if _, err := r.Execute(ctx, "knowledge_store", Call{Owner: "u1", Args: map[string]interface{}{
		"query": "capital of france", "summary": "Paris"}}); err != nil {
		t.Fatalf("store: %v", err)
	}

	out, _ = r.Execute(ctx, "knowledge_lookup", Call{Owner: "u1", Args: map[string]interface{}{
		"query": "capital of france"}})
	if out["hit"] != true || out["summary"] != "Paris" {
		t.Errorf("warm cache: %v", out)
	}
}
