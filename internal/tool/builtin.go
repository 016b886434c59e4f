package tool

import (
	"context"

	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
)

func strArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func floatArg(args map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

func stringSchema(props map[string]string, required ...string) map[string]interface{} {
	fields := make(map[string]interface{}, len(props))
	for name, desc := range props {
		fields[name] = map[string]interface{}{"type": "string", "description": desc}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": fields,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// RegisterBuiltins wires the in-process tool set over the memory tiers
// and the entity layer.
func RegisterBuiltins(r *Registry, mem *memory.Store, entities *Entities) {
	r.Register(Definition{
		Name:        "remember_preference",
		Kind:        KindMemory,
		Description: "Store a user preference. Use source 'explicit' only when the user stated it directly.",
		Parameters: stringSchema(map[string]string{
			"key":    "preference key, e.g. focus_project",
			"value":  "preference value",
			"source": "explicit or inferred",
		}, "key", "value"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		source := strArg(call.Args, "source")
		if source == "" {
			source = memory.SourceInferred
		}
		confidence := floatArg(call.Args, "confidence", 0.7)
		err := mem.RecordPreference(ctx, call.Owner, strArg(call.Args, "key"),
			strArg(call.Args, "value"), source, confidence)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"stored": true}, nil
	})

	r.Register(Definition{
		Name:        "get_preferences",
		Kind:        KindMemory,
		Description: "List the user's stored preferences.",
		Parameters:  stringSchema(nil),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		prefs, err := mem.GetPreferences(ctx, call.Owner, memory.MinContextConfidence)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]interface{}, len(prefs))
		for i, p := range prefs {
			items[i] = map[string]interface{}{
				"key": p.Key, "value": p.Value, "confidence": p.Confidence,
			}
		}
		return map[string]interface{}{"preferences": items}, nil
	})

	r.Register(Definition{
		Name:        "record_rule",
		Kind:        KindMemory,
		Description: "Store a behavioral rule: when the trigger phrase appears, run the action.",
		Parameters: stringSchema(map[string]string{
			"trigger": "phrase that activates the rule",
			"action":  "action to run",
		}, "trigger", "action"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		err := mem.RecordRule(ctx, call.Owner, strArg(call.Args, "trigger"),
			strArg(call.Args, "action"), nil, memory.SourceInferred,
			floatArg(call.Args, "confidence", 0.7))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"stored": true}, nil
	})

	r.Register(Definition{
		Name:        "search_history",
		Kind:        KindMemory,
		Description: "Search past events by meaning and keywords.",
		Parameters:  stringSchema(map[string]string{"query": "what to look for"}, "query"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		hits, err := mem.SearchEvents(ctx, call.Owner, strArg(call.Args, "query"), 10)
		if err != nil {
			return nil, err
		}
		items := make([]interface{}, len(hits))
		for i, h := range hits {
			items[i] = map[string]interface{}{
				"id": h.Event.ID, "score": h.Score, "summary": h.Event.Summary,
				"timestamp": h.Event.Timestamp,
			}
		}
		return map[string]interface{}{"hits": items}, nil
	})

	r.Register(Definition{
		Name:        "recall_events",
		Kind:        KindMemory,
		Description: "List recent events, optionally filtered by action type.",
		Parameters:  stringSchema(map[string]string{"action_type": "optional event type filter"}),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		events, err := mem.History(ctx, call.Owner, nil, nil,
			strArg(call.Args, "action_type"), 20)
		if err != nil {
			return nil, err
		}
		items := make([]map[string]interface{}, len(events))
		for i, ev := range events {
			items[i] = map[string]interface{}{
				"id": ev.ID, "action_type": ev.ActionType,
				"summary": ev.Summary, "timestamp": ev.Timestamp,
			}
		}
		return map[string]interface{}{"events": items}, nil
	})

	r.Register(Definition{
		Name:        "knowledge_lookup",
		Kind:        KindKnowledge,
		Description: "Check the knowledge cache before fetching externally.",
		Parameters:  stringSchema(map[string]string{"query": "the question"}, "query"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		hit, err := mem.CacheLookup(ctx, call.Owner, strArg(call.Args, "query"))
		if err != nil {
			if fault.IsAbsent(err) {
				return map[string]interface{}{"hit": false}, nil
			}
			return nil, err
		}
		return map[string]interface{}{"hit": true, "summary": hit.Summary}, nil
	})

	r.Register(Definition{
		Name:        "knowledge_store",
		Kind:        KindKnowledge,
		Description: "Cache an externally fetched answer for reuse.",
		Parameters: stringSchema(map[string]string{
			"query":   "the question as asked",
			"summary": "the answer to cache",
		}, "query", "summary"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		err := mem.CacheStore(ctx, call.Owner, strArg(call.Args, "query"),
			strArg(call.Args, "summary"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"stored": true}, nil
	})

	r.Register(Definition{
		Name:        "create_project",
		Kind:        KindEntity,
		Description: "Create a new project.",
		Parameters:  stringSchema(map[string]string{"name": "project name"}, "name"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		p, err := entities.CreateProject(ctx, call.Owner, strArg(call.Args, "name"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"project_id": p.ID, "name": p.Name}, nil
	})

	r.Register(Definition{
		Name:        "create_task",
		Kind:        KindEntity,
		Description: "Create a task, optionally inside a project.",
		Parameters: stringSchema(map[string]string{
			"title":   "task title",
			"project": "optional project id",
		}, "title"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		t, err := entities.CreateTask(ctx, call.Owner,
			strArg(call.Args, "project"), strArg(call.Args, "title"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"task_id": t.ID, "title": t.Title}, nil
	})

	r.Register(Definition{
		Name:        "complete_task",
		Kind:        KindEntity,
		Description: "Mark a task as done.",
		Parameters:  stringSchema(map[string]string{"task_id": "id of the task"}, "task_id"),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		t, err := entities.CompleteTask(ctx, call.Owner, strArg(call.Args, "task_id"))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"task_id": t.ID, "status": t.Status}, nil
	})

	r.Register(Definition{
		Name:        "list_tasks",
		Kind:        KindEntity,
		Description: "List tasks, optionally filtered by status or project.",
		Parameters: stringSchema(map[string]string{
			"status":  "optional: active or done",
			"project": "optional project id",
		}),
	}, func(ctx context.Context, call Call) (map[string]interface{}, error) {
		tasks, err := entities.ListTasks(ctx, call.Owner,
			strArg(call.Args, "status"), strArg(call.Args, "project"))
		if err != nil {
			return nil, err
		}
		items := make([]interface{}, len(tasks))
		for i, t := range tasks {
			items[i] = map[string]interface{}{
				"id": t.ID, "title": t.Title, "status": t.Status,
				"project_id": t.ProjectID,
			}
		}
		return map[string]interface{}{"tasks": items, "count": len(tasks)}, nil
	})
}

// TurnExecutor adapts a registry to the workflow orchestrator's Executor
// for one turn's owner and session.
type TurnExecutor struct {
	Registry *Registry
	Owner    string
	Session  string
}

func (e *TurnExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}) (map[string]interface{}, error) {
	return e.Registry.Execute(ctx, toolName, Call{
		Owner:   e.Owner,
		Session: e.Session,
		Args:    params,
	})
}
