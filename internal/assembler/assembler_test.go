package assembler

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/ttlstore"
)

func newTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	return memory.NewStore(docstore.NewMemory(), ttlstore.NewMemory(), nil, zap.NewNop())
}

func seed(t *testing.T, mem *memory.Store) {
	t.Helper()
	ctx := context.Background()
	mem.SetWorking(ctx, "u1", "s1", memory.SlotCurrentProject, "Alpha")
	mem.SetWorking(ctx, "u1", "s1", memory.SlotCurrentTask, "write launch notes")
	mem.RecordPreference(ctx, "u1", "tone", "concise", memory.SourceExplicit, 0.9)
	mem.RecordPreference(ctx, "u1", "uncertain", "ignored", memory.SourceInferred, 0.3)
	mem.RecordRule(ctx, "u1", "standup", "list_tasks", nil, memory.SourceExplicit, 0.8)
	for i := 0; i < 8; i++ {
		mem.RecordEvent(ctx, &memory.EpisodicEvent{
			OwnerID: "u1", SessionID: "s1", ActionType: "note",
			Summary: "did a thing number " + string(rune('0'+i)),
		})
	}
}

func TestBuildContextContents(t *testing.T) {
	mem := newTestMemory(t)
	seed(t, mem)
	a := New(mem, 0, zap.NewNop())

	block := a.BuildContext(context.Background(), "u1", "s1")

	for _, want := range []string{"current_project: Alpha", "tone: concise", `when "standup"`} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
	if strings.Contains(block, "uncertain") {
		t.Errorf("low-confidence preference leaked into context")
	}

	// Only the most recent events make it in.
	if got := strings.Count(block, "did a thing"); got != memory.RecentEpisodics {
		t.Errorf("%d episodic lines, want %d", got, memory.RecentEpisodics)
	}
}

func TestBuildContextNeverExceedsBudget(t *testing.T) {
	mem := newTestMemory(t)
	seed(t, mem)

	for _, budget := range []int{80, 200, 500, 4000} {
		a := New(mem, budget, zap.NewNop())
		block := a.BuildContext(context.Background(), "u1", "s1")
		if len(block) > budget {
			t.Errorf("budget %d exceeded: %d chars", budget, len(block))
		}
	}
}

func TestBuildContextDropsEpisodicBeforeWorking(t *testing.T) {
	mem := newTestMemory(t)
	seed(t, mem)

	// Tight budget forces truncation. Working content must survive it.
	a := New(mem, 120, zap.NewNop())
	block := a.BuildContext(context.Background(), "u1", "s1")

	if !strings.Contains(block, "current_project: Alpha") {
		t.Errorf("working memory dropped before lower-priority sections:\n%s", block)
	}
	if strings.Contains(block, "did a thing number 7") && !strings.Contains(block, "tone: concise") {
		t.Errorf("episodic retained while preferences truncated")
	}
}

func TestExtractStatements(t *testing.T) {
	u := Extract("u1", "s1", "Call me Sam. My favorite editor is vim. Whenever I say wrap up, summarize today.", nil)

	byKey := map[string]PreferenceUpdate{}
	for _, p := range u.Preferences {
		byKey[p.Key] = p
	}
	if p, ok := byKey["preferred_name"]; !ok || p.Value != "Sam" || p.Source != memory.SourceExplicit {
		t.Errorf("preferred_name: %+v", byKey["preferred_name"])
	}
	if p, ok := byKey["favorite_editor"]; !ok || p.Value != "vim" {
		t.Errorf("favorite_editor: %+v", byKey["favorite_editor"])
	}

	if len(u.Rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(u.Rules))
	}
	if u.Rules[0].Trigger != "wrap up" || u.Rules[0].ActionType != "summarize today" {
		t.Errorf("rule %+v", u.Rules[0])
	}
}

func TestExtractActionsFeedWorkingAndEpisodic(t *testing.T) {
	actions := []Action{
		{Type: "create_project", Summary: "created project Beta",
			Payload: map[string]interface{}{"name": "Beta"}},
		{Type: "create_task", Summary: "created task draft plan",
			Payload: map[string]interface{}{"title": "draft plan"}},
	}
	u := Extract("u1", "s1", "set up a new project", actions)

	if len(u.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(u.Events))
	}
	if u.Working[memory.SlotCurrentProject] != "Beta" {
		t.Errorf("current_project %q", u.Working[memory.SlotCurrentProject])
	}
	if u.Working[memory.SlotCurrentTask] != "draft plan" {
		t.Errorf("current_task %q", u.Working[memory.SlotCurrentTask])
	}
	if u.Working[memory.SlotLastAction] != "create_task" {
		t.Errorf("last_action %q", u.Working[memory.SlotLastAction])
	}
}

func TestApplyWritesThroughToTiers(t *testing.T) {
	mem := newTestMemory(t)
	a := New(mem, 0, zap.NewNop())
	ctx := context.Background()

	u := Extract("u1", "s1", "call me Sam", []Action{
		{Type: "create_task", Summary: "created task t1",
			Payload: map[string]interface{}{"title": "t1"}},
	})
	if err := a.Apply(ctx, "u1", "s1", u); err != nil {
		t.Fatalf("apply: %v", err)
	}

	prefs, _ := mem.GetPreferences(ctx, "u1", 0.5)
	if len(prefs) != 1 || prefs[0].Value != "Sam" {
		t.Errorf("preference not applied: %+v", prefs)
	}
	events, _ := mem.History(ctx, "u1", nil, nil, "", 10)
	if len(events) != 1 {
		t.Errorf("event not applied: %d", len(events))
	}
	if v, err := mem.GetWorking(ctx, "u1", "s1", memory.SlotCurrentTask); err != nil || v != "t1" {
		t.Errorf("working not applied: %q, %v", v, err)
	}
}

func TestCompressToolResultList(t *testing.T) {
	items := make([]interface{}, 25)
	for i := range items {
		status := "open"
		if i%3 == 0 {
			status = "done"
		}
		items[i] = map[string]interface{}{"id": i, "status": status}
	}

	out, ok := CompressToolResult(items).(map[string]interface{})
	if !ok {
		t.Fatalf("large list not compressed")
	}
	if out["total_count"] != 25 {
		t.Errorf("total_count %v", out["total_count"])
	}
	if s := out["grouped_summary"].(string); !strings.Contains(s, "open:") || !strings.Contains(s, "done:") {
		t.Errorf("grouped_summary %q", s)
	}
	if top := out["top_items"].([]interface{}); len(top) != topKItems {
		t.Errorf("top_items %d, want %d", len(top), topKItems)
	}
}

func TestCompressToolResultSmallListUntouched(t *testing.T) {
	items := []interface{}{map[string]interface{}{"id": 1}}
	if _, ok := CompressToolResult(items).([]interface{}); !ok {
		t.Errorf("small list should pass through")
	}
}

func TestCompressSearchHits(t *testing.T) {
	in := map[string]interface{}{
		"hits": []interface{}{
			map[string]interface{}{"id": "a", "score": 0.9, "title": "x",
				"giant_body": strings.Repeat("z", 10000)},
		},
	}
	out := CompressToolResult(in).(map[string]interface{})
	hits := out["hits"].([]map[string]interface{})
	if len(hits) != 1 {
		t.Fatalf("hits %d", len(hits))
	}
	if _, ok := hits[0]["giant_body"]; ok {
		t.Errorf("payload field survived compression")
	}
	if hits[0]["id"] != "a" || hits[0]["score"] != 0.9 {
		t.Errorf("identifying fields lost: %+v", hits[0])
	}
}
