package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/memory"
	"github.com/quivermind/mnemo/internal/tool"
)

// Tier-2 shortcuts: common natural-language phrasings rewritten into the
// same store calls the slash commands make, without spending an LLM
// round trip. Patterns are deliberately narrow; anything they do not
// match exactly falls through to the lower tiers.
var (
	rememberRe = regexp.MustCompile(`(?i)^remember that my ([\w ]+?) is ([\w @./:-]+?)[.!]?$`)
	listTasksRe = regexp.MustCompile(`(?i)^(?:list|show)(?: me)?(?: my| all)? (?:open )?tasks[.!?]?$`)
	newProjRe   = regexp.MustCompile(`(?i)^(?:create|start|make)(?: a)?(?: new)? project (?:called |named )?['"]?([\w -]+?)['"]?[.!]?$`)
	whatPrefRe  = regexp.MustCompile(`(?i)^what(?: is|'s) my ([\w ]+?)\??$`)
)

func (r *Router) tryShortcut(ctx context.Context, turn *Turn, out *Outcome) bool {
	start := time.Now()
	input := strings.TrimSpace(turn.Input)

	resolved, detail := false, ""
	switch {
	case rememberRe.MatchString(input):
		m := rememberRe.FindStringSubmatch(input)
		key := memory.Normalize(m[1])
		value := strings.TrimSpace(m[2])
		if err := r.mem.RecordPreference(ctx, turn.Owner, key, value, memory.SourceExplicit, 1.0); err != nil {
			r.logger.Warn("shortcut preference write failed", zap.Error(err))
			out.Reply = userFacing(err)
		} else {
			out.Reply = fmt.Sprintf("Got it. I'll remember your %s is %s.", key, value)
			out.SideEffects = append(out.SideEffects, "preference:"+key)
		}
		resolved, detail = true, "remember "+key

	case listTasksRe.MatchString(input):
		tasks, err := r.entities.ListTasks(ctx, turn.Owner, tool.StatusActive, "")
		if err != nil {
			out.Reply = userFacing(err)
		} else if len(tasks) == 0 {
			out.Reply = "You have no open tasks."
		} else {
			var b strings.Builder
			fmt.Fprintf(&b, "You have %d open tasks:\n", len(tasks))
			for _, t := range tasks {
				fmt.Fprintf(&b, "- %s\n", t.Title)
			}
			out.Reply = strings.TrimRight(b.String(), "\n")
		}
		resolved, detail = true, "list tasks"

	case newProjRe.MatchString(input):
		m := newProjRe.FindStringSubmatch(input)
		name := strings.TrimSpace(m[1])
		proj, err := r.entities.CreateProject(ctx, turn.Owner, name)
		if err != nil {
			out.Reply = userFacing(err)
		} else {
			out.Reply = fmt.Sprintf("Created project %q.", proj.Name)
			out.SideEffects = append(out.SideEffects, "project:"+proj.ID)
		}
		resolved, detail = true, "create project"

	case whatPrefRe.MatchString(input):
		m := whatPrefRe.FindStringSubmatch(input)
		key := memory.Normalize(m[1])
		prefs, err := r.mem.GetPreferences(ctx, turn.Owner, memory.MinContextConfidence)
		if err != nil {
			out.Reply = userFacing(err)
			resolved, detail = true, "what "+key
			break
		}
		for _, p := range prefs {
			if p.Key == key {
				out.Reply = fmt.Sprintf("Your %s is %s.", p.Key, p.Value)
				resolved, detail = true, "what "+key
				break
			}
		}
		// No stored preference under that key: let the LLM answer.
	}

	step := TraceStep{Tier: "shortcut", Resolved: resolved, Detail: detail, Elapsed: time.Since(start)}
	out.Trace = append(out.Trace, step)
	return resolved
}
