// Package assembler composes bounded context blocks from the memory tiers
// and extracts new facts from finished turns.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/memory"
)

// DefaultBudgetChars bounds the rendered context block.
const DefaultBudgetChars = 4000

// Section priorities, highest first. When the render exceeds the budget,
// the lowest-priority section is truncated first; working memory goes
// last.
const (
	priorityWorking = 4
	priorityRules   = 3
	priorityPrefs   = 2
	priorityEvents  = 1
)

// Assembler reads across the tiers and renders one bounded text block per
// turn.
type Assembler struct {
	mem    *memory.Store
	budget int
	recent int
	logger *zap.Logger
}

// New builds an assembler. budgetChars <= 0 takes the default.
func New(mem *memory.Store, budgetChars int, logger *zap.Logger) *Assembler {
	if budgetChars <= 0 {
		budgetChars = DefaultBudgetChars
	}
	return &Assembler{
		mem:    mem,
		budget: budgetChars,
		recent: memory.RecentEpisodics,
		logger: logger,
	}
}

// SetRecent overrides how many recent events go into the block.
func (a *Assembler) SetRecent(n int) {
	if n > 0 {
		a.recent = n
	}
}

type section struct {
	priority int
	title    string
	lines    []string
}

// BuildContext renders working slots, rules, preferences and recent
// events into one block no longer than the budget. Store failures degrade
// to an emptier block, never a failed turn.
func (a *Assembler) BuildContext(ctx context.Context, owner, session string) string {
	var sections []section

	if slots, err := a.mem.WorkingSnapshot(ctx, owner, session); err != nil {
		a.logger.Warn("working tier unavailable", zap.Error(err))
	} else if len(slots) > 0 {
		keys := make([]string, 0, len(slots))
		for k := range slots {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = fmt.Sprintf("- %s: %s", k, slots[k])
		}
		sections = append(sections, section{priorityWorking, "Current context", lines})
	}

	if rules, err := a.mem.Rules(ctx, owner, memory.MinContextConfidence); err != nil {
		a.logger.Warn("rules unavailable", zap.Error(err))
	} else if len(rules) > 0 {
		lines := make([]string, len(rules))
		for i, r := range rules {
			lines[i] = fmt.Sprintf("- when %q: %s", r.Trigger, r.ActionType)
		}
		sections = append(sections, section{priorityRules, "Behavioral rules", lines})
	}

	if prefs, err := a.mem.GetPreferences(ctx, owner, memory.MinContextConfidence); err != nil {
		a.logger.Warn("preferences unavailable", zap.Error(err))
	} else if len(prefs) > 0 {
		lines := make([]string, len(prefs))
		for i, p := range prefs {
			lines[i] = fmt.Sprintf("- %s: %s", p.Key, p.Value)
		}
		sections = append(sections, section{priorityPrefs, "User preferences", lines})
	}

	if events, err := a.mem.History(ctx, owner, nil, nil, "", a.recent); err != nil {
		a.logger.Warn("episodic tier unavailable", zap.Error(err))
	} else if len(events) > 0 {
		lines := make([]string, len(events))
		for i, ev := range events {
			lines[i] = fmt.Sprintf("- [%s] %s", ev.Timestamp.Format("Jan 2 15:04"), ev.Summary)
		}
		sections = append(sections, section{priorityEvents, "Recent activity", lines})
	}

	return render(sections, a.budget)
}

// render assembles sections highest priority first and trims from the
// bottom until the block fits the budget.
func render(sections []section, budget int) string {
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].priority > sections[j].priority
	})

	for {
		var b strings.Builder
		for _, s := range sections {
			if len(s.lines) == 0 {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(s.title)
			b.WriteString(":\n")
			b.WriteString(strings.Join(s.lines, "\n"))
			b.WriteString("\n")
		}
		out := b.String()
		if len(out) <= budget {
			return out
		}
		if !shrink(sections) {
			// Nothing left to drop: hard-cut the remainder.
			return out[:budget]
		}
	}
}

// shrink removes one line from the lowest-priority section that still has
// content. Returns false when every section is empty.
func shrink(sections []section) bool {
	lowest := -1
	for i, s := range sections {
		if len(s.lines) == 0 {
			continue
		}
		if lowest == -1 || s.priority < sections[lowest].priority {
			lowest = i
		}
	}
	if lowest == -1 {
		return false
	}
	s := &sections[lowest]
	s.lines = s.lines[:len(s.lines)-1]
	return true
}
