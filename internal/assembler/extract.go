package assembler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
)

// Action is one side effect the assistant performed during the turn.
type Action struct {
	Type       string                 `json:"type"`
	EntityType string                 `json:"entity_type,omitempty"`
	Summary    string                 `json:"summary"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// PreferenceUpdate is one fact to merge into the semantic tier.
type PreferenceUpdate struct {
	Key        string
	Value      string
	Source     string
	Confidence float64
}

// RuleUpdate is one shortcut to merge into the procedural tier.
type RuleUpdate struct {
	Trigger    string
	ActionType string
	Source     string
	Confidence float64
}

// Updates is everything a finished turn writes back into memory.
type Updates struct {
	Preferences []PreferenceUpdate
	Rules       []RuleUpdate
	Events      []*memory.EpisodicEvent
	Working     map[string]string
}

// Statement patterns recognized by extraction. Inferred confidence sits
// below the explicit-guard threshold so stated facts keep winning.
var (
	preferRe   = regexp.MustCompile(`(?i)\bi (?:prefer|like|want) (?:to use |using )?([\w .\-]+?)(?: for ([\w .\-]+?))?(?:[.,!]|$)`)
	callMeRe   = regexp.MustCompile(`(?i)\bcall me ([\w\-]+)`)
	favoriteRe = regexp.MustCompile(`(?i)\bmy (?:favourite|favorite) ([\w ]+?) is ([\w .\-]+?)(?:[.,!]|$)`)
	wheneverRe = regexp.MustCompile(`(?i)\bwhen(?:ever)? i say ['"]?([\w ]+?)['"]?, ([\w ]+?)(?:[.!]|$)`)
	focusRe    = regexp.MustCompile(`(?i)\b(?:working|focus(?:ing)?) on (?:the )?([\w .\-]+?)(?: project)?(?:[.,!]|$)`)
)

const inferredConfidence = 0.6

// Extract parses a finished turn into tier updates. Pure function: it
// never touches the stores and runs after the LLM loop, never inside it.
func Extract(owner, session, userText string, actions []Action) *Updates {
	u := &Updates{Working: map[string]string{}}

	if m := callMeRe.FindStringSubmatch(userText); m != nil {
		u.Preferences = append(u.Preferences, PreferenceUpdate{
			Key: "preferred_name", Value: m[1],
			Source: memory.SourceExplicit, Confidence: 0.9,
		})
	}
	if m := favoriteRe.FindStringSubmatch(userText); m != nil {
		u.Preferences = append(u.Preferences, PreferenceUpdate{
			Key:    "favorite_" + strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"),
			Value:  strings.TrimSpace(m[2]),
			Source: memory.SourceExplicit, Confidence: 0.9,
		})
	}
	if m := preferRe.FindStringSubmatch(userText); m != nil {
		key := "general_preference"
		if m[2] != "" {
			key = strings.ReplaceAll(strings.TrimSpace(m[2]), " ", "_")
		}
		u.Preferences = append(u.Preferences, PreferenceUpdate{
			Key: key, Value: strings.TrimSpace(m[1]),
			Source: memory.SourceInferred, Confidence: inferredConfidence,
		})
	}
	if m := wheneverRe.FindStringSubmatch(userText); m != nil {
		u.Rules = append(u.Rules, RuleUpdate{
			Trigger: m[1], ActionType: strings.TrimSpace(m[2]),
			Source: memory.SourceExplicit, Confidence: 0.9,
		})
	}
	if m := focusRe.FindStringSubmatch(userText); m != nil {
		u.Working["current_project"] = strings.TrimSpace(m[1])
	}

	for _, act := range actions {
		u.Events = append(u.Events, &memory.EpisodicEvent{
			OwnerID:       owner,
			SessionID:     session,
			ActionType:    act.Type,
			EntityType:    act.EntityType,
			EntityPayload: act.Payload,
			Summary:       act.Summary,
		})
		switch act.Type {
		case "create_project":
			if name, ok := act.Payload["name"].(string); ok {
				u.Working[memory.SlotCurrentProject] = name
			}
		case "create_task":
			if title, ok := act.Payload["title"].(string); ok {
				u.Working[memory.SlotCurrentTask] = title
			}
		}
		u.Working[memory.SlotLastAction] = act.Type
	}

	return u
}

// Apply writes extracted updates into the tiers. A persistent conflict on
// one learned fact skips that fact and keeps going; the turn itself
// already completed.
func (a *Assembler) Apply(ctx context.Context, owner, session string, u *Updates) error {
	var firstErr error
	keep := func(err error, what string) {
		if err == nil {
			return
		}
		if errors.Is(err, fault.ErrConflict) {
			a.logger.Warn("learned-fact write lost its race, skipping",
				zap.String("what", what))
			return
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", what, err)
		}
	}

	for _, p := range u.Preferences {
		keep(a.mem.RecordPreference(ctx, owner, p.Key, p.Value, p.Source, p.Confidence), "preference "+p.Key)
	}
	for _, r := range u.Rules {
		keep(a.mem.RecordRule(ctx, owner, r.Trigger, r.ActionType, nil, r.Source, r.Confidence), "rule "+r.Trigger)
	}
	for _, ev := range u.Events {
		keep(a.mem.RecordEvent(ctx, ev), "event "+ev.ActionType)
	}
	for slot, value := range u.Working {
		keep(a.mem.SetWorking(ctx, owner, session, slot, value), "working "+slot)
	}
	return firstErr
}
