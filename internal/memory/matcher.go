package memory

import "strings"

// Normalize canonicalizes trigger patterns and cache fingerprints: trim,
// lowercase, collapse runs of whitespace to one space. Idempotent.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// matchTrigger picks the best rule whose trigger is a substring of the
// normalized input. Preference order: higher confidence, then higher
// usage, then longer trigger. Pure function; returns nil when nothing
// matches.
func matchTrigger(rules []*Rule, input string) *Rule {
	norm := Normalize(input)
	var best *Rule
	for _, r := range rules {
		if r.Trigger == "" || !strings.Contains(norm, r.Trigger) {
			continue
		}
		if best == nil || betterMatch(r, best) {
			best = r
		}
	}
	return best
}

func betterMatch(a, b *Rule) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.TimesUsed != b.TimesUsed {
		return a.TimesUsed > b.TimesUsed
	}
	return len(a.Trigger) > len(b.Trigger)
}
