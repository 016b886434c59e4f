package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/docstore"
	"github.com/quivermind/mnemo/internal/fault"
)

// Rule is one single-action behavioral shortcut keyed by its normalized
// trigger string.
type Rule struct {
	Trigger    string                 `json:"trigger"`
	ActionType string                 `json:"action_type"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Source     string                 `json:"source"`
	Confidence float64                `json:"confidence"`
	TimesUsed  int64                  `json:"times_used"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func ruleFromDoc(d *docstore.Document) *Rule {
	r := &Rule{Trigger: d.Key, UpdatedAt: d.UpdatedAt}
	if v, ok := d.Body["action_type"].(string); ok {
		r.ActionType = v
	}
	if v, ok := d.Body["parameters"].(map[string]interface{}); ok {
		r.Parameters = v
	}
	if v, ok := d.Body["source"].(string); ok {
		r.Source = v
	}
	r.Confidence = asFloat(d.Body["confidence"])
	r.TimesUsed = asInt(d.Body["times_used"])
	return r
}

// RecordRule inserts or updates the single live rule for the normalized
// trigger. The overwrite policy matches preferences.
func (s *Store) RecordRule(ctx context.Context, owner, trigger, actionType string, params map[string]interface{}, source string, confidence float64) error {
	trigger = Normalize(trigger)
	if trigger == "" {
		return fault.Validation("rule trigger must not be empty")
	}
	if actionType == "" {
		return fault.Validation("rule action type must not be empty")
	}
	if confidence < 0 || confidence > 1 {
		return fault.Validation("confidence %v outside [0,1]", confidence)
	}

	existing, err := s.docs.Get(ctx, CollectionRules, owner, trigger)
	if err != nil && !fault.IsAbsent(err) {
		return fmt.Errorf("record rule: %w", err)
	}
	if existing != nil {
		old := ruleFromDoc(existing)
		if !resolveOverwrite(old.Source, old.Confidence, source, confidence) {
			s.logger.Debug("inferred rule update discarded",
				zap.String("owner", owner), zap.String("trigger", trigger))
			return nil
		}
	}

	body := map[string]interface{}{
		"action_type": actionType,
		"source":      source,
		"confidence":  confidence,
		"times_used":  existingUsage(existing),
	}
	if params != nil {
		body["parameters"] = params
	}
	_, err = s.docs.Upsert(ctx, &docstore.Document{
		Collection: CollectionRules,
		OwnerID:    owner,
		Key:        trigger,
		Body:       body,
		Text:       trigger + " " + actionType,
	})
	if err != nil {
		return fmt.Errorf("record rule: %w", err)
	}
	return nil
}

// Rules returns all live rules for the owner, for context assembly. No
// usage side effect.
func (s *Store) Rules(ctx context.Context, owner string, minConfidence float64) ([]*Rule, error) {
	docs, err := s.docs.Find(ctx, docstore.Filter{
		Collection: CollectionRules,
		OwnerID:    owner,
	}, docstore.Sort{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	var rules []*Rule
	for _, d := range docs {
		r := ruleFromDoc(d)
		if r.Confidence >= minConfidence {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// DeleteRule removes the rule for the normalized trigger.
func (s *Store) DeleteRule(ctx context.Context, owner, trigger string) error {
	n, err := s.docs.Delete(ctx, docstore.Filter{
		Collection: CollectionRules,
		OwnerID:    owner,
		Key:        Normalize(trigger),
	})
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// MatchTrigger finds the best rule whose trigger appears in the input and
// bumps its usage counter.
func (s *Store) MatchTrigger(ctx context.Context, owner, input string) (*Rule, error) {
	docs, err := s.docs.Find(ctx, docstore.Filter{
		Collection: CollectionRules,
		OwnerID:    owner,
	}, docstore.Sort{}, 0)
	if err != nil {
		return nil, fmt.Errorf("match trigger: %w", err)
	}
	rules := make([]*Rule, len(docs))
	byTrigger := make(map[string]*docstore.Document, len(docs))
	for i, d := range docs {
		rules[i] = ruleFromDoc(d)
		byTrigger[d.Key] = d
	}

	best := matchTrigger(rules, input)
	if best == nil {
		return nil, fault.ErrNotFound
	}
	if err := s.bumpCounter(ctx, byTrigger[best.Trigger], "times_used"); err != nil {
		s.logger.Warn("rule usage bump failed", zap.String("trigger", best.Trigger), zap.Error(err))
	} else {
		best.TimesUsed++
	}
	return best, nil
}

// StepSpec is one tool invocation inside a workflow template. Captures
// name output fields to expose; bindings reference prior captures as
// "step_id.capture_name".
type StepSpec struct {
	StepID   string            `json:"step_id"`
	ToolName string            `json:"tool_name"`
	Params   map[string]string `json:"params,omitempty"`
	Captures []string          `json:"captures,omitempty"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// WorkflowTemplate is a stored multi-step procedure matched by regex.
type WorkflowTemplate struct {
	Name         string       `json:"name"`
	TriggerRegex string       `json:"trigger_regex"`
	Phases       [][]StepSpec `json:"phases"`
	TimesUsed    int64        `json:"times_used"`
}

// Steps flattens the template's phases in order.
func (t *WorkflowTemplate) Steps() []StepSpec {
	var out []StepSpec
	for _, phase := range t.Phases {
		out = append(out, phase...)
	}
	return out
}

func templateFromDoc(d *docstore.Document) (*WorkflowTemplate, error) {
	raw, ok := d.Body["template"].(string)
	if !ok {
		return nil, fmt.Errorf("template %s: missing payload", d.Key)
	}
	var t WorkflowTemplate
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("template %s: %w", d.Key, err)
	}
	t.TimesUsed = asInt(d.Body["times_used"])
	return &t, nil
}

// RecordTemplate validates and stores a workflow template keyed by name.
// Templates with fewer than two steps are rejected: a single step is a
// direct tool call, not a workflow.
func (s *Store) RecordTemplate(ctx context.Context, owner string, t *WorkflowTemplate) error {
	if t.Name == "" {
		return fault.Validation("template name must not be empty")
	}
	if len(t.Steps()) < 2 {
		return fault.Validation("template %q needs at least two steps", t.Name)
	}
	if _, err := regexp.Compile(t.TriggerRegex); err != nil {
		return fault.Validation("template %q trigger regex: %v", t.Name, err)
	}
	for _, step := range t.Steps() {
		if step.StepID == "" || step.ToolName == "" {
			return fault.Validation("template %q has a step without id or tool", t.Name)
		}
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	existing, err := s.docs.Get(ctx, CollectionTemplates, owner, t.Name)
	if err != nil && !fault.IsAbsent(err) {
		return fmt.Errorf("record template: %w", err)
	}
	_, err = s.docs.Upsert(ctx, &docstore.Document{
		Collection: CollectionTemplates,
		OwnerID:    owner,
		Key:        t.Name,
		Body: map[string]interface{}{
			"template":   string(raw),
			"times_used": existingUsage(existing),
		},
		Text: t.Name + " " + t.TriggerRegex,
	})
	if err != nil {
		return fmt.Errorf("record template: %w", err)
	}
	return nil
}

// FindTemplate matches the input against every live template's trigger
// regex. The longest matched span wins; ties go to the more-used
// template.
func (s *Store) FindTemplate(ctx context.Context, owner, input string) (*WorkflowTemplate, error) {
	docs, err := s.docs.Find(ctx, docstore.Filter{
		Collection: CollectionTemplates,
		OwnerID:    owner,
	}, docstore.Sort{}, 0)
	if err != nil {
		return nil, fmt.Errorf("find template: %w", err)
	}

	var best *WorkflowTemplate
	bestSpan := 0
	for _, d := range docs {
		t, err := templateFromDoc(d)
		if err != nil {
			s.logger.Warn("skipping unreadable template", zap.Error(err))
			continue
		}
		re, err := regexp.Compile(t.TriggerRegex)
		if err != nil {
			continue
		}
		loc := re.FindStringIndex(input)
		if loc == nil {
			continue
		}
		span := loc[1] - loc[0]
		if best == nil || span > bestSpan ||
			(span == bestSpan && t.TimesUsed > best.TimesUsed) {
			best, bestSpan = t, span
		}
	}
	if best == nil {
		return nil, fault.ErrNotFound
	}
	return best, nil
}

// BumpTemplateUsage records one full execution of the template.
func (s *Store) BumpTemplateUsage(ctx context.Context, owner, name string) error {
	d, err := s.docs.Get(ctx, CollectionTemplates, owner, name)
	if err != nil {
		return err
	}
	return s.bumpCounter(ctx, d, "times_used")
}
