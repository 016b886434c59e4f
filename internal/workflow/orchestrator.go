// Package workflow sequences the steps of a matched procedural template,
// threading captured outputs from one step into the next.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
)

// StepStatus tracks execution state of one step.
type StepStatus string

const (
	StepSucceeded    StepStatus = "succeeded"
	StepFailed       StepStatus = "failed"
	StepNotAttempted StepStatus = "not_attempted"
)

// Executor runs one tool call on behalf of a step.
type Executor interface {
	Execute(ctx context.Context, toolName string, params map[string]interface{}) (map[string]interface{}, error)
}

// StepResult records the outcome of one step.
type StepResult struct {
	StepID   string                 `json:"step_id"`
	ToolName string                 `json:"tool_name"`
	Status   StepStatus             `json:"status"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Elapsed  time.Duration          `json:"elapsed"`
}

// Report is the full outcome of a template execution. Side effects of
// succeeded steps are never rolled back; a failure halts further steps
// and the report says exactly which ones ran.
type Report struct {
	Template  string       `json:"template"`
	Steps     []StepResult `json:"steps"`
	Completed bool         `json:"completed"`
}

// Succeeded returns the indices of steps that completed.
func (r *Report) Succeeded() []int {
	var out []int
	for i, s := range r.Steps {
		if s.Status == StepSucceeded {
			out = append(out, i)
		}
	}
	return out
}

// FailedIndex returns the index of the failed step, or -1.
func (r *Report) FailedIndex() int {
	for i, s := range r.Steps {
		if s.Status == StepFailed {
			return i
		}
	}
	return -1
}

// Orchestrator executes workflow templates forward-only.
type Orchestrator struct {
	exec   Executor
	logger *zap.Logger
}

func New(exec Executor, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{exec: exec, logger: logger}
}

// Execute runs the template's steps in order. initial seeds the capture
// space for bindings that reference turn-level values (e.g. "input.text").
// Templates below two steps are rejected before anything runs.
//
// A step failure stops the run immediately. Prior steps committed real
// side effects and stay committed; the report lists succeeded, failed and
// not-attempted steps so the caller can tell the user precisely what
// happened.
func (o *Orchestrator) Execute(ctx context.Context, t *memory.WorkflowTemplate, initial map[string]string) (*Report, error) {
	steps := t.Steps()
	if len(steps) < 2 {
		return nil, fault.Validation("template %q has %d steps, workflows need at least two", t.Name, len(steps))
	}

	captures := make(map[string]string, len(initial))
	for k, v := range initial {
		captures[k] = v
	}

	report := &Report{Template: t.Name, Steps: make([]StepResult, len(steps))}
	for i, step := range steps {
		report.Steps[i] = StepResult{StepID: step.StepID, ToolName: step.ToolName, Status: StepNotAttempted}
	}

	for i, step := range steps {
		params, err := bindParams(step, captures)
		if err != nil {
			report.Steps[i].Status = StepFailed
			report.Steps[i].Error = err.Error()
			return report, err
		}

		o.logger.Debug("executing step",
			zap.String("template", t.Name),
			zap.String("step", step.StepID),
			zap.String("tool", step.ToolName))

		start := time.Now()
		out, err := o.exec.Execute(ctx, step.ToolName, params)
		report.Steps[i].Elapsed = time.Since(start)

		if err != nil {
			report.Steps[i].Status = StepFailed
			report.Steps[i].Error = err.Error()
			o.logger.Warn("step failed, halting workflow",
				zap.String("template", t.Name),
				zap.String("step", step.StepID),
				zap.Error(err))
			return report, &fault.ExternalError{Tool: step.ToolName, Err: err}
		}

		report.Steps[i].Status = StepSucceeded
		report.Steps[i].Output = out
		for _, name := range step.Captures {
			v, ok := out[name]
			if !ok {
				o.logger.Warn("declared capture missing from output",
					zap.String("step", step.StepID),
					zap.String("capture", name))
				continue
			}
			captures[step.StepID+"."+name] = fmt.Sprint(v)
		}
	}

	report.Completed = true
	return report, nil
}

// bindParams resolves a step's inputs: static params first, then bindings
// that pull prior captures by "step_id.capture_name". A binding naming a
// capture that does not exist is an error, not an empty string.
func bindParams(step memory.StepSpec, captures map[string]string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(step.Params)+len(step.Bindings))
	for k, v := range step.Params {
		params[k] = v
	}
	for param, ref := range step.Bindings {
		v, ok := captures[ref]
		if !ok {
			return nil, fault.Validation("step %s binds %s to unknown capture %q", step.StepID, param, ref)
		}
		params[param] = v
	}
	return params, nil
}

// Describe renders a report as the user-facing partial-completion line.
func Describe(r *Report) string {
	if r.Completed {
		return fmt.Sprintf("Workflow %s completed: all %d steps succeeded.", r.Template, len(r.Steps))
	}
	var done, failed []string
	notRun := 0
	for i, s := range r.Steps {
		switch s.Status {
		case StepSucceeded:
			done = append(done, fmt.Sprint(i+1))
		case StepFailed:
			failed = append(failed, fmt.Sprintf("%d (%s)", i+1, s.ToolName))
		default:
			notRun++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "That action partially completed: ")
	if len(done) > 0 {
		fmt.Fprintf(&b, "steps %s succeeded, ", strings.Join(done, ", "))
	}
	fmt.Fprintf(&b, "step %s failed", strings.Join(failed, ", "))
	if notRun > 0 {
		fmt.Fprintf(&b, ", %d not attempted", notRun)
	}
	b.WriteString(".")
	return b.String()
}
