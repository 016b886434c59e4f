package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
	"github.com/quivermind/mnemo/internal/memory"
)

// scriptedExecutor records calls and fails on command.
type scriptedExecutor struct {
	calls   []string
	params  []map[string]interface{}
	failOn  string
	outputs map[string]map[string]interface{}
}

func (e *scriptedExecutor) Execute(_ context.Context, tool string, params map[string]interface{}) (map[string]interface{}, error) {
	e.calls = append(e.calls, tool)
	e.params = append(e.params, params)
	if tool == e.failOn {
		return nil, errors.New("tool exploded")
	}
	if out, ok := e.outputs[tool]; ok {
		return out, nil
	}
	return map[string]interface{}{}, nil
}

func threeStepTemplate() *memory.WorkflowTemplate {
	return &memory.WorkflowTemplate{
		Name:         "project_setup",
		TriggerRegex: "new project",
		Phases: [][]memory.StepSpec{{
			{StepID: "proj", ToolName: "create_project",
				Params:   map[string]string{"name": "Beta"},
				Captures: []string{"project_id"}},
			{StepID: "task", ToolName: "create_task",
				Bindings: map[string]string{"project": "proj.project_id"},
				Captures: []string{"task_id"}},
			{StepID: "note", ToolName: "record_note",
				Bindings: map[string]string{"task": "task.task_id"}},
		}},
	}
}

func TestExecuteThreadsCaptures(t *testing.T) {
	exec := &scriptedExecutor{outputs: map[string]map[string]interface{}{
		"create_project": {"project_id": "p-42"},
		"create_task":    {"task_id": "t-7"},
	}}
	o := New(exec, zap.NewNop())

	report, err := o.Execute(context.Background(), threeStepTemplate(), nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !report.Completed {
		t.Errorf("report not completed: %+v", report)
	}

	if exec.params[1]["project"] != "p-42" {
		t.Errorf("step 2 binding %v, want p-42", exec.params[1]["project"])
	}
	if exec.params[2]["task"] != "t-7" {
		t.Errorf("step 3 binding %v, want t-7", exec.params[2]["task"])
	}
}

func TestExecutePartialFailure(t *testing.T) {
	exec := &scriptedExecutor{
		failOn: "create_task",
		outputs: map[string]map[string]interface{}{
			"create_project": {"project_id": "p-42"},
		},
	}
	o := New(exec, zap.NewNop())

	report, err := o.Execute(context.Background(), threeStepTemplate(), nil)
	if err == nil {
		t.Fatal("expected error from failed step")
	}
	var ext *fault.ExternalError
	if !errors.As(err, &ext) || ext.Tool != "create_task" {
		t.Errorf("error %v, want ExternalError for create_task", err)
	}

	if report.Steps[0].Status != StepSucceeded {
		t.Errorf("step 1 %s, want succeeded", report.Steps[0].Status)
	}
	if report.Steps[1].Status != StepFailed || report.Steps[1].Error == "" {
		t.Errorf("step 2 %+v, want failed with error", report.Steps[1])
	}
	if report.Steps[2].Status != StepNotAttempted {
		t.Errorf("step 3 %s, want not attempted", report.Steps[2].Status)
	}

	// Step 1's side effect already happened and stays visible.
	if len(exec.calls) != 2 {
		t.Errorf("calls %v: failed workflow must not reach later steps", exec.calls)
	}

	msg := Describe(report)
	if !strings.Contains(msg, "steps 1 succeeded") || !strings.Contains(msg, "step 2 (create_task) failed") {
		t.Errorf("describe %q", msg)
	}
}

func TestExecuteRejectsShortTemplates(t *testing.T) {
	o := New(&scriptedExecutor{}, zap.NewNop())
	single := &memory.WorkflowTemplate{
		Name:   "solo",
		Phases: [][]memory.StepSpec{{{StepID: "a", ToolName: "create_task"}}},
	}
	if _, err := o.Execute(context.Background(), single, nil); !errors.Is(err, fault.ErrValidation) {
		t.Errorf("single step: got %v, want ErrValidation", err)
	}
}

func TestExecuteUnknownBindingFails(t *testing.T) {
	tmpl := &memory.WorkflowTemplate{
		Name: "broken",
		Phases: [][]memory.StepSpec{{
			{StepID: "a", ToolName: "create_project"},
			{StepID: "b", ToolName: "create_task",
				Bindings: map[string]string{"project": "a.missing_capture"}},
		}},
	}
	exec := &scriptedExecutor{}
	o := New(exec, zap.NewNop())

	report, err := o.Execute(context.Background(), tmpl, nil)
	if !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if report.Steps[1].Status != StepFailed {
		t.Errorf("binding failure not reported on step 2")
	}
	if len(exec.calls) != 1 {
		t.Errorf("step 2 tool ran despite unresolved binding")
	}
}

func TestExecuteSeedsInitialCaptures(t *testing.T) {
	tmpl := &memory.WorkflowTemplate{
		Name: "seeded",
		Phases: [][]memory.StepSpec{{
			{StepID: "a", ToolName: "create_project",
				Bindings: map[string]string{"name": "input.text"}},
			{StepID: "b", ToolName: "create_task",
				Params: map[string]string{"title": "kickoff"}},
		}},
	}
	exec := &scriptedExecutor{}
	o := New(exec, zap.NewNop())

	_, err := o.Execute(context.Background(), tmpl, map[string]string{"input.text": "Gamma"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.params[0]["name"] != "Gamma" {
		t.Errorf("initial capture not bound: %v", exec.params[0])
	}
}
