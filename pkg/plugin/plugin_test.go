package plugin

import (
	"context"
	"testing"

	"github.com/antcode/antcode/pkg/runtime"
	"github.com/antcode/antcode/pkg/types"
)

func testRunCtx() RunContext {
	return RunContext{
		TimeoutSeconds:  60,
		GracePeriod:     5,
		MemoryLimitMB:   0,
		CPULimitSeconds: 0,
		Runtime: runtime.Handle{
			Path:             "/venvs/abc",
			PythonExecutable: "/venvs/abc/bin/python",
		},
	}
}

func TestRegistryResolvesFirstMatchInPriorityOrder(t *testing.T) {
	r := NewDefaultRegistry()

	plugin, err := r.Resolve(TaskPayload{ProjectType: types.ProjectTypeRule})
	if err != nil {
		t.Fatal(err)
	}
	if plugin.Name() != "rule" {
		t.Fatalf("expected rule plugin, got %s", plugin.Name())
	}

	plugin, err = r.Resolve(TaskPayload{ProjectType: types.ProjectTypeCode})
	if err != nil {
		t.Fatal(err)
	}
	if plugin.Name() != "code" {
		t.Fatalf("expected code plugin, got %s", plugin.Name())
	}
}

func TestRegistryResolveUnmatchedProjectTypeErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCodePlugin())

	_, err := r.Resolve(TaskPayload{ProjectType: types.ProjectTypeRender})
	if err == nil {
		t.Fatal("expected an error when no plugin claims the project type")
	}
}

func TestRegistryValidatePayloadCatchesMissingRequiredFields(t *testing.T) {
	r := NewRegistry()

	errs := r.ValidatePayload(TaskPayload{})
	if len(errs) == 0 {
		t.Fatal("expected validation errors for an empty payload")
	}
}

func TestRegistryBuildPlanRejectsInvalidPayload(t *testing.T) {
	r := NewDefaultRegistry()
	payload := TaskPayload{
		RunID:       "run-1",
		TaskID:      "task-1",
		ProjectID:   "proj-1",
		ProjectType: types.ProjectTypeCode,
		ProjectPath: "/work/proj-1",
		EntryPoint:  "", // missing, should fail both struct-tag and plugin validation
	}

	_, err := r.BuildPlan(context.Background(), testRunCtx(), payload)
	if err == nil {
		t.Fatal("expected BuildPlan to reject a payload missing entry_point")
	}
}

func TestRegistryBuildPlanSucceedsForValidCodePayload(t *testing.T) {
	r := NewDefaultRegistry()
	payload := TaskPayload{
		RunID:       "run-2",
		TaskID:      "task-2",
		ProjectID:   "proj-2",
		ProjectType: types.ProjectTypeCode,
		ProjectPath: "/work/proj-2",
		EntryPoint:  "main.py",
	}

	plan, err := r.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Command != "/venvs/abc/bin/python" {
		t.Fatalf("expected plan to invoke the prepared runtime's interpreter, got %s", plan.Command)
	}
	if len(plan.Args) == 0 || plan.Args[0] != "main.py" {
		t.Fatalf("expected entry_point as the first arg, got %v", plan.Args)
	}
}
