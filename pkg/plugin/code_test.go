package plugin

import (
	"context"
	"testing"

	"github.com/antcode/antcode/pkg/types"
)

func TestCodePluginValidateRejectsNonPyEntryPoint(t *testing.T) {
	cp := NewCodePlugin()
	errs := cp.Validate(TaskPayload{EntryPoint: "main.sh"})
	if len(errs) == 0 {
		t.Fatal("expected a validation error for a non-.py entry_point")
	}
}

func TestCodePluginBuildPlanUsesRuntimePythonExecutable(t *testing.T) {
	cp := NewCodePlugin()
	payload := TaskPayload{
		ProjectType: types.ProjectTypeCode,
		ProjectPath: "/work/proj",
		EntryPoint:  "main.py",
		Args:        []string{"--flag"},
	}

	plan, err := cp.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Command != testRunCtx().Runtime.PythonExecutable {
		t.Fatalf("expected the runtime's python executable, got %s", plan.Command)
	}
	if len(plan.Args) != 2 || plan.Args[0] != "main.py" || plan.Args[1] != "--flag" {
		t.Fatalf("expected [main.py --flag], got %v", plan.Args)
	}
	if plan.Cwd != "/work/proj" {
		t.Fatalf("expected cwd to be the project path, got %s", plan.Cwd)
	}
}
