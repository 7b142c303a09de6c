package plugin

import (
	"context"
	"testing"

	"github.com/antcode/antcode/pkg/types"
)

func TestFilePluginDefaultsProcessorWhenParamsOmitIt(t *testing.T) {
	fp := NewFilePlugin()
	payload := TaskPayload{
		RunID:       "run-f1",
		ProjectID:   "proj-f1",
		ProjectType: types.ProjectTypeFile,
		ProjectPath: "/work/proj-f1",
		EntryPoint:  "input.csv",
	}

	plan, err := fp.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Args[0] != defaultFileProcessor || plan.Args[1] != "input.csv" {
		t.Fatalf("expected [process.py input.csv], got %v", plan.Args)
	}
	if plan.Env["ANTCODE_FILE_INPUT"] != "input.csv" {
		t.Fatalf("expected ANTCODE_FILE_INPUT=input.csv, got %q", plan.Env["ANTCODE_FILE_INPUT"])
	}
}

func TestFilePluginHonorsCustomProcessorParam(t *testing.T) {
	fp := NewFilePlugin()
	payload := TaskPayload{
		ProjectType: types.ProjectTypeFile,
		EntryPoint:  "input.csv",
		Params:      map[string]any{"processor": "custom_process.py"},
	}

	plan, err := fp.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Args[0] != "custom_process.py" {
		t.Fatalf("expected custom processor, got %v", plan.Args)
	}
}

func TestFilePluginValidateRequiresEntryPoint(t *testing.T) {
	fp := NewFilePlugin()
	if errs := fp.Validate(TaskPayload{}); len(errs) == 0 {
		t.Fatal("expected a validation error for a missing entry_point")
	}
}
