package plugin

import (
	"context"
	"strings"
	"testing"

	"github.com/antcode/antcode/pkg/types"
)

func renderPayload(engine string, params map[string]any) TaskPayload {
	p := map[string]any{"engine": engine}
	for k, v := range params {
		p[k] = v
	}
	return TaskPayload{
		RunID:       "run-r1",
		TaskID:      "task-r1",
		ProjectID:   "proj-r1",
		ProjectType: types.ProjectTypeRender,
		ProjectPath: "/work/proj-r1",
		EntryPoint:  "template.html",
		Params:      p,
	}
}

func TestRenderPluginMatchesOnlyRenderProjectType(t *testing.T) {
	rp := NewRenderPlugin()
	if !rp.Match(TaskPayload{ProjectType: types.ProjectTypeRender}) {
		t.Fatal("expected render plugin to match render project type")
	}
	if rp.Match(TaskPayload{ProjectType: types.ProjectTypeCode}) {
		t.Fatal("render plugin must not match code project type")
	}
}

func TestRenderPluginValidateJinja2RequiresEntryPoint(t *testing.T) {
	rp := NewRenderPlugin()
	payload := renderPayload("jinja2", nil)
	payload.EntryPoint = ""

	errs := rp.Validate(payload)
	if len(errs) == 0 {
		t.Fatal("expected a validation error when jinja2 has no entry_point")
	}
}

func TestRenderPluginValidatePlaywrightAcceptsURLWithoutEntryPoint(t *testing.T) {
	rp := NewRenderPlugin()
	payload := renderPayload("playwright", map[string]any{"url": "https://example.com"})
	payload.EntryPoint = ""

	if errs := rp.Validate(payload); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestRenderPluginBuildPlanJinja2EmbedsTemplatePath(t *testing.T) {
	rp := NewRenderPlugin()
	payload := renderPayload("jinja2", map[string]any{"output_file": "out.html"})

	plan, err := rp.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Args) != 2 || plan.Args[0] != "-c" {
		t.Fatalf("expected an inline -c script, got %v", plan.Args)
	}
	if !strings.Contains(plan.Args[1], "template.html") {
		t.Fatal("expected the generated script to reference the template path")
	}
	found := false
	for _, a := range plan.ArtifactPatterns {
		if a == "out.html" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected output_file to be added to artifact patterns")
	}
}

func TestRenderPluginBuildPlanPlaywrightSetsBrowsersPathEnv(t *testing.T) {
	rp := NewRenderPlugin()
	payload := renderPayload("playwright", map[string]any{"url": "https://example.com"})
	payload.EntryPoint = ""

	plan, err := rp.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Env["PLAYWRIGHT_BROWSERS_PATH"] != "0" {
		t.Fatalf("expected PLAYWRIGHT_BROWSERS_PATH=0, got %q", plan.Env["PLAYWRIGHT_BROWSERS_PATH"])
	}
}

func TestRenderPluginBuildPlanScriptEngineSetsOutputEnv(t *testing.T) {
	rp := NewRenderPlugin()
	payload := renderPayload("script", map[string]any{"output_file": "report.pdf", "output_format": "pdf"})

	plan, err := rp.BuildPlan(context.Background(), testRunCtx(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Env["RENDER_OUTPUT_FILE"] != "report.pdf" {
		t.Fatalf("expected RENDER_OUTPUT_FILE=report.pdf, got %q", plan.Env["RENDER_OUTPUT_FILE"])
	}
	if plan.Args[0] != "template.html" {
		t.Fatalf("expected entry_point as the script to run, got %v", plan.Args)
	}
}
