package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/types"
)

// renderConfig is the render-specific configuration a RenderPlugin pulls out
// of payload.Params, mirroring the source's _extract_render_config.
type renderConfig struct {
	Engine       string
	OutputFile   string
	OutputFormat string
	TemplateDir  string
	ContextData  map[string]any
	URL          string
	ViewportW    int
	ViewportH    int
	WaitFor      string
	Screenshot   bool
	PDF          bool
	FullPage     bool
}

// RenderPlugin builds an ExecPlan for template (Jinja2/Mako), headless
// browser (Playwright) and arbitrary-script render engines. priority 15
// sits after the crawler (5) and file (10) plugins and before code (20), matching the
// source's "介于 spider 和 code 之间" placement.
type RenderPlugin struct{}

func NewRenderPlugin() *RenderPlugin { return &RenderPlugin{} }

func (p *RenderPlugin) Name() string  { return "render" }
func (p *RenderPlugin) Priority() int { return 15 }

func (p *RenderPlugin) Match(payload TaskPayload) bool {
	return payload.ProjectType == types.ProjectTypeRender
}

func (p *RenderPlugin) extractConfig(payload TaskPayload) renderConfig {
	cfg := renderConfig{
		Engine:       "jinja2",
		OutputFile:   "output.html",
		OutputFormat: "html",
		ViewportW:    1920,
		ViewportH:    1080,
		FullPage:     true,
	}
	get := func(key string) (any, bool) {
		v, ok := payload.Params[key]
		return v, ok
	}
	if v, ok := get("engine"); ok {
		if s, ok := v.(string); ok {
			cfg.Engine = s
		}
	}
	if v, ok := get("output_file"); ok {
		if s, ok := v.(string); ok {
			cfg.OutputFile = s
		}
	}
	if v, ok := get("output_format"); ok {
		if s, ok := v.(string); ok {
			cfg.OutputFormat = s
		}
	}
	if v, ok := get("template_dir"); ok {
		if s, ok := v.(string); ok {
			cfg.TemplateDir = s
		}
	}
	if v, ok := get("context_data"); ok {
		if m, ok := v.(map[string]any); ok {
			cfg.ContextData = m
		}
	}
	if v, ok := get("url"); ok {
		if s, ok := v.(string); ok {
			cfg.URL = s
		}
	}
	if v, ok := get("wait_for"); ok {
		if s, ok := v.(string); ok {
			cfg.WaitFor = s
		}
	}
	if v, ok := get("screenshot"); ok {
		if b, ok := v.(bool); ok {
			cfg.Screenshot = b
		}
	} else {
		cfg.Screenshot = cfg.Engine == "playwright"
	}
	if v, ok := get("pdf"); ok {
		if b, ok := v.(bool); ok {
			cfg.PDF = b
		}
	}
	if v, ok := get("full_page"); ok {
		if b, ok := v.(bool); ok {
			cfg.FullPage = b
		}
	}
	return cfg
}

func (p *RenderPlugin) Validate(payload TaskPayload) []string {
	var errs []string
	cfg := p.extractConfig(payload)

	switch cfg.Engine {
	case "jinja2", "mako":
		if payload.EntryPoint == "" {
			errs = append(errs, "entry_point must not be empty (template file path)")
		}
	case "playwright":
		if cfg.URL == "" && payload.EntryPoint == "" {
			errs = append(errs, "playwright engine requires url or entry_point")
		}
	case "script":
		if payload.EntryPoint == "" {
			errs = append(errs, "script engine requires entry_point")
		}
	}
	return errs
}

func (p *RenderPlugin) BuildPlan(_ context.Context, runCtx RunContext, payload TaskPayload) (executor.ExecPlan, error) {
	cfg := p.extractConfig(payload)

	switch cfg.Engine {
	case "playwright":
		return p.buildPlaywrightPlan(runCtx, payload, cfg)
	case "jinja2", "mako":
		return p.buildTemplatePlan(runCtx, payload, cfg)
	default:
		return p.buildScriptPlan(runCtx, payload, cfg)
	}
}

func (p *RenderPlugin) buildTemplatePlan(runCtx RunContext, payload TaskPayload, cfg renderConfig) (executor.ExecPlan, error) {
	script, err := p.generateTemplateScript(cfg.Engine, payload.EntryPoint, cfg.OutputFile, cfg.TemplateDir, cfg.ContextData)
	if err != nil {
		return executor.ExecPlan{}, err
	}

	plan := basePlan(runCtx, p.Name())
	plan.Command = runCtx.Runtime.PythonExecutable
	plan.Args = []string{"-c", script}
	plan.Env = mergeEnv(payload.EnvVars, payload.ProjectPath)
	plan.Cwd = cwdOrDefault(payload.ProjectPath)
	plan.ArtifactPatterns = append(append([]string{}, payload.ArtifactPatterns...), cfg.OutputFile)
	return plan, nil
}

func (p *RenderPlugin) buildPlaywrightPlan(runCtx RunContext, payload TaskPayload, cfg renderConfig) (executor.ExecPlan, error) {
	plan := basePlan(runCtx, p.Name())
	plan.Command = runCtx.Runtime.PythonExecutable

	if payload.EntryPoint != "" && strings.HasSuffix(payload.EntryPoint, ".py") {
		plan.Args = append([]string{payload.EntryPoint}, payload.Args...)
	} else {
		url := cfg.URL
		if url == "" {
			url = payload.EntryPoint
		}
		outputFile := cfg.OutputFile
		if outputFile == "output.html" {
			outputFile = "output.png"
		}
		script := p.generatePlaywrightScript(url, outputFile, cfg)
		plan.Args = []string{"-c", script}
		cfg.OutputFile = outputFile
	}

	env := mergeEnv(payload.EnvVars, payload.ProjectPath)
	if _, ok := env["PLAYWRIGHT_BROWSERS_PATH"]; !ok {
		env["PLAYWRIGHT_BROWSERS_PATH"] = "0"
	}
	plan.Env = env
	plan.Cwd = cwdOrDefault(payload.ProjectPath)
	plan.ArtifactPatterns = append(append([]string{}, payload.ArtifactPatterns...), cfg.OutputFile)
	return plan, nil
}

func (p *RenderPlugin) buildScriptPlan(runCtx RunContext, payload TaskPayload, cfg renderConfig) (executor.ExecPlan, error) {
	plan := basePlan(runCtx, p.Name())
	plan.Command = runCtx.Runtime.PythonExecutable
	plan.Args = append([]string{payload.EntryPoint}, payload.Args...)

	env := mergeEnv(payload.EnvVars, payload.ProjectPath)
	if cfg.OutputFile != "" {
		env["RENDER_OUTPUT_FILE"] = cfg.OutputFile
	}
	if cfg.OutputFormat != "" {
		env["RENDER_OUTPUT_FORMAT"] = cfg.OutputFormat
	}
	plan.Env = env
	plan.Cwd = cwdOrDefault(payload.ProjectPath)

	artifacts := append([]string{}, payload.ArtifactPatterns...)
	if cfg.OutputFile != "" {
		artifacts = append(artifacts, cfg.OutputFile)
	}
	plan.ArtifactPatterns = artifacts
	return plan, nil
}

func (p *RenderPlugin) generateTemplateScript(engine, templatePath, outputFile, templateDir string, contextData map[string]any) (string, error) {
	contextJSON, err := json.Marshal(contextData)
	if err != nil {
		return "", fmt.Errorf("plugin: marshal render context_data: %w", err)
	}
	if templateDir == "" {
		templateDir = "."
	}

	switch engine {
	case "jinja2":
		return fmt.Sprintf(`
import json
from pathlib import Path
from jinja2 import Environment, FileSystemLoader

template_path = %q
output_file = %q
template_dir = %q
context_data = json.loads(%q)

env = Environment(loader=FileSystemLoader(template_dir))
template = env.get_template(template_path)
result = template.render(**context_data)

Path(output_file).write_text(result, encoding="utf-8")
print(f"rendered to {output_file}")
`, templatePath, outputFile, templateDir, string(contextJSON)), nil
	case "mako":
		return fmt.Sprintf(`
import json
from pathlib import Path
from mako.template import Template
from mako.lookup import TemplateLookup

template_path = %q
output_file = %q
template_dir = %q
context_data = json.loads(%q)

lookup = TemplateLookup(directories=[template_dir])
template = Template(filename=template_path, lookup=lookup)
result = template.render(**context_data)

Path(output_file).write_text(result, encoding="utf-8")
print(f"rendered to {output_file}")
`, templatePath, outputFile, templateDir, string(contextJSON)), nil
	default:
		return "", fmt.Errorf("plugin: unsupported template engine %q", engine)
	}
}

func (p *RenderPlugin) generatePlaywrightScript(url, outputFile string, cfg renderConfig) string {
	var waitLine, screenshotLine, pdfLine string
	if cfg.WaitFor != "" {
		waitLine = fmt.Sprintf("        await page.wait_for_selector(%q)\n", cfg.WaitFor)
	}
	if cfg.Screenshot {
		screenshotLine = fmt.Sprintf("        await page.screenshot(path=output_file, full_page=%s)\n", pyBool(cfg.FullPage))
	}
	if cfg.PDF {
		pdfLine = "        await page.pdf(path=output_file)\n"
	}

	return fmt.Sprintf(`
import asyncio
from playwright.async_api import async_playwright

output_file = %q

async def main():
    async with async_playwright() as p:
        browser = await p.chromium.launch()
        page = await browser.new_page(viewport={"width": %d, "height": %d})
        await page.goto(%q)
%s%s%s        await browser.close()
        print(f"rendered to {output_file}")

asyncio.run(main())
`, outputFile, cfg.ViewportW, cfg.ViewportH, url, waitLine, screenshotLine, pdfLine)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
