package plugin

import (
	"context"
	"strings"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/types"
)

// CodePlugin runs an arbitrary Python entry point script inside the prepared
// runtime - the plain "run this file" case spec.md's happy-path scenario
// describes (entry point main.py, stdout captured verbatim).
type CodePlugin struct{}

func NewCodePlugin() *CodePlugin { return &CodePlugin{} }

func (p *CodePlugin) Name() string     { return "code" }
func (p *CodePlugin) Priority() int    { return 20 }
func (p *CodePlugin) Match(payload TaskPayload) bool {
	return payload.ProjectType == types.ProjectTypeCode
}

func (p *CodePlugin) Validate(payload TaskPayload) []string {
	var errs []string
	if payload.EntryPoint == "" {
		errs = append(errs, "entry_point must not be empty")
	} else if !strings.HasSuffix(payload.EntryPoint, ".py") {
		errs = append(errs, "entry_point must be a .py file")
	}
	return errs
}

func (p *CodePlugin) BuildPlan(_ context.Context, runCtx RunContext, payload TaskPayload) (executor.ExecPlan, error) {
	plan := basePlan(runCtx, p.Name())
	plan.Command = runCtx.Runtime.PythonExecutable
	plan.Args = append([]string{payload.EntryPoint}, payload.Args...)
	plan.Env = mergeEnv(payload.EnvVars, payload.ProjectPath)
	plan.Cwd = cwdOrDefault(payload.ProjectPath)
	plan.ArtifactPatterns = payload.ArtifactPatterns
	return plan, nil
}
