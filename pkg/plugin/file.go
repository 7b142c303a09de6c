package plugin

import (
	"context"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/types"
)

const defaultFileProcessor = "process.py"

// FilePlugin runs a project-supplied processor script against an input file
// named by entry_point, rather than treating entry_point itself as the
// runnable unit (that's CodePlugin's job). The processor script path comes
// from params["processor"], defaulting to process.py at the project root.
type FilePlugin struct{}

func NewFilePlugin() *FilePlugin { return &FilePlugin{} }

func (p *FilePlugin) Name() string  { return "file" }
func (p *FilePlugin) Priority() int { return 10 }

func (p *FilePlugin) Match(payload TaskPayload) bool {
	return payload.ProjectType == types.ProjectTypeFile
}

func (p *FilePlugin) Validate(payload TaskPayload) []string {
	var errs []string
	if payload.EntryPoint == "" {
		errs = append(errs, "entry_point must name the input file to process")
	}
	return errs
}

func (p *FilePlugin) processor(payload TaskPayload) string {
	if v, ok := payload.Params["processor"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return defaultFileProcessor
}

func (p *FilePlugin) BuildPlan(_ context.Context, runCtx RunContext, payload TaskPayload) (executor.ExecPlan, error) {
	plan := basePlan(runCtx, p.Name())
	plan.Command = runCtx.Runtime.PythonExecutable
	plan.Args = append([]string{p.processor(payload), payload.EntryPoint}, payload.Args...)

	env := mergeEnv(payload.EnvVars, payload.ProjectPath)
	env["ANTCODE_FILE_INPUT"] = payload.EntryPoint
	plan.Env = env

	plan.Cwd = cwdOrDefault(payload.ProjectPath)
	plan.ArtifactPatterns = payload.ArtifactPatterns
	return plan, nil
}
