package plugin

import (
	"context"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/types"
)

// RulePlugin runs a rule-driven crawler entry point, feeding it the
// project ID and run ID (ANTCODE_CRAWL_PROJECT_ID, ANTCODE_CRAWL_RUN_ID)
// so the crawler process itself dequeues
// work from the CrawlQueueBackend rather than being handed a static work
// list in the ExecPlan.
type RulePlugin struct{}

func NewRulePlugin() *RulePlugin { return &RulePlugin{} }

func (p *RulePlugin) Name() string  { return "rule" }
func (p *RulePlugin) Priority() int { return 5 }

func (p *RulePlugin) Match(payload TaskPayload) bool {
	return payload.ProjectType == types.ProjectTypeRule
}

func (p *RulePlugin) Validate(payload TaskPayload) []string {
	var errs []string
	if payload.EntryPoint == "" {
		errs = append(errs, "entry_point must name the crawler's rule module")
	}
	if payload.ProjectID == "" {
		errs = append(errs, "project_id is required to resolve the crawl queue namespace")
	}
	return errs
}

func (p *RulePlugin) BuildPlan(_ context.Context, runCtx RunContext, payload TaskPayload) (executor.ExecPlan, error) {
	plan := basePlan(runCtx, p.Name())
	plan.Command = runCtx.Runtime.PythonExecutable
	plan.Args = append([]string{payload.EntryPoint}, payload.Args...)

	env := mergeEnv(payload.EnvVars, payload.ProjectPath)
	env["ANTCODE_CRAWL_PROJECT_ID"] = payload.ProjectID
	env["ANTCODE_CRAWL_RUN_ID"] = payload.RunID
	plan.Env = env

	plan.Cwd = cwdOrDefault(payload.ProjectPath)
	plan.ArtifactPatterns = payload.ArtifactPatterns
	return plan, nil
}
