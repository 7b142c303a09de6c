package plugin

import (
	"os"

	"github.com/antcode/antcode/pkg/executor"
)

// mergeEnv layers payload.EnvVars over a copy of the base map, then prepends
// projectPath onto PYTHONPATH so an entry point can import sibling modules -
// every plugin needs this, so it lives here rather than duplicated per file.
func mergeEnv(base map[string]string, projectPath string) map[string]string {
	env := make(map[string]string, len(base)+1)
	for k, v := range base {
		env[k] = v
	}
	if projectPath == "" {
		return env
	}
	if existing, ok := env["PYTHONPATH"]; ok && existing != "" {
		env["PYTHONPATH"] = projectPath + string(os.PathListSeparator) + existing
	} else {
		env["PYTHONPATH"] = projectPath
	}
	return env
}

// basePlan fills in the fields every plugin's ExecPlan shares from RunContext,
// leaving Command/Args/Env/ArtifactPatterns for the caller.
func basePlan(runCtx RunContext, pluginName string) executor.ExecPlan {
	return executor.ExecPlan{
		TimeoutSeconds:     runCtx.TimeoutSeconds,
		GracePeriodSeconds: runCtx.GracePeriod,
		MemoryLimitMB:      runCtx.MemoryLimitMB,
		CPULimitSeconds:    runCtx.CPULimitSeconds,
		CollectStdout:      true,
		CollectStderr:      true,
		SandboxEnabled:     runCtx.SandboxEnabled,
		PluginName:         pluginName,
	}
}

func cwdOrDefault(projectPath string) string {
	if projectPath != "" {
		return projectPath
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
