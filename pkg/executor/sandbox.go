package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/types"
)

// SandboxConfig bounds what a BasicSandbox isolates: which environment
// variables survive the filter, whether a private work directory is carved
// out, and an optional external wrapper (firejail, bubblewrap, ...).
type SandboxConfig struct {
	Enabled         bool
	FSIsolated      bool
	AllowedEnvVars  []string
	TempDir         string
	CleanupOnExit   bool
	SandboxCommand  []string
}

func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Enabled:        true,
		FSIsolated:     true,
		AllowedEnvVars: []string{"PATH", "HOME", "PYTHONPATH", "LANG", "LC_ALL", "VIRTUAL_ENV", "UV_CACHE_DIR"},
		CleanupOnExit:  true,
	}
}

// sensitiveEnvPatterns names the substrings that strip an otherwise-allowed
// environment variable from a sandboxed process's environment.
var sensitiveEnvPatterns = []string{"SECRET", "PASSWORD", "TOKEN", "API_KEY", "CREDENTIAL", "PRIVATE"}

// SandboxContext is what Prepare hands back to WrapCommand, FilterEnv and
// Cleanup for a single run.
type SandboxContext struct {
	WorkDir     string
	CleanupDirs []string
}

// SandboxProvider isolates a run's filesystem, environment and command line.
type SandboxProvider interface {
	Prepare(plan ExecPlan, workDir string) (SandboxContext, error)
	WrapCommand(cmd []string, sc SandboxContext) []string
	FilterEnv(env map[string]string, sc SandboxContext) map[string]string
	Cleanup(sc SandboxContext)
}

// NoOpSandbox performs no isolation at all.
type NoOpSandbox struct{}

func (NoOpSandbox) Prepare(_ ExecPlan, workDir string) (SandboxContext, error) {
	return SandboxContext{WorkDir: workDir}, nil
}
func (NoOpSandbox) WrapCommand(cmd []string, _ SandboxContext) []string { return cmd }
func (NoOpSandbox) FilterEnv(env map[string]string, _ SandboxContext) map[string]string {
	return env
}
func (NoOpSandbox) Cleanup(SandboxContext) {}

// BasicSandbox filters environment variables down to an allowlist (stripping
// anything that still looks like a secret), optionally runs the command
// inside a private temp work directory, and optionally wraps it with an
// external sandboxing command.
type BasicSandbox struct {
	config SandboxConfig
	logger zerolog.Logger
}

func NewBasicSandbox(config SandboxConfig) *BasicSandbox {
	return &BasicSandbox{config: config, logger: log.WithComponent("sandbox")}
}

func (s *BasicSandbox) Prepare(plan ExecPlan, workDir string) (SandboxContext, error) {
	sc := SandboxContext{WorkDir: workDir}
	if !s.config.FSIsolated {
		return sc, nil
	}

	base := s.config.TempDir
	if base == "" {
		base = os.TempDir()
	}
	tempWorkDir := filepath.Join(base, fmt.Sprintf("sandbox_%d_%s", os.Getpid(), randSuffix(plan.PluginName)))
	if err := os.MkdirAll(tempWorkDir, 0o755); err != nil {
		return SandboxContext{}, fmt.Errorf("sandbox: create work dir: %w", err)
	}
	sc.WorkDir = tempWorkDir
	sc.CleanupDirs = append(sc.CleanupDirs, tempWorkDir)
	return sc, nil
}

func (s *BasicSandbox) WrapCommand(cmd []string, _ SandboxContext) []string {
	if len(s.config.SandboxCommand) == 0 {
		return cmd
	}
	wrapped := make([]string, 0, len(s.config.SandboxCommand)+len(cmd))
	wrapped = append(wrapped, s.config.SandboxCommand...)
	wrapped = append(wrapped, cmd...)
	return wrapped
}

func (s *BasicSandbox) FilterEnv(env map[string]string, _ SandboxContext) map[string]string {
	filtered := make(map[string]string, len(s.config.AllowedEnvVars))
	for _, key := range s.config.AllowedEnvVars {
		value, ok := env[key]
		if !ok {
			continue
		}
		if isSensitiveKey(key) {
			continue
		}
		filtered[key] = value
	}
	return filtered
}

func (s *BasicSandbox) Cleanup(sc SandboxContext) {
	if !s.config.CleanupOnExit {
		return
	}
	for _, dir := range sc.CleanupDirs {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("sandbox: cleanup failed")
		}
	}
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

func randSuffix(seed string) string {
	if seed == "" {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return seed
}

// SandboxExecutor runs plans through a SandboxProvider before handing the
// isolated command to an embedded ProcessExecutor.
type SandboxExecutor struct {
	base
	sandboxConfig SandboxConfig
	sandbox       SandboxProvider
	process       *ProcessExecutor
	logger        zerolog.Logger
}

func NewSandboxExecutor(config Config, sandboxConfig SandboxConfig, provider SandboxProvider) *SandboxExecutor {
	if provider == nil {
		if sandboxConfig.Enabled {
			provider = NewBasicSandbox(sandboxConfig)
		} else {
			provider = NoOpSandbox{}
		}
	}
	return &SandboxExecutor{
		base:          newBase(config),
		sandboxConfig: sandboxConfig,
		sandbox:       provider,
		process:       NewProcessExecutor(config),
		logger:        log.WithComponent("sandbox-executor"),
	}
}

func (e *SandboxExecutor) Start() { e.process.Start() }
func (e *SandboxExecutor) Stop(gracePeriod time.Duration) { e.process.Stop(gracePeriod) }
func (e *SandboxExecutor) Cancel(runID string) bool       { return e.process.Cancel(runID) }
func (e *SandboxExecutor) Stats() Stats                   { return e.snapshot() }
func (e *SandboxExecutor) RunningCount() int              { return e.process.RunningCount() }
func (e *SandboxExecutor) AvailableSlots() int            { return e.process.AvailableSlots() }

func (e *SandboxExecutor) Run(ctx context.Context, plan ExecPlan, handle RuntimeHandle, sink LogSink) (ExecResult, error) {
	if sink == nil {
		sink = NoOpLogSink{}
	}
	runID := plan.PluginName
	startedAt := time.Now()

	workDir := plan.Cwd
	if workDir == "" {
		workDir = handle.Path
	}

	sc, err := e.sandbox.Prepare(plan, workDir)
	if err != nil {
		result := newResult(runID, types.RuntimeFailed, nil, ExitError, err.Error(), startedAt, time.Now(), nil)
		e.updateStats(types.RuntimeFailed)
		return result, nil
	}
	defer e.sandbox.Cleanup(sc)

	sandboxedPlan := e.sandboxedPlan(plan, handle, sc)

	result, err := e.process.Run(ctx, sandboxedPlan, handle, sink)
	e.updateStats(result.Status)
	return result, err
}

func (e *SandboxExecutor) sandboxedPlan(plan ExecPlan, handle RuntimeHandle, sc SandboxContext) ExecPlan {
	cmd := append([]string{plan.Command}, plan.Args...)
	wrapped := e.sandbox.WrapCommand(cmd, sc)

	env := make(map[string]string, len(plan.Env)+2)
	env["PYTHONPATH"] = handle.Path
	env["VIRTUAL_ENV"] = handle.Path
	for k, v := range plan.Env {
		env[k] = v
	}
	filtered := e.sandbox.FilterEnv(env, sc)

	out := plan
	out.Command = wrapped[0]
	out.Args = wrapped[1:]
	out.Env = filtered
	out.Cwd = sc.WorkDir
	out.SandboxEnabled = false
	return out
}
