package executor

import (
	"context"
	"os"
	"testing"

	"github.com/antcode/antcode/pkg/types"
)

func TestBasicSandboxFilterEnvDropsSensitiveAndDisallowed(t *testing.T) {
	sb := NewBasicSandbox(SandboxConfig{AllowedEnvVars: []string{"PATH", "API_KEY", "HOME"}})
	env := map[string]string{
		"PATH":    "/usr/bin",
		"API_KEY": "super-secret",
		"HOME":    "/root",
		"UNLISTED": "nope",
	}
	filtered := sb.FilterEnv(env, SandboxContext{})

	if filtered["PATH"] != "/usr/bin" {
		t.Fatal("allowed, non-sensitive var must pass through")
	}
	if _, ok := filtered["API_KEY"]; ok {
		t.Fatal("API_KEY must be stripped even though it's in the allowlist")
	}
	if _, ok := filtered["UNLISTED"]; ok {
		t.Fatal("vars outside the allowlist must never appear")
	}
}

func TestBasicSandboxPrepareCreatesAndCleansUpWorkDir(t *testing.T) {
	sb := NewBasicSandbox(SandboxConfig{FSIsolated: true, TempDir: t.TempDir(), CleanupOnExit: true})
	sc, err := sb.Prepare(ExecPlan{PluginName: "run-x"}, "/original")
	if err != nil {
		t.Fatal(err)
	}
	if sc.WorkDir == "/original" {
		t.Fatal("fs-isolated sandbox must allocate a private work dir")
	}
	if _, err := os.Stat(sc.WorkDir); err != nil {
		t.Fatalf("expected work dir to exist: %v", err)
	}

	sb.Cleanup(sc)
	if _, err := os.Stat(sc.WorkDir); !os.IsNotExist(err) {
		t.Fatal("expected work dir to be removed after Cleanup")
	}
}

func TestBasicSandboxWrapCommandPrependsSandboxCommand(t *testing.T) {
	sb := NewBasicSandbox(SandboxConfig{SandboxCommand: []string{"firejail", "--quiet"}})
	wrapped := sb.WrapCommand([]string{"/bin/echo", "hi"}, SandboxContext{})
	if len(wrapped) != 4 || wrapped[0] != "firejail" || wrapped[3] != "hi" {
		t.Fatalf("unexpected wrapped command: %v", wrapped)
	}
}

func TestNoOpSandboxPassesThroughUnchanged(t *testing.T) {
	sb := NoOpSandbox{}
	env := map[string]string{"SECRET_KEY": "x"}
	if got := sb.FilterEnv(env, SandboxContext{}); got["SECRET_KEY"] != "x" {
		t.Fatal("NoOpSandbox must not filter anything")
	}
}

func TestSandboxExecutorRunsThroughFilter(t *testing.T) {
	exec := NewSandboxExecutor(DefaultConfig(), SandboxConfig{
		Enabled:        true,
		FSIsolated:     false,
		AllowedEnvVars: []string{"PATH"},
		CleanupOnExit:  true,
	}, nil)
	exec.Start()
	defer exec.Stop(0)

	plan := ExecPlan{Command: "/bin/echo", Args: []string{"sandboxed"}, TimeoutSeconds: 5, PluginName: "sbx-1"}
	result, err := exec.Run(context.Background(), plan, RuntimeHandle{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != types.RuntimeSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.ErrorMessage)
	}
}
