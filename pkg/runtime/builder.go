package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/antcode/antcode/pkg/log"
	"github.com/antcode/antcode/pkg/metrics"
)

// Handle is what callers get back from Prepare: where the runtime lives and
// what interpreter to invoke inside it.
type Handle struct {
	Path             string
	RuntimeHash      string
	PythonExecutable string
	PythonVersion    string
	Cached           bool
	BuildTime        time.Duration
}

// Builder turns a Spec into a prepared virtualenv under venvsDir, keyed by
// the spec's runtime_hash, using uv (the source's sole supported Python
// package manager) for interpreter and dependency resolution.
type Builder struct {
	venvsDir   string
	timeout    time.Duration
	uvCacheDir string
	logger     zerolog.Logger
}

func NewBuilder(venvsDir string, timeout time.Duration, uvCacheDir string) *Builder {
	return &Builder{venvsDir: venvsDir, timeout: timeout, uvCacheDir: uvCacheDir, logger: log.WithComponent("runtime-builder")}
}

func (b *Builder) venvPath(runtimeHash string) string {
	return filepath.Join(b.venvsDir, runtimeHash)
}

func (b *Builder) pythonExecutable(runtimeHash string) string {
	return filepath.Join(b.venvPath(runtimeHash), "bin", "python")
}

func (b *Builder) Exists(runtimeHash string) bool {
	_, err := os.Stat(b.venvPath(runtimeHash))
	return err == nil
}

// Build prepares the virtualenv for spec, reusing an existing one unless
// forceRebuild is set.
func (b *Builder) Build(ctx context.Context, spec Spec, forceRebuild bool) (Handle, error) {
	runtimeHash := spec.Hash()
	venvPath := b.venvPath(runtimeHash)
	start := time.Now()

	if !forceRebuild && b.Exists(runtimeHash) {
		b.touchLastUsed(venvPath)
		metrics.RuntimeBuildsTotal.WithLabelValues("cached").Inc()
		return Handle{
			Path:             venvPath,
			RuntimeHash:      runtimeHash,
			PythonExecutable: b.pythonExecutable(runtimeHash),
			PythonVersion:    spec.PythonSpec.Version,
			Cached:           true,
			BuildTime:        0,
		}, nil
	}

	if forceRebuild {
		if err := os.RemoveAll(venvPath); err != nil {
			return Handle{}, fmt.Errorf("runtime: remove stale venv: %w", err)
		}
	}

	buildCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.createVenv(buildCtx, venvPath, spec.PythonSpec); err != nil {
		_ = os.RemoveAll(venvPath)
		metrics.RuntimeBuildsTotal.WithLabelValues("failed").Inc()
		return Handle{}, fmt.Errorf("runtime: create venv: %w", err)
	}
	if err := b.installDependencies(buildCtx, venvPath, spec.LockSource); err != nil {
		_ = os.RemoveAll(venvPath)
		metrics.RuntimeBuildsTotal.WithLabelValues("failed").Inc()
		return Handle{}, fmt.Errorf("runtime: install dependencies: %w", err)
	}
	b.touchLastUsed(venvPath)

	elapsed := time.Since(start)
	metrics.RuntimeBuildsTotal.WithLabelValues("built").Inc()
	metrics.RuntimeBuildDuration.Observe(elapsed.Seconds())
	b.logger.Info().Str("runtime_hash", runtimeHash).Dur("build_time", elapsed).Msg("runtime built")

	return Handle{
		Path:             venvPath,
		RuntimeHash:      runtimeHash,
		PythonExecutable: b.pythonExecutable(runtimeHash),
		PythonVersion:    spec.PythonSpec.Version,
		Cached:           false,
		BuildTime:        elapsed,
	}, nil
}

func (b *Builder) createVenv(ctx context.Context, venvPath string, pySpec PythonSpec) error {
	cmdArgs := []string{"venv", venvPath}
	if pySpec.Path != "" {
		cmdArgs = append(cmdArgs, "--python", pySpec.Path)
	} else if pySpec.Version != "" {
		cmdArgs = append(cmdArgs, "--python", pySpec.Version)
	}

	cmd := exec.CommandContext(ctx, "uv", cmdArgs...)
	if b.uvCacheDir != "" {
		cmd.Env = append(os.Environ(), "UV_CACHE_DIR="+b.uvCacheDir)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("uv %v: %w: %s", cmdArgs, err, stderr.String())
	}
	return nil
}

func (b *Builder) installDependencies(ctx context.Context, venvPath string, lock LockSource) error {
	args := []string{"pip", "install", "--python", filepath.Join(venvPath, "bin", "python")}
	switch lock.SourceType {
	case "requirements":
		if len(lock.Requirements) == 0 {
			return nil
		}
		args = append(args, lock.Requirements...)
	case "inline":
		reqPath := filepath.Join(venvPath, "requirements.lock")
		if err := os.WriteFile(reqPath, []byte(lock.InlineContent), 0o644); err != nil {
			return fmt.Errorf("runtime: write inline lock: %w", err)
		}
		args = append(args, "-r", reqPath)
	case "uri":
		args = append(args, "-r", lock.URI)
	case "hash":
		// Content is fetched and cached elsewhere, keyed by ContentHash;
		// nothing to install if the cache already has it.
		return nil
	default:
		return fmt.Errorf("runtime: unknown lock source type %q", lock.SourceType)
	}

	cmd := exec.CommandContext(ctx, "uv", args...)
	if b.uvCacheDir != "" {
		cmd.Env = append(os.Environ(), "UV_CACHE_DIR="+b.uvCacheDir)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("uv %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

func (b *Builder) touchLastUsed(venvPath string) {
	marker := filepath.Join(venvPath, ".last_used")
	now := time.Now()
	_ = os.WriteFile(marker, []byte(now.Format(time.RFC3339)), 0o644)
	_ = os.Chtimes(marker, now, now)
}

func (b *Builder) lastUsed(venvPath string) (time.Time, bool) {
	info, err := os.Stat(filepath.Join(venvPath, ".last_used"))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (b *Builder) Remove(runtimeHash string) error {
	return os.RemoveAll(b.venvPath(runtimeHash))
}

// List enumerates every built runtime under venvsDir.
func (b *Builder) List() ([]Handle, error) {
	entries, err := os.ReadDir(b.venvsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Handle
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		hash := e.Name()
		out = append(out, Handle{
			Path:             b.venvPath(hash),
			RuntimeHash:      hash,
			PythonExecutable: b.pythonExecutable(hash),
			Cached:           true,
		})
	}
	return out, nil
}
