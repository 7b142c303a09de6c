package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func preCreateVenv(t *testing.T, venvsDir, runtimeHash string) {
	t.Helper()
	dir := filepath.Join(venvsDir, runtimeHash)
	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestBuilderReusesExistingVenvWithoutRebuilding(t *testing.T) {
	dir := t.TempDir()
	builder := NewBuilder(dir, time.Minute, "")
	spec := Simple("3.12", []string{"requests"})
	preCreateVenv(t, dir, spec.Hash())

	handle, err := builder.Build(context.Background(), spec, false)
	if err != nil {
		t.Fatal(err)
	}
	if !handle.Cached {
		t.Fatal("expected Build to report a cache hit for a pre-existing venv")
	}
	if handle.RuntimeHash != spec.Hash() {
		t.Fatalf("unexpected runtime hash: %s", handle.RuntimeHash)
	}
	if handle.PythonExecutable != filepath.Join(dir, spec.Hash(), "bin", "python") {
		t.Fatalf("unexpected python executable path: %s", handle.PythonExecutable)
	}
}

func TestBuilderExistsAndList(t *testing.T) {
	dir := t.TempDir()
	builder := NewBuilder(dir, time.Minute, "")

	if builder.Exists("nope") {
		t.Fatal("Exists must be false before any venv is created")
	}

	preCreateVenv(t, dir, "hash-a")
	preCreateVenv(t, dir, "hash-b")

	if !builder.Exists("hash-a") {
		t.Fatal("Exists must be true for a created venv")
	}

	handles, err := builder.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 2 {
		t.Fatalf("expected 2 runtimes listed, got %d", len(handles))
	}
}

func TestBuilderRemove(t *testing.T) {
	dir := t.TempDir()
	builder := NewBuilder(dir, time.Minute, "")
	preCreateVenv(t, dir, "hash-a")

	if err := builder.Remove("hash-a"); err != nil {
		t.Fatal(err)
	}
	if builder.Exists("hash-a") {
		t.Fatal("venv directory should be gone after Remove")
	}
}

func TestBuilderTouchLastUsedUpdatesMarker(t *testing.T) {
	dir := t.TempDir()
	builder := NewBuilder(dir, time.Minute, "")
	preCreateVenv(t, dir, "hash-a")
	venvPath := filepath.Join(dir, "hash-a")

	builder.touchLastUsed(venvPath)
	_, ok := builder.lastUsed(venvPath)
	if !ok {
		t.Fatal("expected a last-used marker after touchLastUsed")
	}
}
