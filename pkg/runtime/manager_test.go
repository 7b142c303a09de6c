package runtime

import (
	"context"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	cfg := ManagerConfig{
		VenvsDir:     dir,
		BuildTimeout: time.Minute,
		LockTimeout:  time.Second,
		GCPolicy:     GCPolicy{EnvTTL: 7 * 24 * time.Hour, MaxEnvs: 100},
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerPrepareReusesCachedRuntime(t *testing.T) {
	m := newTestManager(t)
	spec := Simple("3.12", []string{"requests"})
	preCreateVenv(t, m.config.VenvsDir, spec.Hash())

	handle, err := m.Prepare(context.Background(), spec, false)
	if err != nil {
		t.Fatal(err)
	}
	if !handle.Cached {
		t.Fatal("expected cached build")
	}
	if !m.IsInUse(handle.RuntimeHash) {
		t.Fatal("expected runtime to be marked in-use after Prepare")
	}
}

func TestManagerReleaseDecrementsUsage(t *testing.T) {
	m := newTestManager(t)
	spec := Simple("3.12", []string{"requests"})
	preCreateVenv(t, m.config.VenvsDir, spec.Hash())

	handle, err := m.Prepare(context.Background(), spec, false)
	if err != nil {
		t.Fatal(err)
	}
	m.Release(handle)
	if m.IsInUse(handle.RuntimeHash) {
		t.Fatal("expected runtime to no longer be in-use after Release")
	}
}

func TestManagerRemoveRefusesWhileInUseUnlessForced(t *testing.T) {
	m := newTestManager(t)
	spec := Simple("3.12", []string{"requests"})
	preCreateVenv(t, m.config.VenvsDir, spec.Hash())

	handle, err := m.Prepare(context.Background(), spec, false)
	if err != nil {
		t.Fatal(err)
	}

	removed, err := m.Remove(context.Background(), handle.RuntimeHash, false)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("Remove without force must refuse an in-use runtime")
	}

	removed, err = m.Remove(context.Background(), handle.RuntimeHash, true)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("Remove with force must remove an in-use runtime")
	}
	if m.Exists(handle.RuntimeHash) {
		t.Fatal("runtime directory should be gone after a forced Remove")
	}
}

func TestManagerStatsReportsCountsAndActive(t *testing.T) {
	m := newTestManager(t)
	specA := Simple("3.12", []string{"requests"})
	specB := Simple("3.11", []string{"flask"})
	preCreateVenv(t, m.config.VenvsDir, specA.Hash())
	preCreateVenv(t, m.config.VenvsDir, specB.Hash())

	handleA, err := m.Prepare(context.Background(), specA, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Prepare(context.Background(), specB, false); err != nil {
		t.Fatal(err)
	}
	m.Release(handleA)

	stats := m.Stats()
	if stats.RuntimeCount != 2 {
		t.Fatalf("expected 2 runtimes, got %d", stats.RuntimeCount)
	}
	if stats.ActiveCount != 1 {
		t.Fatalf("expected 1 active runtime after releasing one, got %d", stats.ActiveCount)
	}
}

func TestManagerRunGCSkipsInUseRuntimes(t *testing.T) {
	m := newTestManager(t)
	spec := Simple("3.12", []string{"requests"})
	preCreateVenv(t, m.config.VenvsDir, spec.Hash())

	if _, err := m.Prepare(context.Background(), spec, false); err != nil {
		t.Fatal(err)
	}

	cleaned, _, err := m.RunGC()
	if err != nil {
		t.Fatal(err)
	}
	if cleaned != 0 {
		t.Fatal("GC must not clean a runtime currently in use")
	}
}
