package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewManagerGeneratesIdentityWhenFileAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	m, err := NewManager(path, "zone-a", map[string]string{"role": "worker"}, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if m.WorkerID() == "" {
		t.Fatal("expected a generated worker_id")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected the identity file to be persisted")
	}
}

func TestNewManagerLoadsExistingIdentityAndKeepsWorkerID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	first, err := NewManager(path, "zone-a", nil, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	firstID := first.WorkerID()

	second, err := NewManager(path, "zone-b", map[string]string{"x": "y"}, "1.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if second.WorkerID() != firstID {
		t.Fatalf("expected worker_id to persist across restarts, got %s then %s", firstID, second.WorkerID())
	}
	if second.Identity().Zone != "zone-b" {
		t.Fatalf("expected zone to update, got %s", second.Identity().Zone)
	}
}

func TestReloadKeepsWorkerIDEvenIfFileChangesIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	m, err := NewManager(path, "zone-a", nil, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	original := m.WorkerID()

	tampered := m.Identity()
	tampered.WorkerID = "w-tampered"
	tampered.Zone = "zone-c"
	if err := tampered.save(path); err != nil {
		t.Fatal(err)
	}

	reloaded := m.Reload()
	if reloaded.WorkerID != original {
		t.Fatalf("expected worker_id to remain %s, got %s", original, reloaded.WorkerID)
	}
	if reloaded.Zone != "zone-c" {
		t.Fatalf("expected zone to update to zone-c, got %s", reloaded.Zone)
	}
}

func TestUpdateLabelsPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	m, err := NewManager(path, "zone-a", nil, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateLabels(map[string]string{"gpu": "true"}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := loadIdentity(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Labels["gpu"] != "true" {
		t.Fatal("expected the persisted file to carry the updated label")
	}
}

func TestWatchReloadsOnFileWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	var reloaded chan Identity = make(chan Identity, 1)
	m, err := NewManager(path, "zone-a", nil, "1.0.0", WithOnReload(func(id Identity) {
		select {
		case reloaded <- id:
		default:
		}
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Watch(); err != nil {
		t.Skipf("fsnotify unavailable in this environment: %v", err)
	}
	defer m.Stop()

	tampered := m.Identity()
	tampered.Zone = "zone-watched"
	if err := tampered.save(path); err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-reloaded:
		if id.Zone != "zone-watched" {
			t.Fatalf("expected zone-watched, got %s", id.Zone)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload callback after writing the identity file")
	}
}
