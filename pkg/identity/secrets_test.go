package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsManagerDefaultWhenNothingSet(t *testing.T) {
	s := NewSecretsManager("", "ANTCODE_")
	if got := s.Get("api_key", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback default, got %q", got)
	}
}

func TestSecretsManagerEnvOverridesDefault(t *testing.T) {
	t.Setenv("ANTCODE_API_KEY", "from-env")
	s := NewSecretsManager("", "ANTCODE_")
	if got := s.Get("api_key", "fallback"); got != "from-env" {
		t.Fatalf("expected env value, got %q", got)
	}
}

func TestSecretsManagerFileOverridesEnv(t *testing.T) {
	t.Setenv("ANTCODE_API_KEY", "from-env")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "api_key"), []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewSecretsManager(dir, "ANTCODE_")
	if got := s.Get("api_key", ""); got != "from-file" {
		t.Fatalf("expected file value to win, got %q", got)
	}
	cred, ok := s.GetCredential("api_key")
	if !ok || cred.Source != "file" {
		t.Fatalf("expected credential source=file, got %+v ok=%v", cred, ok)
	}
}

func TestSecretsManagerCACertAndClientCertPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ca.crt", "client.crt", "client.key"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	s := NewSecretsManager(dir, "ANTCODE_")
	if s.CACertPath() == "" {
		t.Fatal("expected a CA cert path")
	}
	cert, key, ok := s.ClientCertPaths()
	if !ok || cert == "" || key == "" {
		t.Fatalf("expected both client cert and key paths, got cert=%q key=%q ok=%v", cert, key, ok)
	}
	if !s.HasMTLSCerts() {
		t.Fatal("expected HasMTLSCerts to be true")
	}
}

func TestSecretsManagerHasMTLSCertsFalseWhenMissing(t *testing.T) {
	s := NewSecretsManager(t.TempDir(), "ANTCODE_")
	if s.HasMTLSCerts() {
		t.Fatal("expected HasMTLSCerts to be false with no certs present")
	}
}

func TestSecretsManagerReloadClearsCacheAndPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	s := NewSecretsManager(dir, "ANTCODE_")
	if got := s.Get("gateway_token", ""); got != "" {
		t.Fatalf("expected empty before file exists, got %q", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "gateway_token"), []byte("tok-123"), 0o600); err != nil {
		t.Fatal(err)
	}
	s.Reload()
	if got := s.Get("gateway_token", ""); got != "tok-123" {
		t.Fatalf("expected tok-123 after reload, got %q", got)
	}
}

func TestSecretsManagerOnReloadCallback(t *testing.T) {
	dir := t.TempDir()
	called := false
	s := NewSecretsManager(dir, "ANTCODE_", WithSecretsOnReload(func() { called = true }))
	s.Reload()
	if !called {
		t.Fatal("expected the onReload callback to fire")
	}
}
