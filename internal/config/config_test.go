package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APIARY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected default nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "data/apiary.db" {
		t.Errorf("unexpected default store path: %s", cfg.Store.Path)
	}
	if cfg.Advisory.Timeout != 30*time.Second {
		t.Errorf("unexpected default advisory timeout: %s", cfg.Advisory.Timeout)
	}
	if cfg.Collab.MaxCandidates != 5 {
		t.Errorf("expected 5 max candidates, got %d", cfg.Collab.MaxCandidates)
	}
	if cfg.Collab.AssumeActiveContext {
		t.Error("assume_active_context should default to false")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "apiary.yaml")
	content := `
nats:
  port: 14222
store:
  path: /tmp/test.db
advisory:
  model: claude-sonnet-4-20250514
  timeout: 5s
collab:
  max_candidates: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APIARY_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.Port != 14222 {
		t.Errorf("expected port 14222, got %d", cfg.NATS.Port)
	}
	if cfg.Advisory.Model != "claude-sonnet-4-20250514" {
		t.Errorf("unexpected model: %s", cfg.Advisory.Model)
	}
	if cfg.Advisory.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", cfg.Advisory.Timeout)
	}
	if cfg.Collab.MaxCandidates != 3 {
		t.Errorf("expected 3 max candidates, got %d", cfg.Collab.MaxCandidates)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APIARY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("APIARY_NATS_PORT", "24222")
	t.Setenv("APIARY_STORE_PATH", "/var/lib/apiary/db")
	t.Setenv("APIARY_ADVISORY_TIMEOUT", "10s")
	t.Setenv("APIARY_ASSUME_ACTIVE_CONTEXT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.Port != 24222 {
		t.Errorf("expected port 24222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "/var/lib/apiary/db" {
		t.Errorf("unexpected store path: %s", cfg.Store.Path)
	}
	if cfg.Advisory.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.Advisory.Timeout)
	}
	if !cfg.Collab.AssumeActiveContext {
		t.Error("expected assume_active_context override to apply")
	}
}
