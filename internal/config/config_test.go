package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: assistant
    primary_model: default
extra_top_level_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRequiresAtLeastOneAgent(t *testing.T) {
	path := writeConfig(t, `
runtime:
  journal_dir: ./data/sessions
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "at least one agent") {
		t.Fatalf("expected at-least-one-agent error, got %v", err)
	}
}

func TestLoadRejectsDuplicateAgentID(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: assistant
  - id: assistant
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "duplicate agent id") {
		t.Fatalf("expected duplicate-agent-id error, got %v", err)
	}
}

func TestLoadRejectsUnknownDefaultAgent(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: assistant
gateway:
  default_agent_id: ghost
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_agent_id") {
		t.Fatalf("expected default_agent_id error, got %v", err)
	}
}

func TestLoadValidConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: assistant
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.ContextManager.MaxTokens == 0 {
		t.Error("expected context manager defaults to be applied")
	}
	if cfg.WeakReAct.MaxSteps == 0 {
		t.Error("expected weak-react defaults to be applied")
	}
	if cfg.Gateway.RateLimit.RequestsPerMinute == 0 {
		t.Error("expected gateway rate-limit defaults to be applied")
	}
	if cfg.Agents[0].PrimaryModel != "default" {
		t.Errorf("PrimaryModel = %q, want defaulted %q", cfg.Agents[0].PrimaryModel, "default")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAYMESH_TEST_JOURNAL_DIR", "/tmp/journals")
	path := writeConfig(t, `
runtime:
  journal_dir: "${RELAYMESH_TEST_JOURNAL_DIR}"
agents:
  - id: assistant
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Runtime.JournalDir != "/tmp/journals" {
		t.Errorf("JournalDir = %q, want /tmp/journals", cfg.Runtime.JournalDir)
	}
}

func TestLoadEnvOverrideWinsOverFile(t *testing.T) {
	t.Setenv("RELAYMESH_RATE_LIMIT_RPM", "99")
	path := writeConfig(t, `
gateway:
  rate_limit:
    requests_per_minute: 5
    burst: 2
agents:
  - id: assistant
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Gateway.RateLimit.RequestsPerMinute != 99 {
		t.Errorf("RequestsPerMinute = %v, want 99 (env override)", cfg.Gateway.RateLimit.RequestsPerMinute)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relaymesh.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
