package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Name != "kokoro" {
		t.Fatalf("unexpected agent name: %s", cfg.Agent.Name)
	}
	if cfg.API.Bind != "127.0.0.1:3000" {
		t.Fatalf("unexpected api bind: %s", cfg.API.Bind)
	}
	if cfg.Memory.LeaseTimeout != 30*time.Second {
		t.Fatalf("unexpected lease timeout: %s", cfg.Memory.LeaseTimeout)
	}
	if cfg.Executor.StepTimeout != 2*time.Minute {
		t.Fatalf("unexpected step timeout: %s", cfg.Executor.StepTimeout)
	}
	if cfg.Context.Budget <= 0 {
		t.Fatal("context budget must default to a positive value")
	}
	if cfg.LLM.Temperature != 1.0 {
		t.Fatalf("unexpected temperature default: %v", cfg.LLM.Temperature)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  name: testagent
llm:
  provider: openai
  model: gpt-5-mini
memory:
  lease_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Name != "testagent" {
		t.Fatalf("file override lost: %s", cfg.Agent.Name)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("llm provider: %s", cfg.LLM.Provider)
	}
	if cfg.Memory.LeaseTimeout != 5*time.Second {
		t.Fatalf("lease timeout: %s", cfg.Memory.LeaseTimeout)
	}
	// Untouched keys keep defaults.
	if cfg.MCP.Bind != "127.0.0.1:3001" {
		t.Fatalf("mcp bind default lost: %s", cfg.MCP.Bind)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KOKORO_LOG_LEVEL", "debug")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env override lost: %s", cfg.Log.Level)
	}
}

func TestInitBaseDir(t *testing.T) {
	base := t.TempDir()
	if err := InitBaseDir(base); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, rel := range []string{
		"core/identity.md",
		"core/user.md",
		"core/state.md",
		"config.yaml",
	} {
		if _, err := os.Stat(filepath.Join(base, rel)); err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
	}

	// Re-running must not clobber user edits.
	userPath := filepath.Join(base, "core", "user.md")
	if err := os.WriteFile(userPath, []byte("# User\n\nMasaki\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := InitBaseDir(base); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	data, err := os.ReadFile(userPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "# User\n\nMasaki\n" {
		t.Fatal("init overwrote an existing core document")
	}
}
