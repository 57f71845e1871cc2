package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Agent.Model != "gpt-5-codex" {
		t.Errorf("Unexpected default model: %s", cfg.Agent.Model)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("Unexpected default budget: %d", cfg.Agent.MaxIterations)
	}
	if cfg.Benchmarks.TestCommand == "" {
		t.Error("Expected a default test command")
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
project:
  name: demo
agent:
  model: gpt-4o-mini
benchmarks:
  test_command: "cargo test"
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Project.Name != "demo" {
		t.Errorf("Project name not read: %s", cfg.Project.Name)
	}
	if cfg.Agent.Model != "gpt-4o-mini" {
		t.Errorf("Model not read: %s", cfg.Agent.Model)
	}
	if cfg.Benchmarks.TestCommand != "cargo test" {
		t.Errorf("Test command not read: %s", cfg.Benchmarks.TestCommand)
	}

	// Unset fields fall back to defaults.
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("Missing budget not defaulted: %d", cfg.Agent.MaxIterations)
	}
	if cfg.Benchmarks.TimeoutSecs != 120 {
		t.Errorf("Missing timeout not defaulted: %d", cfg.Benchmarks.TimeoutSecs)
	}
	if cfg.Limits.MaxPatchBytes != 1<<20 {
		t.Errorf("Missing patch limit not defaulted: %d", cfg.Limits.MaxPatchBytes)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agent: [not: valid: yaml")

	if _, err := Load(dir); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Project.Name = "round-trip"
	cfg.Agent.MaxIterations = 7

	if err := Save(cfg, dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Project.Name != "round-trip" {
		t.Errorf("Name not round-tripped: %s", loaded.Project.Name)
	}
	if loaded.Agent.MaxIterations != 7 {
		t.Errorf("Budget not round-tripped: %d", loaded.Agent.MaxIterations)
	}
}

func TestLoadSpec(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSpec(dir)
	if err == nil {
		t.Fatal("Expected error for missing spec")
	}
	if !strings.Contains(err.Error(), "spec.md") {
		t.Errorf("Error should name the expected file: %v", err)
	}

	specDir := filepath.Join(dir, ConfigDir)
	if err := os.MkdirAll(specDir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	want := "# Goal\nBuild a calculator.\n"
	if err := os.WriteFile(filepath.Join(specDir, "spec.md"), []byte(want), 0644); err != nil {
		t.Fatalf("Failed to write spec: %v", err)
	}

	got, err := LoadSpec(dir)
	if err != nil {
		t.Fatalf("LoadSpec failed: %v", err)
	}
	if got != want {
		t.Errorf("Spec content mismatch: %q", got)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, ConfigDir)
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatalf("Failed to create config directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}
