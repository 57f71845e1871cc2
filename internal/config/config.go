package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigDir is the project-local directory protoloop keeps its
// state in.
const ConfigDir = ".protoloop"

// Config is the per-project configuration, read from
// .protoloop/config.yaml.
type Config struct {
	Project    ProjectConfig   `yaml:"project"`
	Agent      AgentConfig     `yaml:"agent"`
	Benchmarks BenchmarkConfig `yaml:"benchmarks"`
	Limits     LimitConfig     `yaml:"limits"`
}

// ProjectConfig names the project.
type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// AgentConfig configures the generation service.
type AgentConfig struct {
	Model             string `yaml:"model"`
	MaxIterations     int    `yaml:"max_iterations"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	CallTimeoutSecs   int    `yaml:"call_timeout_seconds"`
}

// BenchmarkConfig configures the test harness.
type BenchmarkConfig struct {
	TestCommand string `yaml:"test_command"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
}

// LimitConfig bounds patch and context sizes.
type LimitConfig struct {
	MaxPatchBytes int `yaml:"max_patch_bytes"`
	ContextBytes  int `yaml:"context_bytes"`
	FeedbackBytes int `yaml:"feedback_bytes"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			Name:        "protoloop-project",
			Description: "A protoloop prototype project",
		},
		Agent: AgentConfig{
			Model:             "gpt-5-codex",
			MaxIterations:     15,
			RequestsPerMinute: 60,
			CallTimeoutSecs:   600,
		},
		Benchmarks: BenchmarkConfig{
			TestCommand: "python -m pytest -q",
			TimeoutSecs: 120,
		},
		Limits: LimitConfig{
			MaxPatchBytes: 1 << 20,
			ContextBytes:  120_000,
			FeedbackBytes: 16_000,
		},
	}
}

// Load reads the project config under root, falling back to
// defaults when the file does not exist. Missing fields are filled
// in from the defaults.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, ConfigDir, "config.yaml")
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Save writes the config back under root.
func Save(cfg *Config, root string) error {
	dir := filepath.Join(root, ConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadSpec reads the project's spec text from .protoloop/spec.md.
func LoadSpec(root string) (string, error) {
	path := filepath.Join(root, ConfigDir, "spec.md")
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%s not found: create one describing the implementation goal", path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(content), nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Agent.Model == "" {
		c.Agent.Model = def.Agent.Model
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = def.Agent.MaxIterations
	}
	if c.Agent.RequestsPerMinute <= 0 {
		c.Agent.RequestsPerMinute = def.Agent.RequestsPerMinute
	}
	if c.Agent.CallTimeoutSecs <= 0 {
		c.Agent.CallTimeoutSecs = def.Agent.CallTimeoutSecs
	}
	if c.Benchmarks.TestCommand == "" {
		c.Benchmarks.TestCommand = def.Benchmarks.TestCommand
	}
	if c.Benchmarks.TimeoutSecs <= 0 {
		c.Benchmarks.TimeoutSecs = def.Benchmarks.TimeoutSecs
	}
	if c.Limits.MaxPatchBytes <= 0 {
		c.Limits.MaxPatchBytes = def.Limits.MaxPatchBytes
	}
	if c.Limits.ContextBytes <= 0 {
		c.Limits.ContextBytes = def.Limits.ContextBytes
	}
	if c.Limits.FeedbackBytes <= 0 {
		c.Limits.FeedbackBytes = def.Limits.FeedbackBytes
	}
}
