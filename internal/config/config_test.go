package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dracode.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const validConfig = `
[general]
default_provider = "anthropic"
projects_path = "/srv/dracode/projects"
state_db = "dracode.db"
log_level = "info"

[limits]
max_parallel_kobolds = 2
max_parallel_drakes = 1
max_parallel_wyrms = 1
max_parallel_wyverns = 1
monitoring_interval_seconds = 60
stuck_kobold_timeout_minutes = 30

[planning]
enabled = true
execution_mode = "multi-step"

[providers.anthropic]
api_key = "test-key"
model = "claude-test"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Limits.WyrmTickInterval.Duration != 60*time.Second {
		t.Fatalf("expected default wyrm tick interval, got %v", cfg.Limits.WyrmTickInterval.Duration)
	}
	if cfg.Limits.SupervisorTickInterval.Duration != 30*time.Second {
		t.Fatalf("expected default supervisor tick interval, got %v", cfg.Limits.SupervisorTickInterval.Duration)
	}
	if cfg.Limits.FailureRecoveryTickInterval.Duration != 300*time.Second {
		t.Fatalf("expected default failure recovery tick interval, got %v", cfg.Limits.FailureRecoveryTickInterval.Duration)
	}
	if cfg.General.GracePeriod.Duration != 10*time.Second {
		t.Fatalf("expected default grace period, got %v", cfg.General.GracePeriod.Duration)
	}
	if cfg.Iterations.MaxKoboldIterations != 25 {
		t.Fatalf("expected default max kobold iterations, got %d", cfg.Iterations.MaxKoboldIterations)
	}
	if cfg.RetryPolicy.MaxRetryAttempts != 5 {
		t.Fatalf("expected default max retry attempts, got %d", cfg.RetryPolicy.MaxRetryAttempts)
	}
	if cfg.Planning.MediumDetailStepCount != 3 {
		t.Fatalf("expected default medium detail step count, got %d", cfg.Planning.MediumDetailStepCount)
	}
	if cfg.Temporal.HostPort != "127.0.0.1:7233" {
		t.Fatalf("expected default temporal host port, got %q", cfg.Temporal.HostPort)
	}
	if cfg.Temporal.Namespace != "default" {
		t.Fatalf("expected default temporal namespace, got %q", cfg.Temporal.Namespace)
	}
	if cfg.Temporal.Enabled {
		t.Fatalf("expected temporal disabled by default")
	}
	if cfg.Git.BaseBranch != "main" {
		t.Fatalf("expected default git base branch, got %q", cfg.Git.BaseBranch)
	}
	if cfg.Git.UseFeatureBranches {
		t.Fatalf("expected feature branches disabled by default")
	}
}

func TestLoadRequiresProjectsPath(t *testing.T) {
	path := writeTestConfig(t, `
[providers.anthropic]
model = "claude-test"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing projects_path")
	}
}

func TestLoadRequiresAtLeastOneProvider(t *testing.T) {
	path := writeTestConfig(t, `
[general]
projects_path = "/srv/dracode/projects"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing providers")
	}
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeTestConfig(t, `
[general]
default_provider = "missing"
projects_path = "/srv/dracode/projects"

[providers.anthropic]
model = "claude-test"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown default_provider")
	}
}

func TestLoadRejectsInvalidExecutionMode(t *testing.T) {
	path := writeTestConfig(t, `
[general]
projects_path = "/srv/dracode/projects"

[planning]
execution_mode = "sideways"

[providers.anthropic]
model = "claude-test"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid execution_mode")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("unexpected duration: %v", d.Duration)
	}

	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDurationMarshalText(t *testing.T) {
	d := Duration{Duration: 2 * time.Minute}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(text) != "2m0s" {
		t.Fatalf("unexpected marshaled text: %q", text)
	}
}

func TestCloneIsolatesProvidersMap(t *testing.T) {
	cfg := &Config{
		Providers: map[string]Provider{
			"anthropic": {Model: "claude-test"},
		},
	}
	clone := cfg.Clone()
	clone.Providers["anthropic"] = Provider{Model: "mutated"}

	if cfg.Providers["anthropic"].Model != "claude-test" {
		t.Fatal("expected clone to not share underlying providers map")
	}
}

func TestCloneNil(t *testing.T) {
	var cfg *Config
	if cfg.Clone() != nil {
		t.Fatal("expected nil clone of nil config")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	if got := ExpandHome("~/projects"); got != filepath.Join(home, "projects") {
		t.Fatalf("expected expanded path, got %q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Fatalf("expected bare tilde to expand to home, got %q", got)
	}
	if got := ExpandHome("/already/absolute"); got != "/already/absolute" {
		t.Fatalf("expected unmodified absolute path, got %q", got)
	}
}
