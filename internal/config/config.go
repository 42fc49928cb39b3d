// Package config loads and validates the Dracode TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ExecutionMode is the strategy a Worker uses to walk a Plan's steps.
type ExecutionMode string

const (
	ExecutionModeMultiStep ExecutionMode = "multi-step"
	ExecutionModeSingleStep ExecutionMode = "single-step"
	ExecutionModeParallel  ExecutionMode = "parallel"
)

// Config is the root of the Dracode configuration tree. It is loaded once at
// startup and treated as immutable thereafter; runtime readers always see a
// Clone() so mutation of a live *Config can never leak between goroutines.
type Config struct {
	General     General             `toml:"general"`
	Limits      Limits              `toml:"limits"`
	Planning    Planning            `toml:"planning"`
	Iterations  Iterations          `toml:"iterations"`
	Providers   map[string]Provider `toml:"providers"`
	Dragon      Dragon              `toml:"dragon"`
	RetryPolicy RetryPolicy         `toml:"retry_policy"`
	Temporal    Temporal            `toml:"temporal"`
	Git         Git                 `toml:"git"`
}

// Git configures the optional version-control collaborator: task commits
// always happen when a workspace repo exists; feature-branch isolation and
// stale-branch cleanup are opt-in.
type Git struct {
	UseFeatureBranches bool     `toml:"use_feature_branches"`
	BaseBranch         string   `toml:"base_branch"`      // default main
	StaleBranchTTL     Duration `toml:"stale_branch_ttl"` // 0 disables cleanup
}

// Temporal configures the optional durable-dispatch path: when Enabled, the
// Supervisor dispatches tasks as Temporal workflow executions
// (internal/temporal.Dispatch) instead of running Workers in-process. If
// Enabled is set but the server cannot be dialed at startup, cmd/dracode
// logs the error and keeps in-process dispatch.
type Temporal struct {
	Enabled  bool   `toml:"enabled"`
	HostPort string `toml:"host_port"` // default 127.0.0.1:7233
	Namespace string `toml:"namespace"` // default "default"
}

// General carries process-wide, non-domain settings.
type General struct {
	DefaultProvider string   `toml:"default_provider"`
	ProjectsPath    string   `toml:"projects_path"`
	StateDB         string   `toml:"state_db"`
	LockFile        string   `toml:"lock_file"`
	LogLevel        string   `toml:"log_level"` // debug, info, warn, error
	GracePeriod     Duration `toml:"grace_period"` // shutdown coordinator drain window, default 10s
}

// Limits holds the per-project concurrency caps enforced by the Resource
// Governor, and the intervals the Lifecycle Engine's tickers run at.
type Limits struct {
	MaxParallelKobolds         int      `toml:"max_parallel_kobolds"`
	MaxParallelDrakes          int      `toml:"max_parallel_drakes"`
	MaxParallelWyrms           int      `toml:"max_parallel_wyrms"`
	MaxParallelWyverns         int      `toml:"max_parallel_wyverns"`
	MonitoringIntervalSeconds  int      `toml:"monitoring_interval_seconds"`
	StuckKoboldTimeoutMinutes  int      `toml:"stuck_kobold_timeout_minutes"`
	WyrmTickInterval           Duration `toml:"wyrm_tick_interval"`           // default 60s
	WyvernTickInterval         Duration `toml:"wyvern_tick_interval"`         // default 60s
	SupervisorTickInterval     Duration `toml:"supervisor_tick_interval"`     // default 30s
	DrakeMonitorTickInterval   Duration `toml:"drake_monitor_tick_interval"`  // default 60s
	FailureRecoveryTickInterval Duration `toml:"failure_recovery_tick_interval"` // default 300s
}

// Planning controls how Workers decompose and walk a task's Plan.
type Planning struct {
	Enabled                    bool          `toml:"enabled"`
	MaxPlanningIterations      int           `toml:"max_planning_iterations"` // default 5
	SavePlanProgress           bool          `toml:"save_plan_progress"`
	ResumeFromPlan             bool          `toml:"resume_from_plan"`
	UseEnhancedExecution       bool          `toml:"use_enhanced_execution"`
	UseProgressiveDetailReveal bool          `toml:"use_progressive_detail_reveal"`
	MediumDetailStepCount      int           `toml:"medium_detail_step_count"`
	ExecutionMode              ExecutionMode `toml:"execution_mode"`
	AllowPlanModifications     bool          `toml:"allow_plan_modifications"`
	AutoApproveModifications   bool          `toml:"auto_approve_modifications"`
	MaxParallelSteps           int           `toml:"max_parallel_steps"`
}

// Iterations caps the Agent Runner loop for every agent kind in the hierarchy.
type Iterations struct {
	MaxKoboldIterations         int `toml:"max_kobold_iterations"`
	MaxDragonInitialIterations  int `toml:"max_dragon_initial_iterations"`
	MaxDragonContinueIterations int `toml:"max_dragon_continue_iterations"`
	MaxWyrmIterations           int `toml:"max_wyrm_iterations"`
	MaxWyvernIterations         int `toml:"max_wyvern_iterations"`
	MaxSubAgentIterations       int `toml:"max_sub_agent_iterations"`
}

// Provider is one named LLM provider's connection settings.
type Provider struct {
	APIKey     string `toml:"api_key"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	Deployment string `toml:"deployment"`
	Endpoint   string `toml:"endpoint"`
}

// Dragon configures the Dialogue Agent's session table.
type Dragon struct {
	SessionHistoryCap   int      `toml:"session_history_cap"`   // default 100
	SessionIdleTimeout  Duration `toml:"session_idle_timeout"`  // default 10m
	SessionGCInterval   Duration `toml:"session_gc_interval"`   // default 60s
	PromptTimeout       Duration `toml:"prompt_timeout"`        // default 300s
	DefaultPromptResponse string `toml:"default_prompt_response"`
}

// RetryPolicy controls the Error Classifier's backoff schedule for
// Transient and ProviderUnavailable failures.
type RetryPolicy struct {
	MaxRetryAttempts int      `toml:"max_retry_attempts"` // default 5
	FirstRetryDelay  Duration `toml:"first_retry_delay"`  // default 60s
	BackoffFactor    float64  `toml:"backoff_factor"`     // default 2.0
	MaxDelay         Duration `toml:"max_delay"`
}

// Clone returns a deep-enough copy so a reader can't observe later mutation
// of the source config; map fields are copied element-wise.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Providers != nil {
		cp.Providers = make(map[string]Provider, len(c.Providers))
		for k, v := range c.Providers {
			cp.Providers[k] = v
		}
	}
	return &cp
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func applyDefaults(c *Config) {
	if c.General.GracePeriod.Duration <= 0 {
		c.General.GracePeriod.Duration = 10 * time.Second
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.StateDB == "" {
		c.General.StateDB = "dracode.db"
	}

	if c.Limits.MaxParallelKobolds <= 0 {
		c.Limits.MaxParallelKobolds = 1
	}
	if c.Limits.MaxParallelDrakes <= 0 {
		c.Limits.MaxParallelDrakes = 1
	}
	if c.Limits.MaxParallelWyrms <= 0 {
		c.Limits.MaxParallelWyrms = 1
	}
	if c.Limits.MaxParallelWyverns <= 0 {
		c.Limits.MaxParallelWyverns = 1
	}
	if c.Limits.StuckKoboldTimeoutMinutes <= 0 {
		c.Limits.StuckKoboldTimeoutMinutes = 30
	}
	if c.Limits.WyrmTickInterval.Duration <= 0 {
		c.Limits.WyrmTickInterval.Duration = 60 * time.Second
	}
	if c.Limits.WyvernTickInterval.Duration <= 0 {
		c.Limits.WyvernTickInterval.Duration = 60 * time.Second
	}
	if c.Limits.SupervisorTickInterval.Duration <= 0 {
		c.Limits.SupervisorTickInterval.Duration = 30 * time.Second
	}
	if c.Limits.DrakeMonitorTickInterval.Duration <= 0 {
		c.Limits.DrakeMonitorTickInterval.Duration = 60 * time.Second
	}
	if c.Limits.FailureRecoveryTickInterval.Duration <= 0 {
		c.Limits.FailureRecoveryTickInterval.Duration = 300 * time.Second
	}

	if c.Planning.MaxPlanningIterations <= 0 {
		c.Planning.MaxPlanningIterations = 5
	}
	if c.Planning.MediumDetailStepCount <= 0 {
		c.Planning.MediumDetailStepCount = 3
	}
	if c.Planning.ExecutionMode == "" {
		c.Planning.ExecutionMode = ExecutionModeMultiStep
	}
	if c.Planning.MaxParallelSteps <= 0 {
		c.Planning.MaxParallelSteps = 1
	}

	if c.Iterations.MaxKoboldIterations <= 0 {
		c.Iterations.MaxKoboldIterations = 25
	}
	if c.Iterations.MaxDragonInitialIterations <= 0 {
		c.Iterations.MaxDragonInitialIterations = 10
	}
	if c.Iterations.MaxDragonContinueIterations <= 0 {
		c.Iterations.MaxDragonContinueIterations = 5
	}
	if c.Iterations.MaxWyrmIterations <= 0 {
		c.Iterations.MaxWyrmIterations = 8
	}
	if c.Iterations.MaxWyvernIterations <= 0 {
		c.Iterations.MaxWyvernIterations = 1
	}
	if c.Iterations.MaxSubAgentIterations <= 0 {
		c.Iterations.MaxSubAgentIterations = 10
	}

	if c.Dragon.SessionHistoryCap <= 0 {
		c.Dragon.SessionHistoryCap = 100
	}
	if c.Dragon.SessionIdleTimeout.Duration <= 0 {
		c.Dragon.SessionIdleTimeout.Duration = 10 * time.Minute
	}
	if c.Dragon.SessionGCInterval.Duration <= 0 {
		c.Dragon.SessionGCInterval.Duration = 60 * time.Second
	}
	if c.Dragon.PromptTimeout.Duration <= 0 {
		c.Dragon.PromptTimeout.Duration = 300 * time.Second
	}

	if c.RetryPolicy.MaxRetryAttempts <= 0 {
		c.RetryPolicy.MaxRetryAttempts = 5
	}
	if c.RetryPolicy.FirstRetryDelay.Duration <= 0 {
		c.RetryPolicy.FirstRetryDelay.Duration = 60 * time.Second
	}
	if c.RetryPolicy.BackoffFactor < 1.0 {
		c.RetryPolicy.BackoffFactor = 2.0
	}
	if c.RetryPolicy.MaxDelay.Duration <= 0 {
		c.RetryPolicy.MaxDelay.Duration = 30 * time.Minute
	}

	if c.Git.BaseBranch == "" {
		c.Git.BaseBranch = "main"
	}

	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "127.0.0.1:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
}

func validate(c *Config) error {
	if strings.TrimSpace(c.General.ProjectsPath) == "" {
		return fmt.Errorf("config: general.projects_path is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one [providers.<name>] entry is required")
	}
	if c.General.DefaultProvider != "" {
		if _, ok := c.Providers[c.General.DefaultProvider]; !ok {
			return fmt.Errorf("config: default_provider %q has no matching [providers.%s] entry", c.General.DefaultProvider, c.General.DefaultProvider)
		}
	}
	switch c.Planning.ExecutionMode {
	case ExecutionModeMultiStep, ExecutionModeSingleStep, ExecutionModeParallel:
	default:
		return fmt.Errorf("config: planning.execution_mode %q is not one of multi-step, single-step, parallel", c.Planning.ExecutionMode)
	}
	return nil
}

// Load reads and validates a TOML config file, applying defaults for any
// unset field.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
