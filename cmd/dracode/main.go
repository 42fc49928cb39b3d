// Command dracode is the process entrypoint: it loads configuration, opens
// the store, wires the resource governor / circuit breakers / agent runner /
// planner agents / worker factory, starts the lifecycle engine's tickers
// plus the specification file watcher and the dialogue session
// garbage-collector, and runs until a termination signal triggers the
// shutdown sequence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/dracode/internal/breaker"
	"github.com/antigravity-dev/dracode/internal/classify"
	"github.com/antigravity-dev/dracode/internal/config"
	"github.com/antigravity-dev/dracode/internal/dragon"
	"github.com/antigravity-dev/dracode/internal/drake"
	"github.com/antigravity-dev/dracode/internal/governor"
	"github.com/antigravity-dev/dracode/internal/kobold"
	"github.com/antigravity-dev/dracode/internal/lifecycle"
	"github.com/antigravity-dev/dracode/internal/providers/anthropic"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/specwatch"
	"github.com/antigravity-dev/dracode/internal/store"
	"github.com/antigravity-dev/dracode/internal/temporal"
	"github.com/antigravity-dev/dracode/internal/wyrm"
	"github.com/antigravity-dev/dracode/internal/wyvern"
)

func configureLogger(logLevel string, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "dracode.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLogger)
	bootLogger.Info("dracode starting", "config", *configPath)

	mgr, err := config.LoadManager(*configPath)
	if err != nil {
		bootLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := mgr.Get()

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	dbPath := config.ExpandHome(cfg.General.StateDB)
	st, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	st.SetRegistryPath(filepath.Join(config.ExpandHome(cfg.General.ProjectsPath), "projects.json"))

	providerName := cfg.General.DefaultProvider
	providerCfg, ok := cfg.Providers[providerName]
	if !ok {
		logger.Error("default_provider has no matching [providers.<name>] entry", "provider", providerName)
		os.Exit(1)
	}
	providerOpts := runner.ProviderOptions{
		APIKey:     providerCfg.APIKey,
		Model:      providerCfg.Model,
		BaseURL:    providerCfg.BaseURL,
		Deployment: providerCfg.Deployment,
		Endpoint:   providerCfg.Endpoint,
	}

	llm, err := anthropic.NewFromProviderOptions(providerOpts, 4096)
	if err != nil {
		logger.Error("failed to construct anthropic provider", "provider", providerName, "error", err)
		os.Exit(1)
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	retryPolicy := classify.Policy{
		MaxAttempts:   cfg.RetryPolicy.MaxRetryAttempts,
		FirstDelay:    cfg.RetryPolicy.FirstRetryDelay.Duration,
		BackoffFactor: cfg.RetryPolicy.BackoffFactor,
		MaxDelay:      cfg.RetryPolicy.MaxDelay.Duration,
	}

	agentRunner := runner.New(llm, providerName, breakers, logger.With("component", "runner"))
	agentRunner.RetryPolicy = retryPolicy

	gov := governor.New(governor.Limits{
		MaxKobolds: cfg.Limits.MaxParallelKobolds,
		MaxDrakes:  cfg.Limits.MaxParallelDrakes,
		MaxWyrms:   cfg.Limits.MaxParallelWyrms,
		MaxWyverns: cfg.Limits.MaxParallelWyverns,
	})

	wyrmAgent := &wyrm.Agent{
		Runner:          agentRunner,
		ProviderOptions: providerOpts,
		MaxIterations:   cfg.Iterations.MaxWyrmIterations,
	}
	wyvernAgent := &wyvern.Agent{
		Runner:          agentRunner,
		ProviderOptions: providerOpts,
	}

	newWorker := func(task store.Task) *kobold.Worker {
		return &kobold.Worker{
			Store:                      st,
			Runner:                     agentRunner,
			ProviderOptions:            providerOpts,
			MaxPlanningIterations:      cfg.Planning.MaxPlanningIterations,
			MaxExecutionIterations:     cfg.Iterations.MaxKoboldIterations,
			UseProgressiveDetailReveal: cfg.Planning.UseProgressiveDetailReveal,
			MediumDetailStepCount:      cfg.Planning.MediumDetailStepCount,
			UseFeatureBranches:         cfg.Git.UseFeatureBranches,
			BaseBranch:                 cfg.Git.BaseBranch,
			Logger:                     logger.With("component", "kobold", "task", task.ID),
		}
	}

	var dispatch drake.Dispatcher
	var temporalClient client.Client
	if cfg.Temporal.Enabled {
		temporalClient, err = client.Dial(client.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace})
		if err != nil {
			logger.Error("failed to dial temporal, falling back to in-process dispatch", "error", err)
		} else {
			defer temporalClient.Close()
			dispatch = &temporal.Dispatch{Client: temporalClient}
			go func() {
				logger.Info("starting temporal worker")
				acts := &temporal.Activities{NewWorker: newWorker, Store: st}
				if err := temporal.StartWorker(temporalClient, acts); err != nil {
					logger.Error("temporal worker stopped", "error", err)
				}
			}()
		}
	}

	overridesPath := filepath.Join(config.ExpandHome(cfg.General.ProjectsPath), "intervals.yaml")

	engine := &lifecycle.Engine{
		Store:            st,
		Governor:         gov,
		WyrmAgent:        wyrmAgent,
		WyvernAgent:      wyvernAgent,
		NewWorker:        newWorker,
		Dispatch:         dispatch,
		Intervals:        loadIntervals(cfg, overridesPath, logger),
		StuckAfter:       time.Duration(cfg.Limits.StuckKoboldTimeoutMinutes) * time.Minute,
		StaleBranchTTL:   cfg.Git.StaleBranchTTL.Duration,
		RetryPolicy:      retryPolicy,
		MaxRetryAttempts: cfg.RetryPolicy.MaxRetryAttempts,
		Logger:           logger.With("component", "lifecycle"),
	}

	sessions := dragon.NewTable(cfg.Dragon.SessionHistoryCap, cfg.Dragon.SessionIdleTimeout.Duration)

	watcher, err := specwatch.New(st, logger.With("component", "specwatch"))
	if err != nil {
		logger.Error("failed to create specification watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()
	if err := watchExistingSpecifications(st, watcher); err != nil {
		logger.Error("failed to watch existing specifications", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine.Start(ctx)
	sessions.StartGC(ctx, cfg.Dragon.SessionGCInterval.Duration)
	go watcher.Run(ctx)

	logger.Info("dracode running",
		"projects_path", cfg.General.ProjectsPath,
		"default_provider", providerName,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	for {
		sig = <-sigCh
		if sig != syscall.SIGHUP {
			break
		}
		if err := mgr.Reload(*configPath); err != nil {
			logger.Error("config reload failed, keeping previous config", "error", err)
			continue
		}
		reloaded := mgr.Get()
		engine.SetIntervals(loadIntervals(reloaded, overridesPath, logger))
		logger.Info("configuration reloaded")
	}

	shutdownStart := time.Now()
	logger.Info("received signal, shutting down", "signal", sig)
	engine.Shutdown(cancel, cfg.General.GracePeriod.Duration)
	sessions.Stop()
	logger.Info("dracode stopped", "shutdown_duration", time.Since(shutdownStart).String())
}

// loadIntervals builds the ticker cadences from config, layering the
// operator's optional intervals.yaml overrides on top. A missing overrides
// file is not an error; a malformed one keeps the config values.
func loadIntervals(cfg *config.Config, overridesPath string, logger *slog.Logger) lifecycle.Intervals {
	base := lifecycle.Intervals{
		Wyrm:            cfg.Limits.WyrmTickInterval.Duration,
		Wyvern:          cfg.Limits.WyvernTickInterval.Duration,
		Supervisor:      cfg.Limits.SupervisorTickInterval.Duration,
		DrakeMonitor:    cfg.Limits.DrakeMonitorTickInterval.Duration,
		FailureRecovery: cfg.Limits.FailureRecoveryTickInterval.Duration,
	}

	iv, err := lifecycle.LoadIntervalOverrides(overridesPath, base)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("ignoring interval overrides", "path", overridesPath, "error", err)
		}
		return base
	}
	return iv
}

// watchExistingSpecifications registers every project's specification.md
// with the watcher at startup, so externally edited specs are picked up
// even for projects created before this process started.
func watchExistingSpecifications(st *store.Store, w *specwatch.Watcher) error {
	projects, err := st.ListProjects(store.ProjectFilter{})
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	for _, p := range projects {
		if p.WorkspaceRoot == "" {
			continue
		}
		path := filepath.Join(p.WorkspaceRoot, "specification.md")
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if err := w.Watch(p.ID, path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	return nil
}
