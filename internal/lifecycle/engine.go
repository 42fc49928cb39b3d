// Package lifecycle implements the Lifecycle Engine: the small set of
// independent periodic tickers that drive every Project/Task state
// transition, plus the shutdown coordinator that winds them down. Every
// ticker skips projects whose ExecutionState isn't Running.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/dracode/internal/classify"
	"github.com/antigravity-dev/dracode/internal/drake"
	"github.com/antigravity-dev/dracode/internal/governor"
	"github.com/antigravity-dev/dracode/internal/store"
	"github.com/antigravity-dev/dracode/internal/wyrm"
	"github.com/antigravity-dev/dracode/internal/wyvern"
)

// Intervals configures each ticker's cadence. Zero fields fall back to the
// defaults noted per field.
type Intervals struct {
	Wyrm             time.Duration // default 60s
	Wyvern           time.Duration // default 60s
	Supervisor       time.Duration // default 30s
	DrakeMonitor     time.Duration // default 60s
	FailureRecovery  time.Duration // default 300s
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Wyrm <= 0 {
		iv.Wyrm = 60 * time.Second
	}
	if iv.Wyvern <= 0 {
		iv.Wyvern = 60 * time.Second
	}
	if iv.Supervisor <= 0 {
		iv.Supervisor = 30 * time.Second
	}
	if iv.DrakeMonitor <= 0 {
		iv.DrakeMonitor = 60 * time.Second
	}
	if iv.FailureRecovery <= 0 {
		iv.FailureRecovery = 300 * time.Second
	}
	return iv
}

// Engine owns the Store, Resource Governor, Planner Agents, and the live
// Supervisor registry, and runs the five periodic tickers.
type Engine struct {
	Store       *store.Store
	Governor    *governor.Governor
	WyrmAgent   *wyrm.Agent
	WyvernAgent *wyvern.Agent
	NewWorker   drake.WorkerFactory
	Dispatch    drake.Dispatcher // optional; nil runs Workers in-process (see internal/drake.Dispatcher)

	Intervals        Intervals
	StuckAfter       time.Duration // stuckKoboldTimeoutMinutes
	StaleBranchTTL   time.Duration // 0 disables stale feat/ branch cleanup
	RetryPolicy      classify.Policy
	MaxRetryAttempts int

	Logger *slog.Logger

	mu          sync.Mutex
	supervisors map[string]supervisorEntry

	wg sync.WaitGroup
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.supervisors == nil {
		e.supervisors = make(map[string]supervisorEntry)
	}
	e.Intervals = e.Intervals.withDefaults()
	if e.RetryPolicy.MaxAttempts == 0 {
		e.RetryPolicy = classify.DefaultPolicy()
	}
	if e.MaxRetryAttempts <= 0 {
		e.MaxRetryAttempts = 5
	}
}

// Start launches all five tickers as independent goroutines bound to ctx.
// Call Shutdown (or cancel ctx and call Wait) to stop them.
func (e *Engine) Start(ctx context.Context) {
	e.init()
	e.runTicker(ctx, func(iv Intervals) time.Duration { return iv.Wyrm }, e.tickWyrm)
	e.runTicker(ctx, func(iv Intervals) time.Duration { return iv.Wyvern }, e.tickWyvern)
	e.runTicker(ctx, func(iv Intervals) time.Duration { return iv.Supervisor }, e.tickSupervisors)
	e.runTicker(ctx, func(iv Intervals) time.Duration { return iv.DrakeMonitor }, e.tickDrakeMonitor)
	e.runTicker(ctx, func(iv Intervals) time.Duration { return iv.FailureRecovery }, e.tickFailureRecovery)
}

// SetIntervals replaces the ticker cadences at runtime, e.g. after a config
// reload. Each ticker picks up its new interval after its next tick.
func (e *Engine) SetIntervals(iv Intervals) {
	e.mu.Lock()
	e.Intervals = iv.withDefaults()
	e.mu.Unlock()
}

func (e *Engine) currentInterval(sel func(Intervals) time.Duration) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sel(e.Intervals)
}

func (e *Engine) runTicker(ctx context.Context, sel func(Intervals) time.Duration, tick func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		cur := e.currentInterval(sel)
		ticker := time.NewTicker(cur)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
				if next := e.currentInterval(sel); next != cur {
					cur = next
					ticker.Reset(cur)
				}
			}
		}
	}()
}

// Wait blocks until every ticker goroutine launched by Start has returned
// (i.e. their shared ctx was cancelled).
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) runningProjects(status store.ProjectStatus) []store.Project {
	projects, err := e.Store.ListProjects(store.ProjectFilter{Status: status, ExecutionState: store.ExecutionRunning})
	if err != nil {
		e.logger().Error("lifecycle: list projects", "status", status, "error", err)
		return nil
	}
	return projects
}

func analysisPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "analysis.md")
}

// tickWyrm advances New -> WyrmAssigned for every Running project with a
// Specification, running Wyrm's recommendation pass per project. Projects
// whose specification was edited after analysis (SpecificationModified)
// re-enter here too — the cycle back to WyrmAssigned re-runs Wyrm and then
// Wyvern against the new content, regenerating task files while tasks with
// unchanged ids keep their status.
func (e *Engine) tickWyrm(ctx context.Context) {
	projects := e.runningProjects(store.StatusNew)
	projects = append(projects, e.runningProjects(store.StatusSpecificationModified)...)
	for _, project := range projects {
		if err := e.processWyrm(ctx, project); err != nil {
			e.logger().Error("lifecycle: wyrm tick", "project", project.ID, "error", err)
		}
	}
}

func (e *Engine) processWyrm(ctx context.Context, project store.Project) error {
	spec, err := e.Store.GetSpecification(project.ID)
	if err != nil {
		return fmt.Errorf("load specification: %w", err)
	}

	pending, err := e.Store.ListFeatures(project.ID, store.FeatureNew)
	if err != nil {
		return fmt.Errorf("list pending features: %w", err)
	}
	for i := range pending {
		pending[i].Status = store.FeatureAssignedToWyvern
		if err := e.Store.UpsertFeature(&pending[i]); err != nil {
			return fmt.Errorf("assign feature %s: %w", pending[i].ID, err)
		}
	}

	assigned, err := e.Store.ListFeatures(project.ID, store.FeatureAssignedToWyvern)
	if err != nil {
		return fmt.Errorf("list assigned features: %w", err)
	}

	release, err := e.Governor.Admit(project.ID, governor.KindWyrm)
	if err != nil {
		return nil // at capacity; retry next tick
	}
	defer release()

	out, err := e.WyrmAgent.Analyze(ctx, *spec, assigned)
	if err != nil {
		return e.failProject(project, fmt.Sprintf("wyrm: %v", err))
	}

	payload, _ := json.MarshalIndent(out, "", "  ")
	if project.WorkspaceRoot != "" {
		if err := os.MkdirAll(project.WorkspaceRoot, 0o755); err != nil {
			return fmt.Errorf("create workspace root: %w", err)
		}
		if err := os.WriteFile(analysisPath(project.WorkspaceRoot), payload, 0o644); err != nil {
			return fmt.Errorf("write analysis.md: %w", err)
		}
	}

	project.Status = store.StatusWyrmAssigned
	project.AssignedPlannerID = "wyrm"
	project.LastProcessedAt = time.Now().UTC()
	return e.Store.UpsertProject(&project)
}

// tickWyvern advances WyrmAssigned -> Analyzed, materializing TaskFiles.
func (e *Engine) tickWyvern(ctx context.Context) {
	projects := e.runningProjects(store.StatusWyrmAssigned)
	for _, project := range projects {
		if err := e.processWyvern(ctx, project); err != nil {
			e.logger().Error("lifecycle: wyvern tick", "project", project.ID, "error", err)
		}
	}
}

func (e *Engine) processWyvern(ctx context.Context, project store.Project) error {
	spec, err := e.Store.GetSpecification(project.ID)
	if err != nil {
		return fmt.Errorf("load specification: %w", err)
	}

	recommendation := ""
	if project.WorkspaceRoot != "" {
		if b, err := os.ReadFile(analysisPath(project.WorkspaceRoot)); err == nil {
			recommendation = string(b)
		}
	}

	release, err := e.Governor.Admit(project.ID, governor.KindWyvern)
	if err != nil {
		return nil // at capacity; retry next tick
	}
	defer release()

	doc, err := e.WyvernAgent.Plan(ctx, *spec, recommendation)
	if err != nil {
		return e.failProject(project, fmt.Sprintf("wyvern: %v", err))
	}

	var allTasks []store.Task
	areaNames := append([]string(nil), project.PendingWorkAreas...)
	for _, area := range doc.Areas {
		tasks, err := wyvern.Materialize(e.Store, &project, area, *spec)
		if err != nil {
			return e.failProject(project, fmt.Sprintf("wyvern materialize %q: %v", area.Name, err))
		}
		allTasks = append(allTasks, tasks...)
		if !containsString(areaNames, area.Name) {
			areaNames = append(areaNames, area.Name)
		}
	}

	allFeatures, err := e.Store.ListFeatures(project.ID, "")
	if err != nil {
		return fmt.Errorf("list features: %w", err)
	}
	if err := wyvern.LinkFeatures(e.Store, allFeatures, allTasks); err != nil {
		return fmt.Errorf("link features: %w", err)
	}

	project.Status = store.StatusAnalyzed
	project.PendingWorkAreas = areaNames
	project.LastProcessedHash = spec.Hash
	project.AnalyzedAt = time.Now().UTC()
	project.LastProcessedAt = project.AnalyzedAt
	return e.Store.UpsertProject(&project)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (e *Engine) failProject(project store.Project, message string) error {
	project.Status = store.StatusFailed
	project.ErrorMessage = message
	return e.Store.UpsertProject(&project)
}
