package lifecycle

import (
	"context"
	"time"

	"github.com/antigravity-dev/dracode/internal/drake"
	"github.com/antigravity-dev/dracode/internal/git"
	"github.com/antigravity-dev/dracode/internal/governor"
	"github.com/antigravity-dev/dracode/internal/store"
)

func supervisorKey(projectID, area string) string {
	return projectID + "/" + area
}

// supervisorEntry pairs a live Supervisor with the Governor slot it holds,
// so reaping one releases the other.
type supervisorEntry struct {
	sv      *drake.Supervisor
	release func()
}

// tickSupervisors advances Analyzed -> InProgress by spawning one
// Supervisor per (project, work area) and ticking every live one; it also
// retires Supervisors whose area has gone fully terminal and rolls the
// project to Completed or Failed once every area has.
func (e *Engine) tickSupervisors(ctx context.Context) {
	analyzed := e.runningProjects(store.StatusAnalyzed)
	inProgress := e.runningProjects(store.StatusInProgress)
	projects := append(analyzed, inProgress...)

	for _, project := range projects {
		e.ensureSupervisors(project)
	}

	e.mu.Lock()
	live := make(map[string]*drake.Supervisor, len(e.supervisors))
	for k, entry := range e.supervisors {
		live[k] = entry.sv
	}
	e.mu.Unlock()

	for _, sv := range live {
		if err := sv.Tick(ctx); err != nil {
			e.logger().Error("lifecycle: supervisor tick", "project", sv.ProjectID, "area", sv.Area, "error", err)
		}
	}

	for _, project := range projects {
		e.reapIfAreasTerminal(project)
	}
}

func (e *Engine) ensureSupervisors(project store.Project) {
	promoted := false
	for _, area := range project.PendingWorkAreas {
		key := supervisorKey(project.ID, area)

		e.mu.Lock()
		_, exists := e.supervisors[key]
		e.mu.Unlock()
		if exists {
			continue
		}

		release, err := e.Governor.Admit(project.ID, governor.KindDrake)
		if err != nil {
			continue // at capacity; try again next tick
		}

		sv := &drake.Supervisor{
			Store:      e.Store,
			Governor:   e.Governor,
			NewWorker:  e.NewWorker,
			Dispatch:   e.Dispatch,
			StuckAfter: e.StuckAfter,
			Logger:     e.logger(),
			ProjectID:  project.ID,
			Area:       area,
		}
		sv.Start()

		e.mu.Lock()
		e.supervisors[key] = supervisorEntry{sv: sv, release: release}
		e.mu.Unlock()
		promoted = true
	}

	if promoted && project.Status == store.StatusAnalyzed {
		project.Status = store.StatusInProgress
		if err := e.Store.UpsertProject(&project); err != nil {
			e.logger().Error("lifecycle: promote to InProgress", "project", project.ID, "error", err)
		}
	}
}

// reapIfAreasTerminal closes out every Supervisor whose area's tasks are
// all terminal, and rolls the project to Completed/Failed once none remain.
func (e *Engine) reapIfAreasTerminal(project store.Project) {
	allTerminal := true
	anyFailed := false
	anyAreas := false

	for _, area := range project.PendingWorkAreas {
		anyAreas = true
		tasks, err := e.Store.GetTasks(&project, area)
		if err != nil {
			e.logger().Error("lifecycle: load tasks for reap check", "project", project.ID, "area", area, "error", err)
			allTerminal = false
			continue
		}

		areaTerminal := true
		for _, t := range tasks {
			if !t.Status.IsTerminal() {
				areaTerminal = false
			}
			if t.Status == store.TaskFailed || t.Status == store.TaskBlockedByFailure {
				anyFailed = true
			}
		}
		if !areaTerminal {
			allTerminal = false
			continue
		}

		key := supervisorKey(project.ID, area)
		e.mu.Lock()
		entry, exists := e.supervisors[key]
		if exists {
			delete(e.supervisors, key)
		}
		e.mu.Unlock()
		if exists {
			entry.sv.FlushAndClose()
			entry.release()
		}
	}

	if !anyAreas || !allTerminal || project.Status != store.StatusInProgress {
		return
	}

	if anyFailed {
		project.Status = store.StatusFailed
		project.ErrorMessage = "one or more tasks failed or were blocked by a failed dependency"
	} else {
		project.Status = store.StatusCompleted
	}
	if err := e.Store.UpsertProject(&project); err != nil {
		e.logger().Error("lifecycle: finalize project", "project", project.ID, "error", err)
	}
}

// tickDrakeMonitor records a TickMetric summarizing Supervisor health. The
// heavy lifting (stuck-Worker detection) runs inside each Supervisor.Tick
// itself (internal/drake); this ticker observes the supervisors from the
// outside on its own independent cadence.
func (e *Engine) tickDrakeMonitor(ctx context.Context) {
	e.mu.Lock()
	n := len(e.supervisors)
	e.mu.Unlock()

	if err := e.Store.RecordTickMetric(store.TickMetric{
		Ticker:          "drake_monitor",
		ProjectsScanned: n,
	}); err != nil {
		e.logger().Error("lifecycle: record drake monitor tick metric", "error", err)
	}

	e.cleanupStaleBranches()
}

// cleanupStaleBranches prunes task branches that outlived StaleBranchTTL in
// every running project's workspace — the leftovers of tasks whose branch
// never merged cleanly and was abandoned rather than resolved.
func (e *Engine) cleanupStaleBranches() {
	if e.StaleBranchTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-e.StaleBranchTTL)
	for _, project := range e.runningProjects(store.StatusInProgress) {
		if project.WorkspaceRoot == "" {
			continue
		}
		deleted, err := git.SweepStaleTaskBranches(project.WorkspaceRoot, cutoff)
		if err != nil {
			e.logger().Warn("lifecycle: stale branch cleanup", "project", project.ID, "error", err)
			continue
		}
		if len(deleted) > 0 {
			e.logger().Info("lifecycle: pruned stale task branches", "project", project.ID, "branches", deleted)
		}
	}
}

// tickFailureRecovery promotes retry-eligible Failed tasks back to
// Unassigned, up to MaxRetryAttempts, respecting each task's NextRetryAt
// gate set by internal/drake at failure time.
func (e *Engine) tickFailureRecovery(ctx context.Context) {
	projects := e.runningProjects(store.StatusInProgress)
	now := time.Now().UTC()

	for _, project := range projects {
		for _, area := range project.PendingWorkAreas {
			tasks, err := e.Store.GetTasks(&project, area)
			if err != nil {
				e.logger().Error("lifecycle: load tasks for failure recovery", "project", project.ID, "area", area, "error", err)
				continue
			}

			for _, t := range tasks {
				if t.Status != store.TaskFailed {
					continue
				}
				if t.ErrorCategory != "transient" && t.ErrorCategory != "provider_unavailable" {
					continue
				}
				if t.RetryCount >= e.MaxRetryAttempts {
					continue
				}
				if !t.NextRetryAt.IsZero() && now.Before(t.NextRetryAt) {
					continue
				}

				t.RetryCount++
				t.LastRetryAt = now
				t.NextRetryAt = time.Time{}
				t.Status = store.TaskUnassigned
				t.ErrorMessage = ""
				if err := e.Store.UpsertTask(&project, area, t, tasks); err != nil {
					e.logger().Error("lifecycle: retry task", "project", project.ID, "task", t.ID, "error", err)
				}
			}
		}
	}
}
