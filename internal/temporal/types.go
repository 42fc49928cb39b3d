// Package temporal durably dispatches one Task's Worker run as a Temporal
// workflow execution, so a Supervisor (or the whole process) can crash
// mid-task without losing track of which tasks were in flight: Temporal's
// own execution history, not an in-process goroutine, is the source of
// truth for "is this task's workflow still running".
//
// This sits beside, not instead of, internal/kobold's own Plan-based
// resumability: the workflow wraps exactly one call to
// kobold.Worker.Execute as a single activity, so step-level resumption
// still comes from the Plan sidecar in internal/store — Temporal adds
// process-level durability on top.
package temporal

import "github.com/antigravity-dev/dracode/internal/store"

// TaskQueue is the Temporal task queue dracode's worker polls and its
// Dispatch starts workflows on.
const TaskQueue = "dracode-task-queue"

// TaskRequest is the workflow/activity input: everything ExecuteTaskActivity
// needs to reconstruct and run a kobold.Worker for one task.
type TaskRequest struct {
	Task          store.Task
	WorkspaceRoot string
}

// TaskResult is what the workflow hands back to its caller on success.
type TaskResult struct {
	CommitSHA   string
	OutputFiles []string
}
