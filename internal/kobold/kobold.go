// Package kobold implements the Worker: the executor of one task's Plan.
// A Worker loads or builds a Plan via a planner sub-agent, then walks its
// steps strictly in order through the Agent Runner, persisting progress
// after every transition so the walk survives a restart.
package kobold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/dracode/internal/classify"
	"github.com/antigravity-dev/dracode/internal/git"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// ErrStepNotCompleted is returned when a step's conversation ends without
// either an explicit completion tool call or a heuristic "done" signal.
var ErrStepNotCompleted = errors.New("kobold: step ended without a completion signal")

// StepError wraps a step failure with its classified category, so the
// caller (the Supervisor) can record the same category the TaskFile does.
type StepError struct {
	Category classify.Category
	Err      error
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Result is what a completed Worker run hands back to its Supervisor.
type Result struct {
	CommitSHA   string
	OutputFiles []string
	Plan        *store.Plan
}

// Worker owns the execution of a single task's Plan end to end.
type Worker struct {
	Store  *store.Store
	Runner *runner.Runner
	Sink   runner.Sink

	ProviderOptions runner.ProviderOptions
	ExecutionTools  []runner.Tool // step-execution tools (shell, file edit, etc.) supplied by the host

	MaxPlanningIterations      int
	MaxExecutionIterations     int
	UseProgressiveDetailReveal bool
	MediumDetailStepCount      int

	// UseFeatureBranches isolates each task on a feat/<task-id> branch,
	// merged back into BaseBranch (default main) on success. A branch whose
	// merge is not clean is left in place for manual resolution; the task
	// still completes.
	UseFeatureBranches bool
	BaseBranch         string

	Logger *slog.Logger
}

func (w *Worker) baseBranch() string {
	if w.BaseBranch != "" {
		return w.BaseBranch
	}
	return "main"
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Execute runs task's Plan to completion (or to the first unresumable
// failure), resuming from the first non-Done step if a Plan already exists.
// workspaceRoot is the project's workspace, under which the Plan sidecar
// and any VCS commit live.
func (w *Worker) Execute(ctx context.Context, task store.Task, workspaceRoot string) (*Result, error) {
	plan, err := w.Store.GetPlan(workspaceRoot, task.ID)
	if errors.Is(err, store.ErrNotFound) {
		plan, err = w.buildPlan(ctx, task)
		if err != nil {
			return nil, err
		}
		if err := w.Store.UpsertPlan(workspaceRoot, plan); err != nil {
			return nil, fmt.Errorf("kobold: persist new plan: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("kobold: load plan for task %s: %w", task.ID, err)
	}

	if w.UseFeatureBranches && workspaceRoot != "" {
		if err := git.CheckoutTaskBranch(workspaceRoot, task.ID, w.baseBranch()); err != nil {
			return nil, fmt.Errorf("kobold: prepare task branch for task %s: %w", task.ID, err)
		}
	}

	start := firstResumableStep(plan)
	for i := start; i < len(plan.Steps); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("kobold: cancelled before step %d: %w", i, err)
		}

		plan.Steps[i].Status = store.StepCurrent
		if plan, err = w.Store.UpsertPlanStep(workspaceRoot, task.ID, i, plan.Steps[i]); err != nil {
			return nil, fmt.Errorf("kobold: persist step %d as Current: %w", i, err)
		}

		completed, runErr := w.runStep(ctx, task, plan, i)
		if runErr != nil {
			if errors.Is(runErr, runner.ErrCancelled) {
				// Step stays Current; a future run re-enters it from the beginning.
				return nil, fmt.Errorf("kobold: task %s cancelled mid-step %d: %w", task.ID, i, runErr)
			}
			plan.Steps[i].Status = store.StepFailed
			if _, persistErr := w.Store.UpsertPlanStep(workspaceRoot, task.ID, i, plan.Steps[i]); persistErr != nil {
				w.logger().Error("kobold: failed to persist failed step", "task", task.ID, "step", i, "error", persistErr)
			}
			return nil, &StepError{Category: classify.Classify(ctx, runErr), Err: runErr}
		}

		if !completed {
			plan.Steps[i].Status = store.StepFailed
			if _, persistErr := w.Store.UpsertPlanStep(workspaceRoot, task.ID, i, plan.Steps[i]); persistErr != nil {
				w.logger().Error("kobold: failed to persist failed step", "task", task.ID, "step", i, "error", persistErr)
			}
			return nil, &StepError{Category: classify.Permanent, Err: fmt.Errorf("step %d: %w", i, ErrStepNotCompleted)}
		}

		plan.Steps[i].Status = store.StepDone
		if plan, err = w.Store.UpsertPlanStep(workspaceRoot, task.ID, i, plan.Steps[i]); err != nil {
			return nil, fmt.Errorf("kobold: persist step %d as Done: %w", i, err)
		}
	}

	return w.finalize(workspaceRoot, task, plan)
}

// firstResumableStep returns the index of the first step that is not
// already Done. A step found in Current is re-entered from the beginning,
// matching the resumability requirement.
func firstResumableStep(plan *store.Plan) int {
	for i, s := range plan.Steps {
		if s.Status != store.StepDone {
			return i
		}
	}
	return len(plan.Steps)
}

// runStep invokes the Agent Runner for a single step and reports whether
// the step was signaled complete, either by an explicit tool call or by a
// heuristic "done" scan of the final assistant message.
func (w *Worker) runStep(ctx context.Context, task store.Task, plan *store.Plan, index int) (bool, error) {
	doneTool := &stepDoneTool{}
	tools := make([]runner.Tool, 0, len(w.ExecutionTools)+1)
	tools = append(tools, w.ExecutionTools...)
	tools = append(tools, doneTool)

	systemPrompt := koboldSystemPrompt(task)
	prompt := buildStepPrompt(plan, index, w.UseProgressiveDetailReveal, w.MediumDetailStepCount)

	agentOpts := runner.AgentOptions{MaxIterations: w.MaxExecutionIterations}
	messages, err := w.Runner.Run(ctx, systemPrompt, prompt, tools, w.ProviderOptions, agentOpts, w.Sink)
	if err != nil {
		return false, err
	}

	if doneTool.called {
		return true, nil
	}
	return heuristicDoneSignal(messages), nil
}

// finalize commits the workspace (if any VCS collaborator is present) and
// records the commit sha and changed files for the Supervisor to attach to
// the Task row.
func (w *Worker) finalize(workspaceRoot string, task store.Task, plan *store.Plan) (*Result, error) {
	if workspaceRoot == "" {
		return &Result{Plan: plan}, nil
	}

	sha, err := git.CommitWorkspace(workspaceRoot, fmt.Sprintf("dracode: complete task %s", task.ID))
	if err != nil {
		return nil, fmt.Errorf("kobold: commit workspace for task %s: %w", task.ID, err)
	}

	changed, err := git.ChangedFilesInCommit(workspaceRoot, sha)
	if err != nil {
		w.logger().Warn("kobold: could not list changed files", "task", task.ID, "sha", sha, "error", err)
		changed = nil
	}

	if w.UseFeatureBranches {
		if err := w.mergeTaskBranch(workspaceRoot, task); err != nil {
			w.logger().Warn("kobold: leaving task branch unmerged", "task", task.ID, "error", err)
		}
	}

	return &Result{CommitSHA: sha, OutputFiles: changed, Plan: plan}, nil
}

// mergeTaskBranch folds the task's branch back into the base branch once
// its completion commit exists. A doomed merge is detected with a dry run
// first, so the workspace never enters a conflicted state.
func (w *Worker) mergeTaskBranch(workspaceRoot string, task store.Task) error {
	branch := git.TaskBranch(task.ID)
	ready, err := git.CheckMergeReadiness(workspaceRoot, branch, w.baseBranch())
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("branch %s does not merge cleanly into %s", branch, w.baseBranch())
	}
	return git.MergeTaskBranch(workspaceRoot, task.ID, w.baseBranch())
}

func koboldSystemPrompt(task store.Task) string {
	return fmt.Sprintf("You are a Worker executing one step at a time of task %q. "+
		"Call mark_step_done when, and only when, the current step's goal is fully satisfied.", task.Text)
}
