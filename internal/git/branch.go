package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Task branches isolate one task's edits from everything else touching the
// same workspace: the Worker checks the branch out before its first step
// and folds it back into the base branch once the task's completion commit
// exists. There is no general branch API here — only the two moves the
// Worker makes and the sweep the Lifecycle Engine runs.

const taskBranchPrefix = "feat/"

// ErrMergeConflict marks a merge the Worker cannot resolve on its own.
var ErrMergeConflict = errors.New("git merge conflict")

// TaskBranch returns the branch name taskID's work is isolated on.
func TaskBranch(taskID string) string {
	return taskBranchPrefix + taskID
}

// CurrentBranch returns the checked-out branch name.
func CurrentBranch(workspace string) (string, error) {
	return run(workspace, "rev-parse", "--abbrev-ref", "HEAD")
}

func branchExists(workspace, branch string) (bool, error) {
	_, err := run(workspace, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	// show-ref exits 1 for an absent ref; anything else is a real failure.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// CheckoutTaskBranch switches workspace onto taskID's branch, creating it
// from baseBranch on first use. A workspace with a remote starts the branch
// from the remote-tracking base so a fresh clone picks up the pushed tip; a
// purely local workspace falls back to the local base branch.
func CheckoutTaskBranch(workspace, taskID, baseBranch string) error {
	branch := TaskBranch(taskID)

	exists, err := branchExists(workspace, branch)
	if err != nil {
		return fmt.Errorf("task branch %s: %w", branch, err)
	}
	if exists {
		_, err := run(workspace, "checkout", branch)
		return err
	}

	_, _ = run(workspace, "fetch", "origin") // workspace may have no remote

	if _, err := run(workspace, "checkout", "-b", branch, "origin/"+baseBranch); err == nil {
		return nil
	}
	_, err = run(workspace, "checkout", "-b", branch, baseBranch)
	return err
}

// MergeTaskBranch folds taskID's completed branch into baseBranch with a
// merge commit and deletes the branch. A conflicted merge is aborted so the
// workspace stays clean, and surfaces as ErrMergeConflict with the branch
// left in place for a human (or the stale-branch sweep) to deal with.
func MergeTaskBranch(workspace, taskID, baseBranch string) error {
	branch := TaskBranch(taskID)

	if _, err := run(workspace, "checkout", baseBranch); err != nil {
		return err
	}

	if _, err := run(workspace, "merge", "--no-ff", "--no-edit", branch); err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "conflict") || strings.Contains(lower, "automatic merge failed") {
			_, _ = run(workspace, "merge", "--abort")
			return fmt.Errorf("%w: %s into %s", ErrMergeConflict, branch, baseBranch)
		}
		return err
	}

	_, err := run(workspace, "branch", "-d", branch)
	return err
}
