package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// run executes one git subcommand in workspace and returns its trimmed
// output. Failures carry the subcommand name and git's own output, which is
// almost always the useful part of a git error.
func run(workspace string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workspace
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", args[0], err, text)
	}
	return text, nil
}

// LatestCommitSHA returns HEAD's commit sha for workspace.
func LatestCommitSHA(workspace string) (string, error) {
	return run(workspace, "rev-parse", "HEAD")
}

// CommitWorkspace stages every change and commits it with message,
// returning the new commit sha. A workspace with nothing to commit returns
// the current HEAD sha and no error: a Worker finishing a no-op step is not
// a failure.
func CommitWorkspace(workspace, message string) (string, error) {
	if _, err := run(workspace, "add", "-A"); err != nil {
		return "", err
	}

	if _, err := run(workspace, "diff", "--cached", "--quiet"); err == nil {
		return LatestCommitSHA(workspace)
	}

	if _, err := run(workspace, "commit", "-m", message); err != nil {
		return "", err
	}
	return LatestCommitSHA(workspace)
}

// ChangedFilesInCommit lists the files touched by a single commit.
func ChangedFilesInCommit(workspace, sha string) ([]string, error) {
	out, err := run(workspace, "show", "--name-only", "--pretty=format:", sha)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// CheckMergeReadiness reports whether a task's branch merges into
// baseBranch without conflicts, via a merge-tree dry run that never touches
// the checked-out branch. The Worker consults this before MergeTaskBranch
// so a doomed merge is never even attempted.
func CheckMergeReadiness(workspace, branch, baseBranch string) (bool, error) {
	baseBranch = strings.TrimSpace(baseBranch)
	if baseBranch == "" {
		baseBranch = "main"
	}

	mergeBase, err := run(workspace, "merge-base", baseBranch, branch)
	if err != nil {
		return false, err
	}

	out, err := run(workspace, "merge-tree", mergeBase, baseBranch, branch)
	if err != nil {
		return false, err
	}
	return !strings.Contains(out, "<<<<<<<"), nil
}
