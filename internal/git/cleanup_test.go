package git

import (
	"testing"
	"time"
)

func TestSweepStaleTaskBranches(t *testing.T) {
	dir := initTestRepo(t)

	for _, taskID := range []string{"old-1", "old-2"} {
		if err := CheckoutTaskBranch(dir, taskID, "main"); err != nil {
			t.Fatalf("CheckoutTaskBranch %s: %v", taskID, err)
		}
		if _, err := run(dir, "checkout", "main"); err != nil {
			t.Fatalf("checkout main: %v", err)
		}
	}
	if _, err := run(dir, "checkout", "-b", "release/keep"); err != nil {
		t.Fatalf("create non-task branch: %v", err)
	}
	if _, err := run(dir, "checkout", "main"); err != nil {
		t.Fatalf("checkout main: %v", err)
	}

	deleted, err := SweepStaleTaskBranches(dir, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SweepStaleTaskBranches: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want both stale task branches", deleted)
	}

	for _, branch := range []string{"feat/old-1", "feat/old-2"} {
		exists, err := branchExists(dir, branch)
		if err != nil {
			t.Fatalf("branchExists %s: %v", branch, err)
		}
		if exists {
			t.Errorf("expected %s to be swept", branch)
		}
	}
	keep, err := branchExists(dir, "release/keep")
	if err != nil {
		t.Fatalf("branchExists release/keep: %v", err)
	}
	if !keep {
		t.Error("expected non-task branch to be retained")
	}
}

func TestSweepStaleTaskBranchesSkipsFreshBranches(t *testing.T) {
	dir := initTestRepo(t)

	if err := CheckoutTaskBranch(dir, "fresh", "main"); err != nil {
		t.Fatalf("CheckoutTaskBranch: %v", err)
	}
	if _, err := run(dir, "checkout", "main"); err != nil {
		t.Fatalf("checkout main: %v", err)
	}

	deleted, err := SweepStaleTaskBranches(dir, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SweepStaleTaskBranches: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("deleted = %v, want none (branch is newer than cutoff)", deleted)
	}
}
