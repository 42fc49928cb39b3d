package git

import (
	"strconv"
	"strings"
	"time"
)

// SweepStaleTaskBranches deletes task branches whose last commit predates
// cutoff — the leftovers of tasks whose merge was never clean and was then
// abandoned. The checked-out branch is never touched. Returns the deleted
// branch names.
func SweepStaleTaskBranches(workspace string, cutoff time.Time) ([]string, error) {
	current, err := CurrentBranch(workspace)
	if err != nil {
		return nil, err
	}

	out, err := run(workspace, "for-each-ref", "--format=%(refname:short) %(committerdate:unix)", "refs/heads/"+taskBranchPrefix)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, line := range strings.Split(out, "\n") {
		branch, stamp, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok || branch == current {
			continue
		}
		unix, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil || !time.Unix(unix, 0).Before(cutoff) {
			continue
		}
		if _, err := run(workspace, "branch", "-D", branch); err != nil {
			return deleted, err
		}
		deleted = append(deleted, branch)
	}

	return deleted, nil
}
