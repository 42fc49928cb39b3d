package git

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Commit is one entry of the workspace's git log.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
}

// completionRe extracts the task id from the commit message CommitWorkspace
// writes on a Worker's successful task completion.
var completionRe = regexp.MustCompile(`complete task ([0-9a-zA-Z-]+)`)

// TaskIDFromMessage returns the task id a completion commit message names,
// or "" if the message is not a completion commit.
func TaskIDFromMessage(message string) string {
	if m := completionRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

// RecentCommits returns non-merge commits from the last N days.
func RecentCommits(workspace string, days int) ([]Commit, error) {
	text, err := run(workspace, "log", fmt.Sprintf("--since=%d.days.ago", days), "--pretty=format:%H|%s|%an|%aI", "--no-merges")
	if err != nil {
		return nil, err
	}
	if text == "" {
		return []Commit{}, nil
	}

	lines := strings.Split(text, "\n")
	commits := make([]Commit, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		date, err := time.Parse(time.RFC3339, parts[3])
		if err != nil {
			continue
		}
		commits = append(commits, Commit{
			Hash:    parts[0],
			Message: parts[1],
			Author:  parts[2],
			Date:    date,
		})
	}
	return commits, nil
}

// FindCompletionCommit scans the recent log for the commit that completed
// taskID. Returns nil if none exists. The Supervisor uses this on restart to
// tell a task whose Worker finished (but whose status write was lost) apart
// from one that genuinely needs to re-run.
func FindCompletionCommit(workspace, taskID string, days int) (*Commit, error) {
	commits, err := RecentCommits(workspace, days)
	if err != nil {
		return nil, err
	}
	for i := range commits {
		if TaskIDFromMessage(commits[i].Message) == taskID {
			return &commits[i], nil
		}
	}
	return nil, nil
}
