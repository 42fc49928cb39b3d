package store

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/antigravity-dev/dracode/internal/atomicfile"
)

// taskRowRe extracts the inline "[id:<task id>]" prefix a TaskFile row
// carries so identity survives free-form edits to the task text around it.
var taskRowRe = regexp.MustCompile(`^\[id:([^\]\s]+)\]\s?`)

var statusEmoji = map[TaskStatus]string{
	TaskUnassigned:       "⬜",
	TaskNotInitialized:   "⬜",
	TaskWorking:          "🔄",
	TaskDone:             "✅",
	TaskFailed:           "❌",
	TaskBlockedByFailure: "🚫",
}

func statusWord(s TaskStatus) string {
	switch s {
	case TaskUnassigned:
		return "unassigned"
	case TaskNotInitialized:
		return "notinitialized"
	case TaskWorking:
		return "working"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskBlockedByFailure:
		return "blockedbyfailure"
	default:
		return "error"
	}
}

func parseStatusWord(word string) TaskStatus {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "unassigned":
		return TaskUnassigned
	case "notinitialized":
		return TaskNotInitialized
	case "working":
		return TaskWorking
	case "done":
		return TaskDone
	case "failed":
		return TaskFailed
	case "blockedbyfailure":
		return TaskBlockedByFailure
	default:
		return TaskFailed
	}
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func unescapePipes(s string) string {
	return strings.ReplaceAll(s, `\|`, "|")
}

// splitUnescapedPipes splits a markdown table row on "|" that is not
// preceded by a backslash.
func splitUnescapedPipes(line string) []string {
	var fields []string
	var cur strings.Builder
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '|' && (i == 0 || runes[i-1] != '\\') {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(runes[i])
	}
	fields = append(fields, cur.String())
	return fields
}

// WriteTaskFile renders tasks to the three-column markdown table format and
// writes it atomically to path.
func WriteTaskFile(path, title string, tasks []Task, errorTasks []Task) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## Task Status Report\n")
	fmt.Fprintf(&b, "*Generated: %s*\n\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("| Task | Assigned Agent | Status |\n")
	b.WriteString("|------|----------------|--------|\n")

	for _, t := range tasks {
		agent := t.AgentType
		if agent == "" {
			agent = "-"
		}
		emoji := statusEmoji[t.Status]
		fmt.Fprintf(&b, "| [id:%s] %s | %s | %s %s |\n",
			t.ID, escapePipes(t.Text), escapePipes(agent), emoji, statusWord(t.Status))
	}

	b.WriteString("\n## Summary\n\n")
	counts := summarizeStatuses(tasks)
	for _, st := range []TaskStatus{TaskUnassigned, TaskNotInitialized, TaskWorking, TaskDone, TaskFailed, TaskBlockedByFailure} {
		if counts[st] > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", statusWord(st), counts[st])
		}
	}

	if len(errorTasks) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, t := range errorTasks {
			fmt.Fprintf(&b, "- [id:%s] %s: %s (%s)\n", t.ID, escapePipes(t.Text), t.ErrorMessage, t.ErrorCategory)
		}
	}

	return atomicfile.Write(path, []byte(b.String()), 0o644)
}

func summarizeStatuses(tasks []Task) map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}

// ParseTaskFile reads and parses a TaskFile. Emoji prefixes are optional on
// read; unknown status words default to Failed so a corrupt row never
// silently becomes runnable.
func ParseTaskFile(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read task file %s: %w", path, err)
	}
	return parseTaskFileContent(string(data)), nil
}

func parseTaskFileContent(content string) []Task {
	lines := strings.Split(content, "\n")
	var tasks []Task
	inTable := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "| Task") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		if strings.HasPrefix(trimmed, "|---") || strings.HasPrefix(trimmed, "|-") {
			continue
		}
		if !strings.HasPrefix(trimmed, "|") {
			if trimmed == "" {
				continue
			}
			inTable = false
			continue
		}

		row := strings.Trim(trimmed, "|")
		fields := splitUnescapedPipes(row)
		if len(fields) != 3 {
			continue
		}

		taskCell := strings.TrimSpace(fields[0])
		agentCell := strings.TrimSpace(fields[1])
		statusCell := strings.TrimSpace(fields[2])

		var id, text string
		if m := taskRowRe.FindStringSubmatch(taskCell); m != nil {
			id = m[1]
			text = strings.TrimSpace(taskCell[len(m[0]):])
		} else {
			text = taskCell
		}
		text = unescapePipes(text)

		agent := unescapePipes(agentCell)
		if agent == "-" {
			agent = ""
		}

		statusCell = stripLeadingEmoji(statusCell)
		status := parseStatusWord(statusCell)

		tasks = append(tasks, Task{
			ID:        id,
			Text:      text,
			AgentType: agent,
			Status:    status,
		})
	}

	return tasks
}

// stripLeadingEmoji removes a single leading non-ASCII run (the optional
// emoji) and any following whitespace from a status cell.
func stripLeadingEmoji(s string) string {
	runes := []rune(s)
	i := 0
	for i < len(runes) && runes[i] > 127 {
		i++
	}
	return strings.TrimSpace(string(runes[i:]))
}

// SortReady orders ready tasks priority desc, then dependency level asc,
// then created asc, as required by the Supervisor's scheduling algorithm.
func SortReady(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		if tasks[i].DependencyLevel != tasks[j].DependencyLevel {
			return tasks[i].DependencyLevel < tasks[j].DependencyLevel
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
