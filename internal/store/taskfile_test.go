package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestWriteParseTaskFileRoundTrip(t *testing.T) {
	tasks := []Task{
		{ID: "11111111-1111-1111-1111-111111111111", Text: "design schema", AgentType: "csharp", Status: TaskUnassigned},
		{ID: "22222222-2222-2222-2222-222222222222", Text: "wire endpoints | handlers", AgentType: "csharp", Status: TaskWorking},
		{ID: "33333333-3333-3333-3333-333333333333", Text: "write docs", AgentType: "", Status: TaskDone},
		{ID: "44444444-4444-4444-4444-444444444444", Text: "flaky step", AgentType: "react", Status: TaskFailed, ErrorMessage: "boom", ErrorCategory: "transient"},
		{ID: "55555555-5555-5555-5555-555555555555", Text: "downstream", AgentType: "react", Status: TaskBlockedByFailure},
	}

	path := filepath.Join(t.TempDir(), "backend-tasks.md")
	if err := WriteTaskFile(path, "todo-api: backend", tasks, tasks[3:]); err != nil {
		t.Fatalf("WriteTaskFile: %v", err)
	}

	parsed, err := ParseTaskFile(path)
	if err != nil {
		t.Fatalf("ParseTaskFile: %v", err)
	}

	// The file carries id, text, agent, and status; everything else lives in
	// the task index and is zero after a bare parse.
	ignore := cmpopts.IgnoreFields(Task{},
		"ProjectID", "Area", "Priority", "DependencyLevel", "CreatedAt", "UpdatedAt",
		"ErrorMessage", "ErrorCategory", "RetryCount", "LastRetryAt", "NextRetryAt",
		"Dependencies", "SpecVersion", "SpecHash", "OutputFiles", "CommitSHA")
	want := tasks
	if diff := cmp.Diff(want, parsed, ignore); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTaskFileToleratesMissingEmoji(t *testing.T) {
	content := `# todo-api: backend

## Task Status Report
*Generated: 2026-08-01T00:00:00Z*

| Task | Assigned Agent | Status |
|------|----------------|--------|
| [id:b1] design schema | csharp | done |
| [id:b2] wire endpoints | - | working |
`
	path := filepath.Join(t.TempDir(), "backend-tasks.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseTaskFile(path)
	if err != nil {
		t.Fatalf("ParseTaskFile: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("len(parsed) = %d, want 2", len(parsed))
	}
	if parsed[0].Status != TaskDone {
		t.Errorf("b1 status = %s, want Done", parsed[0].Status)
	}
	if parsed[1].AgentType != "" {
		t.Errorf("b2 agent = %q, want empty for %q cell", parsed[1].AgentType, "-")
	}
}

func TestParseTaskFileUnknownStatusDefaultsToFailed(t *testing.T) {
	content := `# x

| Task | Assigned Agent | Status |
|------|----------------|--------|
| [id:b1] mystery | - | exploded |
`
	path := filepath.Join(t.TempDir(), "x-tasks.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseTaskFile(path)
	if err != nil {
		t.Fatalf("ParseTaskFile: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Status != TaskFailed {
		t.Fatalf("parsed = %+v, want one task defaulted to Failed", parsed)
	}
}

func TestSortReadyOrdering(t *testing.T) {
	early := mustTime(t, "2026-01-01T00:00:00Z")
	late := mustTime(t, "2026-06-01T00:00:00Z")
	tasks := []Task{
		{ID: "low", Priority: 1, CreatedAt: early},
		{ID: "high-deep", Priority: 5, DependencyLevel: 2, CreatedAt: early},
		{ID: "high-shallow-late", Priority: 5, DependencyLevel: 0, CreatedAt: late},
		{ID: "high-shallow-early", Priority: 5, DependencyLevel: 0, CreatedAt: early},
	}
	SortReady(tasks)

	var order []string
	for _, tk := range tasks {
		order = append(order, tk.ID)
	}
	want := []string{"high-shallow-early", "high-shallow-late", "high-deep", "low"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("sort order mismatch (-want +got):\n%s", diff)
	}
}
