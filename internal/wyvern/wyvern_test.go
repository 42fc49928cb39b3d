package wyvern

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/dracode/internal/breaker"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

type scriptedProvider struct {
	responses []runner.Response
	calls     int
}

func (p *scriptedProvider) Send(ctx context.Context, systemPrompt string, messages []runner.Message, tools []runner.Tool, opts runner.ProviderOptions) (runner.Response, error) {
	if p.calls >= len(p.responses) {
		return runner.Response{}, errors.New("scriptedProvider: out of responses")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func submitResponse(doc Document) runner.Response {
	payload, _ := json.Marshal(doc)
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockToolUse, ToolName: "submit_task_graph", ToolUseID: "g1", ToolInput: payload}},
		StopReason: runner.StopToolUse,
	}
}

func newAgent(provider runner.Provider) *Agent {
	return &Agent{Runner: runner.New(provider, "fake", breaker.NewRegistry(breaker.DefaultConfig()), nil)}
}

func tempProject(t *testing.T) (*store.Store, *store.Project) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	workspace := t.TempDir()
	_ = os.MkdirAll(workspace, 0o755)
	project := &store.Project{ID: "p1", Name: "todo-api", Status: store.StatusPrototype, ExecutionState: store.ExecutionRunning, WorkspaceRoot: workspace}
	if err := s.UpsertProject(project); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	return s, project
}

func TestPlanRequiresExactlyOneIteration(t *testing.T) {
	doc := Document{
		ProjectName: "todo-api",
		Areas: []Area{{
			Name: "backend",
			Tasks: []TaskSpec{
				{ID: "b1", Name: "schema", AgentType: "csharp"},
				{ID: "b2", Name: "endpoints", AgentType: "csharp", Dependencies: []string{"b1"}},
			},
		}},
	}
	provider := &scriptedProvider{responses: []runner.Response{submitResponse(doc)}}
	a := newAgent(provider)

	got, err := a.Plan(context.Background(), store.Specification{Content: "build a todo api", Version: 1}, "recommendation text")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got.ProjectName != "todo-api" {
		t.Errorf("ProjectName = %q, want todo-api", got.ProjectName)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want exactly 1", provider.calls)
	}
}

func TestPlanUnparsableReturnsErrUnparsable(t *testing.T) {
	provider := &scriptedProvider{responses: []runner.Response{
		{Blocks: []runner.ContentBlock{{Kind: runner.BlockText, Text: "I'm not sure how to do this."}}, StopReason: runner.StopEndTurn},
	}}
	a := newAgent(provider)

	_, err := a.Plan(context.Background(), store.Specification{Content: "x", Version: 1}, "")
	if !errors.Is(err, ErrUnparsable) {
		t.Fatalf("err = %v, want ErrUnparsable", err)
	}
}

func TestMaterializeAssignsDependencyLevelsAndWritesTaskFile(t *testing.T) {
	s, project := tempProject(t)

	area := Area{
		Name: "backend",
		Tasks: []TaskSpec{
			{ID: "b1", Name: "schema", AgentType: "csharp"},
			{ID: "b2", Name: "endpoints", AgentType: "csharp", Dependencies: []string{"b1"}},
		},
	}
	tasks, err := Materialize(s, project, area, store.Specification{Version: 1, Hash: "h1"})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	byID := make(map[string]store.Task)
	for _, t := range tasks {
		byID[t.ID] = t
	}
	if byID["b1"].DependencyLevel != 0 {
		t.Errorf("b1 DependencyLevel = %d, want 0", byID["b1"].DependencyLevel)
	}
	if byID["b2"].DependencyLevel != 1 {
		t.Errorf("b2 DependencyLevel = %d, want 1", byID["b2"].DependencyLevel)
	}
	if byID["b1"].Status != store.TaskUnassigned {
		t.Errorf("b1 Status = %s, want Unassigned", byID["b1"].Status)
	}

	path := filepath.Join(project.WorkspaceRoot, "backend-tasks.md")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected task file at %s: %v", path, err)
	}
}

func TestMaterializePreservesStatusForUnchangedTaskID(t *testing.T) {
	s, project := tempProject(t)
	area := Area{Name: "backend", Tasks: []TaskSpec{{ID: "b1", Name: "schema", AgentType: "csharp"}}}

	if _, err := Materialize(s, project, area, store.Specification{Version: 1}); err != nil {
		t.Fatalf("Materialize (v1): %v", err)
	}

	tasks, err := s.GetTasks(project, "backend")
	if err != nil {
		t.Fatalf("GetTasks: %v", err)
	}
	tasks[0].Status = store.TaskDone
	if err := s.ReplaceTasks(project, "backend", tasks); err != nil {
		t.Fatalf("ReplaceTasks: %v", err)
	}

	area2 := Area{Name: "backend", Tasks: []TaskSpec{
		{ID: "b1", Name: "schema", AgentType: "csharp"},
		{ID: "b3", Name: "new task", AgentType: "csharp"},
	}}
	merged, err := Materialize(s, project, area2, store.Specification{Version: 2})
	if err != nil {
		t.Fatalf("Materialize (v2): %v", err)
	}

	var b1, b3 store.Task
	for _, t := range merged {
		switch t.ID {
		case "b1":
			b1 = t
		case "b3":
			b3 = t
		}
	}
	if b1.Status != store.TaskDone {
		t.Errorf("b1 Status = %s, want preserved Done", b1.Status)
	}
	if b3.Status != store.TaskUnassigned {
		t.Errorf("b3 Status = %s, want Unassigned", b3.Status)
	}
}

func TestLinkFeaturesTransitionsOnLinkedTaskStatus(t *testing.T) {
	s, project := tempProject(t)
	feature := store.Feature{ID: "f1", ProjectID: project.ID, Name: "auth", Status: store.FeatureAssignedToWyvern}
	if err := s.UpsertFeature(&feature); err != nil {
		t.Fatalf("UpsertFeature: %v", err)
	}

	tasks := []store.Task{{ID: "t1", Text: "auth: build login", Status: store.TaskWorking}}
	if err := LinkFeatures(s, []store.Feature{feature}, tasks); err != nil {
		t.Fatalf("LinkFeatures: %v", err)
	}
	got, err := s.ListFeatures(project.ID, "")
	if err != nil {
		t.Fatalf("ListFeatures: %v", err)
	}
	if got[0].Status != store.FeatureInProgress {
		t.Errorf("feature status = %s, want InProgress", got[0].Status)
	}

	tasks[0].Status = store.TaskDone
	if err := LinkFeatures(s, got, tasks); err != nil {
		t.Fatalf("LinkFeatures (completion): %v", err)
	}
	got, err = s.ListFeatures(project.ID, "")
	if err != nil {
		t.Fatalf("ListFeatures: %v", err)
	}
	if got[0].Status != store.FeatureCompleted {
		t.Errorf("feature status = %s, want Completed", got[0].Status)
	}
}
