package kobold

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/dracode/internal/breaker"
	"github.com/antigravity-dev/dracode/internal/git"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// scriptedProvider replays a fixed sequence of responses, one per Send call.
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

func submitPlanResponse(steps ...planStepInput) runner.Response {
	payload, _ := json.Marshal(struct {
		Steps []planStepInput `json:"steps"`
	}{Steps: steps})
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockToolUse, ToolName: "submit_plan", ToolUseID: "p1", ToolInput: payload}},
		StopReason: runner.StopToolUse,
	}
}

func markDoneResponse() runner.Response {
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockToolUse, ToolName: "mark_step_done", ToolUseID: "d1", ToolInput: json.RawMessage(`{"summary":"ok"}`)}},
		StopReason: runner.StopToolUse,
	}
}

func heuristicDoneTextResponse() runner.Response {
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockText, Text: "The step is now done."}},
		StopReason: runner.StopEndTurn,
	}
}

// ackResponse is the turn a scripted conversation returns right after a
// tool-use block, so the Runner's loop reaches end_turn and returns.
func ackResponse() runner.Response {
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockText, Text: "acknowledged"}},
		StopReason: runner.StopEndTurn,
	}
}

func newWorker(t *testing.T, s *store.Store, provider runner.Provider) *Worker {
	t.Helper()
	return &Worker{
		Store:                      s,
		Runner:                     runner.New(provider, "fake", breaker.NewRegistry(breaker.DefaultConfig()), nil),
		MaxPlanningIterations:      5,
		MaxExecutionIterations:     5,
		UseProgressiveDetailReveal: true,
		MediumDetailStepCount:      3,
	}
}

func initGitWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "kobold@example.com")
	run("config", "user.name", "kobold")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("init\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial commit")
	return dir
}

func TestExecuteBuildsPlanAndRunsStepsToCompletion(t *testing.T) {
	s := tempStore(t)
	workspace := initGitWorkspace(t)

	provider := &scriptedProvider{responses: []runner.Response{
		submitPlanResponse(
			planStepInput{Title: "write schema", Description: "create the db schema"},
			planStepInput{Title: "write endpoints", Description: "wire the http handlers"},
		),
		ackResponse(),
		markDoneResponse(),
		ackResponse(),
		markDoneResponse(),
		ackResponse(),
	}}
	w := newWorker(t, s, provider)

	task := store.Task{ID: "task-1", Text: "build the todo api"}
	result, err := w.Execute(context.Background(), task, workspace)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Plan.Steps) != 2 {
		t.Fatalf("len(steps) = %d, want 2", len(result.Plan.Steps))
	}
	for i, step := range result.Plan.Steps {
		if step.Status != store.StepDone {
			t.Errorf("step %d status = %s, want Done", i, step.Status)
		}
	}
	if result.CommitSHA == "" {
		t.Error("expected a non-empty commit sha")
	}
}

func TestExecuteFeatureBranchMergedOnSuccess(t *testing.T) {
	s := tempStore(t)
	workspace := initGitWorkspace(t)

	provider := &scriptedProvider{responses: []runner.Response{
		submitPlanResponse(planStepInput{Title: "only step", Description: "do the thing"}),
		ackResponse(),
		markDoneResponse(),
		ackResponse(),
	}}
	w := newWorker(t, s, provider)
	w.UseFeatureBranches = true

	task := store.Task{ID: "task-fb", Text: "build the todo api"}
	result, err := w.Execute(context.Background(), task, workspace)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.CommitSHA == "" {
		t.Error("expected a non-empty commit sha")
	}

	branch, err := git.CurrentBranch(workspace)
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "main" {
		t.Errorf("current branch = %s, want main after merge", branch)
	}
	check := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/feat/task-fb")
	check.Dir = workspace
	if check.Run() == nil {
		t.Error("expected feat/task-fb to be deleted after a clean merge")
	}
}

func TestExecuteResumesFromCurrentStep(t *testing.T) {
	s := tempStore(t)
	workspace := initGitWorkspace(t)

	existing := &store.Plan{TaskID: "task-2", Steps: []store.PlanStep{
		{Title: "step one", Status: store.StepDone},
		{Title: "step two", Status: store.StepCurrent},
	}}
	if err := s.UpsertPlan(workspace, existing); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	provider := &scriptedProvider{responses: []runner.Response{markDoneResponse(), ackResponse()}}
	w := newWorker(t, s, provider)

	task := store.Task{ID: "task-2", Text: "build the todo api"}
	result, err := w.Execute(context.Background(), task, workspace)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2 (should not rebuild the plan or redo step one)", provider.calls)
	}
	if result.Plan.Steps[1].Status != store.StepDone {
		t.Errorf("step two status = %s, want Done", result.Plan.Steps[1].Status)
	}
}

func TestExecuteHeuristicDoneSignalCompletesStep(t *testing.T) {
	s := tempStore(t)
	workspace := initGitWorkspace(t)

	provider := &scriptedProvider{responses: []runner.Response{
		submitPlanResponse(planStepInput{Title: "only step", Description: "do the thing"}),
		ackResponse(),
		heuristicDoneTextResponse(),
	}}
	w := newWorker(t, s, provider)

	task := store.Task{ID: "task-3", Text: "do the thing"}
	result, err := w.Execute(context.Background(), task, workspace)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Plan.Steps[0].Status != store.StepDone {
		t.Errorf("step status = %s, want Done", result.Plan.Steps[0].Status)
	}
}

func TestExecuteStepWithoutCompletionSignalFails(t *testing.T) {
	s := tempStore(t)
	workspace := initGitWorkspace(t)

	provider := &scriptedProvider{responses: []runner.Response{
		submitPlanResponse(planStepInput{Title: "only step", Description: "do the thing"}),
		ackResponse(),
		{Blocks: []runner.ContentBlock{{Kind: runner.BlockText, Text: "I am still working on it."}}, StopReason: runner.StopEndTurn},
	}}
	w := newWorker(t, s, provider)

	task := store.Task{ID: "task-4", Text: "do the thing"}
	_, err := w.Execute(context.Background(), task, workspace)
	if err == nil {
		t.Fatal("expected an error when no completion signal is observed")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want *StepError", err)
	}

	plan, getErr := s.GetPlan(workspace, task.ID)
	if getErr != nil {
		t.Fatalf("GetPlan: %v", getErr)
	}
	if plan.Steps[0].Status != store.StepFailed {
		t.Errorf("step status = %s, want Failed", plan.Steps[0].Status)
	}
}

func TestExecuteCancelledMidStepLeavesStepCurrent(t *testing.T) {
	s := tempStore(t)
	workspace := initGitWorkspace(t)

	// Simulates a prior run that left off mid-step: the step is already
	// Current on disk when this run starts.
	existing := &store.Plan{TaskID: "task-5", Steps: []store.PlanStep{{Title: "step one", Status: store.StepCurrent}}}
	if err := s.UpsertPlan(workspace, existing); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	provider := &scriptedProvider{} // no responses; Execute sees the cancelled ctx before the step's Run starts
	w := newWorker(t, s, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := store.Task{ID: "task-5", Text: "build the todo api"}
	_, err := w.Execute(ctx, task, workspace)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, runner.ErrCancelled) {
		t.Fatalf("err = %v, want to wrap context.Canceled or runner.ErrCancelled", err)
	}

	plan, getErr := s.GetPlan(workspace, task.ID)
	if getErr != nil {
		t.Fatalf("GetPlan: %v", getErr)
	}
	if plan.Steps[0].Status != store.StepCurrent {
		t.Errorf("step status = %s, want Current (re-entered from the beginning on resume)", plan.Steps[0].Status)
	}
}
