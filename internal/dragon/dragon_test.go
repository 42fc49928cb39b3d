package dragon

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/dracode/internal/breaker"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

type scriptedProvider struct {
	responses []runner.Response
	calls     int
	seen      [][]runner.Message // messages argument of every Send call
}

func (p *scriptedProvider) Send(ctx context.Context, systemPrompt string, messages []runner.Message, tools []runner.Tool, opts runner.ProviderOptions) (runner.Response, error) {
	p.seen = append(p.seen, messages)
	if p.calls >= len(p.responses) {
		return runner.Response{}, errors.New("scriptedProvider: out of responses")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func textResponse(text string) runner.Response {
	return runner.Response{Blocks: []runner.ContentBlock{{Kind: runner.BlockText, Text: text}}, StopReason: runner.StopEndTurn}
}

func toolThenTextResponse(toolName, id, input string) runner.Response {
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockToolUse, ToolName: toolName, ToolUseID: id, ToolInput: json.RawMessage(input)}},
		StopReason: runner.StopToolUse,
	}
}

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDragon(t *testing.T, s *store.Store, provider runner.Provider) *Dragon {
	t.Helper()
	return &Dragon{
		Store:                 s,
		Runner:                runner.New(provider, "fake", breaker.NewRegistry(breaker.DefaultConfig()), nil),
		Table:                 NewTable(100, 10*time.Minute),
		MaxInitialIterations:  10,
		MaxContinueIterations: 5,
		PromptTimeout:         5 * time.Second,
	}
}

func TestContinueStartsNewSessionWhenIDUnknown(t *testing.T) {
	s := tempStore(t)
	provider := &scriptedProvider{responses: []runner.Response{textResponse("hi there")}}
	d := newDragon(t, s, provider)

	reply, sessionID, err := d.Continue(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if reply != "hi there" {
		t.Errorf("reply = %q, want %q", reply, "hi there")
	}
	if sessionID == "" {
		t.Error("expected a non-empty session id")
	}
}

func TestContinueReusesSessionAcrossReconnect(t *testing.T) {
	s := tempStore(t)
	provider := &scriptedProvider{responses: []runner.Response{textResponse("first"), textResponse("second")}}
	d := newDragon(t, s, provider)

	_, sessionID, err := d.Continue(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("Continue 1: %v", err)
	}
	reply, sessionID2, err := d.Continue(context.Background(), sessionID, "more")
	if err != nil {
		t.Fatalf("Continue 2: %v", err)
	}
	if sessionID2 != sessionID {
		t.Errorf("session id changed across reconnect: %s vs %s", sessionID, sessionID2)
	}
	if reply != "second" {
		t.Errorf("reply = %q, want %q", reply, "second")
	}
	if d.Table.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (no duplicate session created)", d.Table.Len())
	}

	// The second call must replay turn 1 ahead of the new message: the model
	// needs its own prior reply to keep context across turns.
	if len(provider.seen) != 2 {
		t.Fatalf("provider called %d times, want 2", len(provider.seen))
	}
	second := provider.seen[1]
	if len(second) != 3 {
		t.Fatalf("second call carried %d messages, want 3 (user1, assistant1, user2)", len(second))
	}
	if second[0].Role != runner.RoleUser || second[0].Content[0].Text != "hello" {
		t.Errorf("second call message 0 = %+v, want turn 1's user message", second[0])
	}
	if second[1].Role != runner.RoleAssistant || second[1].Content[0].Text != "first" {
		t.Errorf("second call message 1 = %+v, want turn 1's assistant reply", second[1])
	}
	if second[2].Role != runner.RoleUser || second[2].Content[0].Text != "more" {
		t.Errorf("second call message 2 = %+v, want turn 2's user message", second[2])
	}
}

func TestCreateProjectThenApproveTransitionsPrototypeToNew(t *testing.T) {
	s := tempStore(t)
	provider := &scriptedProvider{responses: []runner.Response{
		toolThenTextResponse("create_project", "t1", `{"name":"todo-api","workspaceRoot":"/tmp/todo-api"}`),
		toolThenTextResponse("approve_specification", "t2", `{}`),
		textResponse("approved!"),
	}}
	d := newDragon(t, s, provider)

	_, sessionID, err := d.Continue(context.Background(), "", "build me a todo api, and I approve it")
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}

	session := d.Table.Get(sessionID)
	if session.ProjectID == "" {
		t.Fatal("expected a project bound to the session")
	}
	project, err := s.GetProject(session.ProjectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.Status != store.StatusNew {
		t.Errorf("project status = %s, want New", project.Status)
	}
}

func TestApproveSpecificationWithoutProjectFails(t *testing.T) {
	s := tempStore(t)
	provider := &scriptedProvider{responses: []runner.Response{
		toolThenTextResponse("approve_specification", "t1", `{}`),
		textResponse("done"),
	}}
	d := newDragon(t, s, provider)

	if _, _, err := d.Continue(context.Background(), "", "approve it"); err != nil {
		t.Fatalf("Continue should not itself fail (tool error is recoverable): %v", err)
	}
}

func TestSessionGCReapsIdleSessions(t *testing.T) {
	table := NewTable(100, 10*time.Millisecond)
	s := table.Get("")
	_ = s

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	table.StartGC(ctx, 5*time.Millisecond)
	defer table.Stop()

	deadline := time.Now().Add(time.Second)
	for table.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after idle timeout", table.Len())
	}
}
