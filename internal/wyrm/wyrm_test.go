package wyrm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
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

func submitResponse(out Output) runner.Response {
	payload, _ := json.Marshal(out)
	return runner.Response{
		Blocks:     []runner.ContentBlock{{Kind: runner.BlockToolUse, ToolName: "submit_recommendation", ToolUseID: "r1", ToolInput: payload}},
		StopReason: runner.StopToolUse,
	}
}

func ackResponse() runner.Response {
	return runner.Response{Blocks: []runner.ContentBlock{{Kind: runner.BlockText, Text: "done"}}, StopReason: runner.StopEndTurn}
}

func newAgent(provider runner.Provider) *Agent {
	return &Agent{
		Runner:        runner.New(provider, "fake", breaker.NewRegistry(breaker.DefaultConfig()), nil),
		MaxIterations: 8,
	}
}

func TestAnalyzeReturnsRecommendation(t *testing.T) {
	provider := &scriptedProvider{responses: []runner.Response{
		submitResponse(Output{
			ProjectName: "todo-api",
			Recommendations: []Recommendation{
				{Name: "schema", Description: "design the db schema", AgentType: "csharp"},
				{Name: "endpoints", Description: "wire the http handlers", AgentType: "csharp"},
			},
		}),
		ackResponse(),
	}}
	a := newAgent(provider)

	spec := store.Specification{ProjectID: "p1", Content: "build a todo api", Version: 1}
	out, err := a.Analyze(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if out.ProjectName != "todo-api" {
		t.Errorf("ProjectName = %q, want todo-api", out.ProjectName)
	}
	if len(out.Recommendations) != 2 {
		t.Fatalf("len(Recommendations) = %d, want 2", len(out.Recommendations))
	}
}

func TestAnalyzeWithoutSubmitCallFails(t *testing.T) {
	provider := &scriptedProvider{responses: []runner.Response{
		{Blocks: []runner.ContentBlock{{Kind: runner.BlockText, Text: "thinking..."}}, StopReason: runner.StopEndTurn},
	}}
	a := newAgent(provider)

	spec := store.Specification{ProjectID: "p1", Content: "build a todo api", Version: 1}
	_, err := a.Analyze(context.Background(), spec, nil)
	if err == nil {
		t.Fatal("expected an error when submit_recommendation is never called")
	}
}

func TestAnalyzeIncludesPendingFeaturesInPrompt(t *testing.T) {
	features := []store.Feature{
		{ID: "f1", Name: "auth", Status: store.FeatureAssignedToWyvern},
	}
	msg := buildUserMessage(store.Specification{Content: "spec body", Version: 3}, features)
	if !strings.Contains(msg, "auth") {
		t.Errorf("expected prompt to mention feature name, got %q", msg)
	}
	if !strings.Contains(msg, "spec body") {
		t.Errorf("expected prompt to include spec content, got %q", msg)
	}
}
