// Package wyrm implements the pre-analysis Planner Agent: it reads a
// Project's Specification plus the Features still awaiting assignment and
// produces a recommendation of agent types per proposed unit of work. Its
// output feeds Wyvern (internal/wyvern), the authoritative JSON task-graph
// planner; Wyrm itself never writes a TaskFile.
package wyrm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// Recommendation is one proposed unit of work with its suggested executor.
type Recommendation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AgentType   string `json:"agentType"`
	Rationale   string `json:"rationale"`
}

// Output is everything Wyrm hands to Wyvern.
type Output struct {
	ProjectName     string           `json:"projectName"`
	Recommendations []Recommendation `json:"recommendations"`
}

type submitRecommendationTool struct {
	submitted bool
	output    Output
}

func (t *submitRecommendationTool) Name() string { return "submit_recommendation" }
func (t *submitRecommendationTool) Description() string {
	return "Submit the recommended list of work units and their agent types for this specification."
}
func (t *submitRecommendationTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"projectName": map[string]any{"type": "string"},
			"recommendations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"agentType":   map[string]any{"type": "string"},
						"rationale":   map[string]any{"type": "string"},
					},
					"required": []string{"name", "description", "agentType"},
				},
			},
		},
		"required": []string{"projectName", "recommendations"},
	}
}

func (t *submitRecommendationTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	var out Output
	if err := json.Unmarshal(input, &out); err != nil {
		return "", fmt.Errorf("submit_recommendation: invalid payload: %w", err)
	}
	if len(out.Recommendations) == 0 {
		return "", fmt.Errorf("submit_recommendation: recommendations must not be empty")
	}
	t.submitted = true
	t.output = out
	return "recommendation received", nil
}

const systemPrompt = "You are Wyrm, the pre-analysis agent for a software project. " +
	"Read the specification and the list of features awaiting assignment, then propose " +
	"an agent type (e.g. csharp, react, python) for each distinct unit of work a downstream " +
	"planner should schedule. Call submit_recommendation exactly once with your full " +
	"proposal. Do not produce a task graph yourself; that is Wyvern's job."

// Agent runs Wyrm against one Project's Specification.
type Agent struct {
	Runner          *runner.Runner
	Sink            runner.Sink
	ProviderOptions runner.ProviderOptions
	MaxIterations   int // maxWyrmIterations, default 8
}

// Analyze runs the bounded Wyrm conversation and returns its recommendation.
// The caller persists the project transition New -> WyrmAssigned after a
// successful call; WyrmAssigned -> Analyzed follows later via Wyvern.
func (a *Agent) Analyze(ctx context.Context, spec store.Specification, features []store.Feature) (*Output, error) {
	tool := &submitRecommendationTool{}
	agentOpts := runner.AgentOptions{MaxIterations: a.MaxIterations}
	if agentOpts.MaxIterations <= 0 {
		agentOpts.MaxIterations = 8
	}

	userMessage := buildUserMessage(spec, features)
	_, err := a.Runner.Run(ctx, systemPrompt, userMessage, []runner.Tool{tool}, a.ProviderOptions, agentOpts, a.Sink)
	if err != nil {
		return nil, fmt.Errorf("wyrm: agent run failed: %w", err)
	}
	if !tool.submitted {
		return nil, fmt.Errorf("wyrm: conversation ended without calling submit_recommendation")
	}
	return &tool.output, nil
}

func buildUserMessage(spec store.Specification, features []store.Feature) string {
	msg := fmt.Sprintf("Specification (version %d):\n\n%s\n\n", spec.Version, spec.Content)
	if len(features) == 0 {
		msg += "No features are currently awaiting assignment."
		return msg
	}
	msg += "Features awaiting assignment:\n"
	for _, f := range features {
		msg += fmt.Sprintf("- %s (%s)\n", f.Name, f.ID)
	}
	return msg
}
