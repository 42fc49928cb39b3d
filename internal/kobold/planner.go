package kobold

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// submitPlanTool is the tool the planner sub-agent calls with its proposed
// step decomposition. It exists only for the duration of one buildPlan call.
type submitPlanTool struct {
	submitted bool
	steps     []planStepInput
}

type planStepInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (t *submitPlanTool) Name() string { return "submit_plan" }
func (t *submitPlanTool) Description() string {
	return "Submit the ordered list of steps needed to complete this task."
}
func (t *submitPlanTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
					"required": []string{"title", "description"},
				},
			},
		},
		"required": []string{"steps"},
	}
}

func (t *submitPlanTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	var payload struct {
		Steps []planStepInput `json:"steps"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return "", fmt.Errorf("submit_plan: invalid payload: %w", err)
	}
	if len(payload.Steps) == 0 {
		return "", fmt.Errorf("submit_plan: steps must not be empty")
	}
	t.submitted = true
	t.steps = payload.Steps
	return "plan received", nil
}

const plannerSystemPrompt = "You are the planning sub-agent for a single task. " +
	"Break the task into an ordered list of concrete, idempotent steps and call " +
	"submit_plan exactly once with the full list. Do not execute any step yourself."

// buildPlan runs the planner sub-agent (bounded to MaxPlanningIterations) to
// decompose task into an ordered Plan.
func (w *Worker) buildPlan(ctx context.Context, task store.Task) (*store.Plan, error) {
	tool := &submitPlanTool{}
	agentOpts := runner.AgentOptions{MaxIterations: w.MaxPlanningIterations}

	userMessage := fmt.Sprintf("Task: %s\n\nDecompose this task into an ordered list of steps, then call submit_plan.", task.Text)
	_, err := w.Runner.Run(ctx, plannerSystemPrompt, userMessage, []runner.Tool{tool}, w.ProviderOptions, agentOpts, w.Sink)
	if err != nil {
		return nil, fmt.Errorf("kobold: planner sub-agent failed for task %s: %w", task.ID, err)
	}
	if !tool.submitted {
		return nil, fmt.Errorf("kobold: planner sub-agent for task %s ended without calling submit_plan", task.ID)
	}

	steps := make([]store.PlanStep, len(tool.steps))
	for i, s := range tool.steps {
		steps[i] = store.PlanStep{Title: s.Title, Description: s.Description, Status: store.StepPending}
	}
	return &store.Plan{TaskID: task.ID, Steps: steps}, nil
}
