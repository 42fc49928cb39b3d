package kobold

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// stepDoneTool is the explicit completion signal a step's conversation may
// call. Its presence on a call is a stronger signal than the heuristic scan.
type stepDoneTool struct {
	called  bool
	summary string
}

func (t *stepDoneTool) Name() string { return "mark_step_done" }
func (t *stepDoneTool) Description() string {
	return "Call this once the current step's goal has been fully achieved."
}
func (t *stepDoneTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
	}
}

func (t *stepDoneTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	var payload struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal(input, &payload) // summary is optional; ignore malformed input rather than fail the step
	t.called = true
	t.summary = payload.Summary
	return "step marked done", nil
}

var heuristicDoneRe = regexp.MustCompile(`(?i)\b(done|completed|finished)\b`)

// heuristicDoneSignal scans the final assistant text block for a "done"
// signal, for providers/models that narrate completion instead of calling
// mark_step_done.
func heuristicDoneSignal(messages []runner.Message) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != runner.RoleAssistant {
			continue
		}
		for _, block := range messages[i].Content {
			if block.Kind == runner.BlockText && heuristicDoneRe.MatchString(block.Text) {
				return true
			}
		}
		return false // most recent assistant message carried no text signal
	}
	return false
}

// buildStepPrompt renders the step-scoped prompt for step index i: full
// detail for the Current step; title+description for the next
// mediumDetailStepCount steps if progressive reveal is enabled (else full
// detail for all); title+status for the rest.
func buildStepPrompt(plan *store.Plan, index int, progressiveReveal bool, mediumDetailStepCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task plan (%d steps). You are executing step %d now.\n\n", len(plan.Steps), index+1)

	for i, step := range plan.Steps {
		switch {
		case i == index:
			fmt.Fprintf(&b, "%d. [CURRENT] %s\n   %s\n", i+1, step.Title, step.Description)
		case !progressiveReveal:
			fmt.Fprintf(&b, "%d. [%s] %s\n   %s\n", i+1, step.Status, step.Title, step.Description)
		case i > index && i <= index+mediumDetailStepCount:
			fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, step.Title, step.Description)
		default:
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, step.Status, step.Title)
		}
	}

	b.WriteString("\nComplete the [CURRENT] step only, then call mark_step_done.")
	return b.String()
}
