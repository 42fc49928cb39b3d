// Package wyvern implements the authoritative Planner Agent: it consumes
// Wyrm's recommendation (internal/wyrm) plus the Specification and emits a
// strict JSON task graph, one area at a time, which it turns into TaskFiles
// via internal/store. Unlike Wyrm, Wyvern is capped to a single iteration:
// its output must parse on the first turn or the project fails.
package wyvern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antigravity-dev/dracode/internal/graph"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// TaskSpec is one proposed task within an area, as emitted by the planner.
type TaskSpec struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	AgentType    string   `json:"agentType"`
	Complexity   string   `json:"complexity"`
	Dependencies []string `json:"dependencies"`
	Priority     int      `json:"priority"`
}

// Area is one work area's proposed task list.
type Area struct {
	Name  string     `json:"name"`
	Tasks []TaskSpec `json:"tasks"`
}

// Document is the strict JSON shape Wyvern emits.
type Document struct {
	ProjectName        string `json:"projectName"`
	Areas              []Area `json:"areas"`
	TotalTasks         int    `json:"totalTasks"`
	EstimatedComplexity string `json:"estimatedComplexity"`
}

// ErrUnparsable is returned when the planner's single turn does not yield a
// valid Document. The caller (the Lifecycle Engine) transitions the
// project to Failed on this error.
var ErrUnparsable = fmt.Errorf("wyvern: planner output did not parse into a task document")

type submitGraphTool struct {
	submitted bool
	doc       Document
}

func (t *submitGraphTool) Name() string { return "submit_task_graph" }
func (t *submitGraphTool) Description() string {
	return "Submit the final task graph: one or more work areas, each with an ordered, " +
		"dependency-annotated list of tasks."
}
func (t *submitGraphTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"projectName": map[string]any{"type": "string"},
			"areas": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
						"tasks": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"id":           map[string]any{"type": "string"},
									"name":         map[string]any{"type": "string"},
									"description":  map[string]any{"type": "string"},
									"agentType":    map[string]any{"type": "string"},
									"complexity":   map[string]any{"type": "string"},
									"dependencies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
									"priority":     map[string]any{"type": "integer"},
								},
								"required": []string{"id", "name", "agentType"},
							},
						},
					},
					"required": []string{"name", "tasks"},
				},
			},
			"totalTasks":          map[string]any{"type": "integer"},
			"estimatedComplexity": map[string]any{"type": "string"},
		},
		"required": []string{"projectName", "areas"},
	}
}

func (t *submitGraphTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	var doc Document
	if err := json.Unmarshal(input, &doc); err != nil {
		return "", fmt.Errorf("submit_task_graph: invalid payload: %w", err)
	}
	if len(doc.Areas) == 0 {
		return "", fmt.Errorf("submit_task_graph: areas must not be empty")
	}
	t.submitted = true
	t.doc = doc
	return "task graph received", nil
}

const systemPrompt = "You are Wyvern, the authoritative task-graph planner. Read the " +
	"specification and Wyrm's recommendation, then call submit_task_graph exactly once " +
	"with the complete, final task breakdown grouped by work area. Every task needs a " +
	"stable id, a name, a description, an agentType, and its dependencies by id. You get " +
	"exactly one turn: do not ask questions, just submit the best graph you can."

// Agent runs Wyvern against a Specification and a Wyrm recommendation.
type Agent struct {
	Runner          *runner.Runner
	Sink            runner.Sink
	ProviderOptions runner.ProviderOptions
}

// Plan runs Wyvern's single-iteration conversation and returns the parsed
// Document. The iteration cap is always exactly 1.
func (a *Agent) Plan(ctx context.Context, spec store.Specification, recommendation string) (*Document, error) {
	tool := &submitGraphTool{}
	agentOpts := runner.AgentOptions{MaxIterations: 1}

	userMessage := fmt.Sprintf("Specification (version %d):\n\n%s\n\nWyrm's recommendation:\n\n%s",
		spec.Version, spec.Content, recommendation)
	_, err := a.Runner.Run(ctx, systemPrompt, userMessage, []runner.Tool{tool}, a.ProviderOptions, agentOpts, a.Sink)
	// A single-iteration budget leaves no room for the provider's closing
	// end_turn after it calls submit_task_graph, so Run always returns
	// ErrMaxIterations on the happy path too; only a submission-less turn
	// is actually unparsable.
	if err != nil && !errors.Is(err, runner.ErrMaxIterations) {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if !tool.submitted {
		return nil, ErrUnparsable
	}
	return &tool.doc, nil
}

// Materialize turns one Area of a Document into a TaskFile in the Store,
// preserving existing task identity/status for tasks whose id is unchanged
// and computing each task's DependencyLevel via internal/graph. New tasks
// (ids the existing TaskFile did not have) start Unassigned, so a
// regenerated area after a specification edit keeps finished work finished.
func Materialize(s *store.Store, project *store.Project, area Area, spec store.Specification) ([]store.Task, error) {
	existing, err := s.GetTasks(project, area.Name)
	if err != nil {
		existing = nil // first time this area has ever been planned
	}
	existingByID := make(map[string]store.Task, len(existing))
	for _, t := range existing {
		existingByID[t.ID] = t
	}

	deps := make(map[string][]string, len(area.Tasks))
	for _, ts := range area.Tasks {
		deps[ts.ID] = ts.Dependencies
	}
	g := graph.Build(deps)
	levels, err := g.Levels()
	if err != nil {
		return nil, fmt.Errorf("wyvern: area %q: %w", area.Name, err)
	}

	out := make([]store.Task, 0, len(area.Tasks))
	for _, ts := range area.Tasks {
		var t store.Task
		if prior, ok := existingByID[ts.ID]; ok {
			t = prior
		} else {
			t.Status = store.TaskUnassigned
			t.ID = ts.ID
		}
		t.Text = ts.Name
		if ts.Description != "" {
			t.Text = fmt.Sprintf("%s: %s", ts.Name, ts.Description)
		}
		t.AgentType = ts.AgentType
		t.ProjectID = project.ID
		t.Area = area.Name
		t.Priority = ts.Priority
		t.DependencyLevel = levels[ts.ID]
		t.Dependencies = ts.Dependencies
		t.SpecVersion = spec.Version
		t.SpecHash = spec.Hash
		out = append(out, t)
	}

	if err := s.ReplaceTasks(project, area.Name, out); err != nil {
		return nil, fmt.Errorf("wyvern: persist area %q: %w", area.Name, err)
	}
	return out, nil
}

// LinkFeatures transitions every Feature whose name appears in a materialized
// task's name or description: AssignedToWyvern -> InProgress when any linked
// task is non-terminal, InProgress -> Completed when every linked task is
// Done.
func LinkFeatures(s *store.Store, features []store.Feature, tasks []store.Task) error {
	for _, f := range features {
		var linked []store.Task
		for _, t := range tasks {
			if strings.Contains(strings.ToLower(t.Text), strings.ToLower(f.Name)) {
				linked = append(linked, t)
			}
		}
		if len(linked) == 0 {
			continue
		}

		allDone := true
		anyNonTerminal := false
		for _, t := range linked {
			if t.Status != store.TaskDone {
				allDone = false
			}
			if !t.Status.IsTerminal() {
				anyNonTerminal = true
			}
		}

		next := f.Status
		switch {
		case allDone:
			next = store.FeatureCompleted
		case anyNonTerminal:
			next = store.FeatureInProgress
		}
		if next == f.Status {
			continue
		}
		f.Status = next
		if err := s.UpsertFeature(&f); err != nil {
			return fmt.Errorf("wyvern: link feature %s: %w", f.ID, err)
		}
	}
	return nil
}
