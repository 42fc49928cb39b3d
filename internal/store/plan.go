package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/dracode/internal/atomicfile"
)

// planPath returns the JSON sidecar path for a task's Plan, rooted under the
// project workspace so a Plan travels with the workspace it describes.
func planPath(workspaceRoot, taskID string) string {
	return filepath.Join(workspaceRoot, ".dracode", "plans", taskID+".json")
}

// GetPlan loads the Plan sidecar for taskID. Returns ErrNotFound if no plan
// has been saved yet.
func (s *Store) GetPlan(workspaceRoot, taskID string) (*Plan, error) {
	data, err := os.ReadFile(planPath(workspaceRoot, taskID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read plan for task %s: %w", taskID, err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("store: corrupt plan sidecar for task %s: %w", taskID, err)
	}
	return &p, nil
}

// UpsertPlan persists the full plan, overwriting any prior sidecar. Plans
// are always written whole (not appended) since a step transition may
// change which single step is Current across the entire ordered list.
func (s *Store) UpsertPlan(workspaceRoot string, plan *Plan) error {
	path := planPath(workspaceRoot, plan.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: create plan dir for task %s: %w", plan.TaskID, err)
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal plan for task %s: %w", plan.TaskID, err)
	}

	return atomicfile.Write(path, data, 0o644)
}

// UpsertPlanStep updates a single step (by index) in taskID's plan and
// persists the whole plan. It enforces that at most one step is Current:
// promoting step `index` to Current demotes any other Current step to
// Pending.
func (s *Store) UpsertPlanStep(workspaceRoot, taskID string, index int, step PlanStep) (*Plan, error) {
	plan, err := s.GetPlan(workspaceRoot, taskID)
	if err == ErrNotFound {
		plan = &Plan{TaskID: taskID}
	} else if err != nil {
		return nil, err
	}

	for len(plan.Steps) <= index {
		plan.Steps = append(plan.Steps, PlanStep{Status: StepPending})
	}
	plan.Steps[index] = step

	if step.Status == StepCurrent {
		for i := range plan.Steps {
			if i != index && plan.Steps[i].Status == StepCurrent {
				plan.Steps[i].Status = StepPending
			}
		}
	}

	if err := s.UpsertPlan(workspaceRoot, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// DeletePlan removes a task's plan sidecar, e.g. when a task is regenerated
// after a specification edit.
func (s *Store) DeletePlan(workspaceRoot, taskID string) error {
	err := os.Remove(planPath(workspaceRoot, taskID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete plan for task %s: %w", taskID, err)
	}
	return nil
}
