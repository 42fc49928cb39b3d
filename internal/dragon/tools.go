package dragon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// projectBinder lets a tool record which project a Session now belongs to,
// without giving every tool direct access to the Table.
type projectBinder interface {
	bindProject(projectID string)
}

// createProjectTool lets the agent start a new Project in Prototype, the
// state a human has not yet approved.
type createProjectTool struct {
	store  *store.Store
	binder projectBinder
}

func (t *createProjectTool) Name() string { return "create_project" }
func (t *createProjectTool) Description() string {
	return "Create a new project in Prototype status, with a display name and a workspace path."
}
func (t *createProjectTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":          map[string]any{"type": "string"},
			"workspaceRoot": map[string]any{"type": "string"},
		},
		"required": []string{"name", "workspaceRoot"},
	}
}

func (t *createProjectTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	var payload struct {
		Name          string `json:"name"`
		WorkspaceRoot string `json:"workspaceRoot"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return "", fmt.Errorf("create_project: invalid payload: %w", err)
	}
	if payload.Name == "" {
		return "", fmt.Errorf("create_project: name is required")
	}

	project := &store.Project{
		ID:             uuid.NewString(),
		Name:           payload.Name,
		Status:         store.StatusPrototype,
		ExecutionState: store.ExecutionRunning,
		WorkspaceRoot:  payload.WorkspaceRoot,
	}
	if err := t.store.UpsertProject(project); err != nil {
		return "", fmt.Errorf("create_project: %w", err)
	}
	t.binder.bindProject(project.ID)
	return fmt.Sprintf("created project %s (%s)", project.Name, project.ID), nil
}

// manageSpecificationTool writes the Specification content for the Session's
// bound project, driving the store's version/history bookkeeping.
type manageSpecificationTool struct {
	store   *store.Store
	session *Session
}

func (t *manageSpecificationTool) Name() string { return "manage_specification" }
func (t *manageSpecificationTool) Description() string {
	return "Write or update the full markdown content of the current project's specification."
}
func (t *manageSpecificationTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{"type": "string"},
		},
		"required": []string{"content"},
	}
}

func (t *manageSpecificationTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	if t.session.ProjectID == "" {
		return "", fmt.Errorf("manage_specification: no project bound to this session; call create_project first")
	}
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return "", fmt.Errorf("manage_specification: invalid payload: %w", err)
	}

	hash := store.HashContent(payload.Content)
	spec, err := t.store.UpdateSpecification(t.session.ProjectID, payload.Content, hash)
	if err != nil {
		return "", fmt.Errorf("manage_specification: %w", err)
	}
	return fmt.Sprintf("specification updated to version %d", spec.Version), nil
}

// manageFeatureTool creates or updates a named Feature of the bound
// project's specification.
type manageFeatureTool struct {
	store   *store.Store
	session *Session
}

func (t *manageFeatureTool) Name() string { return "manage_feature" }
func (t *manageFeatureTool) Description() string {
	return "Create or update a named feature of the current project's specification."
}
func (t *manageFeatureTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string", "description": "omit to create a new feature"},
			"name": map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
}

func (t *manageFeatureTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	if t.session.ProjectID == "" {
		return "", fmt.Errorf("manage_feature: no project bound to this session; call create_project first")
	}
	var payload struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return "", fmt.Errorf("manage_feature: invalid payload: %w", err)
	}

	feature := &store.Feature{ID: payload.ID, ProjectID: t.session.ProjectID, Name: payload.Name, Status: store.FeatureNew}
	if feature.ID == "" {
		feature.ID = uuid.NewString()
	}
	if err := t.store.UpsertFeature(feature); err != nil {
		return "", fmt.Errorf("manage_feature: %w", err)
	}
	return fmt.Sprintf("feature %s (%s) saved", feature.Name, feature.ID), nil
}

// approveSpecificationTool implements the approval gate: a project stays in
// Prototype, invisible to the Lifecycle Engine, until the user calls this
// tool, which moves it to New.
type approveSpecificationTool struct {
	store   *store.Store
	session *Session
}

func (t *approveSpecificationTool) Name() string { return "approve_specification" }
func (t *approveSpecificationTool) Description() string {
	return "Approve the current project's specification, making it visible to the lifecycle engine."
}
func (t *approveSpecificationTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *approveSpecificationTool) Execute(ctx context.Context, workingDir string, input json.RawMessage) (string, error) {
	if t.session.ProjectID == "" {
		return "", fmt.Errorf("approve_specification: no project bound to this session")
	}
	project, err := t.store.GetProject(t.session.ProjectID)
	if err != nil {
		return "", fmt.Errorf("approve_specification: %w", err)
	}
	if project.Status != store.StatusPrototype {
		return "", fmt.Errorf("approve_specification: project is %s, not Prototype", project.Status)
	}
	project.Status = store.StatusNew
	if err := t.store.UpsertProject(project); err != nil {
		return "", fmt.Errorf("approve_specification: %w", err)
	}
	return "project approved and queued for analysis", nil
}

// toolsFor builds the tool catalog for one turn of a bound Session.
func toolsFor(s *store.Store, session *Session, binder projectBinder) []runner.Tool {
	return []runner.Tool{
		&createProjectTool{store: s, binder: binder},
		&manageSpecificationTool{store: s, session: session},
		&manageFeatureTool{store: s, session: session},
		&approveSpecificationTool{store: s, session: session},
	}
}
