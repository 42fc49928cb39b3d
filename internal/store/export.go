package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/antigravity-dev/dracode/internal/atomicfile"
)

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create workspace dir %s: %w", dir, err)
	}
	return nil
}

// registryEntry is one project row of the exposed JSON registry file.
type registryEntry struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	ExecutionState    string    `json:"executionState"`
	WorkspaceRoot     string    `json:"workspaceRoot"`
	PendingWorkAreas  []string  `json:"pendingWorkAreas,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	AssignedPlannerID string    `json:"assignedPlannerId,omitempty"`
}

// exportRegistry mirrors every project into the single JSON registry file,
// keyed by project id. A no-op when no registry path is configured.
func (s *Store) exportRegistry() error {
	if s.registryPath == "" {
		return nil
	}

	projects, err := s.ListProjects(ProjectFilter{})
	if err != nil {
		return err
	}

	registry := make(map[string]registryEntry, len(projects))
	for _, p := range projects {
		registry[p.ID] = registryEntry{
			ID:                p.ID,
			Name:              p.Name,
			Status:            string(p.Status),
			ExecutionState:    string(p.ExecutionState),
			WorkspaceRoot:     p.WorkspaceRoot,
			PendingWorkAreas:  p.PendingWorkAreas,
			CreatedAt:         p.CreatedAt,
			UpdatedAt:         p.UpdatedAt,
			ErrorMessage:      p.ErrorMessage,
			AssignedPlannerID: p.AssignedPlannerID,
		}
	}

	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal project registry: %w", err)
	}
	if err := ensureDir(filepath.Dir(s.registryPath)); err != nil {
		return err
	}
	return atomicfile.Write(s.registryPath, data, 0o644)
}

// specificationPath is the on-disk home of a project's specification.
func specificationPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "specification.md")
}

// featuresSidecarPath is the feature list sidecar next to specification.md.
func featuresSidecarPath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, "specification.features.json")
}

type featureEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// exportFeatures rewrites a project's feature sidecar. A no-op when the
// project has no workspace on disk yet.
func (s *Store) exportFeatures(projectID string) error {
	project, err := s.GetProject(projectID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if project.WorkspaceRoot == "" {
		return nil
	}

	features, err := s.ListFeatures(projectID, "")
	if err != nil {
		return err
	}
	entries := make([]featureEntry, 0, len(features))
	for _, f := range features {
		entries = append(entries, featureEntry{ID: f.ID, Name: f.Name, Status: string(f.Status)})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal feature sidecar: %w", err)
	}
	if err := ensureDir(project.WorkspaceRoot); err != nil {
		return err
	}
	return atomicfile.Write(featuresSidecarPath(project.WorkspaceRoot), data, 0o644)
}

// exportSpecification writes the specification markdown to the project's
// workspace. Only called when the content hash changed, so the rewrite never
// ping-pongs with the on-disk watcher.
func (s *Store) exportSpecification(projectID, content string) error {
	project, err := s.GetProject(projectID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if project.WorkspaceRoot == "" {
		return nil
	}
	if err := ensureDir(project.WorkspaceRoot); err != nil {
		return err
	}
	return atomicfile.Write(specificationPath(project.WorkspaceRoot), []byte(content), 0o644)
}
