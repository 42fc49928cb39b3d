package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"
)

// taskFilePath returns the canonical path for a project's work-area
// TaskFile.
func taskFilePath(workspaceRoot, area string) string {
	return filepath.Join(workspaceRoot, fmt.Sprintf("%s-tasks.md", area))
}

// GetTasks reparses the project's TaskFile for area and merges in the
// richer fields (dependencies, priority, retry bookkeeping) held in the
// task_index table. The TaskFile remains canonical for id, text, agent, and
// status; task_index supplies everything else, and a row with no task_index
// entry keeps those fields at their zero values.
func (s *Store) GetTasks(project *Project, area string) ([]Task, error) {
	path := taskFilePath(project.WorkspaceRoot, area)
	fileTasks, err := ParseTaskFile(path)
	if err != nil {
		return nil, err
	}

	for i := range fileTasks {
		fileTasks[i].ProjectID = project.ID
		fileTasks[i].Area = area
		idx, err := s.getTaskIndexRow(fileTasks[i].ID)
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		if idx != nil {
			fileTasks[i].Priority = idx.Priority
			fileTasks[i].DependencyLevel = idx.DependencyLevel
			fileTasks[i].Dependencies = idx.Dependencies
			fileTasks[i].SpecVersion = idx.SpecVersion
			fileTasks[i].SpecHash = idx.SpecHash
			fileTasks[i].ErrorMessage = idx.ErrorMessage
			fileTasks[i].ErrorCategory = idx.ErrorCategory
			fileTasks[i].RetryCount = idx.RetryCount
			fileTasks[i].LastRetryAt = idx.LastRetryAt
			fileTasks[i].NextRetryAt = idx.NextRetryAt
			fileTasks[i].OutputFiles = idx.OutputFiles
			fileTasks[i].CommitSHA = idx.CommitSHA
			fileTasks[i].CreatedAt = idx.CreatedAt
		}
	}
	return fileTasks, nil
}

// UpsertTask writes task-file-owned fields to the TaskFile (id, text,
// agent, status) and the remaining fields to task_index, in that order —
// the file write happens first so the file stays canonical even if the
// index write subsequently fails.
func (s *Store) UpsertTask(project *Project, area string, task Task, allTasksInArea []Task) error {
	return s.withProjectLock(project.ID, func() error {
		path := taskFilePath(project.WorkspaceRoot, area)

		merged := make([]Task, 0, len(allTasksInArea))
		replaced := false
		for _, t := range allTasksInArea {
			if t.ID == task.ID {
				merged = append(merged, task)
				replaced = true
			} else {
				merged = append(merged, t)
			}
		}
		if !replaced {
			merged = append(merged, task)
		}

		var errTasks []Task
		for _, t := range merged {
			if t.Status == TaskFailed || t.Status == TaskBlockedByFailure {
				errTasks = append(errTasks, t)
			}
		}

		title := fmt.Sprintf("%s: %s", project.Name, area)
		if err := WriteTaskFile(path, title, merged, errTasks); err != nil {
			return err
		}

		return s.upsertTaskIndexRow(task)
	})
}

// ReplaceTasks atomically rewrites an entire work area's TaskFile, as
// Wyvern does when it (re-)generates a task graph from a Specification. All
// task index rows for the area are upserted in the same call.
func (s *Store) ReplaceTasks(project *Project, area string, tasks []Task) error {
	return s.withProjectLock(project.ID, func() error {
		path := taskFilePath(project.WorkspaceRoot, area)

		var errTasks []Task
		for _, t := range tasks {
			if t.Status == TaskFailed || t.Status == TaskBlockedByFailure {
				errTasks = append(errTasks, t)
			}
		}

		title := fmt.Sprintf("%s: %s", project.Name, area)
		if err := WriteTaskFile(path, title, tasks, errTasks); err != nil {
			return err
		}

		for _, t := range tasks {
			if err := s.upsertTaskIndexRow(t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) getTaskIndexRow(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT id, project_id, area, priority, dependency_level, dependencies,
		spec_version, spec_hash, error_message, error_category, retry_count, last_retry_at, next_retry_at,
		output_files, commit_sha, created_at, updated_at
		FROM task_index WHERE id = ?`, id)

	var t Task
	var deps, outputs string
	var lastRetry, nextRetry sql.NullTime

	err := row.Scan(&t.ID, &t.ProjectID, &t.Area, &t.Priority, &t.DependencyLevel, &deps,
		&t.SpecVersion, &t.SpecHash, &t.ErrorMessage, &t.ErrorCategory, &t.RetryCount, &lastRetry, &nextRetry,
		&outputs, &t.CommitSHA, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan task index row: %w", err)
	}

	t.Dependencies = unmarshalStrings(deps)
	t.OutputFiles = unmarshalStrings(outputs)
	if lastRetry.Valid {
		t.LastRetryAt = lastRetry.Time
	}
	if nextRetry.Valid {
		t.NextRetryAt = nextRetry.Time
	}
	return &t, nil
}

func (s *Store) upsertTaskIndexRow(t Task) error {
	now := time.Now().UTC()
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var lastRetry, nextRetry any
	if !t.LastRetryAt.IsZero() {
		lastRetry = t.LastRetryAt
	}
	if !t.NextRetryAt.IsZero() {
		nextRetry = t.NextRetryAt
	}

	_, err := s.db.Exec(`INSERT INTO task_index
		(id, project_id, area, priority, dependency_level, dependencies, spec_version, spec_hash,
		error_message, error_category, retry_count, last_retry_at, next_retry_at, output_files, commit_sha,
		created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id, area=excluded.area, priority=excluded.priority,
			dependency_level=excluded.dependency_level, dependencies=excluded.dependencies,
			spec_version=excluded.spec_version, spec_hash=excluded.spec_hash,
			error_message=excluded.error_message, error_category=excluded.error_category,
			retry_count=excluded.retry_count,
			last_retry_at=excluded.last_retry_at, next_retry_at=excluded.next_retry_at,
			output_files=excluded.output_files, commit_sha=excluded.commit_sha, updated_at=excluded.updated_at`,
		t.ID, t.ProjectID, t.Area, t.Priority, t.DependencyLevel, marshalStrings(t.Dependencies),
		t.SpecVersion, t.SpecHash, t.ErrorMessage, t.ErrorCategory, t.RetryCount, lastRetry, nextRetry,
		marshalStrings(t.OutputFiles), t.CommitSHA, createdAt, now)
	if err != nil {
		return fmt.Errorf("store: upsert task index row: %w", err)
	}
	return nil
}

// ReadyTasks filters tasks to those eligible for promotion to Working:
// status Unassigned/NotInitialized with every dependency Done, and no
// dependency Failed/BlockedByFailure. Tasks with a blocking dependency are
// returned in blocked with their status unchanged; the caller marks them
// BlockedByFailure and persists them.
func ReadyTasks(tasks []Task) (ready []Task, blocked []Task) {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, t := range tasks {
		if !t.Status.IsEligible() {
			continue
		}

		allDone := true
		anyBlocking := false
		for _, depID := range t.Dependencies {
			dep, ok := byID[depID]
			if !ok {
				continue
			}
			if dep.Status == TaskFailed || dep.Status == TaskBlockedByFailure {
				anyBlocking = true
			}
			if dep.Status != TaskDone {
				allDone = false
			}
		}

		switch {
		case anyBlocking:
			blocked = append(blocked, t)
		case allDone:
			ready = append(ready, t)
		}
	}

	SortReady(ready)
	return ready, blocked
}
