// Package store provides SQLite-backed persistence for Dracode's Project,
// Specification, Feature, and operational-health state. Task data lives in
// TaskFile markdown (see taskfile.go); Plan data lives in JSON sidecars (see
// plan.go). Both treat the database as a rebuildable cache, never the
// source of truth.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence plus per-project serialized
// mutation.
type Store struct {
	db *sql.DB

	// registryPath, when set, mirrors the projects table into a single JSON
	// file keyed by project id after every project write. The database stays
	// operational truth; the file is the exposed registry format.
	registryPath string

	muMu  sync.Mutex
	locks map[string]*sync.Mutex
}

// SetRegistryPath enables the JSON project-registry mirror at path.
func (s *Store) SetRegistryPath(path string) {
	s.registryPath = path
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Prototype',
	execution_state TEXT NOT NULL DEFAULT 'Running',
	workspace_root TEXT NOT NULL DEFAULT '',
	extra_permitted_paths TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	analyzed_at DATETIME,
	last_processed_at DATETIME,
	pending_work_areas TEXT NOT NULL DEFAULT '[]',
	last_processed_hash TEXT NOT NULL DEFAULT '',
	assigned_planner_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS specifications (
	project_id TEXT PRIMARY KEY REFERENCES projects(id),
	content TEXT NOT NULL DEFAULT '',
	hash TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS specification_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL REFERENCES projects(id),
	version INTEGER NOT NULL,
	hash TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS features (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'New',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS health_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	task_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tick_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick_at DATETIME NOT NULL DEFAULT (datetime('now')),
	ticker TEXT NOT NULL,
	projects_scanned INTEGER NOT NULL DEFAULT 0,
	transitions INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS claim_leases (
	task_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	worker_id TEXT NOT NULL DEFAULT '',
	claimed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	heartbeat_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS task_index (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	area TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	dependency_level INTEGER NOT NULL DEFAULT 0,
	dependencies TEXT NOT NULL DEFAULT '[]',
	spec_version INTEGER NOT NULL DEFAULT 0,
	spec_hash TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	error_category TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_retry_at DATETIME,
	next_retry_at DATETIME,
	output_files TEXT NOT NULL DEFAULT '[]',
	commit_sha TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_task_index_project_area ON task_index(project_id, area);
CREATE INDEX IF NOT EXISTS idx_features_project ON features(project_id);
CREATE INDEX IF NOT EXISTS idx_spec_history_project ON specification_history(project_id);
CREATE INDEX IF NOT EXISTS idx_health_events_project ON health_events(project_id);
CREATE INDEX IF NOT EXISTS idx_claim_leases_project ON claim_leases(project_id);
CREATE INDEX IF NOT EXISTS idx_claim_leases_heartbeat ON claim_leases(heartbeat_at);
`

// Open creates or opens a SQLite database at the given path and ensures the
// schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// migrate applies incremental schema migrations for existing databases.
func migrate(db *sql.DB) error {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('projects') WHERE name = 'assigned_planner_id'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check assigned_planner_id column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE projects ADD COLUMN assigned_planner_id TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add assigned_planner_id column: %w", err)
		}
	}

	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('task_index') WHERE name = 'error_message'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check error_message column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE task_index ADD COLUMN error_message TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add error_message column: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// withProjectLock serializes mutations to a single project's rows;
// cross-project operations hold no shared lock.
func (s *Store) withProjectLock(projectID string, fn func() error) error {
	s.muMu.Lock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	s.muMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = fmt.Errorf("store: not found")

// ErrInvalidTransition is returned by UpsertProject when p.Status is not a
// legal move from the stored project's current status.
type ErrInvalidTransition struct {
	From, To ProjectStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("store: illegal project status transition %s -> %s", e.From, e.To)
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// GetProject loads a project by id.
func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT id, name, status, execution_state, workspace_root,
		extra_permitted_paths, created_at, updated_at, analyzed_at, last_processed_at,
		pending_work_areas, last_processed_hash, assigned_planner_id, error_message
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var extraPaths, pendingAreas string
	var analyzedAt, lastProcessedAt sql.NullTime

	err := row.Scan(&p.ID, &p.Name, &p.Status, &p.ExecutionState, &p.WorkspaceRoot,
		&extraPaths, &p.CreatedAt, &p.UpdatedAt, &analyzedAt, &lastProcessedAt,
		&pendingAreas, &p.LastProcessedHash, &p.AssignedPlannerID, &p.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan project: %w", err)
	}

	p.ExtraPermittedPaths = unmarshalStrings(extraPaths)
	p.PendingWorkAreas = unmarshalStrings(pendingAreas)
	if analyzedAt.Valid {
		p.AnalyzedAt = analyzedAt.Time
	}
	if lastProcessedAt.Valid {
		p.LastProcessedAt = lastProcessedAt.Time
	}
	return &p, nil
}

// ProjectFilter narrows ListProjects by status and/or execution state. A
// zero value field means "don't filter on this dimension".
type ProjectFilter struct {
	Status         ProjectStatus
	ExecutionState ExecutionState
}

// ListProjects returns projects matching filter.
func (s *Store) ListProjects(filter ProjectFilter) ([]Project, error) {
	query := `SELECT id, name, status, execution_state, workspace_root,
		extra_permitted_paths, created_at, updated_at, analyzed_at, last_processed_at,
		pending_work_areas, last_processed_hash, assigned_planner_id, error_message
		FROM projects WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.ExecutionState != "" {
		query += " AND execution_state = ?"
		args = append(args, filter.ExecutionState)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var extraPaths, pendingAreas string
		var analyzedAt, lastProcessedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.ExecutionState, &p.WorkspaceRoot,
			&extraPaths, &p.CreatedAt, &p.UpdatedAt, &analyzedAt, &lastProcessedAt,
			&pendingAreas, &p.LastProcessedHash, &p.AssignedPlannerID, &p.ErrorMessage); err != nil {
			return nil, fmt.Errorf("store: scan project row: %w", err)
		}
		p.ExtraPermittedPaths = unmarshalStrings(extraPaths)
		p.PendingWorkAreas = unmarshalStrings(pendingAreas)
		if analyzedAt.Valid {
			p.AnalyzedAt = analyzedAt.Time
		}
		if lastProcessedAt.Valid {
			p.LastProcessedAt = lastProcessedAt.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProject inserts or updates a project, validating the status
// transition against the prior stored status (if any).
func (s *Store) UpsertProject(p *Project) error {
	return s.withProjectLock(p.ID, func() error {
		existing, err := s.GetProject(p.ID)
		if err != nil && err != ErrNotFound {
			return err
		}
		if existing != nil && !CanTransition(existing.Status, p.Status) {
			return &ErrInvalidTransition{From: existing.Status, To: p.Status}
		}

		now := time.Now().UTC()
		p.UpdatedAt = now
		if existing == nil {
			p.CreatedAt = now
		} else {
			p.CreatedAt = existing.CreatedAt
		}

		var analyzedAt, lastProcessedAt any
		if !p.AnalyzedAt.IsZero() {
			analyzedAt = p.AnalyzedAt
		}
		if !p.LastProcessedAt.IsZero() {
			lastProcessedAt = p.LastProcessedAt
		}

		_, err = s.db.Exec(`INSERT INTO projects
			(id, name, status, execution_state, workspace_root, extra_permitted_paths,
			created_at, updated_at, analyzed_at, last_processed_at, pending_work_areas,
			last_processed_hash, assigned_planner_id, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, status=excluded.status, execution_state=excluded.execution_state,
				workspace_root=excluded.workspace_root, extra_permitted_paths=excluded.extra_permitted_paths,
				updated_at=excluded.updated_at, analyzed_at=excluded.analyzed_at,
				last_processed_at=excluded.last_processed_at, pending_work_areas=excluded.pending_work_areas,
				last_processed_hash=excluded.last_processed_hash, assigned_planner_id=excluded.assigned_planner_id,
				error_message=excluded.error_message`,
			p.ID, p.Name, p.Status, p.ExecutionState, p.WorkspaceRoot, marshalStrings(p.ExtraPermittedPaths),
			p.CreatedAt, p.UpdatedAt, analyzedAt, lastProcessedAt, marshalStrings(p.PendingWorkAreas),
			p.LastProcessedHash, p.AssignedPlannerID, p.ErrorMessage)
		if err != nil {
			return fmt.Errorf("store: upsert project: %w", err)
		}
		return s.exportRegistry()
	})
}

// GetSpecification loads the current Specification for a project.
func (s *Store) GetSpecification(projectID string) (*Specification, error) {
	row := s.db.QueryRow(`SELECT project_id, content, hash, version, updated_at
		FROM specifications WHERE project_id = ?`, projectID)

	var spec Specification
	if err := row.Scan(&spec.ProjectID, &spec.Content, &spec.Hash, &spec.Version, &spec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan specification: %w", err)
	}

	history, err := s.getSpecHistory(projectID)
	if err != nil {
		return nil, err
	}
	spec.History = history
	return &spec, nil
}

func (s *Store) getSpecHistory(projectID string) ([]SpecHistoryEntry, error) {
	rows, err := s.db.Query(`SELECT version, hash, created_at FROM specification_history
		WHERE project_id = ? ORDER BY version ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list specification history: %w", err)
	}
	defer rows.Close()

	var out []SpecHistoryEntry
	for rows.Next() {
		var e SpecHistoryEntry
		if err := rows.Scan(&e.Version, &e.Hash, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan specification history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateSpecification sets newContent as the project's Specification. If its
// hash differs from the stored hash, version is incremented, history gains
// an entry, and a project in Analyzed or later transitions to
// SpecificationModified.
func (s *Store) UpdateSpecification(projectID, newContent, newHash string) (*Specification, error) {
	var result *Specification
	err := s.withProjectLock(projectID, func() error {
		existing, err := s.GetSpecification(projectID)
		if err != nil && err != ErrNotFound {
			return err
		}

		now := time.Now().UTC()
		version := 1
		unchanged := false
		if existing != nil {
			version = existing.Version
			if existing.Hash == newHash {
				unchanged = true
			} else {
				version = existing.Version + 1
			}
		}

		if unchanged {
			result = existing
			return nil
		}

		_, err = s.db.Exec(`INSERT INTO specifications (project_id, content, hash, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(project_id) DO UPDATE SET
				content=excluded.content, hash=excluded.hash, version=excluded.version, updated_at=excluded.updated_at`,
			projectID, newContent, newHash, version, now)
		if err != nil {
			return fmt.Errorf("store: update specification: %w", err)
		}

		_, err = s.db.Exec(`INSERT INTO specification_history (project_id, version, hash, created_at)
			VALUES (?, ?, ?, ?)`, projectID, version, newHash, now)
		if err != nil {
			return fmt.Errorf("store: append specification history: %w", err)
		}

		if proj, perr := s.GetProject(projectID); perr == nil {
			if proj.Status == StatusAnalyzed || proj.Status == StatusInProgress ||
				proj.Status == StatusCompleted || proj.Status == StatusFailed {
				proj.Status = StatusSpecificationModified
				if uerr := s.upsertProjectLocked(proj); uerr != nil {
					return uerr
				}
			}
		}

		if err := s.exportSpecification(projectID, newContent); err != nil {
			return err
		}

		history, err := s.getSpecHistory(projectID)
		if err != nil {
			return err
		}
		result = &Specification{ProjectID: projectID, Content: newContent, Hash: newHash, Version: version, History: history, UpdatedAt: now}
		return nil
	})
	return result, err
}

// upsertProjectLocked writes project fields without re-acquiring the
// project lock (the caller already holds it) and without re-validating the
// transition, since UpdateSpecification's SpecificationModified cycle-back
// is itself a legal transition checked by the caller.
func (s *Store) upsertProjectLocked(p *Project) error {
	p.UpdatedAt = time.Now().UTC()
	var analyzedAt, lastProcessedAt any
	if !p.AnalyzedAt.IsZero() {
		analyzedAt = p.AnalyzedAt
	}
	if !p.LastProcessedAt.IsZero() {
		lastProcessedAt = p.LastProcessedAt
	}
	_, err := s.db.Exec(`UPDATE projects SET status=?, execution_state=?, workspace_root=?,
		extra_permitted_paths=?, updated_at=?, analyzed_at=?, last_processed_at=?,
		pending_work_areas=?, last_processed_hash=?, assigned_planner_id=?, error_message=?
		WHERE id=?`,
		p.Status, p.ExecutionState, p.WorkspaceRoot, marshalStrings(p.ExtraPermittedPaths),
		p.UpdatedAt, analyzedAt, lastProcessedAt, marshalStrings(p.PendingWorkAreas),
		p.LastProcessedHash, p.AssignedPlannerID, p.ErrorMessage, p.ID)
	if err != nil {
		return fmt.Errorf("store: update project: %w", err)
	}
	return nil
}

// ListFeatures returns a project's features, optionally filtered by status.
func (s *Store) ListFeatures(projectID string, status FeatureStatus) ([]Feature, error) {
	query := `SELECT id, project_id, name, status, created_at, updated_at FROM features WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list features: %w", err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan feature row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertFeature inserts or updates a feature.
func (s *Store) UpsertFeature(f *Feature) error {
	now := time.Now().UTC()
	f.UpdatedAt = now
	_, err := s.db.Exec(`INSERT INTO features (id, project_id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status, updated_at=excluded.updated_at`,
		f.ID, f.ProjectID, f.Name, f.Status, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert feature: %w", err)
	}
	return s.exportFeatures(f.ProjectID)
}

// RecordHealthEvent appends a diagnostic event.
func (s *Store) RecordHealthEvent(eventType, details, projectID, taskID string) error {
	_, err := s.db.Exec(`INSERT INTO health_events (event_type, details, project_id, task_id) VALUES (?, ?, ?, ?)`,
		eventType, details, projectID, taskID)
	if err != nil {
		return fmt.Errorf("store: record health event: %w", err)
	}
	return nil
}

// GetRecentHealthEvents returns events recorded in the last `since`.
func (s *Store) GetRecentHealthEvents(since time.Duration) ([]HealthEvent, error) {
	cutoff := time.Now().UTC().Add(-since)
	rows, err := s.db.Query(`SELECT id, event_type, details, project_id, task_id, created_at
		FROM health_events WHERE created_at >= ? ORDER BY created_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list health events: %w", err)
	}
	defer rows.Close()

	var out []HealthEvent
	for rows.Next() {
		var e HealthEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.ProjectID, &e.TaskID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan health event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordTickMetric persists the outcome of one Lifecycle Engine ticker run.
func (s *Store) RecordTickMetric(m TickMetric) error {
	_, err := s.db.Exec(`INSERT INTO tick_metrics (ticker, projects_scanned, transitions, errors)
		VALUES (?, ?, ?, ?)`, m.Ticker, m.ProjectsScanned, m.Transitions, m.Errors)
	if err != nil {
		return fmt.Errorf("store: record tick metric: %w", err)
	}
	return nil
}

// UpsertClaimLease records (or refreshes) a Worker's liveness heartbeat for
// a task it is actively processing.
func (s *Store) UpsertClaimLease(taskID, projectID, workerID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO claim_leases (task_id, project_id, worker_id, claimed_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET worker_id=excluded.worker_id, heartbeat_at=excluded.heartbeat_at`,
		taskID, projectID, workerID, now, now)
	if err != nil {
		return fmt.Errorf("store: upsert claim lease: %w", err)
	}
	return nil
}

// HeartbeatClaimLease refreshes the heartbeat for an existing lease.
func (s *Store) HeartbeatClaimLease(taskID string) error {
	_, err := s.db.Exec(`UPDATE claim_leases SET heartbeat_at = ? WHERE task_id = ?`, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("store: heartbeat claim lease: %w", err)
	}
	return nil
}

// DeleteClaimLease removes a lease on task completion or worker eviction.
func (s *Store) DeleteClaimLease(taskID string) error {
	_, err := s.db.Exec(`DELETE FROM claim_leases WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("store: delete claim lease: %w", err)
	}
	return nil
}

// GetExpiredClaimLeases returns leases whose heartbeat is older than ttl,
// i.e. candidate stuck Workers.
func (s *Store) GetExpiredClaimLeases(ttl time.Duration) ([]ClaimLease, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := s.db.Query(`SELECT task_id, project_id, worker_id, claimed_at, heartbeat_at
		FROM claim_leases WHERE heartbeat_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list expired claim leases: %w", err)
	}
	defer rows.Close()

	var out []ClaimLease
	for rows.Next() {
		var c ClaimLease
		if err := rows.Scan(&c.TaskID, &c.ProjectID, &c.WorkerID, &c.ClaimedAt, &c.HeartbeatAt); err != nil {
			return nil, fmt.Errorf("store: scan claim lease row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HashContent computes the sha-256 hash of spec content, hex encoded, as
// used by UpdateSpecification's callers.
func HashContent(content string) string {
	return strings.TrimSpace(sha256Hex(content))
}
