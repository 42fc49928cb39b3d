package store

import "time"

// ProjectStatus is the lifecycle state of a Project.
type ProjectStatus string

const (
	StatusPrototype             ProjectStatus = "Prototype"
	StatusNew                   ProjectStatus = "New"
	StatusWyrmAssigned          ProjectStatus = "WyrmAssigned"
	StatusAnalyzed              ProjectStatus = "Analyzed"
	StatusSpecificationModified ProjectStatus = "SpecificationModified"
	StatusInProgress            ProjectStatus = "InProgress"
	StatusCompleted             ProjectStatus = "Completed"
	StatusFailed                ProjectStatus = "Failed"
)

// legalTransitions enumerates every permitted (from, to) status pair.
// SpecificationModified is reachable from Analyzed or later and always
// cycles back to WyrmAssigned.
var legalTransitions = map[ProjectStatus]map[ProjectStatus]bool{
	StatusPrototype: {
		StatusNew: true,
	},
	StatusNew: {
		StatusWyrmAssigned: true,
		StatusFailed:       true,
	},
	StatusWyrmAssigned: {
		StatusAnalyzed: true,
		StatusFailed:   true,
	},
	StatusAnalyzed: {
		StatusInProgress:            true,
		StatusSpecificationModified: true,
		StatusFailed:                true,
	},
	StatusSpecificationModified: {
		StatusWyrmAssigned: true,
	},
	StatusInProgress: {
		StatusCompleted:             true,
		StatusFailed:                true,
		StatusSpecificationModified: true,
	},
	StatusCompleted: {
		StatusSpecificationModified: true,
	},
	StatusFailed: {
		StatusSpecificationModified: true,
	},
}

// CanTransition reports whether from -> to is a legal Project status move.
func CanTransition(from, to ProjectStatus) bool {
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}

// ExecutionState is orthogonal to ProjectStatus: only Running projects are
// advanced by the Lifecycle Engine.
type ExecutionState string

const (
	ExecutionRunning   ExecutionState = "Running"
	ExecutionPaused    ExecutionState = "Paused"
	ExecutionSuspended ExecutionState = "Suspended"
	ExecutionCancelled ExecutionState = "Cancelled"
)

// Project is the top-level unit the whole system operates on.
type Project struct {
	ID                    string
	Name                  string
	Status                ProjectStatus
	ExecutionState        ExecutionState
	WorkspaceRoot         string
	ExtraPermittedPaths   []string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	AnalyzedAt            time.Time
	LastProcessedAt       time.Time
	PendingWorkAreas      []string
	LastProcessedHash     string
	AssignedPlannerID     string
	ErrorMessage          string
}

// FeatureStatus is a Feature's lifecycle state.
type FeatureStatus string

const (
	FeatureNew             FeatureStatus = "New"
	FeatureAssignedToWyvern FeatureStatus = "AssignedToWyvern"
	FeatureInProgress      FeatureStatus = "InProgress"
	FeatureCompleted       FeatureStatus = "Completed"
)

// Feature is one unit of the Specification's decomposition.
type Feature struct {
	ID        string
	ProjectID string
	Name      string
	Status    FeatureStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpecHistoryEntry is one append-only record of a past Specification version.
type SpecHistoryEntry struct {
	Version   int
	Timestamp time.Time
	Hash      string
}

// Specification is the markdown content driving Wyrm/Wyvern, versioned by
// content hash.
type Specification struct {
	ProjectID string
	Content   string
	Hash      string
	Version   int
	History   []SpecHistoryEntry
	UpdatedAt time.Time
}

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskUnassigned       TaskStatus = "Unassigned"
	TaskNotInitialized   TaskStatus = "NotInitialized"
	TaskWorking          TaskStatus = "Working"
	TaskDone             TaskStatus = "Done"
	TaskFailed           TaskStatus = "Failed"
	TaskBlockedByFailure TaskStatus = "BlockedByFailure"
)

// IsEligible reports whether a task with this status (and no blocking
// dependency) is eligible for promotion to Working.
func (s TaskStatus) IsEligible() bool {
	return s == TaskUnassigned || s == TaskNotInitialized
}

// IsTerminal reports whether no further progress is expected for this status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskDone || s == TaskFailed || s == TaskBlockedByFailure
}

// Task is one row of a TaskFile.
type Task struct {
	ID           string
	Text         string
	AgentType    string
	ProjectID    string
	Area         string
	Status       TaskStatus
	Priority     int
	DependencyLevel int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ErrorMessage string
	ErrorCategory string
	RetryCount   int
	LastRetryAt  time.Time
	NextRetryAt  time.Time
	Dependencies []string
	SpecVersion  int
	SpecHash     string
	OutputFiles  []string
	CommitSHA    string
}

// StepStatus is a Plan step's lifecycle state.
type StepStatus string

const (
	StepPending StepStatus = "Pending"
	StepCurrent StepStatus = "Current"
	StepDone    StepStatus = "Done"
	StepFailed  StepStatus = "Failed"
)

// PlanStep is one ordered unit of a Task's decomposition.
type PlanStep struct {
	Title       string
	Description string
	DetailLevel string
	Status      StepStatus
}

// Plan is the ordered step decomposition for one Task.
type Plan struct {
	TaskID string
	Steps  []PlanStep
}

// CurrentStep returns the index of the step in StepCurrent, or -1 if none.
func (p *Plan) CurrentStep() int {
	for i, s := range p.Steps {
		if s.Status == StepCurrent {
			return i
		}
	}
	return -1
}

// HealthEvent is an append-only diagnostic record.
type HealthEvent struct {
	ID        int64
	EventType string
	Details   string
	ProjectID string
	TaskID    string
	CreatedAt time.Time
}

// TickMetric records one Lifecycle Engine ticker's outcome for observability.
type TickMetric struct {
	ID               int64
	TickAt           time.Time
	Ticker           string
	ProjectsScanned  int
	Transitions      int
	Errors           int
}

// ClaimLease is a liveness heartbeat for a Worker actively processing a Task,
// supplementing (not replacing) the TaskFile's Working status.
type ClaimLease struct {
	TaskID      string
	ProjectID   string
	WorkerID    string
	ClaimedAt   time.Time
	HeartbeatAt time.Time
}
