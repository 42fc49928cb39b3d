// Package governor implements the Resource Governor: per-project,
// per-worker-kind admission control over how many concurrent agents of each
// kind may run against a project at once.
package governor

import (
	"fmt"
	"sync"
)

// Kind identifies one of the four agent roles the governor caps.
type Kind string

const (
	KindKobold Kind = "kobold"
	KindDrake  Kind = "drake"
	KindWyrm   Kind = "wyrm"
	KindWyvern Kind = "wyvern"
)

// Limits sets the maximum concurrent count allowed per Kind, applied
// identically to every project.
type Limits struct {
	MaxKobolds int
	MaxDrakes  int
	MaxWyrms   int
	MaxWyverns int
}

// DefaultLimits allows at most one of each kind per project.
func DefaultLimits() Limits {
	return Limits{MaxKobolds: 1, MaxDrakes: 1, MaxWyrms: 1, MaxWyverns: 1}
}

func (l Limits) maxFor(kind Kind) int {
	switch kind {
	case KindKobold:
		return l.MaxKobolds
	case KindDrake:
		return l.MaxDrakes
	case KindWyrm:
		return l.MaxWyrms
	case KindWyvern:
		return l.MaxWyverns
	default:
		return 0
	}
}

type counterKey struct {
	project string
	kind    Kind
}

// Governor tracks live counts per (project, kind) and admits or rejects new
// work against the configured Limits. Safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	limits Limits
	counts map[counterKey]int
}

// New constructs a Governor with the given limits.
func New(limits Limits) *Governor {
	return &Governor{limits: limits, counts: make(map[counterKey]int)}
}

// ErrAtCapacity is returned by Admit when the project/kind slot is full.
type ErrAtCapacity struct {
	Project string
	Kind    Kind
	Max     int
}

func (e *ErrAtCapacity) Error() string {
	return fmt.Sprintf("governor: project %q kind %q at capacity (max %d)", e.Project, e.Kind, e.Max)
}

// Admit attempts to reserve one slot for kind in project. On success it
// returns a release func the caller must call exactly once when the agent
// finishes (success, failure, or cancellation alike).
func (g *Governor) Admit(project string, kind Kind) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	max := g.limits.maxFor(kind)
	key := counterKey{project: project, kind: kind}
	if g.counts[key] >= max {
		return nil, &ErrAtCapacity{Project: project, Kind: kind, Max: max}
	}
	g.counts[key]++

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.counts[key]--
			if g.counts[key] <= 0 {
				delete(g.counts, key)
			}
		})
	}, nil
}

// Active returns the current live count for project/kind.
func (g *Governor) Active(project string, kind Kind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[counterKey{project: project, kind: kind}]
}

// Snapshot describes utilization for one project/kind pair.
type Snapshot struct {
	Project string
	Kind    Kind
	Active  int
	Max     int
}

// Utilization returns 0..1 (or >1 should that ever somehow occur).
func (s Snapshot) Utilization() float64 {
	if s.Max <= 0 {
		return 0
	}
	return float64(s.Active) / float64(s.Max)
}

// Snapshots returns one Snapshot per kind for each project in projects,
// including zero-active ones, so callers can always see the configured
// ceiling even when nothing is running. Tracked projects not listed in
// projects are not reported.
func (g *Governor) Snapshots(projects []string) []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	kinds := []Kind{KindKobold, KindDrake, KindWyrm, KindWyvern}
	out := make([]Snapshot, 0, len(projects)*len(kinds))
	for _, p := range projects {
		for _, k := range kinds {
			out = append(out, Snapshot{
				Project: p,
				Kind:    k,
				Active:  g.counts[counterKey{project: p, kind: k}],
				Max:     g.limits.maxFor(k),
			})
		}
	}
	return out
}
