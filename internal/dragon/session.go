package dragon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/dracode/internal/runner"
)

// Session is one reconnect-durable conversation. Its History is replayed to
// the caller on reconnect before live messages resume; an unknown or empty
// session id starts a new Session (see Table.Get).
type Session struct {
	ID             string
	ProjectID      string
	History        []runner.Message
	LastActivityAt time.Time
}

// Table is the session-id -> Session registry: a mutex-guarded map, since
// every operation here is a quick in-memory read/write with no suspension
// point.
type Table struct {
	HistoryCap int
	IdleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	done chan struct{}
}

// NewTable constructs a Table. Call StartGC to begin reaping idle sessions.
func NewTable(historyCap int, idleTimeout time.Duration) *Table {
	if historyCap <= 0 {
		historyCap = 100
	}
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	return &Table{
		HistoryCap:  historyCap,
		IdleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Get returns the Session for id, reusing it across reconnects. An unknown
// or empty id starts a new Session with a freshly generated id.
func (t *Table) Get(id string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id != "" {
		if s, ok := t.sessions[id]; ok {
			s.LastActivityAt = time.Now()
			return s
		}
	}

	s := &Session{ID: uuid.NewString(), LastActivityAt: time.Now()}
	t.sessions[s.ID] = s
	return s
}

// History returns a snapshot copy of a Session's message history, safe to
// hand to a provider call while other goroutines append.
func (t *Table) History(s *Session) []runner.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]runner.Message, len(s.History))
	copy(out, s.History)
	return out
}

// Append adds a message to a Session's history, capping it at HistoryCap by
// dropping the oldest entries first.
func (t *Table) Append(s *Session, msg runner.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.History = append(s.History, msg)
	if len(s.History) > t.HistoryCap {
		s.History = s.History[len(s.History)-t.HistoryCap:]
	}
	s.LastActivityAt = time.Now()
}

// BindProject records which Project a Session belongs to, once the
// Dialogue Agent has created or identified one.
func (t *Table) BindProject(s *Session, projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.ProjectID = projectID
}

// gcOnce removes sessions idle for longer than IdleTimeout.
func (t *Table) gcOnce() {
	cutoff := time.Now().Add(-t.IdleTimeout)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		if s.LastActivityAt.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}

// StartGC launches the idle-session garbage collector, ticking at
// interval, until ctx is cancelled or Stop is called.
func (t *Table) StartGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.gcOnce()
			}
		}
	}()
}

// Stop halts the garbage collector started by StartGC, blocking until it
// has exited. Safe to call only once.
func (t *Table) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
}

// Len reports the number of live sessions, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
