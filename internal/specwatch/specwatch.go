// Package specwatch detects external edits to a project's specification.md
// on disk (a user editing the file directly, outside the Dialogue Agent)
// and feeds them into internal/store.UpdateSpecification, so a mid-flight
// specification edit is picked up without the Lifecycle Engine having to
// poll every project's file on every tick. A per-path debounce timer
// collapses the burst of writes from an editor's atomic-save (write to
// temp file, rename over original) into a single reload.
package specwatch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/antigravity-dev/dracode/internal/store"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches a set of specification.md paths and pushes their content
// into the Store whenever they change on disk.
type Watcher struct {
	Store    *store.Store
	Logger   *slog.Logger
	Debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	byPath  map[string]string // watched path -> project id
	timers  map[string]*time.Timer
	closed  bool
}

// New creates a Watcher. Call Watch for each project's specification.md,
// then Run to start processing fsnotify events until ctx is cancelled.
func New(st *store.Store, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		Store:    st,
		Logger:   logger,
		Debounce: defaultDebounce,
		fsw:      fsw,
		byPath:   make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Watch registers path (a project's specification.md) to be monitored for
// external edits and associates it with projectID.
func (w *Watcher) Watch(projectID, path string) error {
	w.mu.Lock()
	w.byPath[path] = projectID
	w.mu.Unlock()
	return w.fsw.Add(path)
}

// Unwatch stops monitoring path, e.g. once its project reaches a terminal
// status and will never be edited through this watcher again.
func (w *Watcher) Unwatch(path string) error {
	w.mu.Lock()
	delete(w.byPath, path)
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return w.fsw.Remove(path)
}

// Run processes fsnotify events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.Logger.Error("specwatch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, known := w.byPath[event.Name]; !known {
		return
	}

	if t, ok := w.timers[event.Name]; ok {
		t.Stop()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w.timers[event.Name] = time.AfterFunc(debounce, func() { w.reload(event.Name) })
}

func (w *Watcher) reload(path string) {
	w.mu.Lock()
	projectID, known := w.byPath[path]
	w.mu.Unlock()
	if !known {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.Logger.Error("specwatch: read specification", "path", path, "error", err)
		return
	}

	hash := store.HashContent(string(content))
	if _, err := w.Store.UpdateSpecification(projectID, string(content), hash); err != nil {
		w.Logger.Error("specwatch: update specification", "project", projectID, "path", path, "error", err)
	}
}

// Close stops the underlying fsnotify watcher. Safe to call once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
