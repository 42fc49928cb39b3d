// Package drake implements the Supervisor: the per-work-area scheduler that
// owns one TaskFile, promotes ready tasks to Workers subject to the
// Resource Governor's limit, and detects stuck Workers via claim-lease
// expiry.
package drake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/dracode/internal/classify"
	"github.com/antigravity-dev/dracode/internal/git"
	"github.com/antigravity-dev/dracode/internal/governor"
	"github.com/antigravity-dev/dracode/internal/kobold"
	"github.com/antigravity-dev/dracode/internal/runner"
	"github.com/antigravity-dev/dracode/internal/store"
)

// completionLookbackDays bounds how far back orphan recovery scans the git
// log for a lost completion commit.
const completionLookbackDays = 7

// leaseHeartbeatSink refreshes a task's claim lease on every Worker event,
// so stuck detection measures iteration progress rather than wall-clock
// runtime: a Worker mid-way through a long but live conversation keeps its
// lease fresh, while one wedged inside a single call does not.
type leaseHeartbeatSink struct {
	store  *store.Store
	taskID string
	next   runner.Sink
}

func (s leaseHeartbeatSink) Emit(e runner.Event) {
	_ = s.store.HeartbeatClaimLease(s.taskID)
	if s.next != nil {
		s.next.Emit(e)
	}
}

// LeaseHeartbeat wraps next so every emitted event also refreshes taskID's
// claim lease. next may be nil.
func LeaseHeartbeat(st *store.Store, taskID string, next runner.Sink) runner.Sink {
	return leaseHeartbeatSink{store: st, taskID: taskID, next: next}
}

// WorkerFactory builds the Worker that will execute one task. Supervisor
// owns scheduling only; it knows nothing about provider wiring.
type WorkerFactory func(task store.Task) *kobold.Worker

// Dispatcher runs one task to completion and is the seam between
// Supervisor's scheduling and however the task is actually executed. The
// default, zero-value behavior runs the Worker in-process (an ordinary
// goroutine owned by this Supervisor); internal/temporal.Dispatch is an
// alternate implementation that runs it as a durable Temporal workflow
// instead, so task execution survives this process crashing, not just a
// step's own Plan persistence.
type Dispatcher interface {
	Execute(ctx context.Context, task store.Task, workspaceRoot string) (*kobold.Result, error)
}

type inProcessDispatcher struct {
	newWorker WorkerFactory
	store     *store.Store
}

func (d inProcessDispatcher) Execute(ctx context.Context, task store.Task, workspaceRoot string) (*kobold.Result, error) {
	w := d.newWorker(task)
	w.Sink = LeaseHeartbeat(d.store, task.ID, w.Sink)
	return w.Execute(ctx, task, workspaceRoot)
}

type activeWorker struct {
	cancel context.CancelFunc
}

type workerOutcome struct {
	taskID string
	result *kobold.Result
	err    error
}

// Supervisor owns one project's one work-area TaskFile.
type Supervisor struct {
	Store      *store.Store
	Governor   *governor.Governor
	NewWorker  WorkerFactory
	Dispatch   Dispatcher // optional; defaults to in-process execution via NewWorker
	StuckAfter time.Duration // stuckKoboldTimeoutMinutes, as a Duration
	Logger     *slog.Logger

	ProjectID string
	Area      string

	mu       sync.Mutex
	active   map[string]activeWorker
	finished map[string]struct{} // terminal outcomes already applied this process; guards orphan recovery against the save queue lagging the file
	outcome  chan workerOutcome

	saveCh   chan saveRequest
	saveDone chan struct{}
}

type saveRequest struct {
	project *store.Project
	task    store.Task
	all     []store.Task
}

func (sv *Supervisor) logger() *slog.Logger {
	if sv.Logger != nil {
		return sv.Logger
	}
	return slog.Default()
}

// Start initializes the Supervisor's single-producer save-channel consumer.
// Call once before the first Tick.
func (sv *Supervisor) Start() {
	sv.active = make(map[string]activeWorker)
	sv.finished = make(map[string]struct{})
	sv.outcome = make(chan workerOutcome, 64)
	sv.saveCh = make(chan saveRequest, 64)
	sv.saveDone = make(chan struct{})
	if sv.Dispatch == nil {
		sv.Dispatch = inProcessDispatcher{newWorker: sv.NewWorker, store: sv.Store}
	}
	go sv.saveLoop()
}

// saveLoop is the single consumer of TaskFile writes, so concurrent Worker
// completions never race on the same TaskFile.
func (sv *Supervisor) saveLoop() {
	defer close(sv.saveDone)
	for req := range sv.saveCh {
		if err := sv.Store.UpsertTask(req.project, sv.Area, req.task, req.all); err != nil {
			sv.logger().Error("drake: failed to persist task", "task", req.task.ID, "error", err)
		}
	}
}

func (sv *Supervisor) enqueueSave(project *store.Project, task store.Task, all []store.Task) {
	sv.saveCh <- saveRequest{project: project, task: task, all: all}
}

// FlushAndClose drains the save queue and stops the consumer. Safe to call
// once, after the Supervisor will receive no further Ticks.
func (sv *Supervisor) FlushAndClose() {
	close(sv.saveCh)
	<-sv.saveDone
}

// Tick performs one scheduling pass: reap finished Workers, detect stuck
// ones, then promote as many ready tasks as the Governor admits.
func (sv *Supervisor) Tick(ctx context.Context) error {
	project, err := sv.Store.GetProject(sv.ProjectID)
	if err != nil {
		return fmt.Errorf("drake: load project %s: %w", sv.ProjectID, err)
	}

	tasks, err := sv.Store.GetTasks(project, sv.Area)
	if err != nil {
		return fmt.Errorf("drake: load tasks for %s/%s: %w", sv.ProjectID, sv.Area, err)
	}

	sv.reapFinishedWorkers(project, tasks)
	sv.detectStuckWorkers(project, tasks)
	sv.recoverOrphanedTasks(project, tasks)

	ready, blocked := store.ReadyTasks(tasks)
	for _, t := range blocked {
		if t.Status == store.TaskBlockedByFailure {
			continue
		}
		t.Status = store.TaskBlockedByFailure
		if dep := blockingDependency(tasks, t); dep != "" {
			t.ErrorMessage = fmt.Sprintf("blocked by failed dependency %s", dep)
		}
		sv.enqueueSave(project, t, tasks)
	}

	for _, t := range ready {
		if sv.isActive(t.ID) {
			continue
		}
		release, admitErr := sv.Governor.Admit(sv.ProjectID, governor.KindKobold)
		if admitErr != nil {
			break // at capacity; remaining ready tasks wait for next tick
		}
		sv.launchWorker(ctx, project, t, tasks, release)
	}

	return nil
}

func (sv *Supervisor) isActive(taskID string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	_, ok := sv.active[taskID]
	return ok
}

func (sv *Supervisor) launchWorker(parent context.Context, project *store.Project, task store.Task, all []store.Task, release func()) {
	ctx, cancel := context.WithCancel(parent)

	sv.mu.Lock()
	sv.active[task.ID] = activeWorker{cancel: cancel}
	delete(sv.finished, task.ID)
	sv.mu.Unlock()

	task.Status = store.TaskWorking
	sv.enqueueSave(project, task, all)
	if err := sv.Store.UpsertClaimLease(task.ID, sv.ProjectID, task.ID); err != nil {
		sv.logger().Warn("drake: failed to record claim lease", "task", task.ID, "error", err)
	}

	go func() {
		defer cancel()
		defer release()
		result, err := sv.Dispatch.Execute(ctx, task, project.WorkspaceRoot)
		select {
		case sv.outcome <- workerOutcome{taskID: task.ID, result: result, err: err}:
		default:
			sv.logger().Error("drake: outcome channel full, dropping result", "task", task.ID)
		}
	}()
}

// reapFinishedWorkers drains any completed Worker outcomes without
// blocking and persists the resulting task status.
func (sv *Supervisor) reapFinishedWorkers(project *store.Project, tasks []store.Task) {
	for {
		var oc workerOutcome
		select {
		case oc = <-sv.outcome:
		default:
			return
		}

		sv.mu.Lock()
		_, stillActive := sv.active[oc.taskID]
		delete(sv.active, oc.taskID)
		sv.finished[oc.taskID] = struct{}{}
		sv.mu.Unlock()
		if !stillActive {
			// Already handled by detectStuckWorkers; this is its late arrival.
			continue
		}

		if err := sv.Store.DeleteClaimLease(oc.taskID); err != nil {
			sv.logger().Warn("drake: failed to delete claim lease", "task", oc.taskID, "error", err)
		}

		task := findTask(tasks, oc.taskID)
		if task == nil {
			continue
		}

		if oc.err != nil {
			task.Status = store.TaskFailed
			task.ErrorMessage = oc.err.Error()
			category := classify.Permanent
			if stepErr, ok := asStepError(oc.err); ok {
				category = stepErr.Category
			}
			task.ErrorCategory = category.String()
			if category.RetryEligible() {
				delay, ok := classify.DefaultPolicy().NextDelay(task.RetryCount+1, nil)
				if ok {
					task.NextRetryAt = time.Now().UTC().Add(delay)
				}
			}
		} else {
			task.Status = store.TaskDone
			if oc.result != nil {
				task.CommitSHA = oc.result.CommitSHA
				task.OutputFiles = oc.result.OutputFiles
			}
		}
		sv.enqueueSave(project, *task, tasks)
	}
}

func asStepError(err error) (*kobold.StepError, bool) {
	var se *kobold.StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// detectStuckWorkers cancels and fails any task whose claim lease has not
// heartbeat within StuckAfter.
func (sv *Supervisor) detectStuckWorkers(project *store.Project, tasks []store.Task) {
	if sv.StuckAfter <= 0 {
		return
	}
	expired, err := sv.Store.GetExpiredClaimLeases(sv.StuckAfter)
	if err != nil {
		sv.logger().Error("drake: failed to list expired claim leases", "error", err)
		return
	}

	for _, lease := range expired {
		if lease.ProjectID != sv.ProjectID {
			continue
		}

		sv.mu.Lock()
		aw, ok := sv.active[lease.TaskID]
		if ok {
			delete(sv.active, lease.TaskID)
			sv.finished[lease.TaskID] = struct{}{}
		}
		sv.mu.Unlock()
		if !ok {
			continue
		}
		aw.cancel()

		if err := sv.Store.DeleteClaimLease(lease.TaskID); err != nil {
			sv.logger().Warn("drake: failed to delete claim lease for stuck task", "task", lease.TaskID, "error", err)
		}
		if err := sv.Store.RecordHealthEvent("stuck_kobold", fmt.Sprintf("task %s exceeded %s without a heartbeat", lease.TaskID, sv.StuckAfter), sv.ProjectID, lease.TaskID); err != nil {
			sv.logger().Warn("drake: failed to record stuck health event", "task", lease.TaskID, "error", err)
		}

		task := findTask(tasks, lease.TaskID)
		if task == nil {
			continue
		}
		task.Status = store.TaskFailed
		task.ErrorCategory = classify.Stuck.String()
		task.ErrorMessage = fmt.Sprintf("worker exceeded stuck timeout (%s)", sv.StuckAfter)
		sv.enqueueSave(project, *task, tasks)
	}
}

// recoverOrphanedTasks handles tasks the TaskFile records as Working but
// that no live Worker in this process owns — the state a crash leaves
// behind. A task whose completion commit already landed is marked Done with
// that commit's sha; anything else goes back to NotInitialized so a later
// tick relaunches it (the Plan sidecar makes the relaunch resume, not
// restart).
func (sv *Supervisor) recoverOrphanedTasks(project *store.Project, tasks []store.Task) {
	for i := range tasks {
		t := &tasks[i]
		if t.Status != store.TaskWorking || sv.isActive(t.ID) {
			continue
		}
		sv.mu.Lock()
		_, alreadyHandled := sv.finished[t.ID]
		sv.mu.Unlock()
		if alreadyHandled {
			continue
		}

		if err := sv.Store.DeleteClaimLease(t.ID); err != nil {
			sv.logger().Warn("drake: failed to clear orphaned claim lease", "task", t.ID, "error", err)
		}

		if project.WorkspaceRoot != "" {
			commit, err := git.FindCompletionCommit(project.WorkspaceRoot, t.ID, completionLookbackDays)
			if err != nil {
				sv.logger().Warn("drake: could not scan for completion commit", "task", t.ID, "error", err)
			} else if commit != nil {
				t.Status = store.TaskDone
				t.CommitSHA = commit.Hash
				if files, ferr := git.ChangedFilesInCommit(project.WorkspaceRoot, commit.Hash); ferr == nil {
					t.OutputFiles = files
				}
				sv.logger().Info("drake: recovered completed orphan task", "task", t.ID, "sha", commit.Hash)
				sv.enqueueSave(project, *t, tasks)
				continue
			}
		}

		t.Status = store.TaskNotInitialized
		sv.logger().Info("drake: requeued orphan task", "task", t.ID)
		sv.enqueueSave(project, *t, tasks)
	}
}

// blockingDependency names the first dependency of t that has failed or is
// itself blocked, for the BlockedByFailure error message.
func blockingDependency(all []store.Task, t store.Task) string {
	byID := make(map[string]store.TaskStatus, len(all))
	for _, task := range all {
		byID[task.ID] = task.Status
	}
	for _, depID := range t.Dependencies {
		if st, ok := byID[depID]; ok && (st == store.TaskFailed || st == store.TaskBlockedByFailure) {
			return depID
		}
	}
	return ""
}

func findTask(tasks []store.Task, id string) *store.Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}
