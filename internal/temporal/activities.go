package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/antigravity-dev/dracode/internal/drake"
	"github.com/antigravity-dev/dracode/internal/store"
)

const heartbeatInterval = 20 * time.Second

// Activities binds the host's Worker factory to the single activity
// TaskWorkflow calls. Store, when set, lets the activity refresh the task's
// claim lease on every Worker event, same as the in-process dispatcher.
type Activities struct {
	NewWorker drake.WorkerFactory
	Store     *store.Store
}

// ExecuteTaskActivity runs one task's Plan to completion (or failure) via
// kobold.Worker.Execute, heartbeating periodically so Temporal's own
// StartToClose/Heartbeat timeouts can detect a wedged activity
// independent of internal/drake's stuck-lease check.
func (a *Activities) ExecuteTaskActivity(ctx context.Context, req TaskRequest) (TaskResult, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, "executing")
			}
		}
	}()

	worker := a.NewWorker(req.Task)
	if a.Store != nil {
		worker.Sink = drake.LeaseHeartbeat(a.Store, req.Task.ID, worker.Sink)
	}
	result, err := worker.Execute(ctx, req.Task, req.WorkspaceRoot)
	if err != nil {
		return TaskResult{}, fmt.Errorf("temporal: execute task %s: %w", req.Task.ID, err)
	}
	return TaskResult{CommitSHA: result.CommitSHA, OutputFiles: result.OutputFiles}, nil
}
