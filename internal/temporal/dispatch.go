package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/dracode/internal/drake"
	"github.com/antigravity-dev/dracode/internal/kobold"
	"github.com/antigravity-dev/dracode/internal/store"
)

var _ drake.Dispatcher = (*Dispatch)(nil)

// Dispatch implements internal/drake.Dispatcher by starting (or attaching
// to, on retry after a crash) a Temporal workflow execution per task instead
// of running it in an in-process goroutine.
type Dispatch struct {
	Client client.Client
}

// Execute starts req's TaskWorkflow with a deterministic workflow id (so a
// second launchWorker call for the same task, after a Supervisor restart,
// attaches to the still-running execution instead of double-dispatching)
// and blocks until it completes.
func (d *Dispatch) Execute(ctx context.Context, task store.Task, workspaceRoot string) (*kobold.Result, error) {
	opts := client.StartWorkflowOptions{
		ID:                       "dracode-task-" + task.ID,
		TaskQueue:                TaskQueue,
		WorkflowIDReusePolicy:    0,
		WorkflowExecutionTimeout: 0,
	}

	run, err := d.Client.ExecuteWorkflow(ctx, opts, TaskWorkflow, TaskRequest{Task: task, WorkspaceRoot: workspaceRoot})
	if err != nil {
		return nil, fmt.Errorf("temporal: start task workflow for %s: %w", task.ID, err)
	}

	var result TaskResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, err
	}
	return &kobold.Result{CommitSHA: result.CommitSHA, OutputFiles: result.OutputFiles}, nil
}
