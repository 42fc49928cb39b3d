package temporal

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker registers TaskWorkflow and its activity on TaskQueue and runs
// until worker.InterruptCh() fires.
func StartWorker(c client.Client, acts *Activities) error {
	w := worker.New(c, TaskQueue, worker.Options{})
	w.RegisterWorkflow(TaskWorkflow)
	w.RegisterActivity(acts.ExecuteTaskActivity)
	return w.Run(worker.InterruptCh())
}
