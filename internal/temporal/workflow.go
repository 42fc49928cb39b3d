package temporal

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskWorkflow runs one task: a single activity wrapping the Worker's full
// step loop. Activity retries are disabled (MaximumAttempts: 1) — retry
// policy lives in the Error Classifier and the Lifecycle Engine's failure
// recovery ticker, which re-admits a Failed task as a brand new workflow run
// rather than letting Temporal's activity retry silently re-attempt a step
// the classifier hasn't had a chance to look at.
func TaskWorkflow(ctx workflow.Context, req TaskRequest) (TaskResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    2 * heartbeatInterval,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var result TaskResult
	err := workflow.ExecuteActivity(ctx, a.ExecuteTaskActivity, req).Get(ctx, &result)
	return result, err
}
