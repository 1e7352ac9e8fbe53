package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/matrixai/api/internal/model"
)

const (
	TaskTypeProcessJob = "job:process"
	QueueJobs          = "jobs"
)

// TaskDispatcher queues the polling phase of jobs on asynq. The job id is
// the task id, so a job is queued at most once.
type TaskDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	timeout   time.Duration
}

// NewTaskDispatcher creates a dispatcher. timeout bounds one task run and
// must cover the initial delay plus every poll.
func NewTaskDispatcher(client *asynq.Client, inspector *asynq.Inspector, timeout time.Duration) *TaskDispatcher {
	return &TaskDispatcher{
		client:    client,
		inspector: inspector,
		timeout:   timeout,
	}
}

// TaskTimeout is the run budget for one job task
func TaskTimeout(initialDelay, pollInterval time.Duration, maxAttempts int, uploadTimeout time.Duration) time.Duration {
	return initialDelay + time.Duration(maxAttempts)*pollInterval + uploadTimeout + time.Minute
}

// Dispatch enqueues jobID for background processing
func (d *TaskDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewProcessJobTask(jobID)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueJobs),
		asynq.TaskID(jobID),
		asynq.MaxRetry(3),
		asynq.Retention(24 * time.Hour),
	}
	if d.timeout > 0 {
		opts = append(opts, asynq.Timeout(d.timeout))
	}

	_, err = d.client.EnqueueContext(ctx, task, opts...)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Cancel removes a queued task, or signals a running one to stop
func (d *TaskDispatcher) Cancel(ctx context.Context, jobID string) error {
	if d.inspector == nil {
		return nil
	}

	err := d.inspector.DeleteTask(QueueJobs, jobID)
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}

	// active tasks cannot be deleted
	if err := d.inspector.CancelProcessing(jobID); err != nil {
		return fmt.Errorf("failed to cancel job task: %w", err)
	}
	return nil
}

// NewProcessJobTask builds the asynq task for a job
func NewProcessJobTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.JobTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProcessJob, data), nil
}
