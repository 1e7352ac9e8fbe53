package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/model"
)

// JobWorker processes job tasks
type JobWorker struct {
	orchestrator *Orchestrator
	log          zerolog.Logger
}

// NewJobWorker creates a new job worker
func NewJobWorker(orchestrator *Orchestrator, log zerolog.Logger) *JobWorker {
	return &JobWorker{
		orchestrator: orchestrator,
		log:          log.With().Str("component", "job_worker").Logger(),
	}
}

// ProcessTask handles job task processing
func (w *JobWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.JobTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	w.log.Debug().Str("job_id", payload.JobID).Msg("processing job task")
	return w.orchestrator.Run(ctx, payload.JobID)
}
