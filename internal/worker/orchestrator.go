package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/client"
	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/gateway"
	"github.com/matrixai/api/internal/model"
	"github.com/matrixai/api/internal/repository"
	"github.com/matrixai/api/internal/retry"
)

var (
	// errTaskRunning keeps the poll loop going while the vendor is busy
	errTaskRunning = errors.New("vendor task still running")
	// errJobSettled stops the poll loop when the job was finalized or deleted elsewhere
	errJobSettled = errors.New("job settled elsewhere")
)

// GatewayResolver finds the gateway serving a job
type GatewayResolver interface {
	Resolve(kind model.JobKind, template string) (gateway.Gateway, gateway.Variant, error)
	Lookup(variant gateway.Variant) (gateway.Gateway, error)
}

// ArtifactFetcher downloads a vendor artifact in a single attempt
type ArtifactFetcher interface {
	Fetch(ctx context.Context, url string) (*client.Artifact, error)
}

// ArtifactStore persists rehosted artifacts
type ArtifactStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Refunder credits coins back to an owner
type Refunder interface {
	Refund(ctx context.Context, ownerID string, amount int64, label string) error
}

// Notifier is told about every persisted job transition
type Notifier interface {
	JobUpdated(ctx context.Context, job *model.Job)
}

// OrchestratorConfig holds the lifecycle timings
type OrchestratorConfig struct {
	InitialDelay    time.Duration
	PollInterval    time.Duration
	MaxAttempts     int
	Submit          retry.Policy
	Download        retry.Policy
	// Persist covers status writes that must not be lost once the vendor holds a task
	Persist         retry.Policy
	UploadTimeout   time.Duration
	RefundOnFailure bool
	StatusRefresh   bool
}

// NewOrchestratorConfig builds the lifecycle timings from configuration
func NewOrchestratorConfig(cfg *config.JobsConfig) OrchestratorConfig {
	return OrchestratorConfig{
		InitialDelay:    cfg.InitialDelay,
		PollInterval:    cfg.PollInterval,
		MaxAttempts:     cfg.MaxAttempts,
		Submit:          retry.Exponential(cfg.SubmitAttempts, time.Second, 10*time.Second),
		Download:        retry.Constant(cfg.DownloadAttempts, cfg.DownloadDelay),
		Persist:         retry.Exponential(3, 200*time.Millisecond, 2*time.Second),
		UploadTimeout:   cfg.UploadTimeout,
		RefundOnFailure: cfg.RefundOnFailure,
		StatusRefresh:   cfg.StatusRefresh,
	}
}

// Orchestrator drives a job from submission to a terminal state. It is the
// only writer of job status.
type Orchestrator struct {
	jobs     repository.JobRepository
	gateways GatewayResolver
	fetcher  ArtifactFetcher
	store    ArtifactStore
	refunder Refunder
	notifier Notifier
	cfg      OrchestratorConfig
	log      zerolog.Logger
}

// NewOrchestrator creates an orchestrator. refunder and notifier may be nil.
func NewOrchestrator(
	jobs repository.JobRepository,
	gateways GatewayResolver,
	fetcher ArtifactFetcher,
	store ArtifactStore,
	refunder Refunder,
	notifier Notifier,
	cfg OrchestratorConfig,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:     jobs,
		gateways: gateways,
		fetcher:  fetcher,
		store:    store,
		refunder: refunder,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Submit hands a pending job to its gateway. A rejected submission ends the
// job in failed before returning, and the *model.JobError is returned along
// with the failed job. Jobs that already left pending are returned as is.
func (o *Orchestrator) Submit(ctx context.Context, job *model.Job) (*model.Job, error) {
	if job.Status != model.JobStatusPending {
		return job, nil
	}
	log := o.jobLogger(job)

	gw, variant, err := o.gateways.Resolve(job.Kind, job.Input.Template)
	if err != nil {
		return o.failSubmission(ctx, job, gateway.InvalidInput, err.Error())
	}

	var taskID string
	err = o.cfg.Submit.Do(ctx, func(ctx context.Context) error {
		id, err := gw.Submit(ctx, gateway.InputFromJob(job))
		if err != nil {
			if gateway.KindOf(err) == gateway.RateLimited {
				log.Warn().Err(err).Msg("vendor rate limited submission, retrying")
				return retry.Retryable(err)
			}
			return err
		}
		taskID = id
		return nil
	})
	if err != nil {
		var se *gateway.SubmissionError
		if errors.As(err, &se) {
			return o.failSubmission(ctx, job, se.Kind, se.Message)
		}
		return o.failSubmission(ctx, job, gateway.ServerError, err.Error())
	}

	var submitted *model.Job
	err = o.persistPolicy().Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		j, err := o.jobs.MarkSubmitted(ctx, job.ID, taskID, string(variant))
		if err != nil {
			if errors.Is(err, model.ErrJobConflict) || errors.Is(err, model.ErrJobNotFound) {
				return err
			}
			log.Warn().Err(err).Str("task_id", taskID).Msg("failed to record submission, retrying")
			return retry.Retryable(err)
		}
		submitted = j
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrJobConflict):
			return o.reload(ctx, job)
		case errors.Is(err, model.ErrJobNotFound):
			return job, nil
		}
		// the vendor task cannot be tracked without its id, so the job ends here
		log.Error().Err(err).Str("task_id", taskID).Msg("submission accepted by vendor but not recorded")
		return o.failSubmission(ctx, job, gateway.ServerError,
			fmt.Sprintf("vendor task %s could not be recorded: %v", taskID, err))
	}

	log.Info().Str("task_id", taskID).Str("variant", string(variant)).Msg("job submitted")
	o.notify(ctx, submitted)
	return submitted, nil
}

func (o *Orchestrator) persistPolicy() retry.Policy {
	if o.cfg.Persist.MaxAttempts > 0 {
		return o.cfg.Persist
	}
	return retry.Constant(1, 0)
}

func (o *Orchestrator) failSubmission(ctx context.Context, job *model.Job, kind gateway.ErrorKind, message string) (*model.Job, error) {
	jobErr := model.JobError{
		Code:    model.JobErrorSubmission + ":" + string(kind),
		Message: message,
	}
	failed, err := o.fail(ctx, job, jobErr)
	if err != nil {
		return failed, err
	}
	return failed, &jobErr
}

// Run takes a job as far as it can go: submits it if still pending, waits
// out the initial delay, polls and rehosts. It returns nil once the job is
// terminal or gone, and ctx.Err() when interrupted so the task is retried;
// a later Run resumes where this one stopped.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			o.log.Info().Str("job_id", jobID).Msg("job no longer exists, nothing to run")
			return nil
		}
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if job.Status == model.JobStatusPending {
		job, err = o.Submit(ctx, job)
		var jobErr *model.JobError
		if errors.As(err, &jobErr) {
			return nil
		}
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
	}

	if job.Status == model.JobStatusSubmitted {
		polling, err := o.jobs.MarkPolling(ctx, job.ID)
		switch {
		case err == nil:
			job = polling
			o.notify(ctx, job)
		case errors.Is(err, model.ErrJobNotFound):
			return nil
		case errors.Is(err, model.ErrJobConflict):
			if job, err = o.jobs.GetByID(ctx, job.ID); err != nil || job.Status.IsTerminal() {
				return ignoreNotFound(err)
			}
		default:
			return err
		}
	}

	if err := o.waitInitialDelay(ctx, job); err != nil {
		return err
	}
	return o.poll(ctx, job)
}

func (o *Orchestrator) waitInitialDelay(ctx context.Context, job *model.Job) error {
	wait := o.cfg.InitialDelay
	if job.SubmittedAt != nil {
		wait -= time.Since(*job.SubmittedAt)
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) poll(ctx context.Context, job *model.Job) error {
	log := o.jobLogger(job)

	gw, err := o.gatewayFor(job)
	if err != nil {
		_, err = o.fail(ctx, job, model.JobError{Code: model.JobErrorExternalFailure, Message: err.Error()})
		return err
	}

	budget := o.cfg.MaxAttempts - job.PollAttempts
	if budget <= 0 {
		_, err := o.fail(ctx, job, timeoutError(o.cfg.MaxAttempts))
		return err
	}

	attempts := job.PollAttempts
	var outcome gateway.Outcome
	err = retry.Constant(budget, o.cfg.PollInterval).Do(ctx, func(ctx context.Context) error {
		current, err := o.jobs.GetByID(ctx, job.ID)
		if err != nil {
			if errors.Is(err, model.ErrJobNotFound) {
				return errJobSettled
			}
			return retry.Retryable(err)
		}
		if current.Status.IsTerminal() {
			return errJobSettled
		}

		attempts++
		out, err := gw.Poll(ctx, *job.ExternalTaskID)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempts).Msg("poll failed")
			return retry.Retryable(err)
		}
		if out.State == gateway.StateRunning {
			log.Debug().Int("attempt", attempts).Msg("vendor task running")
			return retry.Retryable(errTaskRunning)
		}
		outcome = out
		return nil
	})

	if attempts != job.PollAttempts {
		if recErr := o.jobs.RecordPollAttempts(context.WithoutCancel(ctx), job.ID, attempts); recErr != nil && !errors.Is(recErr, model.ErrJobNotFound) {
			log.Warn().Err(recErr).Msg("failed to record poll attempts")
		}
		job.PollAttempts = attempts
	}

	switch {
	case err == nil:
	case errors.Is(err, errJobSettled):
		log.Info().Msg("job settled elsewhere, polling stopped")
		return nil
	case ctx.Err() != nil:
		log.Info().Int("attempts", attempts).Msg("polling interrupted")
		return ctx.Err()
	default:
		_, err := o.fail(ctx, job, timeoutError(o.cfg.MaxAttempts))
		return err
	}

	_, err = o.settle(ctx, job, outcome)
	return err
}

// Refresh advances an in-flight job by at most one poll, for callers
// checking status while the background run waits. It never submits.
func (o *Orchestrator) Refresh(ctx context.Context, job *model.Job) (*model.Job, error) {
	if !o.cfg.StatusRefresh || job.Status.IsTerminal() {
		return job, nil
	}
	if job.Status != model.JobStatusSubmitted && job.Status != model.JobStatusPolling {
		return job, nil
	}
	if job.SubmittedAt != nil && time.Since(*job.SubmittedAt) < o.cfg.InitialDelay {
		return job, nil
	}

	gw, err := o.gatewayFor(job)
	if err != nil {
		return job, err
	}
	outcome, err := gw.Poll(ctx, *job.ExternalTaskID)
	if err != nil {
		return job, fmt.Errorf("status poll failed: %w", err)
	}
	return o.settle(ctx, job, outcome)
}

// settle moves a job to its terminal state for a finished vendor outcome
func (o *Orchestrator) settle(ctx context.Context, job *model.Job, outcome gateway.Outcome) (*model.Job, error) {
	switch outcome.State {
	case gateway.StateRunning:
		return job, nil
	case gateway.StateFailed:
		reason := outcome.Reason
		if reason == "" {
			reason = "vendor reported failure"
		}
		return o.fail(ctx, job, model.JobError{Code: model.JobErrorExternalFailure, Message: reason})
	default:
		if outcome.ArtifactURL == "" {
			return o.fail(ctx, job, model.JobError{Code: model.JobErrorArtifactUnavailable, Message: "vendor reported success without an artifact"})
		}
		return o.rehost(ctx, job, outcome.ArtifactURL)
	}
}

// rehost copies the vendor artifact into the artifact store and completes
// the job with the stored URL. The upload is not aborted by ctx.
func (o *Orchestrator) rehost(ctx context.Context, job *model.Job, sourceURL string) (*model.Job, error) {
	log := o.jobLogger(job)

	var artifact *client.Artifact
	err := o.cfg.Download.Do(ctx, func(ctx context.Context) error {
		a, err := o.fetcher.Fetch(ctx, sourceURL)
		if err != nil {
			if errors.Is(err, client.ErrArtifactTooLarge) {
				return err
			}
			log.Warn().Err(err).Msg("artifact download failed")
			return retry.Retryable(err)
		}
		artifact = a
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return job, ctx.Err()
		}
		return o.fail(ctx, job, model.JobError{
			Code:    model.JobErrorArtifactUnavailable,
			Message: fmt.Sprintf("could not download vendor artifact: %v", err),
		})
	}

	key := fmt.Sprintf("%s/%s/%s.%s", job.Kind, job.OwnerID, job.ID, artifact.Extension)
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.UploadTimeout)
	defer cancel()

	resultURL, err := o.store.Upload(uploadCtx, key, bytes.NewReader(artifact.Data), artifact.Size(), artifact.ContentType)
	if err != nil {
		return o.fail(ctx, job, model.JobError{
			Code:    model.JobErrorStorage,
			Message: fmt.Sprintf("could not store artifact: %v", err),
		})
	}

	completed, err := o.jobs.Complete(context.WithoutCancel(ctx), job.ID, repository.CompletedResult{
		ResultURL:   resultURL,
		SourceURL:   sourceURL,
		ArtifactKey: key,
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrJobNotFound):
			if delErr := o.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				log.Warn().Err(delErr).Str("key", key).Msg("failed to remove artifact of deleted job")
			}
			return job, nil
		case errors.Is(err, model.ErrJobConflict):
			return o.reload(ctx, job)
		default:
			return job, fmt.Errorf("failed to complete job: %w", err)
		}
	}

	log.Info().Str("result_url", resultURL).Int64("bytes", artifact.Size()).Msg("job completed")
	o.notify(ctx, completed)
	return completed, nil
}

// fail records a terminal failure. Losing the race to another writer is not
// an error; the winner's state is returned.
func (o *Orchestrator) fail(ctx context.Context, job *model.Job, jobErr model.JobError) (*model.Job, error) {
	ctx = context.WithoutCancel(ctx)

	var failed *model.Job
	err := o.persistPolicy().Do(ctx, func(ctx context.Context) error {
		j, err := o.jobs.Fail(ctx, job.ID, jobErr)
		if err != nil {
			if errors.Is(err, model.ErrJobConflict) || errors.Is(err, model.ErrJobNotFound) {
				return err
			}
			return retry.Retryable(err)
		}
		failed = j
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrJobConflict):
			return o.reload(ctx, job)
		case errors.Is(err, model.ErrJobNotFound):
			return job, nil
		default:
			return job, fmt.Errorf("failed to record job failure: %w", err)
		}
	}

	o.jobLogger(job).Warn().Str("code", jobErr.Code).Str("reason", jobErr.Message).Msg("job failed")
	o.refund(ctx, failed)
	o.notify(ctx, failed)
	return failed, nil
}

func (o *Orchestrator) refund(ctx context.Context, job *model.Job) {
	if !o.cfg.RefundOnFailure || o.refunder == nil || job.Cost <= 0 {
		return
	}

	flipped, err := o.jobs.MarkRefunded(ctx, job.ID)
	if err != nil {
		o.jobLogger(job).Error().Err(err).Msg("failed to mark job refunded")
		return
	}
	if !flipped {
		return
	}
	job.Refunded = true

	if err := o.refunder.Refund(ctx, job.OwnerID, job.Cost, "Refund: job "+job.ID); err != nil {
		// the flag is already set; the credit needs manual reconciliation
		o.jobLogger(job).Error().Err(err).Int64("amount", job.Cost).Msg("refund failed")
	}
}

func (o *Orchestrator) reload(ctx context.Context, job *model.Job) (*model.Job, error) {
	current, err := o.jobs.GetByID(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return job, nil
		}
		return job, err
	}
	return current, nil
}

func (o *Orchestrator) gatewayFor(job *model.Job) (gateway.Gateway, error) {
	if job.ExternalTaskID == nil || *job.ExternalTaskID == "" {
		return nil, errors.New("job has no external task id")
	}
	if job.Variant != "" {
		return o.gateways.Lookup(gateway.Variant(job.Variant))
	}
	gw, _, err := o.gateways.Resolve(job.Kind, job.Input.Template)
	return gw, err
}

func (o *Orchestrator) notify(ctx context.Context, job *model.Job) {
	if o.notifier != nil {
		o.notifier.JobUpdated(ctx, job)
	}
}

func (o *Orchestrator) jobLogger(job *model.Job) *zerolog.Logger {
	l := o.log.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()
	return &l
}

func timeoutError(maxAttempts int) model.JobError {
	return model.JobError{
		Code:    model.JobErrorTimeout,
		Message: fmt.Sprintf("no result after %d poll attempts", maxAttempts),
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, model.ErrJobNotFound) {
		return nil
	}
	return err
}
