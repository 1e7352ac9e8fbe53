package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/gateway"
	"github.com/matrixai/api/internal/model"
	"github.com/matrixai/api/internal/repository"
)

// Orchestrator drives a job through the vendor lifecycle
type Orchestrator interface {
	// Submit sends a pending job to its gateway and returns the persisted job.
	// A rejected submission leaves the job failed and returns *model.JobError.
	Submit(ctx context.Context, job *model.Job) (*model.Job, error)
	// Refresh advances an in-flight job by at most one poll.
	Refresh(ctx context.Context, job *model.Job) (*model.Job, error)
}

// Dispatcher runs the polling phase of a job in the background
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
}

// ArtifactRemover deletes rehosted artifacts
type ArtifactRemover interface {
	Delete(ctx context.Context, key string) error
}

// VariantResolver picks the gateway variant for a kind and template
type VariantResolver interface {
	VariantFor(kind model.JobKind, template string) (gateway.Variant, error)
}

// SubmissionFailedError is returned by Create when the job was charged and
// recorded but the vendor rejected it
type SubmissionFailedError struct {
	JobID string
	Cause *model.JobError
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("job %s submission failed: %s", e.JobID, e.Cause.Error())
}

func (e *SubmissionFailedError) Unwrap() error {
	return e.Cause
}

// Pricing holds job costs in coins
type Pricing struct {
	Standard      int64
	Premium       int64
	Transcription int64
}

// NewPricing reads costs from configuration
func NewPricing(cfg *config.PricingConfig) Pricing {
	return Pricing{Standard: cfg.Standard, Premium: cfg.Premium, Transcription: cfg.Transcription}
}

// CostFor returns the coin cost of a variant
func (p Pricing) CostFor(variant gateway.Variant) int64 {
	switch variant {
	case gateway.VariantImageToVideoPlus:
		return p.Premium
	case gateway.VariantTranscription:
		return p.Transcription
	default:
		return p.Standard
	}
}

var chargeLabels = map[model.JobKind]string{
	model.JobKindTextToVideo:          "Text to Video",
	model.JobKindImageToVideo:         "Image to Video",
	model.JobKindImageToVideoTemplate: "Template Video",
	model.JobKindTranscription:        "Audio Transcription",
}

// JobService handles job creation, status, history and removal
type JobService struct {
	jobs         repository.JobRepository
	ledger       *LedgerService
	orchestrator Orchestrator
	dispatcher   Dispatcher
	store        ArtifactRemover
	variants     VariantResolver
	pricing      Pricing
	log          zerolog.Logger
}

func NewJobService(
	jobs repository.JobRepository,
	ledger *LedgerService,
	orchestrator Orchestrator,
	dispatcher Dispatcher,
	store ArtifactRemover,
	variants VariantResolver,
	pricing Pricing,
	log zerolog.Logger,
) *JobService {
	return &JobService{
		jobs:         jobs,
		ledger:       ledger,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		store:        store,
		variants:     variants,
		pricing:      pricing,
		log:          log.With().Str("component", "jobs").Logger(),
	}
}

// Create charges the owner, records the job, submits it and hands the
// polling phase to the dispatcher. The request must already be validated
// and kind resolved.
func (s *JobService) Create(ctx context.Context, ownerID string, kind model.JobKind, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	variant, err := s.variants.VariantFor(kind, req.Template)
	if err != nil {
		return nil, &model.ValidationError{Field: "kind", Message: err.Error()}
	}
	cost := s.pricing.CostFor(variant)

	if _, err := s.ledger.Charge(ctx, ownerID, cost, chargeLabels[kind]); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Kind:      kind,
		Variant:   string(variant),
		Input:     req.Input(),
		Status:    model.JobStatusPending,
		Cost:      cost,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		// the charge has no job to show for it, so give the coins back
		if refundErr := s.ledger.Refund(context.WithoutCancel(ctx), ownerID, cost, "Refund: "+chargeLabels[kind]); refundErr != nil {
			s.log.Error().Err(refundErr).Str("owner_id", ownerID).Int64("amount", cost).Msg("refund after failed job insert failed")
		}
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	log := s.log.With().Str("job_id", job.ID).Str("owner_id", ownerID).Str("kind", string(kind)).Logger()
	log.Info().Int64("cost", cost).Str("variant", string(variant)).Msg("job created")

	job, err = s.orchestrator.Submit(ctx, job)
	if err != nil {
		var jobErr *model.JobError
		if errors.As(err, &jobErr) {
			return nil, &SubmissionFailedError{JobID: job.ID, Cause: jobErr}
		}
		// the job is still pending; the worker submits it again on its own retries
		if dispatchErr := s.dispatcher.Dispatch(context.WithoutCancel(ctx), job.ID); dispatchErr != nil {
			log.Error().Err(dispatchErr).Msg("failed to dispatch unsubmitted job")
		}
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		// status checks can still advance the job through Refresh
		log.Error().Err(err).Msg("failed to dispatch job")
	}

	return &model.CreateJobResponse{
		JobID:  job.ID,
		Status: model.APIStatusPending,
		Kind:   kind,
		Cost:   cost,
	}, nil
}

// Status returns the job as its owner sees it. Finished jobs are read
// without side effects.
func (s *JobService) Status(ctx context.Context, ownerID, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	if !job.Status.IsTerminal() {
		refreshed, err := s.orchestrator.Refresh(ctx, job)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Msg("status refresh failed")
		} else {
			job = refreshed
		}
	}

	return model.NewJobStatusResponse(job), nil
}

// List returns one page of the owner's jobs, newest first
func (s *JobService) List(ctx context.Context, ownerID string, filter model.JobListFilter) (*model.JobListResponse, error) {
	filter.Page, filter.PerPage = normalizePage(filter.Page, filter.PerPage)

	jobs, total, err := s.jobs.List(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	items := make([]*model.JobStatusResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, model.NewJobStatusResponse(job))
	}

	return &model.JobListResponse{
		Jobs:    items,
		Page:    filter.Page,
		PerPage: filter.PerPage,
		Total:   total,
	}, nil
}

// Delete stops background work for the job, removes the record and makes a
// best-effort attempt to remove the stored artifact
func (s *JobService) Delete(ctx context.Context, ownerID, jobID string) (*model.DeleteJobResponse, error) {
	job, err := s.jobs.Get(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	log := s.log.With().Str("job_id", jobID).Str("owner_id", ownerID).Logger()

	if !job.Status.IsTerminal() {
		if err := s.dispatcher.Cancel(ctx, jobID); err != nil {
			log.Warn().Err(err).Msg("failed to cancel background task")
		}
	}

	if err := s.jobs.Delete(ctx, ownerID, jobID); err != nil {
		return nil, err
	}

	if job.ArtifactKey != nil && *job.ArtifactKey != "" && s.store != nil {
		if err := s.store.Delete(ctx, *job.ArtifactKey); err != nil {
			log.Warn().Err(err).Str("key", *job.ArtifactKey).Msg("failed to delete artifact")
		}
	}

	log.Info().Msg("job deleted")
	return &model.DeleteJobResponse{Success: true, JobID: jobID}, nil
}
