package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixai/api/internal/model"
)

const jobColumns = `id, owner_id, kind, variant, input, status, external_task_id, result_url, source_url, artifact_key,
error_code, error_message, cost, refunded, poll_attempts, created_at, updated_at, submitted_at, completed_at`

// activeStatuses is the CAS guard for transitions out of an active state
var activeStatuses = []string{
	string(model.JobStatusPending),
	string(model.JobStatusSubmitted),
	string(model.JobStatusPolling),
}

// JobRepositoryPG implements JobRepository on PostgreSQL
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a job repository backed by PostgreSQL
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

func (r *JobRepositoryPG) Create(ctx context.Context, job *model.Job) error {
	query := `
INSERT INTO jobs (id, owner_id, kind, variant, input, status, cost, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.Variant,
		job.Input,
		job.Status,
		job.Cost,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (r *JobRepositoryPG) Get(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID, ownerID))
}

func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, query, jobID))
}

func (r *JobRepositoryPG) List(ctx context.Context, ownerID string, filter model.JobListFilter) ([]*model.Job, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM jobs
WHERE owner_id = $1 AND ($2 = '' OR kind = $2);
`, ownerID, string(filter.Kind)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	limit, offset := pageBounds(filter.Page, filter.PerPage)
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE owner_id = $1 AND ($2 = '' OR kind = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4;
`, ownerID, string(filter.Kind), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs := make([]*model.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (r *JobRepositoryPG) MarkSubmitted(ctx context.Context, jobID, externalTaskID, variant string) (*model.Job, error) {
	query := `
UPDATE jobs
SET status = 'submitted',
    external_task_id = $2,
    variant = $3,
    submitted_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = 'pending'
RETURNING ` + jobColumns + `;`
	return r.transition(ctx, query, jobID, externalTaskID, variant)
}

func (r *JobRepositoryPG) MarkPolling(ctx context.Context, jobID string) (*model.Job, error) {
	query := `
UPDATE jobs
SET status = 'polling',
    updated_at = NOW()
WHERE id = $1 AND status = 'submitted'
RETURNING ` + jobColumns + `;`
	return r.transition(ctx, query, jobID)
}

func (r *JobRepositoryPG) RecordPollAttempts(ctx context.Context, jobID string, attempts int) error {
	_, err := r.pool.Exec(ctx, `
UPDATE jobs SET poll_attempts = $2, updated_at = NOW()
WHERE id = $1 AND status = 'polling';
`, jobID, attempts)
	return err
}

func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, result CompletedResult) (*model.Job, error) {
	query := `
UPDATE jobs
SET status = 'completed',
    result_url = $2,
    source_url = $3,
    artifact_key = $4,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = ANY($5)
RETURNING ` + jobColumns + `;`
	return r.transition(ctx, query, jobID, result.ResultURL, result.SourceURL, result.ArtifactKey, activeStatuses)
}

func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, jobErr model.JobError) (*model.Job, error) {
	query := `
UPDATE jobs
SET status = 'failed',
    error_code = $2,
    error_message = $3,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = ANY($4)
RETURNING ` + jobColumns + `;`
	return r.transition(ctx, query, jobID, jobErr.Code, jobErr.Message, activeStatuses)
}

func (r *JobRepositoryPG) MarkRefunded(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE jobs SET refunded = TRUE, updated_at = NOW()
WHERE id = $1 AND refunded = FALSE;
`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) Delete(ctx context.Context, ownerID, jobID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND owner_id = $2;`, jobID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

// transition runs a guarded UPDATE ... RETURNING. No returned row means the
// job is missing or no longer in the expected state.
func (r *JobRepositoryPG) transition(ctx context.Context, query string, args ...any) (*model.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, model.ErrJobNotFound) {
		jobID, _ := args[0].(string)
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, model.ErrJobConflict
	}
	return job, err
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var job model.Job
	var errCode, errMessage *string
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Variant,
		&job.Input,
		&job.Status,
		&job.ExternalTaskID,
		&job.ResultURL,
		&job.SourceURL,
		&job.ArtifactKey,
		&errCode,
		&errMessage,
		&job.Cost,
		&job.Refunded,
		&job.PollAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.SubmittedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if errCode != nil {
		job.Error = &model.JobError{Code: *errCode}
		if errMessage != nil {
			job.Error.Message = *errMessage
		}
	}
	return &job, nil
}

// pageBounds converts a 1-based page into LIMIT and OFFSET
func pageBounds(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	if page <= 0 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}
