package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matrixai/api/internal/model"
)

// MemoryJobRepository is an in-process JobRepository with the same
// transition rules as the PostgreSQL implementation
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*model.Job)}
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return model.ErrJobConflict
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, model.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobRepository) List(ctx context.Context, ownerID string, filter model.JobListFilter) ([]*model.Job, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.Job
	for _, job := range r.jobs {
		if job.OwnerID != ownerID || (filter.Kind != "" && job.Kind != filter.Kind) {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit, offset := pageBounds(filter.Page, filter.PerPage)
	total := len(matched)
	out := make([]*model.Job, 0, limit)
	for i := offset; i < total && i < offset+limit; i++ {
		out = append(out, cloneJob(matched[i]))
	}
	return out, total, nil
}

func (r *MemoryJobRepository) MarkSubmitted(ctx context.Context, jobID, externalTaskID, variant string) (*model.Job, error) {
	return r.transition(jobID, []model.JobStatus{model.JobStatusPending}, func(job *model.Job, now time.Time) {
		job.Status = model.JobStatusSubmitted
		job.ExternalTaskID = &externalTaskID
		job.Variant = variant
		job.SubmittedAt = &now
	})
}

func (r *MemoryJobRepository) MarkPolling(ctx context.Context, jobID string) (*model.Job, error) {
	return r.transition(jobID, []model.JobStatus{model.JobStatusSubmitted}, func(job *model.Job, now time.Time) {
		job.Status = model.JobStatusPolling
	})
}

func (r *MemoryJobRepository) RecordPollAttempts(ctx context.Context, jobID string, attempts int) error {
	_, err := r.transition(jobID, []model.JobStatus{model.JobStatusPolling}, func(job *model.Job, now time.Time) {
		job.PollAttempts = attempts
	})
	if err == model.ErrJobConflict {
		return nil
	}
	return err
}

func (r *MemoryJobRepository) Complete(ctx context.Context, jobID string, result CompletedResult) (*model.Job, error) {
	return r.transition(jobID, model.ActiveJobStatuses, func(job *model.Job, now time.Time) {
		job.Status = model.JobStatusCompleted
		job.ResultURL = &result.ResultURL
		job.SourceURL = &result.SourceURL
		job.ArtifactKey = &result.ArtifactKey
		job.CompletedAt = &now
	})
}

func (r *MemoryJobRepository) Fail(ctx context.Context, jobID string, jobErr model.JobError) (*model.Job, error) {
	return r.transition(jobID, model.ActiveJobStatuses, func(job *model.Job, now time.Time) {
		job.Status = model.JobStatusFailed
		job.Error = &jobErr
		job.CompletedAt = &now
	})
}

func (r *MemoryJobRepository) MarkRefunded(ctx context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return false, model.ErrJobNotFound
	}
	if job.Refunded {
		return false, nil
	}
	job.Refunded = true
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryJobRepository) Delete(ctx context.Context, ownerID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return model.ErrJobNotFound
	}
	delete(r.jobs, jobID)
	return nil
}

func (r *MemoryJobRepository) transition(jobID string, from []model.JobStatus, apply func(job *model.Job, now time.Time)) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	if !slices.Contains(from, job.Status) {
		return nil, model.ErrJobConflict
	}
	now := time.Now().UTC()
	apply(job, now)
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func cloneJob(job *model.Job) *model.Job {
	c := *job
	if job.Error != nil {
		e := *job.Error
		c.Error = &e
	}
	return &c
}

// MemoryLedgerRepository is an in-process LedgerRepository
type MemoryLedgerRepository struct {
	mu       sync.Mutex
	balances map[string]int64
	txns     []*model.Transaction
}

func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{balances: make(map[string]int64)}
}

func (r *MemoryLedgerRepository) CreateAccount(ctx context.Context, ownerID string, coins int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.balances[ownerID]; !ok {
		r.balances[ownerID] = coins
	}
	return nil
}

func (r *MemoryLedgerRepository) Balance(ctx context.Context, ownerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coins, ok := r.balances[ownerID]
	if !ok {
		return 0, model.ErrAccountNotFound
	}
	return coins, nil
}

func (r *MemoryLedgerRepository) Debit(ctx context.Context, ownerID string, amount int64, label string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coins, ok := r.balances[ownerID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	if coins < amount {
		return r.appendLocked(ownerID, amount, label, coins, model.TransactionFailed), model.ErrInsufficientFunds
	}
	coins -= amount
	r.balances[ownerID] = coins
	return r.appendLocked(ownerID, amount, label, coins, model.TransactionSuccess), nil
}

func (r *MemoryLedgerRepository) Credit(ctx context.Context, ownerID string, amount int64, label string) (*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coins, ok := r.balances[ownerID]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	coins += amount
	r.balances[ownerID] = coins
	return r.appendLocked(ownerID, amount, label, coins, model.TransactionRefunded), nil
}

func (r *MemoryLedgerRepository) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*model.Transaction, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var owned []*model.Transaction
	for i := len(r.txns) - 1; i >= 0; i-- {
		if r.txns[i].OwnerID == ownerID {
			owned = append(owned, r.txns[i])
		}
	}

	out := make([]*model.Transaction, 0, limit)
	for i := offset; i < len(owned) && i < offset+limit; i++ {
		t := *owned[i]
		out = append(out, &t)
	}
	return out, len(owned), nil
}

func (r *MemoryLedgerRepository) appendLocked(ownerID string, amount int64, label string, balance int64, outcome model.TransactionOutcome) *model.Transaction {
	t := &model.Transaction{
		ID:               int64(len(r.txns) + 1),
		OwnerID:          ownerID,
		Amount:           amount,
		Label:            label,
		ResultingBalance: balance,
		Outcome:          outcome,
		CreatedAt:        time.Now().UTC(),
	}
	r.txns = append(r.txns, t)
	c := *t
	return &c
}
