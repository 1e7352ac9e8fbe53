// Package repository persists jobs, accounts and ledger transactions.
package repository

import (
	"context"

	"github.com/matrixai/api/internal/model"
)

// JobRepository stores job records. Status-changing writes are
// compare-and-set on the current status and return model.ErrJobConflict
// when the job is no longer in an expected state.
type JobRepository interface {
	Create(ctx context.Context, job *model.Job) error
	// Get returns the job only when it belongs to ownerID.
	Get(ctx context.Context, ownerID, jobID string) (*model.Job, error)
	GetByID(ctx context.Context, jobID string) (*model.Job, error)
	List(ctx context.Context, ownerID string, filter model.JobListFilter) ([]*model.Job, int, error)

	// MarkSubmitted moves a pending job to submitted.
	MarkSubmitted(ctx context.Context, jobID, externalTaskID, variant string) (*model.Job, error)
	// MarkPolling moves a submitted job to polling.
	MarkPolling(ctx context.Context, jobID string) (*model.Job, error)
	// RecordPollAttempts stores the number of polls made so far.
	RecordPollAttempts(ctx context.Context, jobID string, attempts int) error
	// Complete moves an active job to completed.
	Complete(ctx context.Context, jobID string, result CompletedResult) (*model.Job, error)
	// Fail moves an active job to failed.
	Fail(ctx context.Context, jobID string, jobErr model.JobError) (*model.Job, error)
	// MarkRefunded flips the refunded flag once; it reports whether this call flipped it.
	MarkRefunded(ctx context.Context, jobID string) (bool, error)

	Delete(ctx context.Context, ownerID, jobID string) error
}

// CompletedResult is what a completed job records
type CompletedResult struct {
	ResultURL   string
	SourceURL   string
	ArtifactKey string
}

// LedgerRepository stores balances and the append-only transaction log
type LedgerRepository interface {
	CreateAccount(ctx context.Context, ownerID string, coins int64) error
	Balance(ctx context.Context, ownerID string) (int64, error)
	// Debit subtracts amount only if the balance covers it, and appends one
	// transaction either way. An uncovered debit returns the failed
	// transaction together with model.ErrInsufficientFunds.
	Debit(ctx context.Context, ownerID string, amount int64, label string) (*model.Transaction, error)
	// Credit adds amount and appends a refunded transaction.
	Credit(ctx context.Context, ownerID string, amount int64, label string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*model.Transaction, int, error)
}
