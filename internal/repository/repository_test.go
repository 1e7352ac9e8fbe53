package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixai/api/internal/config"
	"github.com/matrixai/api/internal/model"
)

func newPendingJob(ownerID string) *model.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Kind:      model.JobKindTextToVideo,
		Input:     model.JobInput{Prompt: "cat"},
		Status:    model.JobStatusPending,
		Cost:      25,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testJobRepository(t *testing.T, repo JobRepository) {
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()

	t.Run("create and get scoped by owner", func(t *testing.T) {
		job := newPendingJob(owner)
		require.NoError(t, repo.Create(ctx, job))

		got, err := repo.Get(ctx, owner, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Equal(t, "cat", got.Input.Prompt)
		assert.Equal(t, int64(25), got.Cost)

		_, err = repo.Get(ctx, "someone-else", job.ID)
		assert.ErrorIs(t, err, model.ErrJobNotFound)
	})

	t.Run("happy path transitions", func(t *testing.T) {
		job := newPendingJob(owner)
		require.NoError(t, repo.Create(ctx, job))

		got, err := repo.MarkSubmitted(ctx, job.ID, "task-1", "text-to-video")
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusSubmitted, got.Status)
		require.NotNil(t, got.ExternalTaskID)
		assert.Equal(t, "task-1", *got.ExternalTaskID)
		assert.NotNil(t, got.SubmittedAt)

		got, err = repo.MarkPolling(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPolling, got.Status)

		require.NoError(t, repo.RecordPollAttempts(ctx, job.ID, 3))

		got, err = repo.Complete(ctx, job.ID, CompletedResult{ResultURL: "https://store/x.mp4", SourceURL: "http://vendor/x.mp4", ArtifactKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		require.NotNil(t, got.ResultURL)
		assert.Equal(t, "https://store/x.mp4", *got.ResultURL)
		assert.Nil(t, got.Error)
		assert.Equal(t, 3, got.PollAttempts)
	})

	t.Run("terminal jobs reject further transitions", func(t *testing.T) {
		job := newPendingJob(owner)
		require.NoError(t, repo.Create(ctx, job))

		failed, err := repo.Fail(ctx, job.ID, model.JobError{Code: model.JobErrorTimeout, Message: "late"})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, failed.Status)
		require.NotNil(t, failed.Error)
		assert.Equal(t, model.JobErrorTimeout, failed.Error.Code)
		assert.Nil(t, failed.ResultURL)

		_, err = repo.Complete(ctx, job.ID, CompletedResult{ResultURL: "u"})
		assert.ErrorIs(t, err, model.ErrJobConflict)
		_, err = repo.Fail(ctx, job.ID, model.JobError{Code: "x"})
		assert.ErrorIs(t, err, model.ErrJobConflict)
		_, err = repo.MarkSubmitted(ctx, job.ID, "t", "v")
		assert.ErrorIs(t, err, model.ErrJobConflict)
	})

	t.Run("transition on missing job", func(t *testing.T) {
		_, err := repo.Fail(ctx, uuid.NewString(), model.JobError{Code: "x"})
		assert.ErrorIs(t, err, model.ErrJobNotFound)
	})

	t.Run("refund flag flips once", func(t *testing.T) {
		job := newPendingJob(owner)
		require.NoError(t, repo.Create(ctx, job))

		flipped, err := repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, flipped)

		flipped, err = repo.MarkRefunded(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, flipped)
	})

	t.Run("list and delete", func(t *testing.T) {
		listOwner := "list-" + uuid.NewString()
		for i := 0; i < 3; i++ {
			job := newPendingJob(listOwner)
			job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Second)
			require.NoError(t, repo.Create(ctx, job))
		}
		transcription := newPendingJob(listOwner)
		transcription.Kind = model.JobKindTranscription
		require.NoError(t, repo.Create(ctx, transcription))

		jobs, total, err := repo.List(ctx, listOwner, model.JobListFilter{Page: 1, PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, jobs, 2)

		jobs, total, err = repo.List(ctx, listOwner, model.JobListFilter{Kind: model.JobKindTranscription})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, jobs, 1)
		assert.Equal(t, transcription.ID, jobs[0].ID)

		assert.ErrorIs(t, repo.Delete(ctx, "intruder", transcription.ID), model.ErrJobNotFound)
		require.NoError(t, repo.Delete(ctx, listOwner, transcription.ID))
		_, err = repo.GetByID(ctx, transcription.ID)
		assert.ErrorIs(t, err, model.ErrJobNotFound)
	})
}

func testLedgerRepository(t *testing.T, repo LedgerRepository) {
	ctx := context.Background()

	t.Run("debit success and insufficient", func(t *testing.T) {
		owner := "ledger-" + uuid.NewString()
		require.NoError(t, repo.CreateAccount(ctx, owner, 30))

		txn, err := repo.Debit(ctx, owner, 25, "Video Generation")
		require.NoError(t, err)
		assert.Equal(t, model.TransactionSuccess, txn.Outcome)
		assert.Equal(t, int64(5), txn.ResultingBalance)

		txn, err = repo.Debit(ctx, owner, 25, "Video Generation")
		assert.ErrorIs(t, err, model.ErrInsufficientFunds)
		require.NotNil(t, txn)
		assert.Equal(t, model.TransactionFailed, txn.Outcome)
		assert.Equal(t, int64(5), txn.ResultingBalance)

		balance, err := repo.Balance(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance)

		txns, total, err := repo.ListTransactions(ctx, owner, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, model.TransactionFailed, txns[0].Outcome)
	})

	t.Run("credit", func(t *testing.T) {
		owner := "ledger-" + uuid.NewString()
		require.NoError(t, repo.CreateAccount(ctx, owner, 0))

		txn, err := repo.Credit(ctx, owner, 25, "Refund")
		require.NoError(t, err)
		assert.Equal(t, model.TransactionRefunded, txn.Outcome)
		assert.Equal(t, int64(25), txn.ResultingBalance)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := repo.Debit(ctx, "ghost-"+uuid.NewString(), 1, "x")
		assert.ErrorIs(t, err, model.ErrAccountNotFound)
		_, err = repo.Balance(ctx, "ghost-"+uuid.NewString())
		assert.ErrorIs(t, err, model.ErrAccountNotFound)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		owner := "ledger-" + uuid.NewString()
		require.NoError(t, repo.CreateAccount(ctx, owner, 100))

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Debit(ctx, owner, 25, "Video Generation"); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 4, succeeded)
		balance, err := repo.Balance(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)

		_, total, err := repo.ListTransactions(ctx, owner, 100, 0)
		require.NoError(t, err)
		assert.Equal(t, 10, total)
	})
}

func TestMemoryJobRepository(t *testing.T) {
	testJobRepository(t, NewMemoryJobRepository())
}

func TestMemoryLedgerRepository(t *testing.T) {
	testLedgerRepository(t, NewMemoryLedgerRepository())
}

func TestPostgresRepositories(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, &config.DatabaseConfig{URL: dsn, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(pool))

	t.Run("jobs", func(t *testing.T) {
		testJobRepository(t, NewJobRepository(pool))
	})
	t.Run("ledger", func(t *testing.T) {
		testLedgerRepository(t, NewLedgerRepository(pool))
	})
}

func TestPageBounds(t *testing.T) {
	limit, offset := pageBounds(0, 0)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	limit, offset = pageBounds(3, 10)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)

	limit, _ = pageBounds(1, 1000)
	assert.Equal(t, 100, limit)
}
