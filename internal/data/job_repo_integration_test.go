package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/testutil"
)

// TestJobRepo_Integration_JobLifecycle walks one push-down job through busy re-delay,
// a retryable failure and completion.
func TestJobRepo_Integration_JobLifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		created, err := repo.Create(ctx, testutil.PushDownJobRequest("demo.myshopify.com", "10"))
		require.NoError(t, err)
		job := created.Job
		assert.Equal(t, model.JobStatusPending, job.Status)
		require.NotNil(t, job.GroupKey)
		assert.Equal(t, "demo.myshopify.com", *job.GroupKey)

		reserved := mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, job.ID, reserved.ID)
		assert.NotNil(t, reserved.StartedAt)

		// Upstream busy: re-delay without spending an attempt.
		ok, err := repo.Delay(ctx, model.DelayJobParams{ID: job.ID, Until: clock.Now().Add(10 * time.Second), Reason: "operation in progress"})
		require.NoError(t, err)
		require.True(t, ok)

		clock.AddTime(10 * time.Second)
		reserved = mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, 0, reserved.RetryCount)

		status, err := repo.Fail(ctx, model.FailJobParams{ID: job.ID, Error: "timeout", RetryDelay: 5 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, status)

		clock.AddTime(5 * time.Second)
		reserved = mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, 1, reserved.RetryCount)
		require.NotNil(t, reserved.LastError)
		assert.Equal(t, "timeout", *reserved.LastError)

		ok, err = repo.Complete(ctx, job.ID, json.RawMessage(`{"bulkOperationID":"gid://shopify/BulkOperation/9"}`))
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repo.ReserveNext(ctx, model.QueueBulkOperation, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_ConcurrentReservation checks that no job is handed to two workers.
func TestJobRepo_Integration_ConcurrentReservation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		const numJobs = 10
		for range numJobs {
			_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
			require.NoError(t, err)
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		runner := testutil.NewConcurrentTestRunner(t, db)
		funcs := make([]func() error, 5)
		for i := range funcs {
			funcs[i] = func() error {
				for {
					job, err := repo.ReserveNext(ctx, model.QueueBulkOperation, 30)
					if err != nil {
						if err == model.ErrNoJobsAvailable {
							return nil
						}
						return err
					}
					mu.Lock()
					seen[job.ID]++
					mu.Unlock()
				}
			}
		}
		runner.AssertNoErrors(runner.RunConcurrent(funcs...))

		assert.Len(t, seen, numJobs)
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s reserved more than once", id)
		}

		stats, err := repo.Stats(ctx, model.QueueBulkOperation)
		require.NoError(t, err)
		assert.Equal(t, numJobs, stats.Running)
	})
}

// TestJobRepo_Integration_QueuesAreIsolated checks that workers only see their own queue.
func TestJobRepo_Integration_QueuesAreIsolated(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})

		_, err := repo.Create(ctx, testutil.HideProductJobRequest("demo.myshopify.com", "1", time.Now().Add(-time.Minute)))
		require.NoError(t, err)

		_, err = repo.ReserveNext(ctx, model.QueueBulkOperation, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		job := mustReserve(t, repo, model.QueueHideProduct)
		assert.Equal(t, model.JobNameHideProduct, job.Name)

		hide := model.QueueHideProduct
		jobs, err := repo.List(ctx, &model.JobListOptions{Queue: &hide})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, job.ID, jobs[0].ID)
	})
}

// TestJobRepo_Integration_ListByDedupKey lists the jobs a collection's push-down key produced.
func TestJobRepo_Integration_ListByDedupKey(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.PushDownJobRequest("demo.myshopify.com", "1"))
		require.NoError(t, err)
		_, err = repo.Create(ctx, testutil.PushDownJobRequest("demo.myshopify.com", "2"))
		require.NoError(t, err)
		clock.AddTime(time.Minute)
		_, err = repo.Create(ctx, testutil.PushDownJobRequest("demo.myshopify.com", "1"))
		require.NoError(t, err)

		key := "BO:1"
		jobs, err := repo.List(ctx, &model.JobListOptions{DedupKey: &key})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
		for _, j := range jobs {
			require.NotNil(t, j.DedupKey)
			assert.Equal(t, key, *j.DedupKey)
		}
	})
}
