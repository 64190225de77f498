package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/testutil"
)

func newTestJobRepo(db *sql.DB, start time.Time) (*JobRepo, *FixedTimeProvider) {
	tp := NewFixedTimeProvider(start)
	return NewJobRepo(db, RepoConfig{TimeProvider: tp}), tp
}

func mustReserve(t *testing.T, repo *JobRepo, queue model.QueueName) *model.Job {
	t.Helper()
	job, err := repo.ReserveNext(context.Background(), queue, 30)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name    string
		req     *model.CreateJobRequest
		wantErr string
	}{
		{
			name: "push-down job",
			req:  testutil.PushDownJobRequest("demo.myshopify.com", "1"),
		},
		{
			name: "hide job scheduled later",
			req:  testutil.HideProductJobRequest("demo.myshopify.com", "7", time.Now().Add(72*time.Hour)),
		},
		{
			name:    "unknown queue",
			req:     testutil.NewJobRequest().WithQueue("reports", "reports:run").Build(),
			wantErr: "invalid queue",
		},
		{
			name:    "empty payload",
			req:     testutil.NewJobRequest().WithPayloadString("").Build(),
			wantErr: "payload is required",
		},
		{
			name:    "ttl without key",
			req:     testutil.NewJobRequest().WithDedup("", time.Second).Build(),
			wantErr: "dedup ttl requires a dedup key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewJobRepo(db, RepoConfig{})

				res, err := repo.Create(context.Background(), tt.req)
				if tt.wantErr != "" {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.wantErr)
					assert.Nil(t, res)
					return
				}

				require.NoError(t, err)
				require.NotNil(t, res.Job)
				assert.False(t, res.Duplicated)
				job := res.Job
				assert.NotEmpty(t, job.ID)
				assert.Equal(t, tt.req.Queue, job.Queue)
				assert.Equal(t, tt.req.Name, job.Name)
				assert.Equal(t, model.JobStatusPending, job.Status)
				assert.JSONEq(t, string(tt.req.Payload), string(job.Payload))
				assert.Equal(t, 2, job.MaxRetries)
				assert.Equal(t, 0, job.RetryCount)
				if tt.req.ScheduledAt != nil {
					assert.WithinDuration(t, *tt.req.ScheduledAt, job.ScheduledAt, time.Millisecond)
				}
			})
		})
	}
}

func TestJobRepo_Create_DedupWindow(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())
		req := testutil.PushDownJobRequest("demo.myshopify.com", "42")

		first, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.False(t, first.Duplicated)
		require.NotNil(t, first.Job.DedupExpiresAt)
		assert.Equal(t, clock.Now().Add(30*time.Second), first.Job.DedupExpiresAt.UTC())

		clock.AddTime(10 * time.Second)
		second, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.True(t, second.Duplicated)
		assert.Equal(t, first.Job.ID, second.Job.ID)

		// Same key on another queue is independent.
		other := *req
		other.Queue = model.QueueHideProduct
		other.Name = model.JobNameHideProduct
		res, err := repo.Create(ctx, &other)
		require.NoError(t, err)
		assert.False(t, res.Duplicated)

		clock.AddTime(25 * time.Second)
		third, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.False(t, third.Duplicated, "window elapsed")
		assert.NotEqual(t, first.Job.ID, third.Job.ID)
	})
}

func TestJobRepo_Create_DedupReleasedByCompletion(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, _ := newTestJobRepo(db, testutil.TestTime())
		req := testutil.NewJobRequest().WithDedup("schedule:auto-sorting:demo", 0).Build()

		first, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, first.Job.DedupExpiresAt)

		job := mustReserve(t, repo, model.QueueBulkOperation)
		dup, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.True(t, dup.Duplicated, "running job still holds the key")

		ok, err := repo.Complete(ctx, job.ID, json.RawMessage(`{"ok":true}`))
		require.NoError(t, err)
		require.True(t, ok)

		fresh, err := repo.Create(ctx, req)
		require.NoError(t, err)
		assert.False(t, fresh.Duplicated)
	})
}

func TestJobRepo_Create_DedupExactlyOnceUnderConcurrency(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewJobRepo(db, RepoConfig{})
		req := testutil.PushDownJobRequest("demo.myshopify.com", "99")

		runner := testutil.NewConcurrentTestRunner(t, db)
		created := make(chan bool, 8)
		funcs := make([]func() error, 8)
		for i := range funcs {
			funcs[i] = func() error {
				res, err := repo.Create(ctx, req)
				if err != nil {
					return err
				}
				created <- !res.Duplicated
				return nil
			}
		}
		runner.AssertNoErrors(runner.RunConcurrent(funcs...))
		close(created)

		n := 0
		for c := range created {
			if c {
				n++
			}
		}
		assert.Equal(t, 1, n)
	})
}

func TestJobRepo_ReserveNext(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		low := testutil.NewJobRequest().WithPriority(10).Build()
		high := testutil.NewJobRequest().WithPriority(90).Build()
		later := testutil.NewJobRequest().WithPriority(100).WithScheduledAt(clock.Now().Add(time.Hour)).Build()
		other := testutil.NewJobRequest().WithQueue(model.QueueAutoSorting, model.JobNameAutoSorting).Build()
		for _, req := range []*model.CreateJobRequest{low, high, later, other} {
			_, err := repo.Create(ctx, req)
			require.NoError(t, err)
		}

		first := mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, 90, first.Priority)
		assert.Equal(t, model.JobStatusRunning, first.Status)
		require.NotNil(t, first.LeaseExpiresAt)
		assert.Equal(t, clock.Now().Add(30*time.Second), first.LeaseExpiresAt.UTC())

		second := mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, 10, second.Priority)

		_, err := repo.ReserveNext(ctx, model.QueueBulkOperation, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable, "future job is not due")

		clock.AddTime(time.Hour)
		third := mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, 100, third.Priority)
	})
}

func TestJobRepo_ReserveNext_Validation(t *testing.T) {
	repo := NewJobRepo(nil, RepoConfig{})

	_, err := repo.ReserveNext(context.Background(), "nope", 30)
	require.Error(t, err)

	_, err = repo.ReserveNext(context.Background(), model.QueueBulkOperation, 0)
	require.Error(t, err)
}

func TestJobRepo_RequeueExpired(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := mustReserve(t, repo, model.QueueBulkOperation)

		clock.AddTime(31 * time.Second)
		again := mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, job.ID, again.ID)
		assert.Equal(t, 0, again.RetryCount, "lease expiry does not consume an attempt")
	})
}

func TestJobRepo_Heartbeat(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := mustReserve(t, repo, model.QueueBulkOperation)

		clock.AddTime(20 * time.Second)
		ok, err := repo.Heartbeat(ctx, job.ID, 30)
		require.NoError(t, err)
		assert.True(t, ok)

		clock.AddTime(20 * time.Second)
		_, err = repo.ReserveNext(ctx, model.QueueBulkOperation, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable, "extended lease keeps the job running")

		_, err = repo.Heartbeat(ctx, job.ID, 0)
		require.Error(t, err)
	})
}

func TestJobRepo_Fail(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := mustReserve(t, repo, model.QueueBulkOperation)

		status, err := repo.Fail(ctx, model.FailJobParams{ID: job.ID, Error: "boom", RetryDelay: time.Second})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, status)

		stored, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Equal(t, clock.Now().Add(time.Second), stored.ScheduledAt.UTC())
		require.NotNil(t, stored.LastError)
		assert.Equal(t, "boom", *stored.LastError)

		clock.AddTime(time.Second)
		job = mustReserve(t, repo, model.QueueBulkOperation)
		status, err = repo.Fail(ctx, model.FailJobParams{ID: job.ID, Error: "boom again", RetryDelay: time.Second})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, status, "second attempt exhausts the budget of 2")

		status, err = repo.Fail(ctx, model.FailJobParams{ID: job.ID, Error: "late"})
		require.NoError(t, err)
		assert.Empty(t, status, "job no longer running")
	})
}

func TestJobRepo_Fail_Permanent(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, _ := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.NewJobRequest().WithMaxRetries(5).Build())
		require.NoError(t, err)
		job := mustReserve(t, repo, model.QueueBulkOperation)

		status, err := repo.Fail(ctx, model.FailJobParams{ID: job.ID, Error: "rejected", Permanent: true})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, status)

		stored, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.CompletedAt)
	})
}

func TestJobRepo_Delay(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := mustReserve(t, repo, model.QueueBulkOperation)

		ok, err := repo.Delay(ctx, model.DelayJobParams{ID: job.ID, Until: clock.Now().Add(5 * time.Second), Reason: "busy"})
		require.NoError(t, err)
		require.True(t, ok)

		stored, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, stored.Status)
		assert.Equal(t, 0, stored.RetryCount)
		assert.JSONEq(t, `{"delay_reason":"busy"}`, string(stored.Metadata))

		_, err = repo.ReserveNext(ctx, model.QueueBulkOperation, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		clock.AddTime(5 * time.Second)
		again := mustReserve(t, repo, model.QueueBulkOperation)
		assert.Equal(t, job.ID, again.ID)

		ok, err = repo.Delay(ctx, model.DelayJobParams{ID: "00000000-0000-0000-0000-000000000000", Until: clock.Now()})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestJobRepo_CompleteStoresResult(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, _ := newTestJobRepo(db, testutil.TestTime())

		_, err := repo.Create(ctx, testutil.NewJobRequest().Build())
		require.NoError(t, err)
		job := mustReserve(t, repo, model.QueueBulkOperation)

		ok, err := repo.Complete(ctx, job.ID, json.RawMessage(`{"operationID":"gid://shopify/BulkOperation/1"}`))
		require.NoError(t, err)
		require.True(t, ok)

		stored, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, stored.Status)
		assert.JSONEq(t, `{"operationID":"gid://shopify/BulkOperation/1"}`, string(stored.Result))
		assert.Nil(t, stored.LeaseExpiresAt)

		ok, err = repo.Complete(ctx, job.ID, nil)
		require.NoError(t, err)
		assert.False(t, ok, "already completed")
	})
}

func TestJobRepo_GetByID_NotFound(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobRepo_StatsAndList(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo, clock := newTestJobRepo(db, testutil.TestTime())

		for i := range 3 {
			clock.AddTime(time.Second)
			_, err := repo.Create(ctx, testutil.NewJobRequest().WithPriority(i).Build())
			require.NoError(t, err)
		}
		job := mustReserve(t, repo, model.QueueBulkOperation)
		_, err := repo.Complete(ctx, job.ID, nil)
		require.NoError(t, err)

		stats, err := repo.Stats(ctx, model.QueueBulkOperation)
		require.NoError(t, err)
		assert.Equal(t, model.JobStats{Pending: 2, Completed: 1}, *stats)

		pending := model.JobStatusPending
		jobs, err := repo.List(ctx, &model.JobListOptions{Status: &pending})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt), "newest first")

		jobs, err = repo.List(ctx, &model.JobListOptions{SortOrder: "asc", Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, 1, jobs[0].Priority)
	})
}

func TestNormalizePagination(t *testing.T) {
	limit, offset := normalizePagination(0, -3)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	limit, offset = normalizePagination(5000, 10)
	assert.Equal(t, 1000, limit)
	assert.Equal(t, 10, offset)

	assert.Equal(t, "ASC", sortDirection("asc"))
	assert.Equal(t, "DESC", sortDirection(""))
}

func TestAdvisoryLockDedupKey(t *testing.T) {
	a := advisoryLockDedupKey(model.QueueBulkOperation, "BO:1")
	assert.Equal(t, a, advisoryLockDedupKey(model.QueueBulkOperation, "BO:1"))
	assert.NotEqual(t, a, advisoryLockDedupKey(model.QueueHideProduct, "BO:1"))
	assert.GreaterOrEqual(t, a, int64(0))
}
