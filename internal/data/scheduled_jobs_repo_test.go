package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/testutil"
)

func autoSortingTask(shop string, next time.Time) domain.UpsertTaskParams {
	return domain.UpsertTaskParams{
		Queue:       model.QueueAutoSorting,
		Key:         shop,
		CronPattern: "0 * * * *",
		Template: domain.JobTemplate{
			Name:     model.JobNameAutoSorting,
			Payload:  json.RawMessage(`{"shop":"` + shop + `"}`),
			GroupKey: shop,
		},
		NextRunAt: next,
	}
}

func findDue(t *testing.T, repo *ScheduledJobsRepo, now time.Time, limit int) []domain.ScheduledTask {
	t.Helper()
	var tasks []domain.ScheduledTask
	err := withTestTx(t, repo.DB, func(tx *sql.Tx) error {
		var err error
		tasks, err = repo.FindDueTx(context.Background(), tx, domain.FindDueParams{Now: now, Limit: limit})
		return err
	})
	require.NoError(t, err)
	return tasks
}

func withTestTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestScheduledJobsRepo_FindDueTx(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := testutil.TestTime()
		admin := NewScheduledJobsAdminRepoWithTimeProvider(db, NewFixedTimeProvider(now))
		repo := NewScheduledJobsRepo(db)

		for shop, next := range map[string]time.Time{
			"a.myshopify.com": now.Add(-time.Hour),
			"b.myshopify.com": now.Add(-time.Minute),
			"c.myshopify.com": now.Add(time.Minute),
		} {
			_, err := admin.Upsert(ctx, autoSortingTask(shop, next))
			require.NoError(t, err)
		}

		tasks := findDue(t, repo, now, 10)
		require.Len(t, tasks, 2)
		assert.Equal(t, "a.myshopify.com", tasks[0].Key, "oldest due first")
		assert.Equal(t, "b.myshopify.com", tasks[1].Key)
		assert.Equal(t, model.JobNameAutoSorting, tasks[0].Template.Name)
		assert.JSONEq(t, `{"shop":"a.myshopify.com"}`, string(tasks[0].Template.Payload))
		assert.Nil(t, tasks[0].LastQueuedAt)

		limited := findDue(t, repo, now, 1)
		assert.Len(t, limited, 1)

		_, err := repo.FindDueTx(ctx, nil, domain.FindDueParams{Now: now, Limit: 0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be positive")
	})
}

func TestScheduledJobsRepo_MarkQueuedTx(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := testutil.TestTime()
		admin := NewScheduledJobsAdminRepoWithTimeProvider(db, NewFixedTimeProvider(now))
		repo := NewScheduledJobsRepoWithTimeProvider(db, NewFixedTimeProvider(now))

		_, err := admin.Upsert(ctx, autoSortingTask("demo.myshopify.com", now.Add(-time.Minute)))
		require.NoError(t, err)
		task, err := admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)

		next := now.Add(time.Hour)
		err = withTestTx(t, db, func(tx *sql.Tx) error {
			found, markErr := repo.MarkQueuedTx(ctx, tx, domain.MarkQueuedParams{ID: task.ID, NextRunAt: next, Now: now, Queued: true})
			assert.True(t, found)
			return markErr
		})
		require.NoError(t, err)

		task, err = admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, next, task.NextRunAt.UTC())
		require.NotNil(t, task.LastQueuedAt)
		assert.Equal(t, now, task.LastQueuedAt.UTC())

		// An absorbed firing advances the schedule but keeps the last queue time.
		later := next.Add(time.Hour)
		err = withTestTx(t, db, func(tx *sql.Tx) error {
			_, markErr := repo.MarkQueuedTx(ctx, tx, domain.MarkQueuedParams{ID: task.ID, NextRunAt: later, Now: next})
			return markErr
		})
		require.NoError(t, err)
		task, err = admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, later, task.NextRunAt.UTC())
		assert.Equal(t, now, task.LastQueuedAt.UTC())

		err = withTestTx(t, db, func(tx *sql.Tx) error {
			found, markErr := repo.MarkQueuedTx(ctx, tx, domain.MarkQueuedParams{
				ID: "99999999-9999-9999-9999-999999999999", NextRunAt: later, Now: now,
			})
			assert.False(t, found)
			return markErr
		})
		require.NoError(t, err)
	})
}

func TestScheduledJobsRepo_MarkQueuedTx_RequiresNextRun(t *testing.T) {
	repo := NewScheduledJobsRepo(nil)
	_, err := repo.MarkQueuedTx(context.Background(), nil, domain.MarkQueuedParams{ID: "x"})
	require.Error(t, err)
}

func TestScheduledJobsRepo_TryWithTaskLock(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("executes under lock", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewScheduledJobsRepo(db)
			executed := false
			locked, err := repo.TryWithTaskLock(context.Background(), "scheduler-tick", func(_ context.Context, _ *sql.Tx) error {
				executed = true
				return nil
			})
			require.NoError(t, err)
			assert.True(t, locked)
			assert.True(t, executed)
		})
	})

	t.Run("returns function error", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewScheduledJobsRepo(db)
			expected := errors.New("function failed")
			locked, err := repo.TryWithTaskLock(context.Background(), "scheduler-tick", func(_ context.Context, _ *sql.Tx) error {
				return expected
			})
			assert.True(t, locked)
			require.ErrorIs(t, err, expected)
		})
	})

	t.Run("only one holder", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			repo := NewScheduledJobsRepo(db)
			ready := make(chan struct{})
			results := make(chan bool, 2)
			for range 2 {
				go func() {
					<-ready
					locked, err := repo.TryWithTaskLock(context.Background(), "scheduler-tick", func(_ context.Context, _ *sql.Tx) error {
						time.Sleep(100 * time.Millisecond)
						return nil
					})
					assert.NoError(t, err)
					results <- locked
				}()
			}
			close(ready)

			lockedCount := 0
			for range 2 {
				if <-results {
					lockedCount++
				}
			}
			assert.Equal(t, 1, lockedCount)
		})
	})
}

func TestScheduledJobsAdminRepo_Upsert(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		clock := NewFixedTimeProvider(time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC))
		admin := NewScheduledJobsAdminRepoWithTimeProvider(db, clock)

		params := autoSortingTask("demo.myshopify.com", time.Time{})
		changed, err := admin.Upsert(ctx, params)
		require.NoError(t, err)
		assert.True(t, changed)

		task, err := admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), task.NextRunAt.UTC(), "next cron slot")
		assert.Equal(t, "schedule:auto-sorting:demo.myshopify.com", task.DedupKey())

		// Identical re-registration on restart keeps the pending slot.
		clock.AddTime(time.Hour)
		changed, err = admin.Upsert(ctx, params)
		require.NoError(t, err)
		assert.False(t, changed)
		task, err = admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), task.NextRunAt.UTC())

		policy := domain.OverrunPolicyReschedule
		params.CronPattern = "*/15 * * * *"
		params.OverrunPolicy = &policy
		changed, err = admin.Upsert(ctx, params)
		require.NoError(t, err)
		assert.True(t, changed)
		task, err = admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.Equal(t, "*/15 * * * *", task.CronPattern)
		require.NotNil(t, task.OverrunPolicy)
		assert.Equal(t, domain.OverrunPolicyReschedule, *task.OverrunPolicy)
		assert.Equal(t, time.Date(2024, 1, 1, 13, 45, 0, 0, time.UTC), task.NextRunAt.UTC())
	})
}

func TestScheduledJobsAdminRepo_Upsert_Validation(t *testing.T) {
	admin := NewScheduledJobsAdminRepo(nil)

	bad := autoSortingTask("demo.myshopify.com", time.Time{})
	bad.CronPattern = "every hour"
	_, err := admin.Upsert(context.Background(), bad)
	require.Error(t, err)

	bad = autoSortingTask("", time.Time{})
	_, err = admin.Upsert(context.Background(), bad)
	require.Error(t, err)
}

func TestScheduledJobsAdminRepo_DeleteAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		admin := NewScheduledJobsAdminRepo(db)

		_, err := admin.Upsert(ctx, autoSortingTask("demo.myshopify.com", time.Time{}))
		require.NoError(t, err)

		deleted, err := admin.Delete(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = admin.Delete(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = admin.Get(ctx, model.QueueAutoSorting, "demo.myshopify.com")
		require.ErrorIs(t, err, ErrScheduledTaskNotFound)
	})
}

func TestFnvHash(t *testing.T) {
	hash1 := fnvHash("scheduler-tick")
	assert.Equal(t, hash1, fnvHash("scheduler-tick"))
	assert.NotEqual(t, hash1, fnvHash("reaper"))
	assert.GreaterOrEqual(t, hash1, int64(0))
}
