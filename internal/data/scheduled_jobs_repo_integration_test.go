package data

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/testutil"
)

// TestScheduledJobsRepo_Integration_ConcurrentFindDue checks that schedulers running
// side by side never pick up the same due task.
func TestScheduledJobsRepo_Integration_ConcurrentFindDue(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := testutil.TestTime()
		admin := NewScheduledJobsAdminRepoWithTimeProvider(db, NewFixedTimeProvider(now))
		repo := NewScheduledJobsRepo(db)

		for i := 1; i <= 5; i++ {
			_, err := admin.Upsert(ctx, autoSortingTask(fmt.Sprintf("shop-%d.myshopify.com", i), now.Add(-time.Minute)))
			require.NoError(t, err)
		}

		const numWorkers = 3
		results := make(chan []string, numWorkers)
		var wg sync.WaitGroup

		for range numWorkers {
			wg.Add(1)
			go func() {
				defer wg.Done()

				tx, err := db.BeginTx(ctx, nil)
				if !assert.NoError(t, err) {
					return
				}
				defer func() { _ = tx.Rollback() }()

				tasks, err := repo.FindDueTx(ctx, tx, domain.FindDueParams{Now: now, Limit: 2})
				assert.NoError(t, err)

				// Hold the row locks while the other workers query.
				time.Sleep(50 * time.Millisecond)

				keys := make([]string, 0, len(tasks))
				for _, task := range tasks {
					keys = append(keys, task.Key)
				}
				results <- keys
			}()
		}

		wg.Wait()
		close(results)

		seen := make(map[string]int)
		total := 0
		for keys := range results {
			total += len(keys)
			for _, k := range keys {
				seen[k]++
			}
		}
		for key, count := range seen {
			assert.Equal(t, 1, count, "task %s picked by more than one scheduler", key)
		}
		assert.Positive(t, total)
		assert.LessOrEqual(t, total, 5)
	})
}

// TestScheduledJobsRepo_Integration_TickAdvancesOnce runs the lock, find and mark cycle from
// several goroutines and checks the task is advanced exactly once.
func TestScheduledJobsRepo_Integration_TickAdvancesOnce(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := testutil.TestTime()
		admin := NewScheduledJobsAdminRepoWithTimeProvider(db, NewFixedTimeProvider(now))
		repo := NewScheduledJobsRepoWithTimeProvider(db, NewFixedTimeProvider(now))

		_, err := admin.Upsert(ctx, autoSortingTask("demo.myshopify.com", now.Add(-time.Second)))
		require.NoError(t, err)

		var mu sync.Mutex
		marked := 0
		runner := testutil.NewConcurrentTestRunner(t, db)
		funcs := make([]func() error, 4)
		for i := range funcs {
			funcs[i] = func() error {
				_, err := repo.TryWithTaskLock(ctx, "scheduler-tick", func(ctx context.Context, tx *sql.Tx) error {
					tasks, err := repo.FindDueTx(ctx, tx, domain.FindDueParams{Now: now, Limit: 10})
					if err != nil {
						return err
					}
					for _, task := range tasks {
						next, err := task.Next(now)
						if err != nil {
							return err
						}
						ok, err := repo.MarkQueuedTx(ctx, tx, domain.MarkQueuedParams{ID: task.ID, NextRunAt: next, Now: now, Queued: true})
						if err != nil {
							return err
						}
						if ok {
							mu.Lock()
							marked++
							mu.Unlock()
						}
					}
					return nil
				})
				return err
			}
		}
		runner.AssertNoErrors(runner.RunConcurrent(funcs...))

		assert.Equal(t, 1, marked)
	})
}
