package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/shelfsort/internal/domain"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/domain/scheduler"
)

type stubTaskStore struct {
	marks []domain.MarkQueuedParams
	err   error
}

func (s *stubTaskStore) MarkQueued(_ context.Context, params domain.MarkQueuedParams) (bool, error) {
	s.marks = append(s.marks, params)
	return s.err == nil, s.err
}

type stubJobEnqueuer struct {
	duplicated bool
	err        error
	requests   []model.CreateJobRequest
}

func (s *stubJobEnqueuer) Enqueue(_ context.Context, req model.CreateJobRequest) (*model.CreateJobResult, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &model.CreateJobResult{Job: &model.Job{ID: "job-1"}, Duplicated: s.duplicated}, nil
}

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func dueTask() domain.ScheduledTask {
	return domain.ScheduledTask{
		ID:          "task-1",
		Queue:       model.QueueAutoSorting,
		Key:         "demo.myshopify.com",
		CronPattern: "0 * * * *",
		Template: domain.JobTemplate{
			Name:    model.JobNameAutoSorting,
			Payload: json.RawMessage(`{"shop":"demo.myshopify.com"}`),
		},
		NextRunAt: now.Add(-time.Minute),
	}
}

func TestTaskProcessor_NotDue(t *testing.T) {
	task := dueTask()
	task.NextRunAt = now.Add(time.Minute)
	store := &stubTaskStore{}
	enq := &stubJobEnqueuer{}

	res, err := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{}).Process(context.Background(),
		scheduler.ProcessParams{Task: task, Now: now, Store: store, Enqueuer: enq})
	require.NoError(t, err)
	assert.False(t, res.Due)
	assert.Empty(t, enq.requests)
	assert.Empty(t, store.marks)
}

func TestTaskProcessor_EnqueuesAndAdvances(t *testing.T) {
	store := &stubTaskStore{}
	enq := &stubJobEnqueuer{}

	res, err := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{}).Process(context.Background(),
		scheduler.ProcessParams{Task: dueTask(), Now: now, Store: store, Enqueuer: enq})
	require.NoError(t, err)

	assert.True(t, res.Enqueued)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), res.NextRunAt)
	require.Len(t, enq.requests, 1)
	assert.Equal(t, "schedule:auto-sorting:demo.myshopify.com", enq.requests[0].DedupKey)
	require.Len(t, store.marks, 1)
	assert.True(t, store.marks[0].Queued)
	assert.Equal(t, res.NextRunAt, store.marks[0].NextRunAt)
}

func TestTaskProcessor_OverrunPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    domain.OverrunPolicy
		wantNext  time.Time
		wantDedup bool
	}{
		{name: "skip waits for next slot", policy: domain.OverrunPolicySkip,
			wantNext: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), wantDedup: true},
		{name: "reschedule retries soon", policy: domain.OverrunPolicyReschedule,
			wantNext: now.Add(5 * time.Minute), wantDedup: true},
		{name: "queue never dedups", policy: domain.OverrunPolicyQueue,
			wantNext: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := dueTask()
			policy := tt.policy
			task.OverrunPolicy = &policy
			store := &stubTaskStore{}
			enq := &stubJobEnqueuer{duplicated: tt.wantDedup}

			proc := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{RetryDelay: 5 * time.Minute})
			res, err := proc.Process(context.Background(),
				scheduler.ProcessParams{Task: task, Now: now, Store: store, Enqueuer: enq})
			require.NoError(t, err)

			assert.Equal(t, tt.wantNext, res.NextRunAt)
			assert.Equal(t, tt.wantDedup, enq.requests[0].DedupKey != "")
			assert.Equal(t, tt.wantDedup, res.Duplicated)
			assert.Equal(t, !tt.wantDedup, store.marks[0].Queued)
		})
	}
}

func TestTaskProcessor_Errors(t *testing.T) {
	proc := scheduler.NewTaskProcessor(scheduler.TaskProcessorOptions{})
	ctx := context.Background()

	_, err := proc.Process(ctx, scheduler.ProcessParams{Task: dueTask(), Now: now, Enqueuer: &stubJobEnqueuer{}})
	require.Error(t, err)

	_, err = proc.Process(ctx, scheduler.ProcessParams{Task: dueTask(), Now: now, Store: &stubTaskStore{}})
	require.Error(t, err)

	store := &stubTaskStore{}
	_, err = proc.Process(ctx, scheduler.ProcessParams{
		Task: dueTask(), Now: now, Store: store, Enqueuer: &stubJobEnqueuer{err: errors.New("db down")},
	})
	require.Error(t, err)
	assert.Empty(t, store.marks, "failed enqueue must not advance the schedule")

	bad := dueTask()
	bad.CronPattern = "nope"
	_, err = proc.Process(ctx, scheduler.ProcessParams{Task: bad, Now: now, Store: &stubTaskStore{}, Enqueuer: &stubJobEnqueuer{}})
	require.Error(t, err)

	_, err = proc.Process(ctx, scheduler.ProcessParams{
		Task: dueTask(), Now: now, Store: &stubTaskStore{err: errors.New("tx aborted")}, Enqueuer: &stubJobEnqueuer{},
	})
	require.Error(t, err)
}
