package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/core"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func reaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        time.Hour,
		PendingMaxAge:   6 * time.Hour,
		CompletedMaxAge: 30 * time.Minute,
		FailedMaxAge:    24 * time.Hour,
		BatchSize:       100,

		BulkOperationMaxAge: 12 * time.Hour,
	}
}

// staleBulkOps hands out batches from a fixed backlog.
type staleBulkOps struct {
	backlog []int64
	maxAges []time.Duration
	err     error
}

func (s *staleBulkOps) FailStaleBulkOperations(_ context.Context, maxAge time.Duration, _ int) (int64, error) {
	s.maxAges = append(s.maxAges, maxAge)
	if s.err != nil {
		return 0, s.err
	}
	if len(s.backlog) == 0 {
		return 0, nil
	}
	n := s.backlog[0]
	s.backlog = s.backlog[1:]
	return n, nil
}

type reaperMetricSink struct {
	mu     sync.Mutex
	counts map[string][]map[string]string
	gauges int
}

func (s *reaperMetricSink) Count(name string, _ int64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string][]map[string]string{}
	}
	s.counts[name] = append(s.counts[name], tags)
}

func (s *reaperMetricSink) Gauge(string, float64, map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges++
}

func (s *reaperMetricSink) Timing(string, time.Duration, map[string]string) {}

func TestNewReaperService(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{Config: reaperConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reaper repository is required")

	ctrl := gomock.NewController(t)
	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   mocks.NewMockReaperRepository(ctrl),
		Config: config.ReaperConfig{Interval: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, svc.config.BatchSize)
}

func TestReaperService_Cleanup_PrunesEachQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	cfg := reaperConfig()

	gomock.InOrder(
		repo.EXPECT().FailStalePendingJobs(gomock.Any(), cfg.PendingMaxAge, cfg.BatchSize).Return(int64(100), nil),
		repo.EXPECT().FailStalePendingJobs(gomock.Any(), cfg.PendingMaxAge, cfg.BatchSize).Return(int64(7), nil),
		repo.EXPECT().FailStalePendingJobs(gomock.Any(), cfg.PendingMaxAge, cfg.BatchSize).Return(int64(0), nil),
	)

	var completed, failed []core.DeleteOldJobsParams
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p core.DeleteOldJobsParams) (int64, error) {
			switch p.Status {
			case model.JobStatusCompleted:
				completed = append(completed, p)
				if p.Queue == model.QueueBulkOperation && len(completed) == 2 {
					return 3, nil
				}
			case model.JobStatusFailed:
				failed = append(failed, p)
			}
			return 0, nil
		}).AnyTimes()

	sink := &reaperMetricSink{}
	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg, Metrics: sink})
	require.NoError(t, err)

	require.NoError(t, svc.Cleanup(context.Background()))

	// auto-sorting once, bulk-operation twice (3 rows then 0), hide-product once.
	require.Len(t, completed, 4)
	assert.Equal(t, model.QueueAutoSorting, completed[0].Queue)
	assert.Equal(t, model.QueueBulkOperation, completed[1].Queue)
	assert.Equal(t, model.QueueBulkOperation, completed[2].Queue)
	assert.Equal(t, model.QueueHideProduct, completed[3].Queue)
	assert.Equal(t, cfg.CompletedMaxAge, completed[0].MaxAge)

	require.Len(t, failed, 3)
	for _, p := range failed {
		assert.Equal(t, cfg.FailedMaxAge, p.MaxAge)
		assert.Equal(t, cfg.BatchSize, p.BatchSize)
	}

	require.Len(t, sink.counts["reaper.cleanup"], 1)
	assert.Equal(t, "success", sink.counts["reaper.cleanup"][0]["result"])
	assert.Len(t, sink.counts["reaper.cleanup_operation"], 3)
	assert.Len(t, sink.counts["reaper.jobs_processed"], 2)
	assert.Equal(t, 1, sink.gauges)
}

func TestReaperService_Cleanup_ContinuesAfterStepError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)

	repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), errors.New("lock timeout"))
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(2 * len(model.AllQueues()))

	sink := &reaperMetricSink{}
	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: reaperConfig(), Metrics: sink})
	require.NoError(t, err)

	err = svc.Cleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail_pending")
	assert.Contains(t, err.Error(), "lock timeout")

	require.Len(t, sink.counts["reaper.cleanup"], 1)
	assert.Equal(t, "error", sink.counts["reaper.cleanup"][0]["result"])
	assert.NotEmpty(t, sink.counts["reaper.cleanup"][0]["error_class"])
	assert.Zero(t, sink.gauges)
}

func TestReaperService_Cleanup_FailsStaleBulkOperations(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

	bulkOps := &staleBulkOps{backlog: []int64{100, 4}}
	sink := &reaperMetricSink{}
	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, BulkOps: bulkOps, Config: reaperConfig(), Metrics: sink})
	require.NoError(t, err)

	require.NoError(t, svc.Cleanup(context.Background()))

	assert.Equal(t, []time.Duration{12 * time.Hour, 12 * time.Hour, 12 * time.Hour}, bulkOps.maxAges)
	require.Len(t, sink.counts["reaper.cleanup_operation"], 4)
	last := sink.counts["reaper.cleanup_operation"][3]
	assert.Equal(t, "fail_stale_bulk_operations", last["operation"])
	require.Len(t, sink.counts["reaper.jobs_processed"], 1)
	assert.Equal(t, "fail_stale_bulk_operations", sink.counts["reaper.jobs_processed"][0]["operation"])
}

func TestReaperService_Cleanup_BulkOperationSweepError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:    repo,
		BulkOps: &staleBulkOps{err: errors.New("statement timeout")},
		Config:  reaperConfig(),
	})
	require.NoError(t, err)

	err = svc.Cleanup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail_stale_bulk_operations")
}

func TestReaperService_Cleanup_CancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, time.Duration, int) (int64, error) {
			cancel()
			return 5, nil
		})
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled).AnyTimes()

	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: reaperConfig()})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Cleanup(ctx), context.Canceled)
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)

		var pendingCalls atomic.Int32
		repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, time.Duration, int) (int64, error) {
				pendingCalls.Add(1)
				return 0, nil
			}).AnyTimes()
		repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

		cfg := reaperConfig()
		cfg.Interval = 20 * time.Millisecond
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()

		require.Eventually(t, func() bool { return pendingCalls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}
	})

	t.Run("keeps running despite cleanup errors", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)

		var pendingCalls atomic.Int32
		repo.EXPECT().FailStalePendingJobs(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(context.Context, time.Duration, int) (int64, error) {
				pendingCalls.Add(1)
				return 0, errors.New("db down")
			}).AnyTimes()
		repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

		cfg := reaperConfig()
		cfg.Interval = 20 * time.Millisecond
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()

		require.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)
		assert.GreaterOrEqual(t, pendingCalls.Load(), int32(2))
	})
}

func TestDrainBatches(t *testing.T) {
	counts := []int64{10, 10, 4, 0}
	calls := 0
	total, err := drainBatches(context.Background(), func() (int64, error) {
		c := counts[calls]
		calls++
		return c, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(24), total)
	assert.Equal(t, 4, calls)
}
