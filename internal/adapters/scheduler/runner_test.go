package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	calls    atomic.Int32
	enqueued int
	err      error
}

func (f *fakeScheduler) Tick(_ context.Context, _ time.Time) (int, error) {
	f.calls.Add(1)
	return f.enqueued, f.err
}

type metricCall struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type recordingSink struct {
	mu    sync.Mutex
	calls []metricCall
}

func (s *recordingSink) record(c metricCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recordingSink) Count(name string, value int64, tags map[string]string) {
	s.record(metricCall{kind: "count", name: name, value: float64(value), tags: tags})
}

func (s *recordingSink) Gauge(name string, value float64, tags map[string]string) {
	s.record(metricCall{kind: "gauge", name: name, value: value, tags: tags})
}

func (s *recordingSink) Timing(name string, value time.Duration, tags map[string]string) {
	s.record(metricCall{kind: "timing", name: name, value: float64(value), tags: tags})
}

func (s *recordingSink) find(name string) (metricCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.name == name {
			return c, true
		}
	}
	return metricCall{}, false
}

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)

	r, err := NewRunner(RunnerOptions{Scheduler: &fakeScheduler{}})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, r.interval)
}

func TestRunner_TickMetrics(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		sink := &recordingSink{}
		r, err := NewRunner(RunnerOptions{
			Scheduler: &fakeScheduler{enqueued: 3},
			Metrics:   sink,
			Clock:     steppingClock(start, 20*time.Millisecond),
		})
		require.NoError(t, err)

		r.tick(context.Background())

		tick, ok := sink.find("scheduler.tick")
		require.True(t, ok)
		assert.Equal(t, "success", tick.tags["result"])

		enq, ok := sink.find("scheduler.tasks_enqueued")
		require.True(t, ok)
		assert.InDelta(t, 3, enq.value, 0)

		dur, ok := sink.find("scheduler.tick_duration")
		require.True(t, ok)
		assert.InDelta(t, float64(20*time.Millisecond), dur.value, 0)

		_, ok = sink.find("scheduler.last_success_epoch")
		assert.True(t, ok)
	})

	t.Run("noop", func(t *testing.T) {
		sink := &recordingSink{}
		r, err := NewRunner(RunnerOptions{Scheduler: &fakeScheduler{}, Metrics: sink})
		require.NoError(t, err)

		r.tick(context.Background())

		tick, ok := sink.find("scheduler.tick")
		require.True(t, ok)
		assert.Equal(t, "noop", tick.tags["result"])
		_, ok = sink.find("scheduler.tasks_enqueued")
		assert.False(t, ok)
	})

	t.Run("error", func(t *testing.T) {
		sink := &recordingSink{}
		r, err := NewRunner(RunnerOptions{
			Scheduler: &fakeScheduler{err: errors.New("db down")},
			Metrics:   sink,
		})
		require.NoError(t, err)

		r.tick(context.Background())

		tick, ok := sink.find("scheduler.tick")
		require.True(t, ok)
		assert.Equal(t, "error", tick.tags["result"])
		assert.NotEmpty(t, tick.tags["error_class"])
		_, ok = sink.find("scheduler.last_success_epoch")
		assert.False(t, ok)
	})
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	sched := &fakeScheduler{err: errors.New("transient")}
	r, err := NewRunner(RunnerOptions{Scheduler: sched, Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return sched.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_RunReturnsDeadline(t *testing.T) {
	r, err := NewRunner(RunnerOptions{Scheduler: &fakeScheduler{}, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
}
