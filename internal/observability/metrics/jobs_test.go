package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/acme/shelfsort/internal/errors"
)

type recordedMetric struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type recordingSink struct {
	mu      sync.Mutex
	metrics []recordedMetric
}

func (s *recordingSink) add(kind, name string, v float64, tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, recordedMetric{kind: kind, name: name, value: v, tags: tags})
}

func (s *recordingSink) Count(name string, v int64, tags map[string]string) {
	s.add("c", name, float64(v), tags)
}

func (s *recordingSink) Gauge(name string, v float64, tags map[string]string) {
	s.add("g", name, v, tags)
}

func (s *recordingSink) Timing(name string, v time.Duration, tags map[string]string) {
	s.add("ms", name, float64(v.Milliseconds()), tags)
}

func (s *recordingSink) names() []string {
	out := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		out[i] = m.name
	}
	return out
}

func TestResult(t *testing.T) {
	assert.Equal(t, ResultNoop, Result(0, nil))
	assert.Equal(t, ResultSuccess, Result(3, nil))
	assert.Equal(t, ResultError, Result(3, errors.New("boom")))

	tags := ResultTags(0, apperrors.NotFound("job not found"))
	assert.Equal(t, map[string]string{"result": ResultError, "error_class": "not_found"}, tags)
}

func TestEmitJobLifecycle(t *testing.T) {
	EmitJobLifecycle(nil, JobMetric{Queue: "bulk-operation"})

	sink := &recordingSink{}
	EmitJobLifecycle(sink, JobMetric{
		Queue:      "bulk-operation",
		Transition: "failed",
		Result:     ResultError,
		Duration:   40 * time.Millisecond,
		Err:        errors.New("boom"),
	})

	assert.Equal(t, []string{"job.transition", "job.duration"}, sink.names())
	tags := sink.metrics[0].tags
	assert.Equal(t, "bulk-operation", tags["queue"])
	assert.Equal(t, "errors_errorstring", tags["error_class"])
	assert.Equal(t, float64(40), sink.metrics[1].value)
}

func TestEmitPushDown(t *testing.T) {
	sink := &recordingSink{}
	EmitPushDown(sink, PushDownMetric{
		Shop:       "s1",
		Status:     "COMPLETED",
		OutOfStock: 2,
		Planned:    2,
		Applied:    2,
		Duration:   time.Second,
	})

	assert.Equal(t, []string{
		"bulk_operation.finished",
		"bulk_operation.push_down_duration",
		"push_down.out_of_stock",
		"push_down.moves_planned",
		"push_down.moves_applied",
	}, sink.names())
	assert.Equal(t, "completed", sink.metrics[0].tags["status"])
	assert.Equal(t, "s1", sink.metrics[4].tags["shop"])

	sink = &recordingSink{}
	EmitPushDown(sink, PushDownMetric{Shop: "s1", Status: "FAILED", Err: errors.New("x")})
	assert.Equal(t, []string{"bulk_operation.finished", "push_down.out_of_stock"}, sink.names())
}

func TestCloneTags(t *testing.T) {
	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1"}
	cp := CloneTags(src)
	cp["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
