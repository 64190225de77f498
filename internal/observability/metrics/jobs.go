// Package metrics names the metrics shelfsort emits and the tags they carry.
package metrics

import (
	"maps"
	"strings"
	"time"

	obserrors "github.com/acme/shelfsort/internal/observability/errors"
	"github.com/acme/shelfsort/internal/observability/statsd"
)

// Result tag values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Result picks the result tag for an operation that touched count rows.
func Result(count int64, err error) string {
	switch {
	case err != nil:
		return ResultError
	case count == 0:
		return ResultNoop
	default:
		return ResultSuccess
	}
}

// ResultTags builds {"result": ...} plus an error_class tag for failures.
func ResultTags(count int64, err error) map[string]string {
	tags := map[string]string{"result": Result(count, err)}
	addErrorClass(tags, err)
	return tags
}

func addErrorClass(tags map[string]string, err error) {
	if err == nil {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// JobMetric is one job attempt as seen by a queue worker.
type JobMetric struct {
	Queue      string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle records job.transition and, when timed, job.duration.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"queue":      in.Queue,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Result == ResultError {
		addErrorClass(tags, in.Err)
	}
	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// PushDownMetric summarizes one finished bulk operation.
type PushDownMetric struct {
	Shop       string
	Status     string
	OutOfStock int
	Planned    int
	Applied    int
	Duration   time.Duration
	Err        error
}

// EmitPushDown records bulk_operation.finished and the move counters of a push-down.
func EmitPushDown(sink statsd.Sink, in PushDownMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"status": strings.ToLower(in.Status)}
	addErrorClass(tags, in.Err)
	sink.Count("bulk_operation.finished", 1, tags)
	if in.Duration > 0 {
		sink.Timing("bulk_operation.push_down_duration", in.Duration, CloneTags(tags))
	}

	shop := map[string]string{"shop": in.Shop}
	sink.Gauge("push_down.out_of_stock", float64(in.OutOfStock), shop)
	if in.Planned > 0 {
		sink.Count("push_down.moves_planned", int64(in.Planned), CloneTags(shop))
	}
	if in.Applied > 0 {
		sink.Count("push_down.moves_applied", int64(in.Applied), CloneTags(shop))
	}
}

// CloneTags copies a tag map so sinks can hold on to it. Returns nil for an empty map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
