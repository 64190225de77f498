// Package notify defines the job failure notification payload and the HTTP delivery shared
// by the Slack and PagerDuty sinks.
package notify

import (
	"cmp"
	"context"
	"time"
)

// Severity values understood by the sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload describes a job that exhausted its attempts or failed permanently.
// Scope names the affected resource, e.g. "collection:42" for a push-down.
type JobFailurePayload struct {
	JobID      string
	Queue      string
	JobName    string
	Shop       string
	Scope      string
	Attempts   int
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// SeverityOrDefault returns the payload severity, critical when unset.
func (p JobFailurePayload) SeverityOrDefault() string {
	return cmp.Or(p.Severity, SeverityCritical)
}

// Timestamp returns OccurredAt in UTC, or now when unset.
func (p JobFailurePayload) Timestamp() time.Time {
	if p.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return p.OccurredAt.UTC()
}

// Kind renders queue/name, collapsing the two when one is missing or they match.
func (p JobFailurePayload) Kind() string {
	switch {
	case p.Queue == "" || p.Queue == p.JobName:
		return p.JobName
	case p.JobName == "":
		return p.Queue
	default:
		return p.Queue + "/" + p.JobName
	}
}

// Sink delivers job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure calls f.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
