package failurenotifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/acme/shelfsort/internal/domain/job"
	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// SkipQueues suppresses notifications for failures on these queues.
	SkipQueues []model.QueueName
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	skip   map[string]struct{}
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "failure_notifier")
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	skip := make(map[string]struct{}, len(opts.SkipQueues))
	for _, q := range opts.SkipQueues {
		skip[string(q)] = struct{}{}
	}

	return &Service{
		logger: logger,
		sinks:  sinks,
		skip:   skip,
	}
}

// NotifyJobFailure fan-outs the job failure payload to all sinks.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if len(s.sinks) == 0 {
		return
	}

	if _, ok := s.skip[payload.Queue]; ok {
		s.logger.DebugContext(ctx, "skipping notification for muted queue",
			"job_id", payload.JobID,
			"queue", payload.Queue,
		)
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.Error("failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"queue", payload.Queue,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// HandleEvent adapts a failed job event into a notification. It is registered on the
// event bus for job.EventFailed.
func (s *Service) HandleEvent(ctx context.Context, ev job.Event) {
	if ev.Kind != job.EventFailed {
		return
	}
	s.NotifyJobFailure(ctx, PayloadFromEvent(ev))
}

// PayloadFromEvent builds the notification payload, pulling the shop and collection
// out of the job payload when present.
func PayloadFromEvent(ev job.Event) notify.JobFailurePayload {
	var ref struct {
		Shop         string `json:"shop"`
		CollectionID string `json:"collectionID"`
		ProductID    string `json:"productID"`
	}
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &ref)
	}

	scope := ""
	switch {
	case ref.CollectionID != "":
		scope = "collection:" + ref.CollectionID
	case ref.ProductID != "":
		scope = "product:" + ref.ProductID
	}

	var metadata map[string]string
	if ev.DedupKey != "" {
		metadata = map[string]string{"dedup_key": ev.DedupKey}
	}

	return notify.JobFailurePayload{
		JobID:      ev.JobID,
		Queue:      string(ev.Queue),
		JobName:    ev.JobName,
		Shop:       ref.Shop,
		Scope:      scope,
		Attempts:   ev.Attempts,
		Error:      ev.Err,
		ErrorClass: ev.ErrClass,
		Severity:   notify.SeverityCritical,
		OccurredAt: ev.At,
		Metadata:   metadata,
	}
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}
