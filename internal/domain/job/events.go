package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/acme/shelfsort/internal/domain/model"
)

// EventKind enumerates queue lifecycle events.
type EventKind string

const (
	// EventCompleted fires after a handler succeeded and the job was marked completed.
	EventCompleted EventKind = "completed"
	// EventFailed fires when a job reaches the failed state and will not be retried.
	EventFailed EventKind = "failed"
	// EventDuplicated fires when an enqueue was absorbed by an existing job with the same dedup key.
	EventDuplicated EventKind = "duplicated"
)

// Event describes one lifecycle transition of a job.
type Event struct {
	Kind     EventKind
	Queue    model.QueueName
	JobID    string
	JobName  string
	DedupKey string
	Payload  json.RawMessage
	Result   json.RawMessage
	Err      string
	ErrClass string
	Attempts int
	At       time.Time
}

// EventHandler reacts to a single event. Handlers run on the dispatch goroutine and
// should return quickly.
type EventHandler func(ctx context.Context, ev Event)

// Publisher accepts events for asynchronous dispatch.
type Publisher interface {
	Publish(ev Event) bool
}

// EventBusOptions configures an EventBus. Handlers are fixed at construction.
type EventBusOptions struct {
	Handlers map[EventKind][]EventHandler
	Buffer   int
	Logger   *slog.Logger
}

// EventBus fans events from producers to handlers through a buffered channel and a
// single dispatch loop.
type EventBus struct {
	events   chan Event
	handlers map[EventKind][]EventHandler
	logger   *slog.Logger
	dropped  atomic.Int64
}

// NewEventBus constructs an EventBus. Call Run to start dispatching.
func NewEventBus(opts EventBusOptions) *EventBus {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handlers := make(map[EventKind][]EventHandler, len(opts.Handlers))
	for kind, hs := range opts.Handlers {
		handlers[kind] = append([]EventHandler(nil), hs...)
	}
	return &EventBus{
		events:   make(chan Event, buffer),
		handlers: handlers,
		logger:   logger.With("component", "job_events"),
	}
}

// Publish enqueues ev without blocking. It returns false and counts a drop when the
// buffer is full.
func (b *EventBus) Publish(ev Event) bool {
	if b == nil {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case b.events <- ev:
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event",
			"kind", ev.Kind, "queue", ev.Queue, "job_id", ev.JobID)
		return false
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Run dispatches events until ctx is canceled, then drains what is already buffered.
func (b *EventBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *EventBus) drain() {
	ctx := context.Background()
	for {
		select {
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (b *EventBus) dispatch(ctx context.Context, ev Event) {
	for _, h := range b.handlers[ev.Kind] {
		b.invoke(ctx, h, ev)
	}
}

func (b *EventBus) invoke(ctx context.Context, h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", ev.Kind, "job_id", ev.JobID, "panic", r)
		}
	}()
	h(ctx, ev)
}

var _ Publisher = (*EventBus)(nil)
