package config

import "time"

// QueueConfig holds retry and dedup settings shared by every queue.
type QueueConfig struct {
	// BackoffBase is the first retry delay; each further attempt doubles it.
	BackoffBase time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"2s"`

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"10m"`

	// MaxAttempts is the default attempt budget for a job.
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`

	// BusyDelay re-delays a job whose shop already runs a bulk operation.
	BusyDelay time.Duration `env:"QUEUE_BUSY_DELAY" envDefault:"30s"`

	// PollInterval is the fallback wake-up when no notification arrives.
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`

	// PushDownDebounce is both the dedup window and the start delay of a push-down
	// triggered by a product webhook, so a burst of updates collapses into one run.
	PushDownDebounce time.Duration `env:"QUEUE_PUSH_DOWN_DEBOUNCE" envDefault:"30s"`

	// AutoSortingStagger is the dedup window and delay of each push-down fanned out by
	// the auto-sorting job.
	AutoSortingStagger time.Duration `env:"QUEUE_AUTO_SORTING_STAGGER" envDefault:"4s"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.BackoffBase <= 0 {
		q.BackoffBase = 2 * time.Second
	}
	if q.BackoffMax < q.BackoffBase {
		q.BackoffMax = q.BackoffBase
	}
	if q.MaxAttempts < 1 {
		q.MaxAttempts = 1
	}
	if q.BusyDelay <= 0 {
		q.BusyDelay = 30 * time.Second
	}
	if q.PollInterval <= 0 {
		q.PollInterval = 5 * time.Second
	}
	if q.PushDownDebounce < 0 {
		q.PushDownDebounce = 0
	}
	if q.AutoSortingStagger < 0 {
		q.AutoSortingStagger = 0
	}
}
