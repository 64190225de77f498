package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/acme/shelfsort/internal/domain"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the webhook receiver and admin API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the queue workers.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeScheduler fires cron schedules into the queues.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the job reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeWorker,
		ServiceModeScheduler,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-separated list such as "http, worker". Blank entries are
// skipped; unknown names and an empty result are errors.
func ParseServices(list string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)
	for _, part := range strings.Split(list, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		if !slices.Contains(ValidServiceModes(), mode) {
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker, scheduler, reaper)", name)
		}
		services[mode] = true
	}
	if len(services) == 0 {
		return nil, errors.New("at least one service must be specified")
	}
	return services, nil
}

// WorkerConfig tunes one queue's workers.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed in parallel.
	Concurrency int `env:"CONCURRENCY"`
	// LockDuration is the job lease; heartbeats renew it at half this interval.
	LockDuration time.Duration `env:"LOCK_DURATION"`
	// GroupRateMax caps jobs per group key per GroupRateWindow. Zero disables the limit.
	GroupRateMax int `env:"GROUP_RATE_MAX"`
	// GroupRateWindow is the group rate limit window.
	GroupRateWindow time.Duration `env:"GROUP_RATE_WINDOW"`
}

func (w *WorkerConfig) sanitize(defaults WorkerConfig) {
	if w.Concurrency < 1 {
		w.Concurrency = defaults.Concurrency
	}
	if w.LockDuration < 5*time.Second {
		w.LockDuration = defaults.LockDuration
	}
	if w.GroupRateMax < 0 {
		w.GroupRateMax = 0
	}
	if w.GroupRateMax > 0 && w.GroupRateWindow <= 0 {
		w.GroupRateWindow = time.Second
	}
}

// WorkersConfig holds per-queue worker settings.
type WorkersConfig struct {
	AutoSorting WorkerConfig `envPrefix:"WORKER_AUTO_SORTING_"`
	// PushDown defaults to one bulk operation per shop per second; the upstream allows
	// only one running bulk query per shop.
	PushDown    WorkerConfig `envPrefix:"WORKER_PUSH_DOWN_"`
	HideProduct WorkerConfig `envPrefix:"WORKER_HIDE_PRODUCT_"`
}

// Sanitize applies per-queue defaults.
func (w *WorkersConfig) Sanitize() {
	w.AutoSorting.sanitize(WorkerConfig{Concurrency: 2, LockDuration: 30 * time.Second})
	if w.PushDown.GroupRateMax == 0 && w.PushDown.GroupRateWindow == 0 {
		w.PushDown.GroupRateMax = 1
		w.PushDown.GroupRateWindow = time.Second
	}
	w.PushDown.sanitize(WorkerConfig{Concurrency: 4, LockDuration: 2 * time.Minute})
	w.HideProduct.sanitize(WorkerConfig{Concurrency: 2, LockDuration: 30 * time.Second})
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// BatchSize is the maximum number of due schedules fired per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"25"`

	// OverrunPolicy determines what a firing does while the previous run is unfinished.
	// Valid values: skip, queue, reschedule
	OverrunPolicy domain.OverrunPolicy `env:"SCHEDULER_OVERRUN" envDefault:"skip"`

	// RetryDelay is how soon a rescheduled firing is retried.
	RetryDelay time.Duration `env:"SCHEDULER_RETRY_DELAY" envDefault:"1m"`

	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1s"`

	// ShopCron is the per-shop auto-sorting pattern.
	ShopCron string `env:"SCHEDULER_SHOP_CRON" envDefault:"0 * * * *"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if !s.OverrunPolicy.Valid() {
		s.OverrunPolicy = domain.OverrunPolicySkip
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = time.Minute
	}
	if s.Interval <= 0 {
		s.Interval = time.Second
	}
	if strings.TrimSpace(s.ShopCron) == "" {
		s.ShopCron = "0 * * * *"
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"6h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"30m"`

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"24h"`

	// BulkOperationMaxAge is how long a bulk operation may stay CREATED or RUNNING before
	// it is marked as failed.
	BulkOperationMaxAge time.Duration `env:"REAPER_BULK_OPERATION_MAX_AGE" envDefault:"24h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < time.Minute {
		r.CompletedMaxAge = time.Minute
	}
	if r.FailedMaxAge < time.Hour {
		r.FailedMaxAge = time.Hour
	}
	if r.BulkOperationMaxAge < time.Hour {
		r.BulkOperationMaxAge = time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
