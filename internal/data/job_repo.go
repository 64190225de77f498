package data

import (
	"database/sql"
	"errors"
	"log/slog"
	"strings"
)

// ErrJobNotFound is returned when a job is not found.
var ErrJobNotFound = errors.New("job not found")

// defaultMaxAttempts applies when a request leaves MaxRetries at zero.
const defaultMaxAttempts = 2

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	DefaultMaxAttempts int
	Logger             *slog.Logger
	TimeProvider       TimeProvider
}

// JobRepo provides database operations for the durable queues.
type JobRepo struct {
	DB           *sql.DB
	cfg          RepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = defaultMaxAttempts
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: timeProviderOrDefault(cfg.TimeProvider),
		logger:       cfg.Logger,
	}
}

var jobColumnList = []string{
	"id",
	"queue",
	"name",
	"status",
	"priority",
	"payload",
	"metadata",
	"result",
	"dedup_key",
	"dedup_expires_at",
	"group_key",
	"scheduled_at",
	"started_at",
	"completed_at",
	"retry_count",
	"max_retries",
	"last_error",
	"lease_expires_at",
	"created_at",
	"updated_at",
}

var jobColumns = strings.Join(jobColumnList, ", ")

// prefixedJobColumns qualifies every job column with a table alias.
func prefixedJobColumns(alias string) string {
	cols := make([]string, len(jobColumnList))
	for i, c := range jobColumnList {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func notifyChannel(queue string) string {
	return "job_added_" + queue
}
