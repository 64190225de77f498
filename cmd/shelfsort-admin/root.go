package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/acme/shelfsort/config"
	"github.com/acme/shelfsort/internal/bootstrap"
	"github.com/acme/shelfsort/internal/data"
	"github.com/acme/shelfsort/internal/service"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Timeout time.Duration

	// open connects the queue for commands that need the database.
	open func(ctx context.Context) (*adminEnv, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

const defaultCommandTimeout = 5 * time.Minute

// NewRootCommand creates the root command for shelfsort-admin.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{open: openEnv}

	cmd := &cobra.Command{
		Use:   "shelfsort-admin",
		Short: "Operate the shelfsort push-down pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "command timeout")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewUnscheduleCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))

	return cmd
}

// adminEnv is the database-backed state shared by online commands.
type adminEnv struct {
	Config config.AppConfig
	Logger *slog.Logger
	DB     *sql.DB
	Queue  *service.QueueService
}

func (e *adminEnv) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}

func openEnv(_ context.Context) (*adminEnv, error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := bootstrap.InitLogger(&cfg, false).With("component", "admin")

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	queue, err := service.NewQueueService(service.QueueServiceOptions{
		Repo: data.NewJobRepo(db, data.RepoConfig{
			DefaultMaxAttempts: cfg.Queue.MaxAttempts,
			Logger:             logger,
		}),
		Schedules:    data.NewScheduledJobsAdminRepo(db),
		DefaultLease: 30 * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &adminEnv{Config: cfg, Logger: logger, DB: db, Queue: queue}, nil
}

// withEnv runs fn with a connected environment and a context bounded by --timeout.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, env *adminEnv) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	env, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil && env.Logger != nil {
			env.Logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()
	return fn(ctx, env)
}

func readInput(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
