package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/acme/shelfsort/internal/domain/model"
)

// NewJobsCommand creates the jobs command group.
func NewJobsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the durable job queues",
	}
	cmd.AddCommand(newJobsListCommand(opts))
	cmd.AddCommand(newJobsStatsCommand(opts))
	return cmd
}

func newJobsListCommand(opts *RootOptions) *cobra.Command {
	var (
		queue  string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List recent jobs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := jobListOptions(queue, status, limit)
			if err != nil {
				return err
			}
			return withEnv(cmd, opts, func(ctx context.Context, env *adminEnv) error {
				jobs, err := env.Queue.List(ctx, list)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), jobs)
				}
				return writeJobTable(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "filter by queue")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|running|completed|failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to list")
	return cmd
}

func jobListOptions(queue, status string, limit int) (*model.JobListOptions, error) {
	opts := &model.JobListOptions{Limit: limit}
	if queue != "" {
		q := model.QueueName(queue)
		if !q.Valid() {
			return nil, fmt.Errorf("unknown queue %q: must be one of %v", queue, model.AllQueues())
		}
		opts.Queue = &q
	}
	if status != "" {
		s := model.JobStatus(status)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", status)
		}
		opts.Status = &s
	}
	return opts, nil
}

func writeJobTable(w io.Writer, jobs []*model.Job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tQUEUE\tNAME\tSTATUS\tATTEMPTS\tSCHEDULED\tLAST ERROR"); err != nil {
		return err
	}
	for _, job := range jobs {
		lastErr := ""
		if job.LastError != nil {
			lastErr = *job.LastError
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID, job.Queue, job.Name, job.Status, job.RetryCount, job.MaxRetries,
			job.ScheduledAt.UTC().Format(time.RFC3339), lastErr); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func newJobsStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show job counts per queue and status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, opts, func(ctx context.Context, env *adminEnv) error {
				stats := make(map[model.QueueName]*model.JobStats, len(model.AllQueues()))
				for _, q := range model.AllQueues() {
					s, err := env.Queue.Stats(ctx, q)
					if err != nil {
						return err
					}
					stats[q] = s
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), stats)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				if _, err := fmt.Fprintln(tw, "QUEUE\tPENDING\tRUNNING\tCOMPLETED\tFAILED"); err != nil {
					return err
				}
				for _, q := range model.AllQueues() {
					s := stats[q]
					if _, err := fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", q, s.Pending, s.Running, s.Completed, s.Failed); err != nil {
						return err
					}
				}
				return tw.Flush()
			})
		},
	}
}
