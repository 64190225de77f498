package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/service"
)

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(opts *RootOptions) *cobra.Command {
	var cronPattern string
	cmd := &cobra.Command{
		Use:           "schedule <shop>",
		Short:         "Create or replace the recurring auto-sorting schedule of a shop",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := service.AutoSortingSchedule(strings.ToLower(args[0]), cronPattern)
			if err != nil {
				return err
			}
			return withEnv(cmd, opts, func(ctx context.Context, env *adminEnv) error {
				changed, err := env.Queue.Schedule(ctx, req)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"shop": req.Key, "cron": req.CronPattern, "changed": changed,
					})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s at %q (changed=%t)\n", req.Key, req.CronPattern, changed)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&cronPattern, "cron", service.DefaultShopCron, "cron pattern")
	return cmd
}

// NewUnscheduleCommand creates the unschedule command.
func NewUnscheduleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "unschedule <shop>",
		Short:         "Remove the recurring auto-sorting schedule of a shop",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			shop := strings.ToLower(strings.TrimSpace(args[0]))
			return withEnv(cmd, opts, func(ctx context.Context, env *adminEnv) error {
				removed, err := env.Queue.Unschedule(ctx, model.QueueAutoSorting, shop)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"shop": shop, "removed": removed})
				}
				if !removed {
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "no schedule for %s\n", shop)
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "unscheduled %s\n", shop)
				return err
			})
		},
	}
}
