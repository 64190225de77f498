package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/acme/shelfsort/internal/domain/model"
	"github.com/acme/shelfsort/internal/service"
)

// NewEnqueueCommand creates the enqueue command group.
func NewEnqueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a push-down or auto-sorting job by hand",
	}
	cmd.AddCommand(newEnqueuePushDownCommand(opts))
	cmd.AddCommand(newEnqueueAutoSortingCommand(opts))
	return cmd
}

func newEnqueuePushDownCommand(opts *RootOptions) *cobra.Command {
	var (
		shop       string
		collection string
		window     time.Duration
	)
	cmd := &cobra.Command{
		Use:           "push-down",
		Short:         "Push out-of-stock products of one collection to the end",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			shop = strings.ToLower(strings.TrimSpace(shop))
			if shop == "" || collection == "" {
				return fmt.Errorf("--shop and --collection are required")
			}
			req := service.PushDownJob(shop, collection, service.PushDownDedupPrefix, window)
			return withEnv(cmd, opts, func(ctx context.Context, env *adminEnv) error {
				handle, err := env.Queue.Enqueue(ctx, req)
				if err != nil {
					return err
				}
				return writeHandle(cmd.OutOrStdout(), opts.Format, handle)
			})
		},
	}
	cmd.Flags().StringVar(&shop, "shop", "", "shop domain")
	cmd.Flags().StringVar(&collection, "collection", "", "collection GID")
	cmd.Flags().DurationVar(&window, "window", 0, "dedup window and delay")
	return cmd
}

func newEnqueueAutoSortingCommand(opts *RootOptions) *cobra.Command {
	var shop string
	cmd := &cobra.Command{
		Use:           "auto-sorting",
		Short:         "Re-scan every active collection of a shop",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			shop = strings.ToLower(strings.TrimSpace(shop))
			if shop == "" {
				return fmt.Errorf("--shop is required")
			}
			req := service.EnqueueRequest{
				Queue:   model.QueueAutoSorting,
				Name:    model.JobNameAutoSorting,
				Payload: model.AutoSortingPayload{Shop: shop},
				Options: service.EnqueueOptions{GroupKey: shop},
			}
			return withEnv(cmd, opts, func(ctx context.Context, env *adminEnv) error {
				handle, err := env.Queue.Enqueue(ctx, req)
				if err != nil {
					return err
				}
				return writeHandle(cmd.OutOrStdout(), opts.Format, handle)
			})
		},
	}
	cmd.Flags().StringVar(&shop, "shop", "", "shop domain")
	return cmd
}

func writeHandle(w io.Writer, format string, handle service.JobHandle) error {
	if format == "json" {
		return writeJSON(w, handle)
	}
	state := "enqueued"
	if handle.Duplicated {
		state = "absorbed by live job"
	}
	_, err := fmt.Fprintf(w, "%s %s\n", state, handle.ID)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
