package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lead-engine/internal/queue"
)

func newQueuesCommand(factory appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Inspect, drain and clear the durable queues",
	}
	cmd.AddCommand(newQueuesStatsCommand(factory))
	cmd.AddCommand(newQueuesDrainCommand(factory))
	cmd.AddCommand(newQueuesResumeCommand(factory))
	cmd.AddCommand(newQueuesClearCommand(factory))
	return cmd
}

func newQueuesStatsCommand(factory appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, false, func(a *app) error {
				t := newTable(a)
				t.AppendHeader(table.Row{"Queue", "Waiting", "Active", "Completed", "Failed", "Paused"})
				for _, name := range a.queueNames() {
					c, err := a.queues.Queue(name).Counts(cmd.Context())
					if err != nil {
						return err
					}
					t.AppendRow(table.Row{name, c.Waiting, c.Active, c.Completed, c.Failed, c.Paused})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newQueuesDrainCommand(factory appFactory) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "drain <queue>",
		Short: "Pause a queue, drop its waiting jobs and wait for active ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, false, func(a *app) error {
				q, err := a.knownQueue(args[0])
				if err != nil {
					return err
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				dropped, err := q.Drain(ctx)
				fmt.Fprintf(a.out, "Dropped %d waiting jobs from %s\n", dropped, q.Name())
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("active jobs still running after %s; the queue stays paused", timeout)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Queue %s is drained and paused\n", q.Name())
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for active jobs")
	return cmd
}

func newQueuesResumeCommand(factory appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <queue>",
		Short: "Resume a paused queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, false, func(a *app) error {
				q, err := a.knownQueue(args[0])
				if err != nil {
					return err
				}
				if err := q.Resume(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Queue %s resumed\n", q.Name())
				return nil
			})
		},
	}
}

func newQueuesClearCommand(factory appFactory) *cobra.Command {
	var force, yes bool

	cmd := &cobra.Command{
		Use:   "clear <queue>",
		Short: "Delete every key of a queue",
		Long: `Delete every key of a queue, including job history.

Refuses while jobs are active unless --force is given. Always requires --yes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear %s without --yes", args[0])
			}
			return withApp(cmd, factory, false, func(a *app) error {
				q, err := a.knownQueue(args[0])
				if err != nil {
					return err
				}
				deleted, err := q.Obliterate(cmd.Context(), force)
				if errors.Is(err, queue.ErrQueueHasActiveJobs) {
					return fmt.Errorf("%s has active jobs; pass --force to clear anyway", q.Name())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted %d keys of %s\n", deleted, q.Name())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "clear even while jobs are active")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}
