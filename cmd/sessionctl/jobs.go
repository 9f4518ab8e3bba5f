package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lead-engine/internal/models"
)

func newJobsCommand(factory appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and fail queue jobs",
	}
	cmd.AddCommand(newJobsActiveCommand(factory))
	cmd.AddCommand(newJobsFailCommand(factory))
	return cmd
}

func newJobsActiveCommand(factory appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "active <queue>",
		Short: "List the jobs a worker currently holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, false, func(a *app) error {
				q, err := a.knownQueue(args[0])
				if err != nil {
					return err
				}
				jobs, err := q.GetActive(cmd.Context())
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintf(a.out, "No active jobs in %s\n", q.Name())
					return nil
				}

				t := newTable(a)
				t.AppendHeader(table.Row{"Job", "Session", "Kind", "Attempts", "Claimed", "Running for"})
				for _, j := range jobs {
					var payload models.JobPayload
					session, kind := "?", "?"
					if err := j.Decode(&payload); err == nil {
						session, kind = payload.SessionID, string(payload.Kind)
					}
					claimed, running := "-", "-"
					if !j.ProcessedAt.IsZero() {
						claimed = j.ProcessedAt.UTC().Format(time.RFC3339)
						running = time.Since(j.ProcessedAt).Round(time.Second).String()
					}
					t.AppendRow(table.Row{j.ID, session, kind, j.Attempts, claimed, running})
				}
				t.Render()
				return nil
			})
		},
	}
}

func newJobsFailCommand(factory appFactory) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <queue> <job-id>",
		Short: "Fail a job so its worker stops before the next unit",
		Long: `Fail a waiting or active job.

A hunt worker treats its job turning failed as a cancellation and finalizes
the session CANCELLED before its next unit. An audit worker does the same.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, factory, false, func(a *app) error {
				q, err := a.knownQueue(args[0])
				if err != nil {
					return err
				}
				j, err := q.GetJob(cmd.Context(), args[1])
				if err != nil {
					return fmt.Errorf("job %s: %w", args[1], err)
				}
				if err := j.Fail(cmd.Context(), reason); err != nil {
					return fmt.Errorf("job %s: %w", j.ID, err)
				}
				fmt.Fprintf(a.out, "Job %s in %s marked failed\n", j.ID, q.Name())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "failure reason recorded on the job")
	return cmd
}
