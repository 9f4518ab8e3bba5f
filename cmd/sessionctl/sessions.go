package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lead-engine/internal/job"
)

func newSessionsCommand(factory appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and repair sessions",
	}
	cmd.AddCommand(newSessionsStuckCommand(factory))
	cmd.AddCommand(newSessionsSweepCommand(factory))
	return cmd
}

func newSessionsStuckCommand(factory appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stuck",
		Short: "List sessions in PENDING or PROCESSING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, true, func(a *app) error {
				sweeper := job.NewRecoverySweeper(a.store, nil, job.SweeperOptions{})
				sessions, err := sweeper.Stuck(cmd.Context())
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					fmt.Fprintln(a.out, "No stuck sessions")
					return nil
				}

				t := newTable(a)
				t.AppendHeader(table.Row{"Kind", "ID", "Status", "Cursor", "Total", "Job", "Created", "Age"})
				for _, s := range sessions {
					jobID := "-"
					if s.JobID != nil {
						jobID = *s.JobID
					}
					t.AppendRow(table.Row{
						s.Kind, s.ID, s.Status, s.LastProcessedIndex, s.TotalLeads, jobID,
						s.CreatedAt.UTC().Format(time.RFC3339),
						time.Since(s.CreatedAt).Round(time.Second),
					})
				}
				t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(sessions)})
				t.Render()
				return nil
			})
		},
	}
}

func newSessionsSweepCommand(factory appFactory) *cobra.Command {
	var verifyJobs bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Force every stuck session to CANCELLED",
		Long: `Force every session in PENDING or PROCESSING to CANCELLED.

By default the sweep is blunt and assumes no worker is running. With
--verify-jobs a session whose queue job is still waiting, or active under
an unexpired lease, is left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, factory, true, func(a *app) error {
				var liveness job.JobLivenessLookup
				if verifyJobs {
					hunt, audit := a.huntAndAuditQueues()
					liveness = job.NewQueueLiveness(a.queues, hunt, audit)
				}
				sweeper := job.NewRecoverySweeper(a.store, liveness, job.SweeperOptions{VerifyJobLiveness: verifyJobs})

				results, err := sweeper.Sweep(cmd.Context())

				t := newTable(a)
				t.AppendHeader(table.Row{"Kind", "Scanned", "Cancelled", "Skipped (terminal)", "Skipped (live)"})
				for _, r := range results {
					t.AppendRow(table.Row{r.Kind, r.Scanned, r.Cancelled, r.SkippedTerminal, r.SkippedLive})
				}
				t.Render()
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&verifyJobs, "verify-jobs", false, "skip sessions whose queue job is waiting or holds a live lease")
	return cmd
}

func (a *app) huntAndAuditQueues() (string, string) {
	if a.cfg != nil {
		return a.cfg.Queue.HuntQueue, a.cfg.Queue.AuditQueue
	}
	return "lead-hunt", "lead-audit"
}

func newTable(a *app) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.SetStyle(table.StyleLight)
	return t
}
