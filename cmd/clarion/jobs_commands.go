package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"clarion/internal/client"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect enhancement jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsCancelCommand(ctx))
	cmd.AddCommand(newJobsClearCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			var statuses []string
			if statusFilter != "" {
				statuses = strings.Split(statusFilter, ",")
			}
			jobs, err := c.Jobs(cmd.Context(), statuses...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Status,
					job.SourceName,
					humanize.IBytes(uint64(job.ByteSize)),
					fmt.Sprintf("%d", job.Attempts),
					job.SubmittedAt,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Source", "Size", "Attempts", "Submitted"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma separated status filter (e.g. queued,running)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := c.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job.Status == "running" {
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation signalled to running job %s\n", job.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
			return nil
		},
	}
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			removed, err := c.ClearJobs(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished jobs\n", removed)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *client.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:        %s\n", job.ID)
	fmt.Fprintf(out, "Status:     %s\n", job.Status)
	fmt.Fprintf(out, "Source:     %s (%s, %s)\n", job.SourceName, job.ContentType, humanize.IBytes(uint64(job.ByteSize)))
	fmt.Fprintf(out, "Submitted:  %s\n", job.SubmittedAt)
	if job.StartedAt != "" {
		fmt.Fprintf(out, "Started:    %s\n", job.StartedAt)
	}
	if job.CompletedAt != "" {
		fmt.Fprintf(out, "Completed:  %s\n", job.CompletedAt)
	}
	if job.Attempts > 0 {
		fmt.Fprintf(out, "Attempts:   %d\n", job.Attempts)
	}
	if job.LastError != "" {
		fmt.Fprintf(out, "Last error: %s (%s)\n", job.LastError, job.ErrorKind)
	}
	if job.OutputArtifactID != "" {
		fmt.Fprintf(out, "Artifact:   %s\n", job.OutputArtifactID)
	}
	if job.DownloadURL != "" {
		fmt.Fprintf(out, "Download:   %s\n", job.DownloadURL)
	}
}
