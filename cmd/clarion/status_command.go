package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and queue occupancy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			running := "stopped"
			if health.Running {
				running = "running"
			}
			fmt.Fprintf(out, "Daemon %s at %s\n", running, health.ListenAddress)
			fmt.Fprintf(out, "Backlog: %d/%d\n", health.Backlog, health.BacklogDepth)

			rows := [][]string{
				{"pending", fmt.Sprintf("%d", health.Jobs.Pending)},
				{"queued", fmt.Sprintf("%d", health.Jobs.Queued)},
				{"running", fmt.Sprintf("%d", health.Jobs.Running)},
				{"completed", fmt.Sprintf("%d", health.Jobs.Completed)},
				{"failed", fmt.Sprintf("%d", health.Jobs.Failed)},
				{"expired", fmt.Sprintf("%d", health.Jobs.Expired)},
			}
			if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				fmt.Fprintln(out, renderTable(
					[]string{"Status", "Jobs"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
			} else {
				for _, row := range rows {
					fmt.Fprintf(out, "%s=%s\n", row[0], row[1])
				}
			}
			return nil
		},
	}
}
