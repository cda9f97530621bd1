package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var output string

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload an audio file for enhancement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			result, err := c.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case result.CacheHit:
				fmt.Fprintf(out, "Already enhanced (job %s, artifact %s)\n", result.JobID, result.ArtifactID)
			case result.Deduplicated:
				fmt.Fprintf(out, "Identical upload already in flight, joined job %s\n", result.JobID)
			default:
				fmt.Fprintf(out, "Submitted job %s\n", result.JobID)
			}

			artifactID := result.ArtifactID
			if wait && artifactID == "" {
				fmt.Fprintln(out, "Waiting for enhancement to finish...")
				job, err := c.WaitForJob(cmd.Context(), result.JobID, time.Second)
				if err != nil {
					return err
				}
				if job.Status != "completed" {
					return fmt.Errorf("job %s ended %s: %s", job.ID, job.Status, job.LastError)
				}
				artifactID = job.OutputArtifactID
				fmt.Fprintf(out, "Job %s completed\n", job.ID)
			}

			if output != "" {
				if artifactID == "" {
					return errors.New("--output requires --wait (or a cached result)")
				}
				if err := c.Download(cmd.Context(), artifactID, output); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved %s\n", output)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the job settles")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Download the enhanced artifact to this path")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <artifact-id>",
		Short: "Download an enhanced artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			dest := output
			if dest == "" {
				dest = filepath.Base(strings.TrimSpace(args[0]))
			}
			if err := c.Download(cmd.Context(), args[0], dest); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path")
	return cmd
}

func newFormatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported upload formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}
			formats, err := c.Formats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Supported formats: %s\n", strings.Join(formats.SupportedFormats, ", "))
			fmt.Fprintf(out, "Upload limit: %s\n", humanize.IBytes(uint64(formats.MaxUploadBytes)))
			return nil
		},
	}
}
