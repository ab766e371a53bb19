package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vidpilot/internal/api"
	"vidpilot/internal/approval"
	"vidpilot/internal/jobs"
	"vidpilot/internal/textutil"
)

const listTitleWidth = 48

func shortID(id string) string {
	return textutil.ShortID(id, approval.ShortIDLength)
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				list, err := b.ListJobs(c, states)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: list})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderJobTable(list, shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&states, "state", "s", nil, "Only show jobs in these states (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderJobTable(list []api.Job, colorize bool) string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		title := job.Title
		if title == "" {
			title = filepath.Base(job.SourcePath)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			colorState(job.State, colorize),
			textutil.Truncate(title, listTitleWidth),
			job.UpdatedAt,
		})
	}
	return renderTable([]string{"ID", "State", "Title", "Updated"}, rows, nil)
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job, identified by its id or an unambiguous prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				job, err := b.GetJob(c, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobResponse{Job: *job})
				}
				renderJobDetail(cmd.OutOrStdout(), *job, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderJobDetail(out io.Writer, job api.Job, colorize bool) {
	field := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(out, "%-14s %s\n", label+":", value)
	}
	field("ID", job.ID)
	field("State", colorState(job.State, colorize))
	field("Source", job.SourcePath)
	field("Created", job.CreatedAt)
	field("Updated", job.UpdatedAt)
	field("Stages", strings.Join(job.Stages, ", "))
	if len(job.Attempts) > 0 {
		parts := make([]string, 0, len(job.Attempts))
		for _, name := range job.Stages {
			if n, ok := job.Attempts[name]; ok {
				parts = append(parts, name+"="+strconv.Itoa(n))
			}
		}
		field("Attempts", strings.Join(parts, " "))
	}
	if job.Title != "" {
		fmt.Fprintln(out)
		field("Title", job.Title)
		field("Privacy", job.Privacy)
		field("Tags", strings.Join(job.Tags, ", "))
		field("Thumbnail", job.ThumbnailPath)
		if job.MetadataRev > 1 {
			field("Revision", fmt.Sprintf("%d (edited: %s)", job.MetadataRev, strings.Join(job.EditedFields, ", ")))
		}
		if job.Description != "" {
			fmt.Fprintln(out, "Description:")
			for _, line := range strings.Split(job.Description, "\n") {
				fmt.Fprintln(out, "  "+line)
			}
		}
	}
	if job.Approval != nil {
		fmt.Fprintln(out)
		field("Decision", fmt.Sprintf("%s by %s at %s", job.Approval.Decision, job.Approval.DecidedBy, job.Approval.DecidedAt))
	}
	if job.Result != nil {
		field("Video", job.Result.VideoURL)
		field("Published", job.Result.PublishedAt)
	}
	if job.FailureReason != "" {
		fmt.Fprintln(out)
		field("Failed stage", job.FailedStage)
		field("Reason", job.FailureReason)
	}
	if job.CancelRequested {
		field("Cancel", "requested")
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		title       string
		description string
		tags        []string
		privacy     string
		yes         bool
	)
	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Submit a video file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve %s: %w", args[0], err)
			}
			req := api.SubmitRequest{
				Path:         path,
				Title:        strings.TrimSpace(title),
				Description:  description,
				Tags:         tags,
				Privacy:      strings.TrimSpace(privacy),
				SkipApproval: yes,
			}
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				resp, err := b.Submit(c, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Created {
					fmt.Fprintf(out, "Created job %s\n", shortID(resp.ID))
				} else {
					fmt.Fprintf(out, "Already tracked as job %s\n", shortID(resp.ID))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Use this title instead of the generated one")
	cmd.Flags().StringVar(&description, "description", "", "Use this description instead of the generated one")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Comma separated tags replacing the generated ones")
	cmd.Flags().StringVar(&privacy, "privacy", "", "Privacy status: public, unlisted or private")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Publish without waiting for approval")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Resubmit a failed job; completed stages are not repeated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				job, err := b.Retry(c, args[0])
				if err != nil {
					return describeJobError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s resubmitted (%s)\n", shortID(job.ID), job.State)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				job, err := b.Cancel(c, args[0])
				if err != nil {
					return describeJobError(err, args[0])
				}
				out := cmd.OutOrStdout()
				if job.State == string(jobs.StateFailed) {
					fmt.Fprintf(out, "Job %s cancelled\n", shortID(job.ID))
				} else {
					fmt.Fprintf(out, "Cancellation requested for job %s; it stops after the current step\n", shortID(job.ID))
				}
				return nil
			})
		},
	}
}

func describeJobError(err error, id string) error {
	if api.IsNotFound(err) || errors.Is(err, errJobNotFound) {
		return fmt.Errorf("job %s not found", id)
	}
	return err
}
