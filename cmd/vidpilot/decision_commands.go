package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vidpilot/internal/api"
)

func newDecisionCommands(ctx *commandContext) []*cobra.Command {
	var approveBy string
	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a job awaiting review so it gets published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				resp, err := b.Approve(c, args[0], reviewer(approveBy))
				if err != nil {
					return describeJobError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s approved\n", shortID(resp.JobID))
				return nil
			})
		},
	}
	approveCmd.Flags().StringVar(&approveBy, "by", "", "Reviewer name recorded with the decision")

	var rejectBy string
	rejectCmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a job awaiting review; it is never published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				resp, err := b.Reject(c, args[0], reviewer(rejectBy))
				if err != nil {
					return describeJobError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s rejected\n", shortID(resp.JobID))
				return nil
			})
		},
	}
	rejectCmd.Flags().StringVar(&rejectBy, "by", "", "Reviewer name recorded with the decision")

	var editBy string
	editCmd := &cobra.Command{
		Use:   "edit <id> <field> <value...>",
		Short: "Change title, description, tags or privacy of a job awaiting review",
		Long: "Edits create a new metadata revision and re-send the review request.\n" +
			"Tags are given as one comma separated value.",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.EditRequest{
				Field:     args[1],
				Value:     strings.Join(args[2:], " "),
				DecidedBy: reviewer(editBy),
			}
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				resp, err := b.Edit(c, args[0], req)
				if err != nil {
					return describeJobError(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s %s updated\n", shortID(resp.JobID), strings.ToLower(req.Field))
				return nil
			})
		},
	}
	editCmd.Flags().StringVar(&editBy, "by", "", "Reviewer name recorded with the edit")

	return []*cobra.Command{approveCmd, rejectCmd, editCmd}
}

func reviewer(flag string) string {
	if name := strings.TrimSpace(flag); name != "" {
		return name
	}
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return "cli:" + user
	}
	return "cli"
}
