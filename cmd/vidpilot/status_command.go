package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vidpilot/internal/api"
	"vidpilot/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, collaborator and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBackend(cmd, func(c context.Context, b backend) error {
				status, err := b.Status(c)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				renderStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		detail := fmt.Sprintf("running (pid %d, %d workers)", status.PID, status.Workflow.Workers)
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running; showing the job store", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Watch folder", statusInfo, status.WatchFolder, colorize))
	fmt.Fprintln(out, renderStatusLine("Telegram", enabledKind(status.Telegram), yesNo(status.Telegram), colorize))
	fmt.Fprintln(out, renderStatusLine("YouTube", enabledKind(status.YouTube), yesNo(status.YouTube), colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("In flight", statusInfo, inFlightDetail(status.Workflow), colorize))
	}
	if status.Workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
	}

	if len(status.Workflow.StageHealth) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Collaborators", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, health := range status.Workflow.StageHealth {
			kind := statusOK
			detail := health.Detail
			if !health.Ready {
				kind = statusError
			}
			if detail == "" {
				detail = "ready"
			}
			fmt.Fprintln(out, renderStatusLine(health.Name, kind, detail, colorize))
		}
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := jobStatsRows(status.Workflow.JobStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No jobs yet")
		return
	}
	fmt.Fprint(out, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func enabledKind(enabled bool) statusKind {
	if enabled {
		return statusOK
	}
	return statusWarn
}

func inFlightDetail(wf api.WorkflowStatus) string {
	if len(wf.InFlight) == 0 {
		return fmt.Sprintf("idle, %d queued", wf.Queued)
	}
	ids := make([]string, 0, len(wf.InFlight))
	for _, id := range wf.InFlight {
		ids = append(ids, shortID(id))
	}
	return fmt.Sprintf("%s, %d queued", strings.Join(ids, ", "), wf.Queued)
}

// jobStatsRows lists non-zero counts in pipeline order.
func jobStatsRows(stats map[string]int) [][]string {
	var rows [][]string
	for _, state := range jobs.AllStates() {
		count := stats[string(state)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(state), strconv.Itoa(count)})
	}
	return rows
}
