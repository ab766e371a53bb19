package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"vidpilot/internal/api"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit  int
		jobID  string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			client := api.NewClient(ctx.apiAddress(cfg), cfg.Paths.APIToken)
			c := cmd.Context()
			if c == nil {
				c = context.Background()
			}

			resp, err := client.Logs(c, 0, limit, jobID)
			if errors.Is(err, api.ErrDaemonUnavailable) {
				logPath := filepath.Join(cfg.Paths.LogDir, "vidpilot.log")
				fmt.Fprintf(cmd.ErrOrStderr(), "daemon not running; showing %s\n", logPath)
				return tailFile(out, logPath, limit)
			}
			if err != nil {
				return err
			}
			printLogEvents(out, resp.Events)
			if !follow {
				return nil
			}

			cursor := resp.Next
			for {
				batch, err := client.FollowLogs(c, cursor, limit, jobID)
				if err != nil {
					if c.Err() != nil {
						return nil
					}
					return err
				}
				printLogEvents(out, batch.Events)
				cursor = batch.Next
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 50, "Number of events to show")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show events for this job id prefix")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	return cmd
}

func printLogEvents(out io.Writer, events []api.LogEvent) {
	for _, evt := range events {
		fmt.Fprintln(out, formatLogEvent(evt))
	}
}

func formatLogEvent(evt api.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp)
	fmt.Fprintf(&b, " %-5s", evt.Level)
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	if evt.JobID != "" {
		b.WriteString(" " + shortID(evt.JobID))
	}
	if evt.Stage != "" {
		b.WriteString("/" + evt.Stage)
	}
	b.WriteString(" " + evt.Message)
	if len(evt.Fields) > 0 {
		keys := make([]string, 0, len(evt.Fields))
		for key := range evt.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, " %s=%s", key, evt.Fields[key])
		}
	}
	return b.String()
}

// tailFile prints the last n lines of path.
func tailFile(out io.Writer, path string, n int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if n <= 0 {
		n = 50
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	for _, line := range ring {
		fmt.Fprintln(out, line)
	}
	return nil
}
