// Package api defines the wire-format types shared by the daemon's HTTP API
// and the CLI. It translates jobs, workflow status and log events into
// transport-friendly DTOs so clients never couple to internal types.
//
// # Key Types
//
// Job: transport representation of a pipeline job with its effective
// metadata, thumbnail, approval record and final result.
//
// WorkflowStatus / DaemonStatus: orchestrator state, per-state job counts and
// collaborator health.
//
// LogEvent / LogStreamResponse: structured log payloads for tailing.
//
// # Converters
//
// FromJob: jobs.Job -> Job, decoding the metadata and thumbnail outputs.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus with stage
// health in deterministic order.
//
// # Client
//
// Client talks to a running daemon over HTTP. ErrDaemonUnavailable tells
// callers to fall back to opening the job store directly.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
