// Package daemon coordinates the long-running vidpilot process.
//
// It wires the job store, the workflow manager, the watch folder, the
// Telegram poller and the HTTP API into a single lifecycle with flock-based
// locking to prevent multiple instances. The HTTP API (chi) exposes job
// listing, submission and the approve/reject/edit/retry/cancel actions, a
// websocket stream of job events and a tail of recent log events.
//
// Keep orchestration logic here: pipeline behaviour lives in workflow,
// approval and upload while the daemon focuses on startup, shutdown and
// routing requests to them.
package daemon
