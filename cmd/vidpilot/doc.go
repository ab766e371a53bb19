// Package main provides the vidpilot command line interface.
//
// The same binary runs the daemon in the foreground (`vidpilot run`) and
// acts as its client. Job commands talk to the daemon HTTP API and fall back
// to the job store when no daemon is listening, so reviews and retries work
// while the daemon is down.
package main
