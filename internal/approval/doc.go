// Package approval implements the human approval gate between a drafted job
// and its upload.
//
// Requests are projections of the job rebuilt on every send; nothing about a
// pending request is stored except the time it was delivered. Decisions from
// any channel (chat buttons, text commands, the CLI, the HTTP API, the expiry
// sweep) funnel through OnDecision, which is idempotent: the store's
// compare-and-swap on awaiting_approval lets exactly one decision win and
// turns the rest into no-ops.
package approval
