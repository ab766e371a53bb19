// Package jobs persists video jobs in SQLite and exposes the only API allowed
// to mutate them.
//
// A job is keyed by the content fingerprint of its source video, so the same
// bytes submitted twice (renamed, copied) resolve to one record. State moves
// along a fixed graph (see allowedTransitions) through compare-and-swap
// updates: every mutating call names the state it expects and fails with
// ErrConflict when another writer got there first. Stage outputs are
// insert-if-absent; approval edits append revisions instead of rewriting the
// original output. Attempt counters live in their own table and are
// incremented before each retry so a crash never resets them.
//
// Schema changes bump the version in schema.go; users remove the database to
// adopt the new schema.
package jobs
