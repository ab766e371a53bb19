// Package workflow drives jobs through the pipeline.
//
// The Manager owns a bounded worker pool fed by Submit and by a periodic
// sweep of resumable jobs. A worker claims the job's lease, then loops: it
// re-reads the job, runs the stage for its current state (or skips it when
// the output is already recorded), and applies the transition with a
// compare-and-swap. Conflicts are resolved by re-reading and continuing from
// whatever state the job is now in. Jobs waiting for approval hold no worker;
// the approval gateway pokes the manager once a decision arrives.
//
// Cancelling a job a worker holds never interrupts the collaborator call in
// progress. The worker notices the durable flag once the call returns and
// fails the job with reason "cancelled".
//
// Per-job log files live under <log_dir>/jobs so a single job's history can
// be read in isolation, and job lifecycle events are forwarded to the push
// notifier.
package workflow
