// Package stageexec runs one pipeline stage for one job: it resolves the
// source file, calls the stage's collaborator under a timeout and a rate
// limiter, normalises the result, and retries transient failures with capped
// exponential backoff. Retries are counted durably in the job store before
// each retry, so a restart continues the count instead of resetting it.
package stageexec
