// Package notifications delivers push notifications about finished jobs to
// an ntfy topic.
//
// Only outcomes a human cares about are sent: a video went live, a job
// failed, a batch of work finished. Approval requests travel over the
// messaging channel instead.
package notifications
