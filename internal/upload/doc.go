// Package upload publishes approved jobs exactly once.
//
// Publish serialises callers per job, moves the job from approved to
// uploading with a compare-and-swap, and records the upload start before the
// video host is called. When a previous attempt may have reached the host,
// the host is asked for an existing upload first so a lost response never
// produces a second video.
package upload
