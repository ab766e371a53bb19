// Package watch turns files appearing in the watch folder into jobs.
//
// Watcher wraps fsnotify and reports candidate paths at least once.
// Dispatcher filters them, waits until the file stops growing, fingerprints
// it and creates the job. Duplicate detections of the same content collapse
// into one job through the store's fingerprint key.
package watch
