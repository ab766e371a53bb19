package jobs

import "errors"

var (
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists reports a second submission of the same fingerprint.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrConflict reports a compare-and-swap miss: the stored state was not the
	// expected one. Callers re-read the job and decide again.
	ErrConflict = errors.New("job state conflict")
	// ErrInvalidTransition reports an edge that is not part of the state graph.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTerminal reports an operation on a job that already finished.
	ErrTerminal = errors.New("job is terminal")
)
