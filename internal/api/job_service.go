package api

import (
	"context"
	"errors"
	"fmt"

	"vidpilot/internal/jobs"
)

// JobReader abstracts job persistence interactions needed for API queries.
type JobReader interface {
	List(ctx context.Context, states ...jobs.State) ([]*jobs.Job, error)
	Stats(ctx context.Context) (jobs.Stats, error)
	FindByPrefix(ctx context.Context, prefix string) (*jobs.Job, error)
}

// JobService exposes read-only job operations returning API DTOs.
type JobService struct {
	store JobReader
}

// NewJobService constructs a JobService around the provided reader.
func NewJobService(store JobReader) *JobService {
	if store == nil {
		return nil
	}
	return &JobService{store: store}
}

// List returns jobs filtered by state.
func (s *JobService) List(ctx context.Context, states ...jobs.State) ([]Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	list, err := s.store.List(ctx, states...)
	if err != nil {
		return nil, err
	}
	return FromJobs(list), nil
}

// Stats returns job counts keyed by state string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeJobStats(stats), nil
}

// Describe fetches a single job by id or unique id prefix. Unknown ids return
// nil without an error.
func (s *JobService) Describe(ctx context.Context, id string) (*Job, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.FindByPrefix(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// ParseStates converts state names, ignoring blanks. Unknown names are an
// error so typos do not silently match nothing.
func ParseStates(values []string) ([]jobs.State, error) {
	var states []jobs.State
	for _, value := range values {
		if value == "" {
			continue
		}
		state, ok := jobs.ParseState(value)
		if !ok {
			return nil, &UnknownStateError{Value: value}
		}
		states = append(states, state)
	}
	return states, nil
}

// UnknownStateError reports a state name that is not part of the pipeline.
type UnknownStateError struct {
	Value string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown job state %q", e.Value)
}
