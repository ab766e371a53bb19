package api

import (
	"context"
	"fmt"
	"testing"

	"vidpilot/internal/jobs"
)

type jobStoreStub struct {
	jobs []*jobs.Job
}

func (s *jobStoreStub) List(_ context.Context, states ...jobs.State) ([]*jobs.Job, error) {
	if len(states) == 0 {
		return s.jobs, nil
	}
	var out []*jobs.Job
	for _, job := range s.jobs {
		for _, state := range states {
			if job.State == state {
				out = append(out, job)
			}
		}
	}
	return out, nil
}

func (s *jobStoreStub) Stats(context.Context) (jobs.Stats, error) {
	stats := jobs.Stats{}
	for _, job := range s.jobs {
		stats[job.State]++
	}
	return stats, nil
}

func (s *jobStoreStub) FindByPrefix(_ context.Context, prefix string) (*jobs.Job, error) {
	for _, job := range s.jobs {
		if len(job.ID) >= len(prefix) && job.ID[:len(prefix)] == prefix {
			return job, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, prefix)
}

func TestJobServiceListAndDescribe(t *testing.T) {
	store := &jobStoreStub{jobs: []*jobs.Job{
		{ID: "abc123", State: jobs.StateAwaitingApproval},
		{ID: "def456", State: jobs.StateFailed},
	}}
	svc := NewJobService(store)
	ctx := context.Background()

	failed, err := svc.List(ctx, jobs.StateFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "def456" {
		t.Fatalf("unexpected list %+v", failed)
	}

	job, err := svc.Describe(ctx, "abc")
	if err != nil || job == nil || job.ID != "abc123" {
		t.Fatalf("Describe by prefix: %+v %v", job, err)
	}
	missing, err := svc.Describe(ctx, "zzz")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown job, got %+v %v", missing, err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["failed"] != 1 || stats["awaiting_approval"] != 1 || stats["published"] != 0 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestNilJobServiceIsEmpty(t *testing.T) {
	var svc *JobService
	if list, err := svc.List(context.Background()); err != nil || list != nil {
		t.Fatalf("expected empty list, got %v %v", list, err)
	}
	if NewJobService(nil) != nil {
		t.Fatal("expected nil service for nil store")
	}
}

func TestParseStates(t *testing.T) {
	states, err := ParseStates([]string{"Failed", "", "awaiting_approval"})
	if err != nil {
		t.Fatalf("ParseStates failed: %v", err)
	}
	if len(states) != 2 || states[0] != jobs.StateFailed {
		t.Fatalf("unexpected states %v", states)
	}
	if _, err := ParseStates([]string{"done"}); err == nil {
		t.Fatal("expected unknown state error")
	}
}
