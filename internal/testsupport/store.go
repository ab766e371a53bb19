package testsupport

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"vidpilot/internal/config"
	"vidpilot/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a detected job for fingerprint with a source path under the
// config's watch folder.
func NewJob(t testing.TB, store *jobs.Store, cfg *config.Config, fingerprint string) *jobs.Job {
	t.Helper()

	source := filepath.Join(cfg.Watch.Folder, fingerprint+".mp4")
	id, err := store.Create(context.Background(), fingerprint, source, jobs.CreateOptions{})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	return job
}

// AdvanceTo walks a detected job along the happy path until it reaches
// target. Only forward states up to uploading are supported.
func AdvanceTo(t testing.TB, store *jobs.Store, id string, target jobs.State) {
	t.Helper()

	ctx := context.Background()
	path := []jobs.State{
		jobs.StateDetected,
		jobs.StateFramesExtracted,
		jobs.StateTranscribed,
		jobs.StateMetadataDrafted,
		jobs.StateThumbnailDrafted,
		jobs.StateAwaitingApproval,
		jobs.StateApproved,
		jobs.StateUploading,
	}
	for i := 0; i+1 < len(path); i++ {
		if path[i] == target {
			return
		}
		from, to := path[i], path[i+1]
		if from == jobs.StateAwaitingApproval {
			approval := jobs.Approval{DecidedBy: "test", Decision: jobs.DecisionApprove}
			if err := store.Decide(ctx, id, approval, to); err != nil {
				t.Fatalf("decide %s: %v", id, err)
			}
			continue
		}
		if err := store.Transition(ctx, id, from, to); err != nil {
			t.Fatalf("transition %s -> %s: %v", from, to, err)
		}
	}
	if path[len(path)-1] != target {
		t.Fatalf("AdvanceTo: unsupported target %s", target)
	}
}

// RecordOutput stores value as the first revision of stage's output.
func RecordOutput(t testing.TB, store *jobs.Store, id, stage string, value any) {
	t.Helper()

	payload, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal %s output: %v", stage, err)
	}
	if _, err := store.RecordStageOutput(context.Background(), id, stage, payload); err != nil {
		t.Fatalf("record %s output: %v", stage, err)
	}
}
