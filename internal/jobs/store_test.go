package jobs_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidpilot/internal/jobs"
	"vidpilot/internal/testsupport"
)

func TestCreateIsIdempotentPerFingerprint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	id, err := store.Create(ctx, "ABC123", "/videos/a.mp4", jobs.CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id != "abc123" {
		t.Fatalf("expected lowercased id, got %q", id)
	}

	_, err = store.Create(ctx, "abc123", "/videos/renamed.mp4", jobs.CreateOptions{})
	if !errors.Is(err, jobs.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.SourcePath != "/videos/a.mp4" || job.State != jobs.StateDetected {
		t.Fatalf("duplicate submission changed the job: %#v", job)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(all))
	}
}

func TestCreateStoresOverrides(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	opts := jobs.CreateOptions{Overrides: jobs.Overrides{Title: "Custom", Tags: []string{"a", "b"}, SkipApproval: true}}
	id, err := store.Create(ctx, "f00d", "/videos/b.mp4", opts)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Overrides.Title != "Custom" || len(job.Overrides.Tags) != 2 || !job.Overrides.SkipApproval {
		t.Fatalf("overrides not persisted: %#v", job.Overrides)
	}
}

func TestGetUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionCompareAndSwap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "cafe01")

	if err := store.Transition(ctx, job.ID, jobs.StateDetected, jobs.StateFramesExtracted); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	err := store.Transition(ctx, job.ID, jobs.StateDetected, jobs.StateFramesExtracted)
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale expected state, got %v", err)
	}
	err = store.Transition(ctx, job.ID, jobs.StateFramesExtracted, jobs.StateAwaitingApproval)
	if !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for skipped edge, got %v", err)
	}
	err = store.Transition(ctx, job.ID, jobs.StateFramesExtracted, jobs.StateDetected)
	if !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for backward edge, got %v", err)
	}
	err = store.Transition(ctx, "nope", jobs.StateDetected, jobs.StateFramesExtracted)
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "race01")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Transition(ctx, job.ID, jobs.StateDetected, jobs.StateFramesExtracted)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, jobs.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != 7 {
		t.Fatalf("expected 1 success and 7 conflicts, got %d/%d", successes, conflicts)
	}
}

func TestRecordStageOutputFirstWriteWins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "out01")

	recorded, err := store.RecordStageOutput(ctx, job.ID, "frames", []byte(`{"frames":["a.jpg"]}`))
	if err != nil || !recorded {
		t.Fatalf("first record: recorded=%v err=%v", recorded, err)
	}
	recorded, err = store.RecordStageOutput(ctx, job.ID, "frames", []byte(`{"frames":["b.jpg"]}`))
	if err != nil || recorded {
		t.Fatalf("second record should be a silent no-op: recorded=%v err=%v", recorded, err)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var payload struct {
		Frames []string `json:"frames"`
	}
	if err := fetched.DecodeOutput("frames", &payload); err != nil {
		t.Fatalf("DecodeOutput failed: %v", err)
	}
	if len(payload.Frames) != 1 || payload.Frames[0] != "a.jpg" {
		t.Fatalf("expected first output to survive, got %#v", payload)
	}

	if _, err := store.RecordStageOutput(ctx, "missing", "frames", []byte(`{}`)); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown job, got %v", err)
	}
	if _, err := store.RecordStageOutput(ctx, job.ID, "transcript", []byte(`not json`)); err == nil {
		t.Fatal("expected invalid JSON to be rejected")
	}
}

func TestReviseStageOutputAppendsRevision(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "rev01")

	if _, err := store.RecordStageOutput(ctx, job.ID, "metadata", []byte(`{"title":"Original"}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := store.ReviseStageOutput(ctx, job.ID, jobs.StateAwaitingApproval, "metadata", []byte(`{"title":"Edited"}`), "title"); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict outside the expected state, got %v", err)
	}

	testsupport.AdvanceTo(t, store, job.ID, jobs.StateAwaitingApproval)
	revision, err := store.ReviseStageOutput(ctx, job.ID, jobs.StateAwaitingApproval, "metadata", []byte(`{"title":"Edited"}`), "title")
	if err != nil {
		t.Fatalf("ReviseStageOutput failed: %v", err)
	}
	if revision != 1 {
		t.Fatalf("expected revision 1, got %d", revision)
	}

	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	out := fetched.Outputs["metadata"]
	if out.Revision != 1 || out.Source != jobs.SourceEdit || string(out.Payload) != `{"title":"Edited"}` {
		t.Fatalf("unexpected effective output: %#v", out)
	}
	if len(fetched.EditedFields) != 1 || fetched.EditedFields[0] != "title" {
		t.Fatalf("expected edited fields [title], got %v", fetched.EditedFields)
	}

	history, err := store.OutputHistory(ctx, job.ID, "metadata")
	if err != nil {
		t.Fatalf("OutputHistory failed: %v", err)
	}
	if len(history) != 2 || string(history[0].Payload) != `{"title":"Original"}` {
		t.Fatalf("original revision must be untouched, got %#v", history)
	}

	if _, err := store.ReviseStageOutput(ctx, job.ID, jobs.StateAwaitingApproval, "thumbnail", []byte(`{}`)); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when revising a missing output, got %v", err)
	}
}

func TestIncrementAttemptIsDurable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "att01")

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementAttempt(ctx, job.ID, "transcript", "timeout")
		if err != nil {
			t.Fatalf("IncrementAttempt failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected attempt %d, got %d", want, got)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Attempt("transcript") != 3 {
		t.Fatalf("expected attempts to survive reopen, got %d", fetched.Attempt("transcript"))
	}
	if msg, _ := reopened.LastAttemptError(ctx, job.ID, "transcript"); msg != "timeout" {
		t.Fatalf("expected last error to be kept, got %q", msg)
	}

	if err := reopened.ResetAttempts(ctx, job.ID, "transcript"); err != nil {
		t.Fatalf("ResetAttempts failed: %v", err)
	}
	fetched, _ = reopened.Get(ctx, job.ID)
	if fetched.Attempt("transcript") != 0 {
		t.Fatalf("expected attempts reset, got %d", fetched.Attempt("transcript"))
	}
}

func TestFailAndResubmit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "fail01")

	testsupport.AdvanceTo(t, store, job.ID, jobs.StateTranscribed)
	if _, err := store.RecordStageOutput(ctx, job.ID, "frames", []byte(`{}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.IncrementAttempt(ctx, job.ID, "metadata", "rate limited"); err != nil {
			t.Fatalf("IncrementAttempt: %v", err)
		}
	}
	if _, err := store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if err := store.Fail(ctx, job.ID, jobs.StateTranscribed, "metadata", "rate limited"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	failed, _ := store.Get(ctx, job.ID)
	if failed.State != jobs.StateFailed || failed.Failure == nil || failed.Failure.Stage != "metadata" {
		t.Fatalf("unexpected failed job: %#v", failed)
	}
	if err := store.Fail(ctx, job.ID, jobs.StateFailed, "metadata", "again"); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected terminal state to reject Fail, got %v", err)
	}

	if err := store.Resubmit(ctx, job.ID); err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	resubmitted, _ := store.Get(ctx, job.ID)
	if resubmitted.State != jobs.StateDetected || resubmitted.Failure != nil || resubmitted.CancelRequested {
		t.Fatalf("resubmit did not reset the job: %#v", resubmitted)
	}
	if resubmitted.Attempt("metadata") != 0 {
		t.Fatalf("expected failed stage attempts cleared, got %d", resubmitted.Attempt("metadata"))
	}
	if !resubmitted.HasOutput("frames") {
		t.Fatal("expected recorded outputs to survive resubmission")
	}
	if err := store.Resubmit(ctx, job.ID); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict resubmitting a non-failed job, got %v", err)
	}
}

func TestDecideIsSingleShot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "dec01")
	testsupport.AdvanceTo(t, store, job.ID, jobs.StateAwaitingApproval)

	approval := jobs.Approval{DecidedBy: "telegram:42", Decision: jobs.DecisionApprove}
	if err := store.Decide(ctx, job.ID, approval, jobs.StateApproved); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if err := store.Decide(ctx, job.ID, approval, jobs.StateApproved); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate decision, got %v", err)
	}
	reject := jobs.Approval{DecidedBy: "cli", Decision: jobs.DecisionReject}
	if err := store.Decide(ctx, job.ID, reject, jobs.StateApproved); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected mismatched decision to be rejected, got %v", err)
	}

	fetched, _ := store.Get(ctx, job.ID)
	if fetched.Approval == nil || fetched.Approval.DecidedBy != "telegram:42" || fetched.Approval.DecidedAt.IsZero() {
		t.Fatalf("unexpected approval record: %#v", fetched.Approval)
	}
}

func TestUploadLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "up01")

	if err := store.MarkUploadStarted(ctx, job.ID); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict before uploading, got %v", err)
	}
	testsupport.AdvanceTo(t, store, job.ID, jobs.StateUploading)
	if err := store.MarkUploadStarted(ctx, job.ID); err != nil {
		t.Fatalf("MarkUploadStarted failed: %v", err)
	}
	result := jobs.FinalResult{VideoURL: "https://youtu.be/xyz", VideoID: "xyz"}
	if err := store.RecordFinalResult(ctx, job.ID, result); err != nil {
		t.Fatalf("RecordFinalResult failed: %v", err)
	}
	if err := store.RecordFinalResult(ctx, job.ID, result); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected second result to conflict, got %v", err)
	}

	fetched, _ := store.Get(ctx, job.ID)
	if fetched.State != jobs.StatePublished || fetched.FinalResult == nil || fetched.FinalResult.VideoURL != "https://youtu.be/xyz" {
		t.Fatalf("unexpected published job: %#v", fetched)
	}
	if fetched.UploadStartedAt == nil {
		t.Fatal("expected upload start marker to be kept")
	}
	if _, err := store.RequestCancel(ctx, job.ID); !errors.Is(err, jobs.ErrTerminal) {
		t.Fatalf("expected ErrTerminal cancelling a published job, got %v", err)
	}
}

func TestRecordCancelledUploadKeepsVideo(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "upcancel01")

	result := jobs.FinalResult{VideoURL: "https://youtu.be/late", VideoID: "late"}
	if err := store.RecordCancelledUpload(ctx, job.ID, result, "cancelled"); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict before uploading, got %v", err)
	}
	testsupport.AdvanceTo(t, store, job.ID, jobs.StateUploading)
	if err := store.RecordCancelledUpload(ctx, job.ID, result, "cancelled"); err != nil {
		t.Fatalf("RecordCancelledUpload failed: %v", err)
	}

	fetched, _ := store.Get(ctx, job.ID)
	if fetched.State != jobs.StateFailed || fetched.Failure == nil {
		t.Fatalf("expected failed job, got %#v", fetched)
	}
	if fetched.Failure.Stage != "upload" || fetched.Failure.Reason != "cancelled" {
		t.Fatalf("unexpected failure: %#v", fetched.Failure)
	}
	if fetched.FinalResult == nil || fetched.FinalResult.VideoURL != "https://youtu.be/late" {
		t.Fatalf("expected video to be kept, got %#v", fetched.FinalResult)
	}
}

func TestClaimLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.NewJob(t, store, cfg, "lease01")

	ok, err := store.Claim(ctx, job.ID, "runner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.Claim(ctx, job.ID, "runner-b", time.Minute); ok {
		t.Fatal("expected second runner to be refused a fresh lease")
	}
	if ok, _ := store.Claim(ctx, job.ID, "runner-a", time.Minute); !ok {
		t.Fatal("expected owner to re-claim its own lease")
	}
	if err := store.Heartbeat(ctx, "runner-a", job.ID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if ok, _ := store.Claim(ctx, job.ID, "runner-b", -time.Second); !ok {
		t.Fatal("expected stale lease to be reclaimable")
	}
	if err := store.Release(ctx, job.ID, "runner-b"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	fetched, _ := store.Get(ctx, job.ID)
	if fetched.ClaimedBy != "" {
		t.Fatalf("expected lease released, got %q", fetched.ClaimedBy)
	}

	if ok, _ := store.Claim(ctx, job.ID, "runner-c", time.Minute); !ok {
		t.Fatal("claim after release failed")
	}
	released, err := store.ReleaseAll(ctx)
	if err != nil || released != 1 {
		t.Fatalf("ReleaseAll: released=%d err=%v", released, err)
	}
}

func TestListByStateAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewJob(t, store, cfg, "aaa1")
	testsupport.NewJob(t, store, cfg, "bbb2")
	testsupport.AdvanceTo(t, store, a.ID, jobs.StateAwaitingApproval)

	awaiting, err := store.ListByState(ctx, jobs.StateAwaitingApproval)
	if err != nil {
		t.Fatalf("ListByState failed: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].ID != a.ID {
		t.Fatalf("unexpected awaiting jobs: %#v", awaiting)
	}
	if _, err := store.ListByState(ctx); err == nil {
		t.Fatal("expected ListByState without states to fail")
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[jobs.StateDetected] != 1 || stats[jobs.StateAwaitingApproval] != 1 || stats[jobs.StatePublished] != 0 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	found, err := store.FindByPrefix(ctx, "aa")
	if err != nil || found.ID != a.ID {
		t.Fatalf("FindByPrefix: %#v %v", found, err)
	}
	if err := store.CheckHealth(ctx); err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.db")
	store, err := jobs.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if err := store.SetSchemaVersionForTest(context.Background(), 99); err != nil {
		t.Fatalf("set version: %v", err)
	}
	store.Close()

	if _, err := jobs.OpenPath(path); !errors.Is(err, jobs.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
