package upload_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vidpilot/internal/config"
	"vidpilot/internal/jobs"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
	"vidpilot/internal/stageexec"
	"vidpilot/internal/testsupport"
	"vidpilot/internal/upload"
)

type fakeUploader struct {
	mu        sync.Mutex
	uploads   int
	lookups   int
	failures  []error
	existing  *stage.UploadResult
	result    stage.UploadResult
	lastReq   stage.UploadRequest
	uploading chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, req stage.UploadRequest) (stage.UploadResult, error) {
	f.mu.Lock()
	f.uploads++
	f.lastReq = req
	var err error
	if len(f.failures) > 0 {
		err, f.failures = f.failures[0], f.failures[1:]
	}
	gate := f.uploading
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return stage.UploadResult{}, err
	}
	return f.result, nil
}

func (f *fakeUploader) FindExisting(ctx context.Context, jobID string) (stage.UploadResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.existing != nil {
		return *f.existing, true, nil
	}
	return stage.UploadResult{}, false, nil
}

func (f *fakeUploader) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.lookups
}

type fixture struct {
	cfg      *config.Config
	store    *jobs.Store
	uploader *fakeUploader
	dispatch *upload.Dispatcher
}

func newFixture(t *testing.T, ceiling int) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithRetryCeiling(ceiling))
	store := testsupport.MustOpenStore(t, cfg)
	uploader := &fakeUploader{result: stage.UploadResult{VideoID: "xyz", VideoURL: "https://youtu.be/xyz"}}
	exec := stageexec.NewExecutor(cfg, store, nil)
	return fixture{
		cfg:      cfg,
		store:    store,
		uploader: uploader,
		dispatch: upload.NewDispatcher(store, uploader, exec, nil, nil),
	}
}

func approvedJob(t *testing.T, f fixture, fingerprint string) string {
	t.Helper()
	job := testsupport.NewJob(t, f.store, f.cfg, fingerprint)
	testsupport.RecordOutput(t, f.store, job.ID, stage.Metadata, stage.MetadataDraft{
		Title:       "Harbour Walk",
		Description: "Boats and gulls.",
		Tags:        []string{"harbour"},
		CategoryID:  "22",
		Privacy:     "unlisted",
	})
	testsupport.RecordOutput(t, f.store, job.ID, stage.Thumbnail, stage.ThumbnailResult{Path: "/tmp/thumb.jpg"})
	testsupport.AdvanceTo(t, f.store, job.ID, jobs.StateApproved)
	return job.ID
}

func TestPublishHappyPath(t *testing.T) {
	f := newFixture(t, 3)
	id := approvedJob(t, f, "abc123")

	result, err := f.dispatch.Publish(context.Background(), id)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.VideoURL != "https://youtu.be/xyz" || result.VideoID != "xyz" {
		t.Fatalf("unexpected result %+v", result)
	}
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != jobs.StatePublished || job.FinalResult == nil || job.FinalResult.VideoURL != "https://youtu.be/xyz" {
		t.Fatalf("unexpected job after publish: state=%s result=%+v", job.State, job.FinalResult)
	}
	if job.UploadStartedAt == nil {
		t.Fatal("expected upload start to be recorded")
	}
	if f.uploader.lastReq.Title != "Harbour Walk" || f.uploader.lastReq.ThumbnailPath != "/tmp/thumb.jpg" {
		t.Fatalf("unexpected upload request %+v", f.uploader.lastReq)
	}
	if uploads, lookups := f.uploader.counts(); uploads != 1 || lookups != 0 {
		t.Fatalf("expected one upload and no lookup, got uploads=%d lookups=%d", uploads, lookups)
	}
}

func TestConcurrentPublishUploadsOnce(t *testing.T) {
	f := newFixture(t, 3)
	id := approvedJob(t, f, "c0ffee")
	f.uploader.uploading = make(chan struct{})

	const callers = 4
	var wg sync.WaitGroup
	results := make([]jobs.FinalResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.dispatch.Publish(context.Background(), id)
		}(i)
	}
	close(f.uploader.uploading)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].VideoURL != "https://youtu.be/xyz" {
			t.Fatalf("caller %d got %+v", i, results[i])
		}
	}
	if uploads, _ := f.uploader.counts(); uploads != 1 {
		t.Fatalf("expected exactly one upload, got %d", uploads)
	}
}

func TestPublishRetriesTransientFailuresWithLookup(t *testing.T) {
	f := newFixture(t, 3)
	id := approvedJob(t, f, "7e57")
	f.uploader.failures = []error{services.Wrap(services.ErrTransient, "upload", "insert", "503 backend error", nil)}

	result, err := f.dispatch.Publish(context.Background(), id)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.VideoURL != "https://youtu.be/xyz" {
		t.Fatalf("unexpected result %+v", result)
	}
	uploads, lookups := f.uploader.counts()
	if uploads != 2 || lookups != 1 {
		t.Fatalf("expected a lookup before the retry, got uploads=%d lookups=%d", uploads, lookups)
	}
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Attempt(stage.Upload) != 1 {
		t.Fatalf("expected one recorded failed attempt, got %d", job.Attempt(stage.Upload))
	}
}

func TestPublishAdoptsExistingUploadAfterAmbiguousOutcome(t *testing.T) {
	f := newFixture(t, 3)
	id := approvedJob(t, f, "ambiguous")
	ctx := context.Background()

	if err := f.store.Transition(ctx, id, jobs.StateApproved, jobs.StateUploading); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := f.store.MarkUploadStarted(ctx, id); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	f.uploader.existing = &stage.UploadResult{VideoID: "found", VideoURL: "https://youtu.be/found"}

	result, err := f.dispatch.Publish(ctx, id)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.VideoURL != "https://youtu.be/found" {
		t.Fatalf("expected adopted upload, got %+v", result)
	}
	if uploads, lookups := f.uploader.counts(); uploads != 0 || lookups != 1 {
		t.Fatalf("expected lookup only, got uploads=%d lookups=%d", uploads, lookups)
	}
}

func TestPublishFailsAfterCeiling(t *testing.T) {
	f := newFixture(t, 2)
	id := approvedJob(t, f, "dead")
	transient := services.Wrap(services.ErrTransient, "upload", "insert", "quota backend unavailable", nil)
	f.uploader.failures = []error{transient, transient, transient}

	_, err := f.dispatch.Publish(context.Background(), id)
	var stageErr *stageexec.Error
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected stage error, got %v", err)
	}
	job, getErr := f.store.Get(context.Background(), id)
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if job.State != jobs.StateFailed || job.Failure == nil || job.Failure.Stage != stage.Upload {
		t.Fatalf("expected failed upload, got state=%s failure=%+v", job.State, job.Failure)
	}
	if job.Attempt(stage.Upload) != 2 {
		t.Fatalf("expected attempts == ceiling, got %d", job.Attempt(stage.Upload))
	}
	if uploads, _ := f.uploader.counts(); uploads != 3 {
		t.Fatalf("expected the first upload plus 2 retries, got %d uploads", uploads)
	}
}

func TestPublishSucceedsOnLastRetry(t *testing.T) {
	f := newFixture(t, 2)
	id := approvedJob(t, f, "last")
	transient := services.Wrap(services.ErrTransient, "upload", "insert", "503 backend error", nil)
	f.uploader.failures = []error{transient, transient}

	result, err := f.dispatch.Publish(context.Background(), id)
	if err != nil {
		t.Fatalf("expected the final retry to publish, got %v", err)
	}
	if result.VideoURL != "https://youtu.be/xyz" {
		t.Fatalf("unexpected result %+v", result)
	}
	if uploads, _ := f.uploader.counts(); uploads != 3 {
		t.Fatalf("expected 3 uploads, got %d", uploads)
	}
}

func TestPublishCancelledMidUploadKeepsVideo(t *testing.T) {
	f := newFixture(t, 3)
	id := approvedJob(t, f, "midcancel")
	f.uploader.uploading = make(chan struct{})
	ctx := context.Background()

	type outcome struct {
		result jobs.FinalResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.dispatch.Publish(ctx, id)
		done <- outcome{result, err}
	}()
	deadline := time.Now().Add(5 * time.Second)
	for uploads, _ := f.uploader.counts(); uploads == 0; uploads, _ = f.uploader.counts() {
		if time.Now().After(deadline) {
			t.Fatal("upload never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := f.store.RequestCancel(ctx, id); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	close(f.uploader.uploading)

	got := <-done
	if reason := stageexec.FailureReason(got.err); reason != "cancelled" {
		t.Fatalf("expected cancelled outcome, got %v", got.err)
	}
	if got.result.VideoURL != "https://youtu.be/xyz" {
		t.Fatalf("expected the uploaded video to be returned, got %+v", got.result)
	}
	job, err := f.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != jobs.StateFailed || job.Failure == nil || job.Failure.Reason != "cancelled" {
		t.Fatalf("expected cancelled failure, got state=%s failure=%+v", job.State, job.Failure)
	}
	if job.FinalResult == nil || job.FinalResult.VideoURL != "https://youtu.be/xyz" {
		t.Fatalf("expected video kept on the job, got %+v", job.FinalResult)
	}
}

func TestPublishPermanentFailureDoesNotRetry(t *testing.T) {
	f := newFixture(t, 3)
	id := approvedJob(t, f, "beef")
	f.uploader.failures = []error{services.Wrap(services.ErrValidation, "upload", "insert", "400 invalid title", nil)}

	if _, err := f.dispatch.Publish(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	if uploads, _ := f.uploader.counts(); uploads != 1 {
		t.Fatalf("permanent failure must not retry, got %d uploads", uploads)
	}
	job, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != jobs.StateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
}

func TestPublishRejectsJobsBeforeApproval(t *testing.T) {
	f := newFixture(t, 3)
	job := testsupport.NewJob(t, f.store, f.cfg, "early")
	testsupport.AdvanceTo(t, f.store, job.ID, jobs.StateAwaitingApproval)

	_, err := f.dispatch.Publish(context.Background(), job.ID)
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if uploads, _ := f.uploader.counts(); uploads != 0 {
		t.Fatal("unapproved job must not be uploaded")
	}
}
