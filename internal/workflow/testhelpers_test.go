package workflow_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/notifications"
	"vidpilot/internal/stage"
	"vidpilot/internal/stageexec"
	"vidpilot/internal/testsupport"
	"vidpilot/internal/upload"
	"vidpilot/internal/workflow"
)

// fakeCollaborators implements every stage collaborator and counts calls.
type fakeCollaborators struct {
	mu          sync.Mutex
	calls       map[string]int
	failures    map[string][]error
	blockFrames chan struct{}
	framesBusy  chan struct{}
	// framesCtxErr is the context error seen when a blocked extraction resumed.
	framesCtxErr error
}

func newFakeCollaborators() *fakeCollaborators {
	return &fakeCollaborators{calls: map[string]int{}, failures: map[string][]error{}}
}

func (f *fakeCollaborators) enter(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if queued := f.failures[name]; len(queued) > 0 {
		f.failures[name] = queued[1:]
		return queued[0]
	}
	return nil
}

func (f *fakeCollaborators) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeCollaborators) resumedFramesCtxErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.framesCtxErr
}

func (f *fakeCollaborators) failNext(name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = append(f.failures[name], errs...)
}

func (f *fakeCollaborators) ExtractFrames(ctx context.Context, videoPath, outputDir string) (stage.FrameSet, error) {
	if err := f.enter(stage.Frames); err != nil {
		return stage.FrameSet{}, err
	}
	if f.blockFrames != nil {
		if f.framesBusy != nil {
			close(f.framesBusy)
		}
		select {
		case <-ctx.Done():
		case <-f.blockFrames:
		}
		f.mu.Lock()
		f.framesCtxErr = ctx.Err()
		f.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return stage.FrameSet{}, err
		}
	}
	return stage.FrameSet{
		DurationSeconds: 60,
		Frames: []stage.Frame{
			{Path: filepath.Join(outputDir, "frame_00.jpg"), TimestampSeconds: 3},
			{Path: filepath.Join(outputDir, "frame_01.jpg"), TimestampSeconds: 30},
		},
	}, nil
}

func (f *fakeCollaborators) Transcribe(ctx context.Context, videoPath, outputDir string) (stage.TranscriptResult, error) {
	if err := f.enter(stage.Transcript); err != nil {
		return stage.TranscriptResult{}, err
	}
	return stage.TranscriptResult{Text: "we went to the beach", Language: "en"}, nil
}

func (f *fakeCollaborators) GenerateMetadata(ctx context.Context, input stage.MetadataInput) (stage.MetadataDraft, error) {
	if err := f.enter(stage.Metadata); err != nil {
		return stage.MetadataDraft{}, err
	}
	return stage.MetadataDraft{
		Title:          "Beach Day",
		Description:    "Sun and sand.",
		Tags:           []string{"beach", "vlog"},
		CategoryID:     "19",
		BestFrameIndex: 1,
	}, nil
}

func (f *fakeCollaborators) GenerateThumbnail(ctx context.Context, frames stage.FrameSet, metadata stage.MetadataDraft, style, outputDir string) (stage.ThumbnailResult, error) {
	if err := f.enter(stage.Thumbnail); err != nil {
		return stage.ThumbnailResult{}, err
	}
	path := filepath.Join(outputDir, "thumbnail.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0o644); err != nil {
		return stage.ThumbnailResult{}, err
	}
	return stage.ThumbnailResult{
		Path:        path,
		SourceFrame: frames.Frames[metadata.BestFrameIndex].Path,
		Style:       style,
		Width:       1280,
		Height:      720,
	}, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []stage.UploadRequest
	result  stage.UploadResult
	block   chan struct{}
	busy    chan struct{}
	// ctxErr is the context error seen when a blocked upload resumed.
	ctxErr error
}

func (f *fakeUploader) Upload(ctx context.Context, req stage.UploadRequest) (stage.UploadResult, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, req)
	block, busy := f.block, f.busy
	f.mu.Unlock()
	if block != nil {
		if busy != nil {
			close(busy)
		}
		select {
		case <-ctx.Done():
		case <-block:
		}
		f.mu.Lock()
		f.ctxErr = ctx.Err()
		f.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return stage.UploadResult{}, err
		}
	}
	return f.result, nil
}

func (f *fakeUploader) resumedCtxErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxErr
}

func (f *fakeUploader) FindExisting(ctx context.Context, jobID string) (stage.UploadResult, bool, error) {
	return stage.UploadResult{}, false, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeMessenger struct {
	mu       sync.Mutex
	requests []approval.Request
}

func (f *fakeMessenger) Send(ctx context.Context, req approval.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeMessenger) sent() []approval.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approval.Request(nil), f.requests...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	cfg       *config.Config
	store     *jobs.Store
	bus       *events.Bus
	collab    *fakeCollaborators
	uploader  *fakeUploader
	messenger *fakeMessenger
	notifier  *recordingNotifier
	gateway   *approval.Gateway
	manager   *workflow.Manager
	logs      *logging.StreamHub
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	hub := logging.NewStreamHub(1024)
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: io.Discard, Stream: hub})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	h := &harness{
		cfg:       cfg,
		store:     store,
		bus:       events.NewBus(128),
		collab:    newFakeCollaborators(),
		uploader:  &fakeUploader{result: stage.UploadResult{VideoID: "xyz", VideoURL: "https://youtu.be/xyz"}},
		messenger: &fakeMessenger{},
		notifier:  &recordingNotifier{},
		logs:      hub,
	}
	exec := stageexec.NewExecutor(cfg, store, logger)
	runner := stageexec.NewRunner(cfg, exec, stageexec.Collaborators{
		Frames:      h.collab,
		Transcriber: h.collab,
		Metadata:    h.collab,
		Thumbnail:   h.collab,
	}, logger)
	h.gateway = approval.NewGateway(cfg, store, h.messenger, h.bus, logger)
	dispatcher := upload.NewDispatcher(store, h.uploader, exec, h.bus, logger)
	h.manager = workflow.NewManager(cfg, store, workflow.Dependencies{
		Runner:   runner,
		Approval: h.gateway,
		Uploader: dispatcher,
		Bus:      h.bus,
		Notifier: h.notifier,
	}, logger)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

// createJob writes a source video and registers a detected job with id.
func (h *harness) createJob(t *testing.T, id string, opts jobs.CreateOptions) string {
	t.Helper()
	source := testsupport.WriteVideo(t, h.cfg.Watch.Folder, id+".mp4", "video "+id)
	created, err := h.store.Create(context.Background(), id, source, opts)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return created
}

func (h *harness) waitForState(t *testing.T, id string, want jobs.State) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var last *jobs.Job
	for time.Now().Before(deadline) {
		job, err := h.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		last = job
		if job.State == want {
			return job
		}
		if job.State.IsTerminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s; last state %s (failure %+v)", id, want, last.State, last.Failure)
	return nil
}

// stageEvents counts log events of eventType per stage for job id.
func (h *harness) stageEvents(id, eventType string) map[string]int {
	events, _ := h.logs.Tail(0, id)
	counts := make(map[string]int)
	for _, evt := range events {
		if evt.Fields[logging.FieldEventType] == eventType {
			counts[evt.Stage]++
		}
	}
	return counts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
