package watch_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidpilot/internal/jobs"
	"vidpilot/internal/testsupport"
	"vidpilot/internal/watch"
)

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSubmitter) Submit(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newDispatcher(t *testing.T) (*watch.Dispatcher, *jobs.Store, *recordingSubmitter, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sub := &recordingSubmitter{}
	d := watch.NewDispatcher(cfg, store, sub, nil, nil)
	d.SetStableCheck(10*time.Millisecond, time.Second)
	return d, store, sub, cfg.Watch.Folder
}

func TestOnFileDetectedCreatesJobOnce(t *testing.T) {
	d, store, sub, folder := newDispatcher(t)
	ctx := context.Background()
	path := testsupport.WriteVideo(t, folder, "ride.mp4", "frame data")

	if err := d.OnFileDetected(ctx, path); err != nil {
		t.Fatalf("first detection: %v", err)
	}
	if err := d.OnFileDetected(ctx, path); err != nil {
		t.Fatalf("duplicate detection must be silent, got %v", err)
	}
	copyPath := testsupport.WriteVideo(t, folder, "ride-copy.mov", "frame data")
	if err := d.OnFileDetected(ctx, copyPath); err != nil {
		t.Fatalf("same content under new name: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one job, got %d", len(all))
	}
	if all[0].State != jobs.StateDetected || all[0].SourcePath != path {
		t.Fatalf("unexpected job %+v", all[0])
	}
	if ids := sub.submitted(); len(ids) != 1 || ids[0] != all[0].ID {
		t.Fatalf("expected one submission for %s, got %v", all[0].ID, ids)
	}
}

func TestOnFileDetectedIgnoresNonVideos(t *testing.T) {
	d, store, sub, folder := newDispatcher(t)
	ctx := context.Background()

	paths := []string{
		testsupport.WriteVideo(t, folder, "notes.txt", "text"),
		testsupport.WriteVideo(t, folder, ".hidden.mp4", "hidden"),
		testsupport.WriteVideo(t, folder, "clip.mp4.part", "partial"),
		testsupport.WriteVideo(t, filepath.Join(folder, ".trash"), "old.mp4", "trash"),
	}
	for _, path := range paths {
		if err := d.OnFileDetected(ctx, path); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
	}
	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 || len(sub.submitted()) != 0 {
		t.Fatalf("expected nothing submitted, got %d jobs", len(all))
	}
}

func TestAcceptsIsCaseInsensitive(t *testing.T) {
	d, _, _, folder := newDispatcher(t)
	for _, name := range []string{"A.MP4", "b.Mkv", "c.webm", "d.m4v", "e.AVI", "f.mov"} {
		if !d.Accepts(filepath.Join(folder, name)) {
			t.Errorf("expected %s to be accepted", name)
		}
	}
}

func TestSubmitAppliesOverrides(t *testing.T) {
	d, store, _, folder := newDispatcher(t)
	ctx := context.Background()
	path := testsupport.WriteVideo(t, folder, "talk.mkv", "talk")

	sub, err := d.Submit(ctx, path, jobs.CreateOptions{Overrides: jobs.Overrides{Title: "Conference Talk", SkipApproval: true}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !sub.Created {
		t.Fatal("expected a new job")
	}
	job, err := store.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Overrides.Title != "Conference Talk" || !job.Overrides.SkipApproval {
		t.Fatalf("unexpected overrides %+v", job.Overrides)
	}

	again, err := d.Submit(ctx, path, jobs.CreateOptions{})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Created || again.ID != sub.ID {
		t.Fatalf("expected duplicate to report existing id, got %+v", again)
	}
}

func TestSubmitRejectsUnsupportedFile(t *testing.T) {
	d, _, _, folder := newDispatcher(t)
	path := testsupport.WriteVideo(t, folder, "slides.pdf", "pdf")

	if _, err := d.Submit(context.Background(), path, jobs.CreateOptions{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWatcherPicksUpNewAndExistingFiles(t *testing.T) {
	d, store, _, folder := newDispatcher(t)
	existing := testsupport.WriteVideo(t, folder, "before.mp4", "already here")

	ctx, cancel := context.WithCancel(context.Background())
	w := watch.NewWatcher(folder, true, d.OnFileDetected, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	created := testsupport.WriteVideo(t, folder, "after.mp4", "new arrival")

	deadline := time.Now().Add(5 * time.Second)
	for {
		all, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) == 2 {
			paths := map[string]bool{all[0].SourcePath: true, all[1].SourcePath: true}
			if !paths[existing] || !paths[created] {
				t.Fatalf("unexpected sources %v", paths)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for jobs, have %d", len(all))
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
