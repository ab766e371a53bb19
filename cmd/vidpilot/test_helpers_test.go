package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/daemon"
	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/stage"
	"vidpilot/internal/stageexec"
	"vidpilot/internal/testsupport"
	"vidpilot/internal/upload"
	"vidpilot/internal/watch"
	"vidpilot/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	apiAddr    string
}

// setupCLITestEnv writes a config file for an isolated environment. The API
// address points at a closed port so commands fall back to the store.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("NO_COLOR", "1")

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = closedAddress(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "vidpilot", "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, apiAddr: cfg.Paths.APIBind}
}

func closedAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", env.configPath, "--api", env.apiAddr}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// seedAwaitingJob stores a job parked at the approval gate.
func seedAwaitingJob(t *testing.T, cfg *config.Config, id, title string) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.NewJob(t, store, cfg, id)
	testsupport.RecordOutput(t, store, id, stage.Frames, stage.FrameSet{Frames: []stage.Frame{{Path: "/tmp/f.jpg"}}})
	testsupport.RecordOutput(t, store, id, stage.Transcript, stage.TranscriptResult{Text: "hello"})
	testsupport.RecordOutput(t, store, id, stage.Metadata, stage.MetadataDraft{
		Title: title, Description: "desc", Tags: []string{"one"}, Privacy: "unlisted",
	})
	testsupport.RecordOutput(t, store, id, stage.Thumbnail, stage.ThumbnailResult{Path: "/tmp/thumb.jpg"})
	testsupport.AdvanceTo(t, store, id, jobs.StateAwaitingApproval)
}

func loadJob(t *testing.T, cfg *config.Config, id string) *jobs.Job {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	return job
}

type nopUploadService struct{}

func (nopUploadService) Upload(context.Context, stage.UploadRequest) (stage.UploadResult, error) {
	return stage.UploadResult{VideoID: "xyz", VideoURL: "https://youtu.be/xyz"}, nil
}

func (nopUploadService) FindExisting(context.Context, string) (stage.UploadResult, bool, error) {
	return stage.UploadResult{}, false, nil
}

// startDaemon runs a daemon for env with fake collaborators and points the
// CLI at its API.
func startDaemon(t *testing.T, env *cliTestEnv) *jobs.Store {
	t.Helper()
	env.cfg.Paths.APIBind = "127.0.0.1:0"
	store := testsupport.MustOpenStore(t, env.cfg)
	bus := events.NewBus(64)
	logger := logging.NewNop()

	executor := stageexec.NewExecutor(env.cfg, store, logger)
	gateway := approval.NewGateway(env.cfg, store, nil, bus, logger)
	manager := workflow.NewManager(env.cfg, store, workflow.Dependencies{
		Runner:   stageexec.NewRunner(env.cfg, executor, stageexec.Collaborators{}, logger),
		Approval: gateway,
		Uploader: upload.NewDispatcher(store, nopUploadService{}, executor, bus, logger),
		Bus:      bus,
	}, logger)
	d, err := daemon.New(env.cfg, store, logger, daemon.Components{
		Workflow: manager,
		Approval: gateway,
		Intake:   watch.NewDispatcher(env.cfg, store, manager, bus, logger),
		Bus:      bus,
		LogHub:   logging.NewStreamHub(64),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(d.Stop)
	env.apiAddr = d.Addr()
	return store
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
