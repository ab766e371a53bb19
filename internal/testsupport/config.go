package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vidpilot/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry backoff is shortened so retry tests finish quickly, and external
// services are left unconfigured.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Watch.Folder = filepath.Join(base, "watch")
	cfgVal.Watch.StableCheckSeconds = 1
	cfgVal.Watch.StableTimeoutSeconds = 5
	cfgVal.Stages.BackoffInitialMillis = 1
	cfgVal.Stages.BackoffMaxSeconds = 1
	cfgVal.Stages.RatePerMinute = map[string]float64{}
	cfgVal.YouTube.ClientSecretsFile = filepath.Join(base, "client_secrets.json")
	cfgVal.YouTube.TokenFile = filepath.Join(base, "youtube_token.json")
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRetryCeiling overrides the per-stage retry ceiling.
func WithRetryCeiling(ceiling int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages.RetryCeiling = ceiling
	}
}

// WithWorkers overrides the orchestrator worker count.
func WithWorkers(workers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = workers
	}
}

// WithAutoApprove enables approval bypass.
func WithAutoApprove() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Approval.AutoApprove = true
	}
}

// WithTelegram points the messaging channel at baseURL (usually an httptest
// server) with fixed credentials.
func WithTelegram(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Telegram.APIBaseURL = baseURL
		b.cfg.Telegram.BotToken = "test-token"
		b.cfg.Telegram.ChatID = "42"
		b.cfg.Telegram.PollTimeoutSeconds = 1
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default vidpilot external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "whisper"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithAPIToken requires bearer authentication on the daemon API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}
