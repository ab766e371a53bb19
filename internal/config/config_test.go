package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"vidpilot/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "vidpilot")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Watch.Folder != filepath.Join(tempHome, "Videos", "vidpilot") {
		t.Fatalf("unexpected watch folder: %q", cfg.Watch.Folder)
	}
	if cfg.YouTube.DefaultPrivacy != "unlisted" {
		t.Fatalf("unexpected default privacy: %q", cfg.YouTube.DefaultPrivacy)
	}
	if cfg.Stages.RetryCeiling != 3 {
		t.Fatalf("unexpected retry ceiling: %d", cfg.Stages.RetryCeiling)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "jobs.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Watch.Folder} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "vidpilot.toml")

	type payload struct {
		Watch struct {
			Folder     string   `toml:"folder"`
			Extensions []string `toml:"extensions"`
		} `toml:"watch"`
		Workflow struct {
			Workers int `toml:"workers"`
		} `toml:"workflow"`
		Stages struct {
			Timeouts map[string]int `toml:"timeouts"`
		} `toml:"stages"`
		YouTube struct {
			DefaultPrivacy string `toml:"default_privacy"`
		} `toml:"youtube"`
	}
	custom := payload{}
	custom.Watch.Folder = filepath.Join(t.TempDir(), "incoming")
	custom.Watch.Extensions = []string{"MP4", ".mov", "mp4"}
	custom.Workflow.Workers = 4
	custom.Stages.Timeouts = map[string]int{"Transcript": 42}
	custom.YouTube.DefaultPrivacy = "Private"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Workflow.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Workflow.Workers)
	}
	if got := strings.Join(cfg.Watch.Extensions, ","); got != ".mp4,.mov" {
		t.Fatalf("unexpected normalized extensions %q", got)
	}
	if cfg.StageTimeout("transcript") != 42*time.Second {
		t.Fatalf("unexpected transcript timeout %s", cfg.StageTimeout("transcript"))
	}
	if cfg.StageTimeout("frames") != 300*time.Second {
		t.Fatalf("expected default frames timeout, got %s", cfg.StageTimeout("frames"))
	}
	if cfg.YouTube.DefaultPrivacy != "private" {
		t.Fatalf("expected lowercase privacy, got %q", cfg.YouTube.DefaultPrivacy)
	}
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[logging]\nlevel = \"debug\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	env := "TELEGRAM_BOT_TOKEN=from-dotenv\nTELEGRAM_CHAT_ID=12345\nLLM_API_KEY=llm-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// godotenv never overrides variables that are already set; register cleanup
	// so values loaded here do not leak into other tests.
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	t.Setenv("LLM_API_KEY", "")
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("TELEGRAM_CHAT_ID")
	os.Unsetenv("LLM_API_KEY")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Telegram.BotToken != "from-dotenv" || cfg.Telegram.ChatID != "12345" {
		t.Fatalf("expected telegram settings from .env, got %+v", cfg.Telegram)
	}
	if !cfg.TelegramEnabled() {
		t.Fatal("expected telegram enabled")
	}
	if cfg.LLM.APIKey != "llm-dotenv" {
		t.Fatalf("expected llm key from .env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level from file, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"privacy", func(c *config.Config) { c.YouTube.DefaultPrivacy = "secret" }, "youtube.default_privacy"},
		{"workers", func(c *config.Config) { c.Workflow.Workers = 0 }, "workflow.workers"},
		{"lease", func(c *config.Config) { c.Workflow.LeaseTimeout = 5 }, "workflow.lease_timeout"},
		{"ceiling", func(c *config.Config) { c.Stages.RetryCeiling = 0 }, "stages.retry_ceiling"},
		{"unknown stage", func(c *config.Config) { c.Stages.Timeouts = map[string]int{"encode": 10} }, "unknown stage"},
		{"expiry", func(c *config.Config) { c.Approval.ExpireAfterHours = -1 }, "approval.expire_after_hours"},
		{"watch folder", func(c *config.Config) { c.Watch.Folder = "" }, "watch.folder"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.StageRatePerMinute("upload") != 6 {
		t.Fatalf("unexpected upload rate %v", cfg.StageRatePerMinute("upload"))
	}
	if cfg.ApprovalExpiry() != 0 {
		t.Fatalf("expected approval expiry disabled, got %s", cfg.ApprovalExpiry())
	}
}
