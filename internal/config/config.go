package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Watch configures the folder watcher that feeds new videos into the pipeline.
type Watch struct {
	Folder               string   `toml:"folder"`
	Extensions           []string `toml:"extensions"`
	ProcessExisting      bool     `toml:"process_existing"`
	StableCheckSeconds   int      `toml:"stable_check_seconds"`
	StableTimeoutSeconds int      `toml:"stable_timeout_seconds"`
}

// Workflow contains worker pool sizing and daemon timing.
type Workflow struct {
	Workers           int `toml:"workers"`
	PollInterval      int `toml:"poll_interval"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	LeaseTimeout      int `toml:"lease_timeout"`
}

// Stages configures the retry policy, timeouts and rate limits of each stage.
// Timeouts and rates are keyed by stage name (frames, transcript, metadata,
// thumbnail, upload).
type Stages struct {
	RetryCeiling         int                `toml:"retry_ceiling"`
	BackoffInitialMillis int                `toml:"backoff_initial_millis"`
	BackoffMaxSeconds    int                `toml:"backoff_max_seconds"`
	Timeouts             map[string]int     `toml:"timeouts"`
	RatePerMinute        map[string]float64 `toml:"rate_per_minute"`
}

// Frames configures frame extraction.
type Frames struct {
	Count         int    `toml:"count"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Transcription configures the whisper CLI transcriber.
type Transcription struct {
	Command  string `toml:"command"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// LLM contains the chat completion settings used for metadata generation.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Language       string `toml:"language"`
	// VisionFrames attaches up to this many frames to the metadata request
	// for models that accept images; 0 sends text only.
	VisionFrames int `toml:"vision_frames"`
}

// Thumbnail configures thumbnail rendering.
type Thumbnail struct {
	Style    string `toml:"style"`
	Width    int    `toml:"width"`
	Height   int    `toml:"height"`
	FontFile string `toml:"font_file"`
}

// Approval configures the human approval gate.
type Approval struct {
	AutoApprove bool `toml:"auto_approve"`
	// ExpireAfterHours rejects pending approvals older than this; 0 disables expiry.
	ExpireAfterHours int `toml:"expire_after_hours"`
}

// Telegram contains the messaging channel credentials.
type Telegram struct {
	BotToken           string `toml:"bot_token"`
	ChatID             string `toml:"chat_id"`
	APIBaseURL         string `toml:"api_base_url"`
	PollTimeoutSeconds int    `toml:"poll_timeout_seconds"`
}

// YouTube contains upload settings and OAuth credential locations.
type YouTube struct {
	ClientSecretsFile string `toml:"client_secrets_file"`
	TokenFile         string `toml:"token_file"`
	ChannelID         string `toml:"channel_id"`
	DefaultPrivacy    string `toml:"default_privacy"`
	CategoryID        string `toml:"category_id"`
	NotifySubscribers bool   `toml:"notify_subscribers"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Published      bool   `toml:"published"`
	Failures       bool   `toml:"failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidpilot.
//
// Configuration sections by subsystem:
//   - Paths: data, work and log directories plus the API bind address
//   - Watch: folder watcher and file stability checks
//   - Workflow: worker pool size, sweep interval and job leases
//   - Stages: retry ceiling, backoff, per-stage timeouts and rate limits
//   - Frames, Transcription, LLM, Thumbnail: stage collaborators
//   - Approval, Telegram: the human approval gate
//   - YouTube: upload destination
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Watch         Watch         `toml:"watch"`
	Workflow      Workflow      `toml:"workflow"`
	Stages        Stages        `toml:"stages"`
	Frames        Frames        `toml:"frames"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Thumbnail     Thumbnail     `toml:"thumbnail"`
	Approval      Approval      `toml:"approval"`
	Telegram      Telegram      `toml:"telegram"`
	YouTube       YouTube       `toml:"youtube"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Secrets from a
// .env file next to the config (or in the working directory) are loaded into
// the environment first; variables that are already set win. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env")}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}
	seen := map[string]struct{}{}
	var files []string
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			files = append(files, candidate)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidpilot.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// watch folder is created too so a fresh install can start watching at once.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir, c.Watch.Folder} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite job store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "vidpilot.lock")
}

// JobWorkDir returns the scratch directory for a job's stage artifacts.
func (c *Config) JobWorkDir(jobID string) string {
	return filepath.Join(c.Paths.WorkDir, jobID)
}

// StageTimeout returns the configured timeout for stage, falling back to the
// repository default for that stage.
func (c *Config) StageTimeout(stage string) time.Duration {
	if seconds, ok := c.Stages.Timeouts[stage]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if seconds, ok := defaultStageTimeouts[stage]; ok {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(defaultStageTimeoutSeconds) * time.Second
}

// StageRatePerMinute returns the configured call rate for stage; 0 means unlimited.
func (c *Config) StageRatePerMinute(stage string) float64 {
	if rate, ok := c.Stages.RatePerMinute[stage]; ok && rate > 0 {
		return rate
	}
	return 0
}

// BackoffInitial returns the first retry delay.
func (c *Config) BackoffInitial() time.Duration {
	return time.Duration(c.Stages.BackoffInitialMillis) * time.Millisecond
}

// BackoffMax returns the cap applied to retry delays.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Stages.BackoffMaxSeconds) * time.Second
}

// ApprovalExpiry returns how long a pending approval may wait, or 0 when expiry is disabled.
func (c *Config) ApprovalExpiry() time.Duration {
	if c.Approval.ExpireAfterHours <= 0 {
		return 0
	}
	return time.Duration(c.Approval.ExpireAfterHours) * time.Hour
}

// TelegramEnabled reports whether approval requests can be delivered over Telegram.
func (c *Config) TelegramEnabled() bool {
	return strings.TrimSpace(c.Telegram.BotToken) != "" && strings.TrimSpace(c.Telegram.ChatID) != ""
}

// YouTubeEnabled reports whether the OAuth client secrets file for uploads exists.
func (c *Config) YouTubeEnabled() bool {
	path := strings.TrimSpace(c.YouTube.ClientSecretsFile)
	if path == "" || strings.TrimSpace(c.YouTube.TokenFile) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the resolved LLM connection settings.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
