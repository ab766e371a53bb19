package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	c.normalizeStages()
	c.normalizeLLM()
	if err := c.normalizeThumbnail(); err != nil {
		return err
	}
	c.normalizeTelegram()
	if err := c.normalizeYouTube(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func lookupEnv(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := lookupEnv("VIDPILOT_API_TOKEN"); ok {
			c.Paths.APIToken = value
		}
	}
	return nil
}

func (c *Config) normalizeWatch() error {
	if value, ok := lookupEnv("VIDPILOT_WATCH_FOLDER"); ok && strings.TrimSpace(c.Watch.Folder) == defaultWatchFolder {
		c.Watch.Folder = value
	}
	var err error
	if c.Watch.Folder, err = expandPath(strings.TrimSpace(c.Watch.Folder)); err != nil {
		return fmt.Errorf("watch.folder: %w", err)
	}
	extensions := make([]string, 0, len(c.Watch.Extensions))
	seen := make(map[string]struct{}, len(c.Watch.Extensions))
	for _, ext := range c.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		extensions = append(extensions, ext)
	}
	if len(extensions) == 0 {
		extensions = append(extensions, defaultVideoExtensions...)
	}
	c.Watch.Extensions = extensions
	return nil
}

func (c *Config) normalizeStages() {
	if c.Stages.Timeouts == nil {
		c.Stages.Timeouts = map[string]int{}
	}
	if c.Stages.RatePerMinute == nil {
		c.Stages.RatePerMinute = map[string]float64{}
	}
	normalizedTimeouts := make(map[string]int, len(c.Stages.Timeouts))
	for key, value := range c.Stages.Timeouts {
		normalizedTimeouts[strings.ToLower(strings.TrimSpace(key))] = value
	}
	c.Stages.Timeouts = normalizedTimeouts
	normalizedRates := make(map[string]float64, len(c.Stages.RatePerMinute))
	for key, value := range c.Stages.RatePerMinute {
		normalizedRates[strings.ToLower(strings.TrimSpace(key))] = value
	}
	c.Stages.RatePerMinute = normalizedRates
	c.Frames.FFmpegBinary = strings.TrimSpace(c.Frames.FFmpegBinary)
	if c.Frames.FFmpegBinary == "" {
		c.Frames.FFmpegBinary = "ffmpeg"
	}
	c.Frames.FFprobeBinary = strings.TrimSpace(c.Frames.FFprobeBinary)
	if c.Frames.FFprobeBinary == "" {
		c.Frames.FFprobeBinary = "ffprobe"
	}
	c.Transcription.Command = strings.TrimSpace(c.Transcription.Command)
	if c.Transcription.Command == "" {
		c.Transcription.Command = defaultTranscriptionCommand
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultTranscriptionModel
	}
	c.Transcription.Language = strings.TrimSpace(c.Transcription.Language)
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := lookupEnv("LLM_API_KEY", "OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = value
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if strings.TrimSpace(c.LLM.Referer) == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.Language = strings.TrimSpace(c.LLM.Language)
	if c.LLM.VisionFrames < 0 {
		c.LLM.VisionFrames = 0
	}
}

func (c *Config) normalizeThumbnail() error {
	c.Thumbnail.Style = strings.ToLower(strings.TrimSpace(c.Thumbnail.Style))
	if c.Thumbnail.Style == "" {
		c.Thumbnail.Style = defaultThumbnailStyle
	}
	if c.Thumbnail.FontFile != "" {
		expanded, err := expandPath(strings.TrimSpace(c.Thumbnail.FontFile))
		if err != nil {
			return fmt.Errorf("thumbnail.font_file: %w", err)
		}
		c.Thumbnail.FontFile = expanded
	}
	return nil
}

func (c *Config) normalizeTelegram() {
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	if c.Telegram.BotToken == "" {
		if value, ok := lookupEnv("TELEGRAM_BOT_TOKEN"); ok {
			c.Telegram.BotToken = value
		}
	}
	c.Telegram.ChatID = strings.TrimSpace(c.Telegram.ChatID)
	if c.Telegram.ChatID == "" {
		if value, ok := lookupEnv("TELEGRAM_CHAT_ID"); ok {
			c.Telegram.ChatID = value
		}
	}
	c.Telegram.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Telegram.APIBaseURL), "/")
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = defaultTelegramAPIBaseURL
	}
	if c.Telegram.PollTimeoutSeconds <= 0 {
		c.Telegram.PollTimeoutSeconds = defaultTelegramPollTimeout
	}
}

func (c *Config) normalizeYouTube() error {
	if value, ok := lookupEnv("YOUTUBE_CLIENT_SECRETS"); ok && c.YouTube.ClientSecretsFile == defaultYouTubeClientSecrets {
		c.YouTube.ClientSecretsFile = value
	}
	if value, ok := lookupEnv("YOUTUBE_TOKEN_FILE"); ok && c.YouTube.TokenFile == defaultYouTubeTokenFile {
		c.YouTube.TokenFile = value
	}
	var err error
	if c.YouTube.ClientSecretsFile, err = expandPath(strings.TrimSpace(c.YouTube.ClientSecretsFile)); err != nil {
		return fmt.Errorf("youtube.client_secrets_file: %w", err)
	}
	if c.YouTube.TokenFile, err = expandPath(strings.TrimSpace(c.YouTube.TokenFile)); err != nil {
		return fmt.Errorf("youtube.token_file: %w", err)
	}
	c.YouTube.ChannelID = strings.TrimSpace(c.YouTube.ChannelID)
	c.YouTube.DefaultPrivacy = strings.ToLower(strings.TrimSpace(c.YouTube.DefaultPrivacy))
	if c.YouTube.DefaultPrivacy == "" {
		c.YouTube.DefaultPrivacy = defaultYouTubePrivacy
	}
	c.YouTube.CategoryID = strings.TrimSpace(c.YouTube.CategoryID)
	if c.YouTube.CategoryID == "" {
		c.YouTube.CategoryID = defaultYouTubeCategoryID
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := lookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
