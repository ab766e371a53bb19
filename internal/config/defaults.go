package config

const (
	defaultConfigPath             = "~/.config/vidpilot/config.toml"
	defaultDataDir                = "~/.local/share/vidpilot"
	defaultWorkDir                = "~/.local/share/vidpilot/work"
	defaultLogDir                 = "~/.local/share/vidpilot/logs"
	defaultWatchFolder            = "~/Videos/vidpilot"
	defaultAPIBind                = "127.0.0.1:7491"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultWorkers                = 2
	defaultPollInterval           = 30
	defaultHeartbeatInterval      = 15
	defaultLeaseTimeout           = 120
	defaultRetryCeiling           = 3
	defaultBackoffInitialMillis   = 2000
	defaultBackoffMaxSeconds      = 60
	defaultStageTimeoutSeconds    = 600
	defaultStableCheckSeconds     = 2
	defaultStableTimeoutSeconds   = 300
	defaultFrameCount             = 10
	defaultTranscriptionCommand   = "whisper"
	defaultTranscriptionModel     = "base"
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMReferer             = "https://github.com/vidpilot/vidpilot"
	defaultLLMTitle               = "vidpilot metadata"
	defaultLLMTimeoutSeconds      = 60
	defaultThumbnailStyle         = "mrbeast"
	defaultThumbnailWidth         = 1280
	defaultThumbnailHeight        = 720
	defaultTelegramAPIBaseURL     = "https://api.telegram.org"
	defaultTelegramPollTimeout    = 30
	defaultYouTubeClientSecrets   = "~/.config/vidpilot/client_secrets.json"
	defaultYouTubeTokenFile       = "~/.config/vidpilot/youtube_token.json"
	defaultYouTubePrivacy         = "unlisted"
	defaultYouTubeCategoryID      = "22"
	defaultNotifyRequestTimeout   = 10
	defaultNotificationsPublished = true
	defaultNotificationsFailures  = true
)

var defaultVideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v"}

var defaultStageTimeouts = map[string]int{
	"frames":     300,
	"transcript": 1800,
	"metadata":   120,
	"thumbnail":  120,
	"upload":     3600,
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Watch: Watch{
			Folder:               defaultWatchFolder,
			Extensions:           append([]string(nil), defaultVideoExtensions...),
			StableCheckSeconds:   defaultStableCheckSeconds,
			StableTimeoutSeconds: defaultStableTimeoutSeconds,
		},
		Workflow: Workflow{
			Workers:           defaultWorkers,
			PollInterval:      defaultPollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			LeaseTimeout:      defaultLeaseTimeout,
		},
		Stages: Stages{
			RetryCeiling:         defaultRetryCeiling,
			BackoffInitialMillis: defaultBackoffInitialMillis,
			BackoffMaxSeconds:    defaultBackoffMaxSeconds,
			Timeouts:             map[string]int{},
			RatePerMinute:        map[string]float64{"metadata": 20, "upload": 6},
		},
		Frames: Frames{
			Count:         defaultFrameCount,
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
		},
		Transcription: Transcription{
			Command: defaultTranscriptionCommand,
			Model:   defaultTranscriptionModel,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Thumbnail: Thumbnail{
			Style:  defaultThumbnailStyle,
			Width:  defaultThumbnailWidth,
			Height: defaultThumbnailHeight,
		},
		Telegram: Telegram{
			APIBaseURL:         defaultTelegramAPIBaseURL,
			PollTimeoutSeconds: defaultTelegramPollTimeout,
		},
		YouTube: YouTube{
			ClientSecretsFile: defaultYouTubeClientSecrets,
			TokenFile:         defaultYouTubeTokenFile,
			DefaultPrivacy:    defaultYouTubePrivacy,
			CategoryID:        defaultYouTubeCategoryID,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Published:      defaultNotificationsPublished,
			Failures:       defaultNotificationsFailures,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
