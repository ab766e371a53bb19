package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/daemon"
	"vidpilot/internal/deps"
	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/media/ffmpeg"
	"vidpilot/internal/notifications"
	"vidpilot/internal/services/llm"
	"vidpilot/internal/services/telegram"
	"vidpilot/internal/services/whisper"
	"vidpilot/internal/services/youtube"
	"vidpilot/internal/stage"
	"vidpilot/internal/stageexec"
	"vidpilot/internal/upload"
	"vidpilot/internal/watch"
	"vidpilot/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the vidpilot daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(opts.LogLevel) != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logHub := logging.NewStreamHub(4096)
	logger, err := logging.NewFromConfig(cfg, logHub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "vidpilot.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := jobs.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	comps, err := buildComponents(signalCtx, cfg, store, logger, logHub)
	if err != nil {
		store.Close()
		return err
	}

	d, err := daemon.New(cfg, store, logger, comps)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the other vidpilot daemon or check the api bind address"),
			logging.String(logging.FieldImpact, "no videos will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("vidpilot daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func buildComponents(ctx context.Context, cfg *config.Config, store *jobs.Store, logger *slog.Logger, logHub *logging.StreamHub) (daemon.Components, error) {
	bus := events.NewBus(1024)

	frames := ffmpeg.NewFrameExtractor(cfg)
	audio := ffmpeg.NewAudioExtractor(cfg, logger)
	transcriber := whisper.NewService(cfg, audio, logger)
	metadata := llm.NewMetadataGenerator(cfg)
	thumbnail := ffmpeg.NewThumbnailGenerator(cfg)

	health := map[string]stage.HealthChecker{
		stage.Frames:     frames,
		stage.Transcript: transcriber,
		stage.Metadata:   metadata,
		stage.Thumbnail:  thumbnail,
	}

	var uploader stage.UploadService
	if cfg.YouTubeEnabled() {
		service, err := youtube.NewService(ctx, cfg, logger)
		if err != nil {
			logging.WarnWithContext(logger, "youtube unavailable", "youtube_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "approved jobs fail at upload"),
				logging.String(logging.FieldErrorHint, "run vidpilot auth youtube"),
			)
		} else {
			uploader = service
			health[stage.Upload] = service
		}
	}

	executor := stageexec.NewExecutor(cfg, store, logger)
	runner := stageexec.NewRunner(cfg, executor, stageexec.Collaborators{
		Frames:      frames,
		Transcriber: transcriber,
		Metadata:    metadata,
		Thumbnail:   thumbnail,
	}, logger)

	loops := map[string]daemon.Loop{}

	var (
		messenger approval.Messenger
		tgClient  *telegram.Client
	)
	if cfg.TelegramEnabled() {
		pollTimeout := time.Duration(cfg.Telegram.PollTimeoutSeconds) * time.Second
		tgClient = telegram.NewClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, pollTimeout, nil)
		messenger = telegram.NewMessenger(cfg, tgClient)
	}
	gateway := approval.NewGateway(cfg, store, messenger, bus, logger)
	if tgClient != nil {
		loops["telegram"] = telegram.NewPoller(cfg, tgClient, gateway, logger)
	}

	manager := workflow.NewManager(cfg, store, workflow.Dependencies{
		Runner:   runner,
		Approval: gateway,
		Uploader: upload.NewDispatcher(store, uploader, executor, bus, logger),
		Bus:      bus,
		Notifier: notifications.NewService(cfg),
		Health:   health,
	}, logger)

	intake := watch.NewDispatcher(cfg, store, manager, bus, logger)
	loops["watcher"] = watch.NewWatcher(cfg.Watch.Folder, cfg.Watch.ProcessExisting, intake.OnFileDetected, logger)

	return daemon.Components{
		Workflow: manager,
		Approval: gateway,
		Intake:   intake,
		Bus:      bus,
		LogHub:   logHub,
		Loops:    loops,
	}, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpegBin := cfg.Frames.FFmpegBinary
	ffprobeBin := deps.ResolveFFprobe(ffmpegBin, cfg.Frames.FFprobeBinary)
	transcriber := cfg.Transcription.Command
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", binaryAvailable(ffmpegBin)),
		logging.String("ffmpeg_binary", ffmpegBin),
		logging.Bool("ffprobe_available", binaryAvailable(ffprobeBin)),
		logging.String("ffprobe_binary", ffprobeBin),
		logging.Bool("transcriber_available", binaryAvailable(transcriber)),
		logging.String("transcriber_binary", transcriber),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.Bool("telegram_enabled", cfg.TelegramEnabled()),
		logging.Bool("youtube_enabled", cfg.YouTubeEnabled()),
		logging.Bool("auto_approve", cfg.Approval.AutoApprove),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
