package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vidpilot/internal/config"
	"vidpilot/internal/logging"
	"vidpilot/internal/media/audio"
	"vidpilot/internal/stage"
)

// ErrNoAudio reports a source without any audio stream.
var ErrNoAudio = errors.New("source has no audio stream")

// AudioExtractor produces speech-recognition ready WAV files.
type AudioExtractor struct {
	tools    Tools
	language string
	logger   *slog.Logger
}

// NewAudioExtractor builds an extractor that prefers tracks in the
// configured transcription language.
func NewAudioExtractor(cfg *config.Config, logger *slog.Logger) *AudioExtractor {
	return &AudioExtractor{
		tools:    ToolsFromConfig(cfg),
		language: cfg.Transcription.Language,
		logger:   logging.NewComponentLogger(logger, "ffmpeg"),
	}
}

// ExtractAudio writes the best speech track of videoPath to outputPath as
// 16 kHz mono 16-bit PCM. It returns ErrNoAudio for silent containers.
func (a *AudioExtractor) ExtractAudio(ctx context.Context, videoPath, outputPath string) error {
	info, err := a.tools.probe(ctx, stage.Transcript, videoPath)
	if err != nil {
		return err
	}
	selection := audio.SelectForSpeech(info.Streams, a.language)
	if !selection.Found() {
		return ErrNoAudio
	}
	if selection.Total > 1 {
		logging.WithContext(ctx, a.logger).Info("selected audio track for transcription",
			logging.String("track", selection.Label()),
			logging.Int("ordinal", selection.Ordinal),
			logging.Int("tracks", selection.Total),
		)
	}
	return a.tools.run(ctx, stage.Transcript, "extract audio",
		"-i", videoPath,
		"-map", fmt.Sprintf("0:a:%d", selection.Ordinal),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	)
}

// HealthCheck implements stage.HealthChecker.
func (a *AudioExtractor) HealthCheck(context.Context) stage.Health {
	return a.tools.HealthCheck(stage.Transcript)
}
