package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"vidpilot/internal/config"
	"vidpilot/internal/logging"
	"vidpilot/internal/media/ffmpeg"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

const (
	DefaultCommand = "whisper"
	DefaultModel   = "base"
	OutputFormat   = "json"
	audioFileName  = "audio.wav"
)

// AudioExtractor writes a speech-ready WAV for a video.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outputPath string) error
}

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Service provides whisper transcription.
type Service struct {
	command  string
	model    string
	language string
	audio    AudioExtractor
	run      CommandRunner
	logger   *slog.Logger
}

// NewService creates a transcriber from configuration.
func NewService(cfg *config.Config, audio AudioExtractor, logger *slog.Logger) *Service {
	command := strings.TrimSpace(cfg.Transcription.Command)
	if command == "" {
		command = DefaultCommand
	}
	model := strings.TrimSpace(cfg.Transcription.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Service{
		command:  command,
		model:    model,
		language: strings.ToLower(strings.TrimSpace(cfg.Transcription.Language)),
		audio:    audio,
		run:      runCommand,
		logger:   logging.NewComponentLogger(logger, "whisper"),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	if runner != nil {
		s.run = runner
	}
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.model
}

// Transcribe implements stage.Transcriber.
func (s *Service) Transcribe(ctx context.Context, videoPath, outputDir string) (stage.TranscriptResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return stage.TranscriptResult{}, services.Wrap(services.ErrConfiguration, stage.Transcript, "prepare", outputDir, err)
	}
	audioPath := filepath.Join(outputDir, audioFileName)
	if err := s.audio.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		if errors.Is(err, ffmpeg.ErrNoAudio) {
			logging.WithContext(ctx, s.logger).Info("source has no audio; continuing with empty transcript",
				logging.String(logging.FieldEventType, "transcript_skipped"),
				logging.String("source", videoPath),
			)
			return stage.TranscriptResult{}, nil
		}
		return stage.TranscriptResult{}, err
	}

	args := s.buildArgs(audioPath, outputDir)
	if output, err := s.run(ctx, s.command, args...); err != nil {
		if ctx.Err() != nil {
			return stage.TranscriptResult{}, ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return stage.TranscriptResult{}, services.Wrap(services.ErrConfiguration, stage.Transcript, "run whisper",
				fmt.Sprintf("%s not found", s.command), err)
		}
		return stage.TranscriptResult{}, services.Wrap(services.ErrExternalTool, stage.Transcript, "run whisper",
			lastLine(output), err)
	}

	jsonPath := filepath.Join(outputDir, strings.TrimSuffix(audioFileName, filepath.Ext(audioFileName))+".json")
	result, err := LoadTranscript(jsonPath)
	if err != nil {
		return stage.TranscriptResult{}, services.Wrap(services.ErrExternalTool, stage.Transcript, "read output", jsonPath, err)
	}
	if result.Language == "" {
		result.Language = s.language
	}
	return result, nil
}

// HealthCheck implements stage.HealthChecker.
func (s *Service) HealthCheck(ctx context.Context) stage.Health {
	if _, err := exec.LookPath(s.command); err != nil {
		return stage.Unhealthy(stage.Transcript, fmt.Sprintf("%s not found in PATH", s.command))
	}
	if checker, ok := s.audio.(stage.HealthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return stage.Healthy(stage.Transcript)
}

// buildArgs constructs the whisper command arguments.
func (s *Service) buildArgs(audioPath, outputDir string) []string {
	args := []string{
		audioPath,
		"--model", s.model,
		"--output_format", OutputFormat,
		"--output_dir", outputDir,
		"--verbose", "False",
	}
	if s.language != "" {
		args = append(args, "--language", s.language)
	}
	return args
}

type payload struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// LoadTranscript reads a whisper JSON output file.
func LoadTranscript(jsonPath string) (stage.TranscriptResult, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return stage.TranscriptResult{}, err
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return stage.TranscriptResult{}, fmt.Errorf("parse whisper json: %w", err)
	}
	result := stage.TranscriptResult{
		Text:     strings.TrimSpace(p.Text),
		Language: p.Language,
	}
	var parts []string
	for _, seg := range p.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		result.Segments = append(result.Segments, stage.Segment{Start: seg.Start, End: seg.End, Text: text})
	}
	if result.Text == "" {
		result.Text = strings.Join(parts, " ")
	}
	return result, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}
	return "whisper exited with an error"
}
