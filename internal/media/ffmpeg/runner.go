package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"vidpilot/internal/config"
	"vidpilot/internal/deps"
	"vidpilot/internal/media/ffprobe"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

const stderrTailLines = 6

// Tools locates the ffmpeg and ffprobe binaries.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// ToolsFromConfig resolves binaries from the frames section.
func ToolsFromConfig(cfg *config.Config) Tools {
	ffmpeg := strings.TrimSpace(cfg.Frames.FFmpegBinary)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return Tools{
		FFmpeg:  ffmpeg,
		FFprobe: deps.ResolveFFprobe(ffmpeg, cfg.Frames.FFprobeBinary),
	}
}

// probe inspects path and classifies failures for the stage executor.
func (t Tools) probe(ctx context.Context, stageName, path string) (ffprobe.Result, error) {
	result, err := ffprobe.Inspect(ctx, t.FFprobe, path)
	if err != nil {
		if ctx.Err() != nil {
			return ffprobe.Result{}, ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return ffprobe.Result{}, services.Wrap(services.ErrConfiguration, stageName, "ffprobe", "ffprobe binary not found", err)
		}
		return ffprobe.Result{}, services.Wrap(services.ErrValidation, stageName, "ffprobe", "source is not a readable video", err)
	}
	return result, nil
}

// run executes ffmpeg with args and returns a classified error on failure.
func (t Tools) run(ctx context.Context, stageName, op string, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, t.FFmpeg, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return services.Wrap(services.ErrConfiguration, stageName, op, "ffmpeg binary not found", err)
		}
		return services.Wrap(services.ErrExternalTool, stageName, op, tail(stderr.String()), err)
	}
	return nil
}

// HealthCheck reports whether both binaries resolve.
func (t Tools) HealthCheck(name string) stage.Health {
	for _, status := range deps.CheckFFmpegPair(t.FFmpeg, t.FFprobe) {
		if !status.Available {
			return stage.Unhealthy(name, status.Detail)
		}
	}
	return stage.Healthy(name)
}

func tail(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	joined := strings.TrimSpace(strings.Join(lines, " | "))
	if joined == "" {
		return "ffmpeg exited with an error"
	}
	return fmt.Sprintf("ffmpeg: %s", joined)
}
