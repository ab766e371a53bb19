package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"vidpilot/internal/config"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

const (
	frameWindowStart = 0.05
	frameWindowEnd   = 0.95
	defaultFrames    = 10
)

// FrameExtractor implements stage.FrameExtractor.
type FrameExtractor struct {
	tools Tools
	count int
}

// NewFrameExtractor builds an extractor from configuration.
func NewFrameExtractor(cfg *config.Config) *FrameExtractor {
	count := cfg.Frames.Count
	if count <= 0 {
		count = defaultFrames
	}
	return &FrameExtractor{tools: ToolsFromConfig(cfg), count: count}
}

// ExtractFrames writes count JPEG stills to outputDir.
func (e *FrameExtractor) ExtractFrames(ctx context.Context, videoPath, outputDir string) (stage.FrameSet, error) {
	info, err := e.tools.probe(ctx, stage.Frames, videoPath)
	if err != nil {
		return stage.FrameSet{}, err
	}
	width, height := info.VideoDimensions()
	if width == 0 {
		return stage.FrameSet{}, services.Wrap(services.ErrValidation, stage.Frames, "probe", "source has no video stream", nil)
	}
	duration := info.DurationSeconds()
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return stage.FrameSet{}, services.Wrap(services.ErrConfiguration, stage.Frames, "prepare", outputDir, err)
	}

	set := stage.FrameSet{DurationSeconds: duration, Width: width, Height: height}
	for i, ts := range FrameTimestamps(duration, e.count) {
		out := filepath.Join(outputDir, fmt.Sprintf("frame_%02d.jpg", i))
		err := e.tools.run(ctx, stage.Frames, "extract frame",
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", videoPath,
			"-frames:v", "1",
			"-q:v", "2",
			out,
		)
		if err != nil {
			return stage.FrameSet{}, err
		}
		if fi, statErr := os.Stat(out); statErr != nil || fi.Size() == 0 {
			// Seeking past the last keyframe of a short clip yields nothing.
			continue
		}
		set.Frames = append(set.Frames, stage.Frame{Path: out, TimestampSeconds: ts})
	}
	return set, nil
}

// HealthCheck implements stage.HealthChecker.
func (e *FrameExtractor) HealthCheck(context.Context) stage.Health {
	return e.tools.HealthCheck(stage.Frames)
}

// FrameTimestamps returns count timestamps evenly spaced between 5% and 95%
// of duration. An unknown duration yields a single frame at zero.
func FrameTimestamps(duration float64, count int) []float64 {
	if duration <= 0 || count <= 0 {
		return []float64{0}
	}
	start := duration * frameWindowStart
	end := duration * frameWindowEnd
	if count == 1 {
		return []float64{(start + end) / 2}
	}
	step := (end - start) / float64(count-1)
	out := make([]float64, count)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}
