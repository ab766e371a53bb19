package ffmpeg

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidpilot/internal/config"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

const probeJSON = `{"streams":[{"index":0,"codec_type":"video","width":1920,"height":1080},{"index":1,"codec_type":"audio","channels":2,"tags":{"language":"eng"}}],"format":{"duration":"100.0"}}`

// stubTools writes shell stand-ins for ffmpeg and ffprobe. The ffmpeg stub
// appends its arguments to args.log and writes its last argument as output.
func stubTools(t *testing.T, probe string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "args.log")
	ffmpeg := "#!/bin/sh\necho \"$@\" >> " + logPath + "\nfor last; do :; done\nprintf 'jpeg' > \"$last\"\n"
	ffprobe := "#!/bin/sh\ncat <<'JSON'\n" + probe + "\nJSON\n"
	writeScript(t, filepath.Join(dir, "ffmpeg"), ffmpeg)
	writeScript(t, filepath.Join(dir, "ffprobe"), ffprobe)

	cfg := config.Default()
	cfg.Frames.FFmpegBinary = filepath.Join(dir, "ffmpeg")
	cfg.Frames.FFprobeBinary = "ffprobe"
	cfg.Frames.Count = 4
	return &cfg, logPath
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read args log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestFrameTimestamps(t *testing.T) {
	got := FrameTimestamps(100, 5)
	want := []float64{5, 27.5, 50, 72.5, 95}
	if len(got) != len(want) {
		t.Fatalf("expected %d timestamps, got %v", len(want), got)
	}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Fatalf("timestamp %d = %v, want %v", i, got[i], want[i])
		}
	}
	if single := FrameTimestamps(100, 1); len(single) != 1 || !near(single[0], 50) {
		t.Fatalf("single frame should sit mid-window, got %v", single)
	}
	if unknown := FrameTimestamps(0, 10); len(unknown) != 1 || unknown[0] != 0 {
		t.Fatalf("unknown duration should yield one frame at zero, got %v", unknown)
	}
}

func TestExtractFramesUsesSiblingFFprobe(t *testing.T) {
	cfg, logPath := stubTools(t, probeJSON)
	out := filepath.Join(t.TempDir(), "frames")

	set, err := NewFrameExtractor(cfg).ExtractFrames(context.Background(), "/videos/clip.mp4", out)
	if err != nil {
		t.Fatalf("ExtractFrames failed: %v", err)
	}
	if len(set.Frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(set.Frames))
	}
	if set.Width != 1920 || set.Height != 1080 || set.DurationSeconds != 100 {
		t.Fatalf("unexpected frame set metadata: %+v", set)
	}
	if filepath.Base(set.Frames[0].Path) != "frame_00.jpg" || !near(set.Frames[0].TimestampSeconds, 5) {
		t.Fatalf("unexpected first frame: %+v", set.Frames[0])
	}
	args := readArgs(t, logPath)
	if len(args) != 4 || !strings.Contains(args[0], "-ss 5.000 -i /videos/clip.mp4 -frames:v 1") {
		t.Fatalf("unexpected ffmpeg invocations: %v", args)
	}
}

func TestExtractFramesRejectsAudioOnlySource(t *testing.T) {
	cfg, _ := stubTools(t, `{"streams":[{"index":0,"codec_type":"audio"}],"format":{"duration":"10"}}`)
	_, err := NewFrameExtractor(cfg).ExtractFrames(context.Background(), "song.mp4", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFFmpegFailureIsExternalTool(t *testing.T) {
	cfg, _ := stubTools(t, probeJSON)
	writeScript(t, cfg.Frames.FFmpegBinary, "#!/bin/sh\necho 'moov atom not found' >&2\nexit 1\n")
	_, err := NewFrameExtractor(cfg).ExtractFrames(context.Background(), "broken.mp4", t.TempDir())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestExtractAudioMapsSelectedTrack(t *testing.T) {
	probe := `{"streams":[{"index":0,"codec_type":"video","width":640,"height":360},` +
		`{"index":1,"codec_type":"audio","channels":2,"tags":{"language":"ger"}},` +
		`{"index":2,"codec_type":"audio","channels":2,"tags":{"language":"eng"}}],"format":{"duration":"30"}}`
	cfg, logPath := stubTools(t, probe)
	cfg.Transcription.Language = "en"
	out := filepath.Join(t.TempDir(), "audio.wav")

	if err := NewAudioExtractor(cfg, nil).ExtractAudio(context.Background(), "talk.mp4", out); err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	args := readArgs(t, logPath)
	if len(args) != 1 || !strings.Contains(args[0], "-map 0:a:1") || !strings.Contains(args[0], "-ar 16000") {
		t.Fatalf("unexpected ffmpeg invocation: %v", args)
	}
}

func TestExtractAudioReportsSilentSource(t *testing.T) {
	cfg, _ := stubTools(t, `{"streams":[{"index":0,"codec_type":"video","width":640,"height":360}],"format":{"duration":"30"}}`)
	err := NewAudioExtractor(cfg, nil).ExtractAudio(context.Background(), "silent.mp4", filepath.Join(t.TempDir(), "a.wav"))
	if !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
}

func TestGenerateThumbnailClampsFrameIndex(t *testing.T) {
	cfg, logPath := stubTools(t, probeJSON)
	frames := stage.FrameSet{Frames: []stage.Frame{{Path: "/f/0.jpg"}, {Path: "/f/1.jpg"}}}
	draft := stage.MetadataDraft{Title: "we climbed the tallest mountain ever", BestFrameIndex: 9}

	result, err := NewThumbnailGenerator(cfg).GenerateThumbnail(context.Background(), frames, draft, "unknown", t.TempDir())
	if err != nil {
		t.Fatalf("GenerateThumbnail failed: %v", err)
	}
	if result.SourceFrame != "/f/1.jpg" || result.Style != StyleMrBeast || result.Width != 1280 || result.Height != 720 {
		t.Fatalf("unexpected result: %+v", result)
	}
	args := readArgs(t, logPath)
	if !strings.Contains(args[0], "WE CLIMBED THE TALLEST") || !strings.Contains(args[0], "pad=1280:720") {
		t.Fatalf("unexpected filter chain: %v", args)
	}
}

func TestGenerateThumbnailMinimalHasNoCaption(t *testing.T) {
	cfg, logPath := stubTools(t, probeJSON)
	frames := stage.FrameSet{Frames: []stage.Frame{{Path: "/f/0.jpg"}}}
	if _, err := NewThumbnailGenerator(cfg).GenerateThumbnail(context.Background(), frames, stage.MetadataDraft{Title: "quiet"}, StyleMinimal, t.TempDir()); err != nil {
		t.Fatalf("GenerateThumbnail failed: %v", err)
	}
	if args := readArgs(t, logPath); strings.Contains(args[0], "drawtext") {
		t.Fatalf("minimal style should not draw text: %v", args)
	}
}

func TestGenerateThumbnailRequiresFrames(t *testing.T) {
	cfg, _ := stubTools(t, probeJSON)
	_, err := NewThumbnailGenerator(cfg).GenerateThumbnail(context.Background(), stage.FrameSet{}, stage.MetadataDraft{}, "", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCaptionAndEscaping(t *testing.T) {
	if got := Caption("  i can't believe: it worked today "); got != "I CAN'T BELIEVE: IT" {
		t.Fatalf("unexpected caption %q", got)
	}
	if got := escapeDrawText("it's 50%: done"); got != `it'\\\''s 50\\%\\: done` {
		t.Fatalf("unexpected escape %q", got)
	}
}
