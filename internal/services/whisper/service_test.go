package whisper

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"vidpilot/internal/config"
	"vidpilot/internal/media/ffmpeg"
	"vidpilot/internal/services"
)

type fakeAudio struct {
	err   error
	calls int
}

func (f *fakeAudio) ExtractAudio(_ context.Context, _, outputPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("RIFF"), 0o644)
}

func newService(t *testing.T, audio AudioExtractor) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.Transcription.Language = "EN"
	return NewService(&cfg, audio, nil)
}

func TestTranscribeParsesWhisperJSON(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t, &fakeAudio{})
	var gotArgs []string
	svc.WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		out := `{"text":" hello there. general kenobi ","language":"en","segments":[` +
			`{"start":0,"end":1.5,"text":" hello there."},{"start":1.5,"end":3,"text":"  "},{"start":3,"end":4,"text":"general kenobi"}]}`
		return nil, os.WriteFile(filepath.Join(dir, "audio.json"), []byte(out), 0o644)
	})

	result, err := svc.Transcribe(context.Background(), "clip.mp4", dir)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "hello there. general kenobi" || result.Language != "en" {
		t.Fatalf("unexpected transcript: %+v", result)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected blank segments dropped, got %+v", result.Segments)
	}
	joined := strings.Join(gotArgs, " ")
	want := "whisper " + filepath.Join(dir, "audio.wav") + " --model base --output_format json --output_dir " + dir
	if !strings.HasPrefix(joined, want) || !strings.HasSuffix(joined, "--language en") {
		t.Fatalf("unexpected whisper args: %s", joined)
	}
}

func TestTranscribeJoinsSegmentsWhenTextMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := os.WriteFile(path, []byte(`{"segments":[{"text":"one"},{"text":"two"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := LoadTranscript(path)
	if err != nil {
		t.Fatalf("LoadTranscript failed: %v", err)
	}
	if result.Text != "one two" {
		t.Fatalf("unexpected text %q", result.Text)
	}
}

func TestTranscribeSilentSourceReturnsEmpty(t *testing.T) {
	svc := newService(t, &fakeAudio{err: ffmpeg.ErrNoAudio})
	svc.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatal("whisper must not run without audio")
		return nil, nil
	})
	result, err := svc.Transcribe(context.Background(), "silent.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if result.Text != "" || len(result.Segments) != 0 {
		t.Fatalf("expected empty transcript, got %+v", result)
	}
}

func TestTranscribeClassifiesFailures(t *testing.T) {
	t.Run("tool exit", func(t *testing.T) {
		svc := newService(t, &fakeAudio{})
		svc.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
			return []byte("loading model\nRuntimeError: CUDA out of memory\n"), errors.New("exit status 1")
		})
		_, err := svc.Transcribe(context.Background(), "clip.mp4", t.TempDir())
		if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "CUDA out of memory") {
			t.Fatalf("expected external tool error with last line, got %v", err)
		}
	})
	t.Run("missing binary", func(t *testing.T) {
		svc := newService(t, &fakeAudio{})
		svc.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
			return nil, &exec.Error{Name: "whisper", Err: exec.ErrNotFound}
		})
		_, err := svc.Transcribe(context.Background(), "clip.mp4", t.TempDir())
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	})
	t.Run("no output", func(t *testing.T) {
		svc := newService(t, &fakeAudio{})
		svc.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) { return nil, nil })
		_, err := svc.Transcribe(context.Background(), "clip.mp4", t.TempDir())
		if !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("expected external tool error, got %v", err)
		}
	})
}

func TestHealthCheckReportsMissingCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Transcription.Command = "vidpilot-missing-whisper"
	health := NewService(&cfg, &fakeAudio{}, nil).HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy transcriber")
	}
}
