package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
}

func TestResolveFFprobePrefersSibling(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	ffprobePath := filepath.Join(tmp, executableName("ffprobe"))
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(ffmpegPath, script, 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	if err := os.WriteFile(ffprobePath, script, 0o755); err != nil {
		t.Fatalf("write ffprobe sibling: %v", err)
	}

	if got := ResolveFFprobe(ffmpegPath, ""); got != ffprobePath {
		t.Fatalf("expected sibling %q, got %q", ffprobePath, got)
	}
	if got := ResolveFFprobe(ffmpegPath, "/opt/custom/ffprobe"); got != "/opt/custom/ffprobe" {
		t.Fatalf("explicit ffprobe should win, got %q", got)
	}
}

func TestResolveFFprobeFallsBackToName(t *testing.T) {
	tmp := t.TempDir()
	ffmpegPath := filepath.Join(tmp, executableName("ffmpeg"))
	if err := os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	if got := ResolveFFprobe(ffmpegPath, "ffprobe"); got != "ffprobe" {
		t.Fatalf("expected bare ffprobe, got %q", got)
	}
}

func TestCheckFFmpegPairNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	results := CheckFFmpegPair("", "")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, status := range results {
		if status.Available {
			t.Fatalf("expected %s to be unavailable", status.Name)
		}
		if status.Detail == "" {
			t.Fatalf("expected detail message for %s", status.Name)
		}
	}
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func TestCheckBlankCommand(t *testing.T) {
	status := Check(Requirement{Name: "Whisper", Command: "   ", Optional: true})
	if status.Available || status.Detail != "command not configured" {
		t.Fatalf("unexpected status: %#v", status)
	}
	if !status.Optional || status.Name != "Whisper" {
		t.Fatalf("requirement fields not carried: %#v", status)
	}
}
