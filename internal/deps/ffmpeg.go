package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveFFprobe returns the ffprobe binary that pairs with ffmpegCommand.
//
// An explicitly configured ffprobe (anything other than the bare name) is
// used as is. Otherwise an ffprobe sitting next to the resolved ffmpeg wins
// over PATH, so static builds unpacked into one directory probe with the
// same version they extract with.
func ResolveFFprobe(ffmpegCommand, ffprobeCommand string) string {
	ffprobe := strings.TrimSpace(ffprobeCommand)
	if ffprobe != "" && ffprobe != "ffprobe" {
		return ffprobe
	}
	if resolved, err := exec.LookPath(strings.TrimSpace(ffmpegCommand)); err == nil {
		if candidate, ok := siblingBinary(resolved, "ffprobe"); ok {
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				return candidate
			}
		}
	}
	return "ffprobe"
}

// CheckFFmpegPair reports availability of the ffmpeg/ffprobe pair used for
// frame extraction, audio extraction and thumbnail rendering.
func CheckFFmpegPair(ffmpegCommand, ffprobeCommand string) []Status {
	ffmpeg := strings.TrimSpace(ffmpegCommand)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	results := CheckBinaries([]Requirement{{
		Name:        "FFmpeg",
		Command:     ffmpeg,
		Description: "Required for frames, audio and thumbnails",
	}})

	probe := Check(Requirement{
		Name:        "FFprobe",
		Command:     ResolveFFprobe(ffmpeg, ffprobeCommand),
		Description: "Required for media inspection",
	})
	if probe.Available {
		if path, err := exec.LookPath(probe.Command); err == nil {
			probe.Command = path
		}
	}
	return append(results, probe)
}

func siblingBinary(resolved, name string) (string, bool) {
	if resolved == "" {
		return "", false
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(resolved), name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
