package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteVideo writes content to name inside dir and returns the full path.
// Distinct contents give distinct fingerprints, so tests choose content to
// control whether two files count as the same video.
func WriteVideo(t testing.TB, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
