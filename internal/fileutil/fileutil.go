package fileutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotStable is returned when a file keeps changing until the wait times out.
var ErrNotStable = errors.New("file size did not stabilise")

const hashChunkSize = 1 << 20

// HashFile returns the hex SHA-256 of the file contents. The read loop checks
// ctx between chunks so large files can be abandoned on shutdown.
func HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// WaitForStableSize polls path every interval until two consecutive
// observations report the same non-zero size and modification time, and
// returns that size. It gives up with ErrNotStable after timeout.
func WaitForStableSize(ctx context.Context, path string, interval, timeout time.Duration) (int64, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)
	var (
		lastSize int64 = -1
		lastMod  time.Time
	)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		if info.IsDir() {
			return 0, fmt.Errorf("%s is a directory", path)
		}
		size, mod := info.Size(), info.ModTime()
		if size > 0 && size == lastSize && mod.Equal(lastMod) {
			return size, nil
		}
		lastSize, lastMod = size, mod

		if timeout > 0 && time.Now().After(deadline) {
			return 0, fmt.Errorf("%w: %s", ErrNotStable, path)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// IsHidden reports whether path's base name marks it hidden or as a partial
// download.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return true
	}
	lower := strings.ToLower(base)
	for _, suffix := range []string{".part", ".crdownload", ".tmp", ".download"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
