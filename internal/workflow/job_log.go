package workflow

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vidpilot/internal/config"
	"vidpilot/internal/logging"
	"vidpilot/internal/textutil"
)

// JobLogs manages the dedicated log file of each job.
type JobLogs struct {
	baseDir string
	cfg     *config.Config
}

// NewJobLogs creates a job log manager rooted at <log_dir>/jobs.
func NewJobLogs(cfg *config.Config) *JobLogs {
	dir := ""
	if cfg != nil && cfg.Paths.LogDir != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "jobs")
	}
	return &JobLogs{
		baseDir: dir,
		cfg:     cfg,
	}
}

// Path returns the log file for a job.
func (j *JobLogs) Path(jobID string) (string, error) {
	if strings.TrimSpace(j.baseDir) == "" {
		return "", fmt.Errorf("job log directory not configured")
	}
	name := textutil.SanitizeToken(jobID)
	if name == "" {
		return "", fmt.Errorf("job id %q is not usable as a file name", jobID)
	}
	return filepath.Join(j.baseDir, name+".log"), nil
}

// CreateHandler builds a slog.Handler appending to the job's log file. The
// returned closer releases the file once the worker is done with the job.
func (j *JobLogs) CreateHandler(jobID string) (slog.Handler, io.Closer, error) {
	path, err := j.Path(jobID)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure job log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log: %w", err)
	}
	level := "info"
	format := "json"
	if j.cfg != nil && strings.TrimSpace(j.cfg.Logging.Level) != "" {
		level = j.cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: format,
		Writer: file,
	})
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return logger.Handler(), file, nil
}
