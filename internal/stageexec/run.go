package stageexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vidpilot/internal/config"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

// Collaborators are the external services behind each processing stage.
type Collaborators struct {
	Frames      stage.FrameExtractor
	Transcriber stage.Transcriber
	Metadata    stage.MetadataGenerator
	Thumbnail   stage.ThumbnailGenerator
}

// Runner executes processing stages for jobs.
type Runner struct {
	cfg    *config.Config
	exec   *Executor
	collab Collaborators
	logger *slog.Logger
}

// NewRunner wires the executor to the stage collaborators.
func NewRunner(cfg *config.Config, exec *Executor, collab Collaborators, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		exec:   exec,
		collab: collab,
		logger: logging.NewComponentLogger(logger, "stageexec"),
	}
}

// Run executes stageName for job and returns the normalised output ready to
// be recorded. Any returned error other than a store failure is an *Error.
// Stage start and completion are logged by the caller.
func (r *Runner) Run(ctx context.Context, stageName string, job *jobs.Job) (json.RawMessage, error) {
	if job == nil {
		return nil, errors.New("stage run: job is nil")
	}
	ctx = services.WithStage(services.WithJobID(ctx, job.ID), stageName)
	logger := logging.WithContext(ctx, r.logger)

	if _, err := os.Stat(job.SourcePath); err != nil {
		msg := fmt.Sprintf("source file missing: %s", job.SourcePath)
		return nil, &Error{
			Stage:     stageName,
			Attempts:  job.Attempt(stageName),
			Permanent: true,
			Message:   msg,
			Err:       services.Wrap(services.ErrNotFound, stageName, "resolve source", msg, err),
		}
	}

	workDir := filepath.Join(r.cfg.JobWorkDir(job.ID), stageName)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, &Error{
			Stage:     stageName,
			Attempts:  job.Attempt(stageName),
			Permanent: true,
			Err:       services.Wrap(services.ErrConfiguration, stageName, "prepare work dir", workDir, err),
		}
	}

	var (
		payload any
		err     error
	)
	switch stageName {
	case stage.Frames:
		payload, err = r.runFrames(ctx, job, workDir)
	case stage.Transcript:
		payload, err = r.runTranscript(ctx, job, workDir)
	case stage.Metadata:
		payload, err = r.runMetadata(ctx, job)
	case stage.Thumbnail:
		payload, err = r.runThumbnail(ctx, job, workDir)
	default:
		err = &Error{
			Stage:     stageName,
			Permanent: true,
			Err:       services.Wrap(services.ErrValidation, stageName, "dispatch", "unknown stage", nil),
		}
	}
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s output: %w", stageName, err)
	}
	logger.Debug("stage output normalised",
		logging.String(logging.FieldEventType, "stage_output"),
		logging.String("work_dir", workDir),
		logging.Int("output_bytes", len(raw)),
	)
	return raw, nil
}

func (r *Runner) runFrames(ctx context.Context, job *jobs.Job, workDir string) (stage.FrameSet, error) {
	if r.collab.Frames == nil {
		return stage.FrameSet{}, missingCollaborator(stage.Frames)
	}
	var result stage.FrameSet
	err := r.exec.Call(ctx, job.ID, stage.Frames, job.Attempt(stage.Frames), func(ctx context.Context) error {
		set, err := r.collab.Frames.ExtractFrames(ctx, job.SourcePath, workDir)
		if err != nil {
			return err
		}
		result, err = stage.NormalizeFrameSet(set)
		return err
	})
	return result, err
}

func (r *Runner) runTranscript(ctx context.Context, job *jobs.Job, workDir string) (stage.TranscriptResult, error) {
	if r.collab.Transcriber == nil {
		return stage.TranscriptResult{}, missingCollaborator(stage.Transcript)
	}
	var result stage.TranscriptResult
	err := r.exec.Call(ctx, job.ID, stage.Transcript, job.Attempt(stage.Transcript), func(ctx context.Context) error {
		transcript, err := r.collab.Transcriber.Transcribe(ctx, job.SourcePath, workDir)
		if err != nil {
			return err
		}
		result = stage.NormalizeTranscript(transcript)
		return nil
	})
	return result, err
}

func (r *Runner) runMetadata(ctx context.Context, job *jobs.Job) (stage.MetadataDraft, error) {
	if r.collab.Metadata == nil {
		return stage.MetadataDraft{}, missingCollaborator(stage.Metadata)
	}
	var (
		frames     stage.FrameSet
		transcript stage.TranscriptResult
	)
	if err := decodeInput(job, stage.Metadata, stage.Frames, &frames); err != nil {
		return stage.MetadataDraft{}, err
	}
	if err := decodeInput(job, stage.Metadata, stage.Transcript, &transcript); err != nil {
		return stage.MetadataDraft{}, err
	}
	input := stage.MetadataInput{
		Transcript: transcript,
		Frames:     frames,
		SourceName: filepath.Base(job.SourcePath),
	}
	defaults := stage.MetadataDefaults{
		Privacy:    r.cfg.YouTube.DefaultPrivacy,
		CategoryID: r.cfg.YouTube.CategoryID,
		FrameCount: len(frames.Frames),
	}

	var result stage.MetadataDraft
	err := r.exec.Call(ctx, job.ID, stage.Metadata, job.Attempt(stage.Metadata), func(ctx context.Context) error {
		draft, err := r.collab.Metadata.GenerateMetadata(ctx, input)
		if err != nil {
			return err
		}
		result, err = stage.NormalizeMetadata(draft, job.Overrides, defaults)
		return err
	})
	return result, err
}

func (r *Runner) runThumbnail(ctx context.Context, job *jobs.Job, workDir string) (stage.ThumbnailResult, error) {
	if r.collab.Thumbnail == nil {
		return stage.ThumbnailResult{}, missingCollaborator(stage.Thumbnail)
	}
	var (
		frames   stage.FrameSet
		metadata stage.MetadataDraft
	)
	if err := decodeInput(job, stage.Thumbnail, stage.Frames, &frames); err != nil {
		return stage.ThumbnailResult{}, err
	}
	if err := decodeInput(job, stage.Thumbnail, stage.Metadata, &metadata); err != nil {
		return stage.ThumbnailResult{}, err
	}

	var result stage.ThumbnailResult
	err := r.exec.Call(ctx, job.ID, stage.Thumbnail, job.Attempt(stage.Thumbnail), func(ctx context.Context) error {
		thumb, err := r.collab.Thumbnail.GenerateThumbnail(ctx, frames, metadata, r.cfg.Thumbnail.Style, workDir)
		if err != nil {
			return err
		}
		result, err = stage.NormalizeThumbnail(thumb)
		return err
	})
	return result, err
}

func decodeInput(job *jobs.Job, stageName, input string, dest any) error {
	if err := job.DecodeOutput(input, dest); err != nil {
		return &Error{
			Stage:     stageName,
			Attempts:  job.Attempt(stageName),
			Permanent: true,
			Err:       services.Wrap(services.ErrValidation, stageName, "load input", fmt.Sprintf("%s output unavailable", input), err),
		}
	}
	return nil
}

func missingCollaborator(stageName string) error {
	return &Error{
		Stage:     stageName,
		Permanent: true,
		Err:       services.Wrap(services.ErrConfiguration, stageName, "dispatch", "no collaborator configured", nil),
	}
}
