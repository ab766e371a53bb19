package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
	"vidpilot/internal/stageexec"
)

// Store is the subset of jobs.Store the dispatcher needs.
type Store interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	Transition(ctx context.Context, id string, from, to jobs.State) error
	MarkUploadStarted(ctx context.Context, id string) error
	RecordFinalResult(ctx context.Context, id string, result jobs.FinalResult) error
	RecordCancelledUpload(ctx context.Context, id string, result jobs.FinalResult, reason string) error
	Fail(ctx context.Context, id string, from jobs.State, stage, reason string) error
}

// Dispatcher publishes approved jobs through an UploadService.
type Dispatcher struct {
	store   Store
	service stage.UploadService
	exec    *stageexec.Executor
	bus     events.Publisher
	logger  *slog.Logger
	locks   *keyedMutex
	now     func() time.Time
}

// NewDispatcher builds a dispatcher. exec supplies the retry policy, timeout
// and rate limit of the upload stage.
func NewDispatcher(store Store, service stage.UploadService, exec *stageexec.Executor, bus events.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		service: service,
		exec:    exec,
		bus:     bus,
		logger:  logging.NewComponentLogger(logger, "upload"),
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// Publish uploads an approved job and returns its final result. A job that
// is already published returns the stored result without contacting the
// host. On a terminal upload failure the job is failed and the error
// returned; when ctx is cancelled the job is left in uploading so a later
// call can resume it.
//
// A cancellation requested while the upload call runs is honoured once the
// call returns: the job fails with reason "cancelled", and a video that did
// get published is kept on the job alongside the failure.
func (d *Dispatcher) Publish(ctx context.Context, id string) (jobs.FinalResult, error) {
	unlock := d.locks.Lock(id)
	defer unlock()

	ctx = services.WithStage(services.WithJobID(ctx, id), stage.Upload)
	logger := logging.WithContext(ctx, d.logger)

	job, err := d.begin(ctx, id)
	if err != nil {
		return jobs.FinalResult{}, err
	}
	if job.State == jobs.StatePublished {
		return *job.FinalResult, nil
	}
	if d.service == nil {
		return jobs.FinalResult{}, d.fail(ctx, logger, job, &stageexec.Error{
			Stage:     stage.Upload,
			Permanent: true,
			Err:       services.Wrap(services.ErrConfiguration, stage.Upload, "publish", "no upload service configured", nil),
		})
	}

	req, err := buildRequest(job)
	if err != nil {
		return jobs.FinalResult{}, d.fail(ctx, logger, job, &stageexec.Error{Stage: stage.Upload, Permanent: true, Err: err})
	}

	var (
		result  stage.UploadResult
		adopted bool
		tries   = job.Attempt(stage.Upload)
		started = job.UploadStartedAt != nil
	)
	callErr := d.exec.Call(ctx, id, stage.Upload, job.Attempt(stage.Upload), func(callCtx context.Context) error {
		tries++
		if started || tries > 1 {
			existing, found, err := d.service.FindExisting(callCtx, id)
			if err != nil {
				return err
			}
			if found {
				result, adopted = existing, true
				return nil
			}
		}
		if !started {
			if err := d.store.MarkUploadStarted(callCtx, id); err != nil {
				return services.Wrap(services.ErrTransient, stage.Upload, "mark started", "could not record upload start", err)
			}
			started = true
		}
		res, err := d.service.Upload(callCtx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(res.VideoURL) == "" {
			return services.Wrap(services.ErrValidation, stage.Upload, "upload", "upload returned no video url", nil)
		}
		result = res
		return nil
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return jobs.FinalResult{}, callErr
		}
		if d.cancelRequested(ctx, id) {
			callErr = cancelledError(callErr)
		}
		return jobs.FinalResult{}, d.fail(ctx, logger, job, callErr)
	}

	final := jobs.FinalResult{VideoURL: result.VideoURL, VideoID: result.VideoID, PublishedAt: d.now()}
	if d.cancelRequested(ctx, id) {
		return final, d.keepCancelled(ctx, logger, id, final)
	}
	if err := d.store.RecordFinalResult(ctx, id, final); err != nil {
		if errors.Is(err, jobs.ErrConflict) {
			current, getErr := d.store.Get(ctx, id)
			if getErr == nil && current.State == jobs.StatePublished && current.FinalResult != nil {
				return *current.FinalResult, nil
			}
		}
		return jobs.FinalResult{}, fmt.Errorf("record final result: %w", err)
	}

	logger.Info("video published",
		logging.String(logging.FieldEventType, "job_published"),
		logging.String("video_url", final.VideoURL),
		logging.String("video_id", final.VideoID),
		logging.Bool("adopted_existing", adopted),
	)
	d.publish(events.Event{
		Type:   events.JobPublished,
		JobID:  id,
		From:   string(jobs.StateUploading),
		To:     string(jobs.StatePublished),
		Detail: final.VideoURL,
	})
	return final, nil
}

// begin moves the job into uploading, or returns it unchanged when it is
// already uploading or published.
func (d *Dispatcher) begin(ctx context.Context, id string) (*jobs.Job, error) {
	for range 3 {
		job, err := d.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.State {
		case jobs.StatePublished:
			if job.FinalResult == nil {
				return nil, fmt.Errorf("job %s is published without a final result", id)
			}
			return job, nil
		case jobs.StateUploading:
			return job, nil
		case jobs.StateApproved:
			err := d.store.Transition(ctx, id, jobs.StateApproved, jobs.StateUploading)
			if errors.Is(err, jobs.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			d.publish(events.Event{
				Type:  events.StateChanged,
				JobID: id,
				From:  string(jobs.StateApproved),
				To:    string(jobs.StateUploading),
			})
			return d.store.Get(ctx, id)
		default:
			return nil, fmt.Errorf("%w: job %s is %s, expected %s", jobs.ErrConflict, id, job.State, jobs.StateApproved)
		}
	}
	return nil, fmt.Errorf("%w: job %s kept changing state", jobs.ErrConflict, id)
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, job *jobs.Job, cause error) error {
	reason := stageexec.FailureReason(cause)
	if err := d.store.Fail(ctx, job.ID, jobs.StateUploading, stage.Upload, reason); err != nil {
		logger.Error("failed to persist upload failure",
			logging.String(logging.FieldEventType, "upload_fail_persist_failed"),
			logging.Error(err),
		)
		return errors.Join(cause, err)
	}
	logging.ErrorWithContext(logger, "upload failed", "upload_failed",
		logging.String("reason", reason),
		logging.Alert("upload_failure"),
		logging.String(logging.FieldErrorHint, services.Details(cause).Hint),
	)
	d.publish(events.Event{
		Type:   events.JobFailed,
		JobID:  job.ID,
		From:   string(jobs.StateUploading),
		To:     string(jobs.StateFailed),
		Detail: reason,
	})
	return cause
}

// cancelRequested re-reads the durable cancel flag. A read failure counts as
// not cancelled; the next pass sees the flag.
func (d *Dispatcher) cancelRequested(ctx context.Context, id string) bool {
	job, err := d.store.Get(ctx, id)
	return err == nil && job.CancelRequested
}

// keepCancelled fails a job whose upload completed after cancellation, with
// the published video kept on it.
func (d *Dispatcher) keepCancelled(ctx context.Context, logger *slog.Logger, id string, final jobs.FinalResult) error {
	cause := cancelledError(nil)
	if err := d.store.RecordCancelledUpload(ctx, id, final, cause.Reason()); err != nil {
		return fmt.Errorf("record cancelled upload: %w", err)
	}
	logging.WarnWithContext(logger, "upload finished after cancellation; video kept on failed job", "upload_cancelled_after_publish",
		logging.String("video_url", final.VideoURL),
		logging.String(logging.FieldImpact, "video is live but the job is marked failed"),
		logging.String(logging.FieldErrorHint, "vidpilot retry "+id+" adopts the existing video"),
	)
	d.publish(events.Event{
		Type:   events.JobFailed,
		JobID:  id,
		From:   string(jobs.StateUploading),
		To:     string(jobs.StateFailed),
		Detail: cause.Reason(),
	})
	return cause
}

func cancelledError(cause error) *stageexec.Error {
	if cause == nil {
		cause = stageexec.ErrCancelled
	} else if !errors.Is(cause, stageexec.ErrCancelled) {
		cause = errors.Join(stageexec.ErrCancelled, cause)
	}
	return &stageexec.Error{Stage: stage.Upload, Permanent: true, Message: "cancelled", Err: cause}
}

func (d *Dispatcher) publish(evt events.Event) {
	if d.bus != nil {
		d.bus.Publish(evt)
	}
}

func buildRequest(job *jobs.Job) (stage.UploadRequest, error) {
	var draft stage.MetadataDraft
	if err := job.DecodeOutput(stage.Metadata, &draft); err != nil {
		return stage.UploadRequest{}, services.Wrap(services.ErrValidation, stage.Upload, "build request", "metadata output unavailable", err)
	}
	req := stage.UploadRequest{
		JobID:       job.ID,
		VideoPath:   job.SourcePath,
		Title:       draft.Title,
		Description: draft.Description,
		Tags:        append([]string(nil), draft.Tags...),
		CategoryID:  draft.CategoryID,
		Privacy:     draft.Privacy,
	}
	if job.HasOutput(stage.Thumbnail) {
		var thumb stage.ThumbnailResult
		if err := job.DecodeOutput(stage.Thumbnail, &thumb); err != nil {
			return stage.UploadRequest{}, services.Wrap(services.ErrValidation, stage.Upload, "build request", "thumbnail output unreadable", err)
		}
		req.ThumbnailPath = thumb.Path
	}
	return req, nil
}
