package api

import (
	"encoding/json"
	"slices"
	"time"

	"vidpilot/internal/jobs"
	"vidpilot/internal/logging"
	"vidpilot/internal/stage"
	"vidpilot/internal/workflow"
)

// FromJob converts a job record to its API representation. The metadata and
// thumbnail fields come from the effective stage outputs, so an edited title
// shows up here as soon as the revision is stored.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		SourcePath:      job.SourcePath,
		State:           string(job.State),
		Stages:          job.OutputStages(),
		EditedFields:    job.EditedFields,
		CancelRequested: job.CancelRequested,
		ClaimedBy:       job.ClaimedBy,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if len(job.Attempts) > 0 {
		dto.Attempts = make(map[string]int, len(job.Attempts))
		for name, count := range job.Attempts {
			dto.Attempts[name] = count
		}
	}

	var draft stage.MetadataDraft
	if job.HasOutput(stage.Metadata) && job.DecodeOutput(stage.Metadata, &draft) == nil {
		dto.Title = draft.Title
		dto.Description = draft.Description
		dto.Tags = draft.Tags
		dto.Privacy = draft.Privacy
		dto.MetadataRev = job.Outputs[stage.Metadata].Revision
	}
	var thumb stage.ThumbnailResult
	if job.HasOutput(stage.Thumbnail) && job.DecodeOutput(stage.Thumbnail, &thumb) == nil {
		dto.ThumbnailPath = thumb.Path
	}

	if job.Approval != nil {
		dto.Approval = &Approval{
			Decision:  string(job.Approval.Decision),
			DecidedBy: job.Approval.DecidedBy,
			DecidedAt: formatTime(job.Approval.DecidedAt),
		}
	}
	if job.FinalResult != nil {
		dto.Result = &Result{
			VideoID:     job.FinalResult.VideoID,
			VideoURL:    job.FinalResult.VideoURL,
			PublishedAt: formatTime(job.FinalResult.PublishedAt),
		}
	}
	if job.Failure != nil {
		dto.FailedStage = job.Failure.Stage
		dto.FailureReason = job.Failure.Reason
	}
	if !job.Overrides.IsZero() {
		if raw, err := json.Marshal(job.Overrides); err == nil {
			dto.Overrides = raw
		}
	}
	return dto
}

// FromJobs converts a slice of job records into API DTOs.
func FromJobs(list []*jobs.Job) []Job {
	if len(list) == 0 {
		return nil
	}
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts a workflow status summary to API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		Workers:     summary.Workers,
		Owner:       summary.Owner,
		InFlight:    summary.InFlight,
		Queued:      summary.Queued,
		JobStats:    MergeJobStats(summary.JobStats),
		LastError:   summary.LastError,
		StageHealth: StageHealthSlice(summary.StageHealth),
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// StageHealthSlice orders a stage health map by name.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// MergeJobStats reports a count for every state, zero included.
func MergeJobStats(stats jobs.Stats) map[string]int {
	out := make(map[string]int, len(jobs.AllStates()))
	for _, state := range jobs.AllStates() {
		out[string(state)] = stats[state]
	}
	return out
}

// FromLogEvents converts hub events into API payloads.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:      evt.Sequence,
			Timestamp:     formatTime(evt.Timestamp),
			Level:         evt.Level,
			Message:       evt.Message,
			Component:     evt.Component,
			Stage:         evt.Stage,
			JobID:         evt.JobID,
			CorrelationID: evt.CorrelationID,
			Fields:        evt.Fields,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
