package workflow

import (
	"context"
	"encoding/json"

	"vidpilot/internal/events"
	"vidpilot/internal/jobs"
	"vidpilot/internal/notifications"
	"vidpilot/internal/stage"
)

// StageRunner executes one processing stage for a job.
type StageRunner interface {
	Run(ctx context.Context, stageName string, job *jobs.Job) (json.RawMessage, error)
}

// ApprovalGateway is the approval surface the manager drives.
type ApprovalGateway interface {
	Request(ctx context.Context, job *jobs.Job)
	Resume(ctx context.Context) (int, error)
	ExpireStale(ctx context.Context) (int, error)
	OnApproved(fn func(jobID string))
}

// Publisher uploads approved jobs.
type Publisher interface {
	Publish(ctx context.Context, id string) (jobs.FinalResult, error)
}

// Dependencies bundles the collaborators the manager orchestrates.
type Dependencies struct {
	Runner   StageRunner
	Approval ApprovalGateway
	Uploader Publisher
	Bus      *events.Bus
	Notifier notifications.Service
	// Health reports collaborator readiness in Status, keyed by stage name.
	Health map[string]stage.HealthChecker
}

// resumableStates are the states a worker can make progress from.
var resumableStates = []jobs.State{
	jobs.StateDetected,
	jobs.StateFramesExtracted,
	jobs.StateTranscribed,
	jobs.StateMetadataDrafted,
	jobs.StateThumbnailDrafted,
	jobs.StateApproved,
	jobs.StateUploading,
}
