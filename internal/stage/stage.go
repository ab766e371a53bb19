package stage

import "vidpilot/internal/jobs"

// Stage names, also used as keys for outputs, attempts, timeouts and rates.
const (
	Frames     = "frames"
	Transcript = "transcript"
	Metadata   = "metadata"
	Thumbnail  = "thumbnail"
	Upload     = "upload"
)

// Step binds a stage to the state it runs from and the state it produces.
type Step struct {
	Name string
	From jobs.State
	To   jobs.State
}

var steps = []Step{
	{Name: Frames, From: jobs.StateDetected, To: jobs.StateFramesExtracted},
	{Name: Transcript, From: jobs.StateFramesExtracted, To: jobs.StateTranscribed},
	{Name: Metadata, From: jobs.StateTranscribed, To: jobs.StateMetadataDrafted},
	{Name: Thumbnail, From: jobs.StateMetadataDrafted, To: jobs.StateThumbnailDrafted},
}

// Steps returns the processing stages in pipeline order.
func Steps() []Step {
	return append([]Step(nil), steps...)
}

// ForState returns the processing stage that runs from state.
func ForState(state jobs.State) (Step, bool) {
	for _, step := range steps {
		if step.From == state {
			return step, true
		}
	}
	return Step{}, false
}

// NameForState names the stage a job in state is working on, for failure
// records. Approval states report "approval" and upload states "upload".
func NameForState(state jobs.State) string {
	if step, ok := ForState(state); ok {
		return step.Name
	}
	switch state {
	case jobs.StateThumbnailDrafted, jobs.StateAwaitingApproval:
		return "approval"
	case jobs.StateApproved, jobs.StateUploading:
		return Upload
	}
	return string(state)
}

// Known reports whether name is a stage with a configurable timeout.
func Known(name string) bool {
	switch name {
	case Frames, Transcript, Metadata, Thumbnail, Upload:
		return true
	}
	return false
}
