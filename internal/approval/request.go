package approval

import (
	"context"
	"fmt"
	"path/filepath"

	"vidpilot/internal/jobs"
	"vidpilot/internal/stage"
	"vidpilot/internal/textutil"
)

// Request is what the messaging channel renders for a human reviewer.
type Request struct {
	JobID         string
	ShortID       string
	Title         string
	Description   string
	Tags          []string
	Privacy       string
	ThumbnailPath string
	SourceName    string
	Revision      int
}

// Messenger delivers approval requests. Inbound decisions are delivered to
// Gateway.OnDecision by the channel's own receive loop.
type Messenger interface {
	Send(ctx context.Context, req Request) error
}

// ShortIDLength is how many fingerprint characters identify a job in chat.
const ShortIDLength = 12

// BuildRequest projects the job's effective metadata and thumbnail into a
// request.
func BuildRequest(job *jobs.Job) (Request, error) {
	if job == nil {
		return Request{}, fmt.Errorf("build approval request: nil job")
	}
	var draft stage.MetadataDraft
	if err := job.DecodeOutput(stage.Metadata, &draft); err != nil {
		return Request{}, err
	}
	req := Request{
		JobID:       job.ID,
		ShortID:     textutil.ShortID(job.ID, ShortIDLength),
		Title:       draft.Title,
		Description: draft.Description,
		Tags:        append([]string(nil), draft.Tags...),
		Privacy:     draft.Privacy,
		SourceName:  filepath.Base(job.SourcePath),
		Revision:    job.Outputs[stage.Metadata].Revision,
	}
	var thumb stage.ThumbnailResult
	if job.HasOutput(stage.Thumbnail) {
		if err := job.DecodeOutput(stage.Thumbnail, &thumb); err != nil {
			return Request{}, err
		}
		req.ThumbnailPath = thumb.Path
	}
	return req, nil
}
