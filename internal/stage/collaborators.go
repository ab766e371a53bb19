package stage

import "context"

// FrameExtractor pulls representative stills from a video.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath, outputDir string) (FrameSet, error)
}

// Transcriber turns a video's speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath, outputDir string) (TranscriptResult, error)
}

// MetadataInput is everything the metadata generator may look at.
type MetadataInput struct {
	Transcript TranscriptResult
	Frames     FrameSet
	SourceName string
}

// MetadataGenerator drafts title, description and tags.
type MetadataGenerator interface {
	GenerateMetadata(ctx context.Context, input MetadataInput) (MetadataDraft, error)
}

// ThumbnailGenerator renders the thumbnail image.
type ThumbnailGenerator interface {
	GenerateThumbnail(ctx context.Context, frames FrameSet, metadata MetadataDraft, style, outputDir string) (ThumbnailResult, error)
}

// HealthChecker is implemented by collaborators that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// UploadRequest is what the video host receives for one job.
type UploadRequest struct {
	JobID         string
	VideoPath     string
	ThumbnailPath string
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	Privacy       string
}

// UploadResult identifies a published video.
type UploadResult struct {
	VideoID  string
	VideoURL string
}

// UploadService publishes videos. FindExisting looks up an earlier upload for
// the job so an upload whose outcome was lost is not repeated.
type UploadService interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	FindExisting(ctx context.Context, jobID string) (UploadResult, bool, error)
}
