package stage

// Frame is one still extracted from the source video.
type Frame struct {
	Path             string  `json:"path"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
}

// FrameSet is the frames stage output.
type FrameSet struct {
	Frames          []Frame `json:"frames"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// Paths returns the frame file paths in order.
func (f FrameSet) Paths() []string {
	out := make([]string, 0, len(f.Frames))
	for _, frame := range f.Frames {
		out = append(out, frame.Path)
	}
	return out
}

// Segment is a timed span of transcribed speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptResult is the transcript stage output.
type TranscriptResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// MetadataDraft is the metadata stage output and the content of every
// approval edit revision.
type MetadataDraft struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	CategoryID     string   `json:"category_id,omitempty"`
	Privacy        string   `json:"privacy"`
	BestFrameIndex int      `json:"best_frame_index"`
}

// ThumbnailResult is the thumbnail stage output.
type ThumbnailResult struct {
	Path        string `json:"path"`
	SourceFrame string `json:"source_frame,omitempty"`
	Style       string `json:"style,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}
