package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"vidpilot/internal/config"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
	"vidpilot/internal/textutil"
)

const maxTranscriptRunes = 8000

const metadataSystemPrompt = `You write YouTube metadata for short personal and creator videos.
Respond with a single JSON object and nothing else:
{"title": "...", "description": "...", "tags": ["..."], "category_id": "22", "best_frame_index": 0}

Rules:
- title: under 60 characters, punchy and curiosity-driven, keywords first.
- description: first line is a hook; then a short summary of what happens and a call to action. 100-300 words.
- tags: 10 to 15 search tags, no hashes.
- category_id: a YouTube category id ("22" People & Blogs, "24" Entertainment, "26" Howto & Style, "28" Science & Technology, "20" Gaming, "19" Travel & Events).
- best_frame_index: zero-based index of the listed frame that would make the strongest thumbnail.
Never invent events that the transcript or frames do not support.`

// MetadataGenerator drafts video metadata with a chat completion model.
type MetadataGenerator struct {
	client       *Client
	model        string
	language     string
	style        string
	visionFrames int
	readFile     func(string) ([]byte, error)
}

// NewMetadataGenerator builds a generator from configuration. Each call is a
// single request; the stage executor owns retry policy.
func NewMetadataGenerator(cfg *config.Config, opts ...Option) *MetadataGenerator {
	llmCfg := cfg.GetLLM()
	return &MetadataGenerator{
		client: NewClient(Config{
			APIKey:         llmCfg.APIKey,
			BaseURL:        llmCfg.BaseURL,
			Model:          llmCfg.Model,
			Referer:        llmCfg.Referer,
			Title:          llmCfg.Title,
			TimeoutSeconds: llmCfg.TimeoutSeconds,
		}, opts...),
		model:        llmCfg.Model,
		language:     cfg.LLM.Language,
		style:        cfg.Thumbnail.Style,
		visionFrames: cfg.LLM.VisionFrames,
		readFile:     os.ReadFile,
	}
}

type metadataResponse struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	CategoryID     any      `json:"category_id"`
	BestFrameIndex int      `json:"best_frame_index"`
	// Older prompts used this key.
	SuggestedThumbnailIndex *int `json:"suggested_thumbnail_index"`
}

// GenerateMetadata implements stage.MetadataGenerator.
func (g *MetadataGenerator) GenerateMetadata(ctx context.Context, input stage.MetadataInput) (stage.MetadataDraft, error) {
	if strings.TrimSpace(g.client.cfg.APIKey) == "" {
		return stage.MetadataDraft{}, services.Wrap(services.ErrConfiguration, stage.Metadata, "generate", "llm api key not configured", nil)
	}
	prompt := g.buildPrompt(input)
	images, err := g.frameImages(input.Frames)
	if err != nil {
		return stage.MetadataDraft{}, err
	}

	content, err := g.client.CompleteJSONWithImages(ctx, metadataSystemPrompt, prompt, images)
	if err != nil {
		return stage.MetadataDraft{}, classifyError(err)
	}
	var parsed metadataResponse
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		// Models occasionally return malformed JSON; a fresh sample usually parses.
		return stage.MetadataDraft{}, services.Wrap(services.ErrTransient, stage.Metadata, "parse response", "model returned invalid JSON", err)
	}
	best := parsed.BestFrameIndex
	if best == 0 && parsed.SuggestedThumbnailIndex != nil {
		best = *parsed.SuggestedThumbnailIndex
	}
	return stage.MetadataDraft{
		Title:          parsed.Title,
		Description:    parsed.Description,
		Tags:           parsed.Tags,
		CategoryID:     categoryString(parsed.CategoryID),
		BestFrameIndex: best,
	}, nil
}

// HealthCheck implements stage.HealthChecker.
func (g *MetadataGenerator) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(g.client.cfg.APIKey) == "" {
		return stage.Unhealthy(stage.Metadata, "llm api key not configured")
	}
	if err := g.client.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(stage.Metadata, err.Error())
	}
	return stage.Healthy(stage.Metadata)
}

func (g *MetadataGenerator) buildPrompt(input stage.MetadataInput) string {
	var b strings.Builder
	transcript := strings.TrimSpace(input.Transcript.Text)
	if transcript == "" {
		transcript = "(no speech detected)"
	}
	fmt.Fprintf(&b, "TRANSCRIPT:\n%s\n\n", textutil.Truncate(transcript, maxTranscriptRunes))
	b.WriteString("VIDEO:\n")
	fmt.Fprintf(&b, "- file: %s\n", input.SourceName)
	duration := input.Frames.DurationSeconds
	fmt.Fprintf(&b, "- duration: %.1f seconds (%.1f minutes)\n", duration, duration/60)
	if input.Frames.Width > 0 && input.Frames.Height > 0 {
		fmt.Fprintf(&b, "- resolution: %dx%d\n", input.Frames.Width, input.Frames.Height)
	}
	if lang := input.Transcript.Language; lang != "" {
		fmt.Fprintf(&b, "- spoken language: %s\n", lang)
	}
	if n := len(input.Frames.Frames); n > 0 {
		fmt.Fprintf(&b, "\nFRAMES (index: timestamp):\n")
		for i, frame := range input.Frames.Frames {
			fmt.Fprintf(&b, "- %d: %.1fs\n", i, frame.TimestampSeconds)
		}
	}
	if g.style != "" {
		fmt.Fprintf(&b, "\nThumbnail style: %s. Pick the frame that suits it.\n", g.style)
	}
	if g.language != "" {
		fmt.Fprintf(&b, "Write the title, description and tags in %s.\n", g.language)
	}
	return b.String()
}

func (g *MetadataGenerator) frameImages(frames stage.FrameSet) ([]string, error) {
	if g.visionFrames <= 0 || len(frames.Frames) == 0 {
		return nil, nil
	}
	picked := pickEvenly(frames.Frames, g.visionFrames)
	images := make([]string, 0, len(picked))
	for _, frame := range picked {
		data, err := g.readFile(frame.Path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, stage.Metadata, "read frame", frame.Path, err)
		}
		images = append(images, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(data))
	}
	return images, nil
}

func pickEvenly(frames []stage.Frame, n int) []stage.Frame {
	if n >= len(frames) {
		return frames
	}
	out := make([]stage.Frame, 0, n)
	step := float64(len(frames)) / float64(n)
	for i := range n {
		out = append(out, frames[int(float64(i)*step)])
	}
	return out
}

func categoryString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return ""
	}
}

// classifyError maps client failures onto the services markers.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage.Metadata, "complete", "llm request timed out", err)
	}
	switch code := StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, stage.Metadata, "complete", "llm rate limited", err)
	case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, stage.Metadata, "complete", fmt.Sprintf("llm http %d", code), err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stage.Metadata, "complete", "llm api key rejected", err)
	case code > 0:
		return services.Wrap(services.ErrValidation, stage.Metadata, "complete", fmt.Sprintf("llm http %d", code), err)
	}
	var emptyErr *emptyContentError
	if errors.As(err, &emptyErr) {
		return services.Wrap(services.ErrTransient, stage.Metadata, "complete", "llm returned empty content", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, stage.Metadata, "complete", "llm unreachable", err)
	}
	return services.Wrap(services.ErrTransient, stage.Metadata, "complete", "llm request failed", err)
}
