package stage

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"vidpilot/internal/config"
	"vidpilot/internal/jobs"
	"vidpilot/internal/services"
	"vidpilot/internal/textutil"
)

// YouTube field limits.
const (
	MaxTitleRunes       = 100
	MaxDescriptionRunes = 5000
	MaxTagsChars        = 500
	MaxTags             = 30
)

var youtubeForbidden = strings.NewReplacer("<", "", ">", "")

// NormalizeFrameSet drops empty entries, orders frames by timestamp and
// rejects a set with no frames.
func NormalizeFrameSet(set FrameSet) (FrameSet, error) {
	frames := make([]Frame, 0, len(set.Frames))
	for _, frame := range set.Frames {
		frame.Path = strings.TrimSpace(frame.Path)
		if frame.Path == "" {
			continue
		}
		if frame.TimestampSeconds < 0 {
			frame.TimestampSeconds = 0
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return FrameSet{}, services.Wrap(services.ErrValidation, Frames, "normalize", "extractor returned no frames", nil)
	}
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].TimestampSeconds < frames[j].TimestampSeconds
	})
	set.Frames = frames
	if set.DurationSeconds < 0 {
		set.DurationSeconds = 0
	}
	return set, nil
}

// NormalizeTranscript cleans transcript text. Silent videos legitimately
// produce an empty transcript, so empty text is not an error.
func NormalizeTranscript(t TranscriptResult) TranscriptResult {
	t.Text = textutil.NormalizeText(t.Text)
	t.Language = strings.ToLower(strings.TrimSpace(t.Language))
	segments := make([]Segment, 0, len(t.Segments))
	for _, seg := range t.Segments {
		seg.Text = textutil.CollapseSpaces(textutil.NormalizeText(seg.Text))
		if seg.Text == "" {
			continue
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		segments = append(segments, seg)
	}
	t.Segments = segments
	if t.Text == "" && len(segments) > 0 {
		parts := make([]string, 0, len(segments))
		for _, seg := range segments {
			parts = append(parts, seg.Text)
		}
		t.Text = strings.Join(parts, " ")
	}
	return t
}

// MetadataDefaults carries the fallbacks applied during normalisation.
type MetadataDefaults struct {
	Privacy    string
	CategoryID string
	FrameCount int
}

// NormalizeMetadata enforces YouTube field limits on a generated draft and
// applies submission overrides, which always win. A draft that ends up with
// no title is rejected.
func NormalizeMetadata(draft MetadataDraft, overrides jobs.Overrides, defaults MetadataDefaults) (MetadataDraft, error) {
	if title := strings.TrimSpace(overrides.Title); title != "" {
		draft.Title = title
	}
	if desc := strings.TrimSpace(overrides.Description); desc != "" {
		draft.Description = desc
	}
	if len(overrides.Tags) > 0 {
		draft.Tags = append([]string(nil), overrides.Tags...)
	}
	if privacy := strings.TrimSpace(overrides.Privacy); privacy != "" {
		draft.Privacy = privacy
	}

	draft.Title = NormalizeTitle(draft.Title)
	if draft.Title == "" {
		return MetadataDraft{}, services.Wrap(services.ErrValidation, Metadata, "normalize", "generated metadata has no title", nil)
	}
	draft.Description = NormalizeDescription(draft.Description)
	draft.Tags = NormalizeTags(draft.Tags)

	draft.Privacy = strings.ToLower(strings.TrimSpace(draft.Privacy))
	if !config.ValidPrivacy(draft.Privacy) {
		draft.Privacy = strings.ToLower(strings.TrimSpace(defaults.Privacy))
	}
	if !config.ValidPrivacy(draft.Privacy) {
		draft.Privacy = "unlisted"
	}

	draft.CategoryID = strings.TrimSpace(draft.CategoryID)
	if !isDigits(draft.CategoryID) {
		draft.CategoryID = defaults.CategoryID
	}

	if draft.BestFrameIndex < 0 {
		draft.BestFrameIndex = 0
	}
	if defaults.FrameCount > 0 && draft.BestFrameIndex >= defaults.FrameCount {
		draft.BestFrameIndex = defaults.FrameCount - 1
	}
	return draft, nil
}

// NormalizeTitle trims, strips characters YouTube rejects, title-cases
// all-lowercase input and enforces the length limit.
func NormalizeTitle(title string) string {
	title = textutil.CollapseSpaces(textutil.NormalizeText(title))
	title = strings.Trim(youtubeForbidden.Replace(title), " \"'")
	title = textutil.TitleCase(title)
	return textutil.Truncate(title, MaxTitleRunes)
}

// NormalizeDescription strips characters YouTube rejects and enforces the
// length limit. Line breaks are kept.
func NormalizeDescription(desc string) string {
	desc = youtubeForbidden.Replace(textutil.NormalizeText(desc))
	return textutil.Truncate(desc, MaxDescriptionRunes)
}

// NormalizeTags trims and de-duplicates tags case-insensitively, removes
// leading hashes and separators, and keeps tags only while the combined
// length stays within YouTube's limit.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	total := 0
	for _, tag := range tags {
		tag = textutil.NormalizeText(tag)
		tag = strings.TrimLeft(tag, "#")
		tag = youtubeForbidden.Replace(strings.ReplaceAll(tag, ",", " "))
		tag = textutil.CollapseSpaces(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			continue
		}
		cost := len(tag)
		if strings.Contains(tag, " ") {
			cost += 2
		}
		if len(out) > 0 {
			cost++
		}
		if total+cost > MaxTagsChars || len(out) == MaxTags {
			break
		}
		seen[key] = struct{}{}
		total += cost
		out = append(out, tag)
	}
	return out
}

// SplitTags parses a comma separated tag list as typed in chat or the CLI.
func SplitTags(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NormalizeThumbnail checks the rendered thumbnail exists on disk.
func NormalizeThumbnail(result ThumbnailResult) (ThumbnailResult, error) {
	result.Path = strings.TrimSpace(result.Path)
	if result.Path == "" {
		return ThumbnailResult{}, services.Wrap(services.ErrValidation, Thumbnail, "normalize", "generator returned no thumbnail path", nil)
	}
	info, err := os.Stat(result.Path)
	if err != nil {
		return ThumbnailResult{}, services.Wrap(services.ErrValidation, Thumbnail, "normalize",
			fmt.Sprintf("thumbnail %s not readable", result.Path), err)
	}
	if info.IsDir() || info.Size() == 0 {
		return ThumbnailResult{}, services.Wrap(services.ErrValidation, Thumbnail, "normalize",
			fmt.Sprintf("thumbnail %s is empty", result.Path), nil)
	}
	return result, nil
}

// ApplyEdit returns a copy of draft with one approval edit applied and
// normalised. Supported fields are title, description, tags and privacy.
func ApplyEdit(draft MetadataDraft, field, value string) (MetadataDraft, error) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "title":
		title := NormalizeTitle(value)
		if title == "" {
			return draft, services.Wrap(services.ErrValidation, "approval", "edit", "title cannot be empty", nil)
		}
		draft.Title = title
	case "description":
		draft.Description = NormalizeDescription(value)
	case "tags":
		draft.Tags = NormalizeTags(SplitTags(value))
	case "privacy":
		privacy := strings.ToLower(strings.TrimSpace(value))
		if !config.ValidPrivacy(privacy) {
			return draft, services.Wrap(services.ErrValidation, "approval", "edit",
				fmt.Sprintf("privacy %q must be public, unlisted or private", value), nil)
		}
		draft.Privacy = privacy
	default:
		return draft, services.Wrap(services.ErrValidation, "approval", "edit",
			fmt.Sprintf("unknown field %q (title, description, tags, privacy)", field), nil)
	}
	return draft, nil
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
