package audio

import (
	"strconv"
	"strings"

	"vidpilot/internal/media/ffprobe"
)

// Selection describes the audio stream chosen for transcription.
type Selection struct {
	Primary ffprobe.Stream
	// Ordinal is the position among audio streams, as used by "-map 0:a:N".
	Ordinal int
	// Total is the number of audio streams in the container.
	Total int
}

// Found reports whether the container has any audio.
func (s Selection) Found() bool {
	return s.Ordinal >= 0
}

// Label returns a human-readable summary of the selected stream.
func (s Selection) Label() string {
	if !s.Found() {
		return ""
	}
	return formatStreamSummary(s.Primary)
}

// SelectForSpeech returns the audio stream most likely to carry speech.
// language is an ISO 639 code ("en", "eng", "de") or empty.
func SelectForSpeech(streams []ffprobe.Stream, language string) Selection {
	candidates := buildCandidates(streams, language)
	if len(candidates) == 0 {
		return Selection{Ordinal: -1}
	}
	best := candidates[0]
	bestScore := score(best)
	for _, cand := range candidates[1:] {
		if s := score(cand); s > bestScore {
			best, bestScore = cand, s
		}
	}
	return Selection{Primary: best.stream, Ordinal: best.order, Total: len(candidates)}
}

// candidate captures the derived metadata used for ranking.
type candidate struct {
	stream         ffprobe.Stream
	order          int
	language       string
	title          string
	languageMatch  bool
	defaultFlagged bool
	channels       int
}

var (
	speechHints    = []string{"voice", "mic", "microphone", "dialog", "dialogue", "narration", "speech", "commentary"}
	nonSpeechHints = []string{"music", "system", "desktop", "game", "background", "bgm", "sfx", "effects"}
)

func score(cand candidate) float64 {
	score := 0.0
	if cand.languageMatch {
		score += 1000
	}
	if cand.defaultFlagged {
		score += 100
	}
	switch {
	case containsAny(cand.title, speechHints):
		score += 50
	case containsAny(cand.title, nonSpeechHints):
		score -= 50
	}
	if cand.channels == 0 {
		// Streams without a channel count are usually broken or data tracks.
		score -= 20
	}
	// Prefer earlier tracks when scores tie.
	score -= float64(cand.order) * 0.1
	return score
}

func buildCandidates(streams []ffprobe.Stream, language string) []candidate {
	want := normalizeCode(language)
	result := make([]candidate, 0)
	order := 0
	for _, stream := range streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		cand := candidate{
			stream:         stream,
			order:          order,
			language:       normalizeLanguage(stream.Tags),
			title:          normalizeTitle(stream.Tags),
			channels:       channelCount(stream),
			defaultFlagged: stream.Disposition != nil && stream.Disposition["default"] == 1,
		}
		cand.languageMatch = want != "" && normalizeCode(cand.language) == want
		result = append(result, cand)
		order++
	}
	return result
}

// normalizeCode folds ISO 639-1 and 639-2 codes for the common languages
// onto the two-letter form so "eng" matches "en".
func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	switch code {
	case "eng":
		return "en"
	case "ger", "deu":
		return "de"
	case "fre", "fra":
		return "fr"
	case "spa":
		return "es"
	case "ita":
		return "it"
	case "por":
		return "pt"
	case "jpn":
		return "ja"
	case "nld", "dut":
		return "nl"
	case "rus":
		return "ru"
	}
	return code
}

func normalizeLanguage(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	for _, key := range []string{"language", "LANGUAGE", "Language", "language_ietf", "LANG"} {
		if value, ok := tags[key]; ok {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

func normalizeTitle(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	for _, key := range []string{"title", "TITLE", "handler_name", "HANDLER_NAME"} {
		if value, ok := tags[key]; ok {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}
	return ""
}

func channelCount(stream ffprobe.Stream) int {
	if stream.Channels > 0 {
		return stream.Channels
	}
	layout := strings.ToLower(strings.TrimSpace(stream.ChannelLayout))
	switch {
	case layout == "":
		return 0
	case layout == "mono":
		return 1
	case layout == "stereo":
		return 2
	case strings.HasPrefix(layout, "5.1"):
		return 6
	case strings.HasPrefix(layout, "7.1"):
		return 8
	}
	return 0
}

func containsAny(value string, needles []string) bool {
	if value == "" {
		return false
	}
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}

func formatStreamSummary(stream ffprobe.Stream) string {
	parts := make([]string, 0, 4)
	if lang := normalizeLanguage(stream.Tags); lang != "" {
		parts = append(parts, lang)
	}
	codec := stream.CodecLong
	if codec == "" {
		codec = stream.CodecName
	}
	if codec != "" {
		parts = append(parts, codec)
	}
	if n := channelCount(stream); n > 0 {
		parts = append(parts, strconv.Itoa(n)+"ch")
	}
	if title := normalizeTitle(stream.Tags); title != "" {
		parts = append(parts, title)
	}
	if len(parts) == 0 {
		return "audio"
	}
	return strings.Join(parts, " | ")
}
