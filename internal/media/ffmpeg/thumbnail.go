package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidpilot/internal/config"
	"vidpilot/internal/services"
	"vidpilot/internal/stage"
)

// Supported thumbnail styles.
const (
	StyleMrBeast = "mrbeast"
	StyleMinimal = "minimal"
)

const (
	captionWords    = 4
	captionMaxRunes = 32
	thumbnailName   = "thumbnail.jpg"
)

// ThumbnailGenerator implements stage.ThumbnailGenerator.
type ThumbnailGenerator struct {
	tools    Tools
	width    int
	height   int
	fontFile string
}

// NewThumbnailGenerator builds a generator from configuration.
func NewThumbnailGenerator(cfg *config.Config) *ThumbnailGenerator {
	width, height := cfg.Thumbnail.Width, cfg.Thumbnail.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}
	return &ThumbnailGenerator{
		tools:    ToolsFromConfig(cfg),
		width:    width,
		height:   height,
		fontFile: strings.TrimSpace(cfg.Thumbnail.FontFile),
	}
}

// GenerateThumbnail renders the frame at metadata.BestFrameIndex into a
// styled JPEG in outputDir.
func (g *ThumbnailGenerator) GenerateThumbnail(ctx context.Context, frames stage.FrameSet, metadata stage.MetadataDraft, style, outputDir string) (stage.ThumbnailResult, error) {
	if len(frames.Frames) == 0 {
		return stage.ThumbnailResult{}, services.Wrap(services.ErrValidation, stage.Thumbnail, "select frame", "no frames available", nil)
	}
	source := frames.Frames[clampIndex(metadata.BestFrameIndex, len(frames.Frames))].Path
	style = NormalizeStyle(style)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return stage.ThumbnailResult{}, services.Wrap(services.ErrConfiguration, stage.Thumbnail, "prepare", outputDir, err)
	}
	out := filepath.Join(outputDir, thumbnailName)
	err := g.tools.run(ctx, stage.Thumbnail, "render thumbnail",
		"-i", source,
		"-vf", g.filterChain(style, metadata.Title),
		"-frames:v", "1",
		"-q:v", "2",
		out,
	)
	if err != nil {
		return stage.ThumbnailResult{}, err
	}
	return stage.ThumbnailResult{
		Path:        out,
		SourceFrame: source,
		Style:       style,
		Width:       g.width,
		Height:      g.height,
	}, nil
}

// HealthCheck implements stage.HealthChecker.
func (g *ThumbnailGenerator) HealthCheck(context.Context) stage.Health {
	if g.fontFile != "" {
		if _, err := os.Stat(g.fontFile); err != nil {
			return stage.Unhealthy(stage.Thumbnail, fmt.Sprintf("font file %s not readable", g.fontFile))
		}
	}
	return g.tools.HealthCheck(stage.Thumbnail)
}

// NormalizeStyle maps unknown styles to the default.
func NormalizeStyle(style string) string {
	switch strings.ToLower(strings.TrimSpace(style)) {
	case StyleMinimal:
		return StyleMinimal
	default:
		return StyleMrBeast
	}
}

func (g *ThumbnailGenerator) filterChain(style, title string) string {
	filters := []string{
		fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", g.width, g.height),
		fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", g.width, g.height),
		"setsar=1",
	}
	switch style {
	case StyleMinimal:
		filters = append(filters, "eq=saturation=1.1:contrast=1.05")
	default:
		filters = append(filters, "eq=saturation=1.5:contrast=1.3:brightness=0.03", "vignette=PI/5")
		if caption := Caption(title); caption != "" {
			filters = append(filters, g.drawText(caption))
		}
	}
	return strings.Join(filters, ",")
}

func (g *ThumbnailGenerator) drawText(caption string) string {
	size := g.height / 8
	parts := []string{
		"text='" + escapeDrawText(caption) + "'",
		"fontcolor=yellow",
		fmt.Sprintf("fontsize=%d", size),
		"borderw=8",
		"bordercolor=black",
		"x=(w-text_w)/2",
		"y=h-text_h-h/10",
	}
	if g.fontFile != "" {
		parts = append([]string{"fontfile='" + escapeDrawText(g.fontFile) + "'"}, parts...)
	}
	return "drawtext=" + strings.Join(parts, ":")
}

var upper = cases.Upper(language.Und)

// Caption returns the uppercase thumbnail text for title: the first few
// words, capped so the line fits the frame.
func Caption(title string) string {
	words := strings.Fields(title)
	if len(words) > captionWords {
		words = words[:captionWords]
	}
	caption := upper.String(strings.Join(words, " "))
	if utf8.RuneCountInString(caption) > captionMaxRunes {
		runes := []rune(caption)
		caption = strings.TrimSpace(string(runes[:captionMaxRunes]))
	}
	return caption
}

// escapeDrawText escapes characters that the filtergraph parser and the
// drawtext option parser treat specially.
func escapeDrawText(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\\\`,
		`'`, `'\\\''`,
		`:`, `\\:`,
		`%`, `\\%`,
		`,`, `\,`,
		`;`, `\;`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return replacer.Replace(value)
}

func clampIndex(index, n int) int {
	if index < 0 {
		return 0
	}
	if index >= n {
		return n - 1
	}
	return index
}
