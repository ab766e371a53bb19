package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText converts value to NFC, drops control characters other than
// newlines and tabs, and trims surrounding whitespace.
func NormalizeText(value string) string {
	value = norm.NFC.String(value)
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// CollapseSpaces replaces every run of whitespace with a single space.
func CollapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// Truncate shortens value to at most limit runes. When it cuts, the result
// ends with an ellipsis that counts toward the limit.
func Truncate(value string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	if limit == 1 {
		return string(runes[:1])
	}
	return strings.TrimRightFunc(string(runes[:limit-1]), unicode.IsSpace) + "…"
}

// TitleCase applies title casing when value contains no upper-case letters
// at all. Mixed-case input is returned unchanged.
func TitleCase(value string) string {
	for _, r := range value {
		if unicode.IsUpper(r) {
			return value
		}
	}
	return cases.Title(language.Und, cases.NoLower).String(value)
}

// DeriveTitle builds a human title from a file name, used when no better
// title is available.
func DeriveTitle(sourcePath string) string {
	if sourcePath == "" {
		return "Untitled Video"
	}
	base := filepath.Base(sourcePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	cleaned := strings.Builder{}
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			cleaned.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				cleaned.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(cleaned.String())
	if title == "" {
		return "Untitled Video"
	}
	return cases.Title(language.Und).String(title)
}

// ShortID returns the first n characters of id, used in chat messages and
// CLI tables where full fingerprints are unwieldy.
func ShortID(id string, n int) string {
	if n <= 0 || len(id) <= n {
		return id
	}
	return id[:n]
}
