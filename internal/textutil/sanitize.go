package textutil

import (
	"strings"
	"unicode"
)

const maxTokenLength = 64

// SanitizeToken turns an identifier into a lowercase name that is safe to use
// as a single path segment. ASCII letters, digits, '-' and '_' survive; runs
// of anything else collapse to one underscore. Blank input yields "unknown".
func SanitizeToken(value string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(value) {
		keep := r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_')
		if !keep {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(unicode.ToLower(r))
		if b.Len() >= maxTokenLength {
			break
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}
