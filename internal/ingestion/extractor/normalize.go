package extractor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize unifies line endings, drops control characters, collapses
// horizontal whitespace to single spaces, keeps at most one blank line in a
// row and trims the result.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	newlines := 0
	pendingSpace := false
	lineStart := true
	for _, r := range s {
		switch {
		case r == '\n':
			pendingSpace = false
			lineStart = true
			newlines++
			if newlines <= 2 {
				b.WriteRune('\n')
			}
		case unicode.IsSpace(r):
			if !lineStart {
				pendingSpace = true
			}
		case unicode.IsControl(r) || r == '\uFEFF':
			// dropped
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
			newlines = 0
			lineStart = false
		}
	}
	return strings.TrimSpace(b.String())
}
