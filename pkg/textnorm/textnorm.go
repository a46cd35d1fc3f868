// Package textnorm cleans raw extracted text before chunking and rejects
// text that is empty or does not look like natural language.
package textnorm

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// MinLength is the shortest normalized text accepted for ingestion.
const MinLength = 20

// functionWords is the fixed vocabulary used by the validity heuristic.
var functionWords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "to": {}, "in": {}, "is": {}, "for": {}, "with": {},
	"a": {}, "an": {}, "on": {}, "that": {}, "this": {}, "are": {}, "by": {}, "as": {},
	"research": {}, "study": {}, "data": {}, "results": {}, "method": {}, "analysis": {},
}

// Normalize cleans raw and validates the result. It returns an error wrapping
// models.ErrEmptyContent when fewer than MinLength characters remain, and
// models.ErrInvalidContent when no common function word is present.
func Normalize(raw string) (string, error) {
	text := Clean(raw)
	if n := len([]rune(text)); n < MinLength {
		return "", fmt.Errorf("%w: %d characters after normalization, need at least %d",
			models.ErrEmptyContent, n, MinLength)
	}
	if !LooksLikeText(text) {
		return "", fmt.Errorf("%w: no recognizable words found", models.ErrInvalidContent)
	}
	return text, nil
}

// Clean strips control characters, collapses horizontal whitespace to a single
// space, keeps at most one blank line between paragraphs and trims the ends.
// Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))

	newlines := 0
	space := false
	for _, r := range strings.ReplaceAll(raw, "\r\n", "\n") {
		switch {
		case r == '\n' || r == '\r':
			newlines++
			space = false
			continue
		case isControl(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}

		if sb.Len() > 0 {
			switch {
			case newlines > 0:
				sb.WriteString(strings.Repeat("\n", min(newlines, 2)))
			case space:
				sb.WriteByte(' ')
			}
		}
		newlines = 0
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// LooksLikeText reports whether text contains at least one common function word.
func LooksLikeText(text string) bool {
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if _, ok := functionWords[w]; ok {
			return true
		}
	}
	return false
}

func isControl(r rune) bool {
	return (r < 0x20 && r != '\n' && r != '\t') || (r >= 0x7f && r <= 0x9f) || r == unicode.ReplacementChar
}
