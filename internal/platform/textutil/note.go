package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNoteLength bounds admin and customer notes, counted in runes.
const MaxNoteLength = 1000

var notePolicy = bluemonday.StrictPolicy()

// SanitizeNote strips markup, collapses whitespace and truncates free-text notes.
func SanitizeNote(raw string) string {
	cleaned := notePolicy.Sanitize(raw)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) <= MaxNoteLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:MaxNoteLength]))
}
