package capture

import (
	"strings"
	"unicode"
)

// ComposeLabel builds a frame label from the camera filename prefix and the
// trailing digits typed by the user. Whitespace is removed from the digits
// and they are upper-cased. Empty digits yield an empty label.
func ComposeLabel(prefix, digits string) string {
	digits = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, digits)
	if digits == "" {
		return ""
	}
	return prefix + strings.ToUpper(digits)
}

// reuseNote annotates a note for an anchor that copied the previous
// anchor's location.
func reuseNote(note string) string {
	if note == "" {
		return "Reused previous location"
	}
	return note + " (reused previous location)"
}
