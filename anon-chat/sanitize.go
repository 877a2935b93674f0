package main

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxMessageLen  = 500
	maxRoomNameLen = 40
)

// Pages render text with textContent, so every tag is stripped rather than
// allowing a safe subset.
var textPolicy = bluemonday.StrictPolicy()

// SanitizeMessage strips markup and control characters from chat content.
func SanitizeMessage(s string) string {
	return sanitizeText(s, maxMessageLen)
}

// SanitizeRoomName cleans a user supplied room name.
func SanitizeRoomName(s string) string {
	name := sanitizeText(s, maxRoomNameLen)
	if name == "" {
		return "Unnamed room"
	}
	return name
}

func sanitizeText(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	// Policy output is HTML-escaped; undo that since clients never parse it as HTML.
	stripped := html.UnescapeString(textPolicy.Sanitize(s))

	var b strings.Builder
	b.Grow(len(stripped))
	n := 0
	for _, r := range stripped {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		if n == maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
