package storage

import (
	"strings"
	"unicode/utf8"
)

const (
	maxFieldLen = 10000
	maxTagLen   = 256
)

// truncate caps s at max bytes without splitting a rune, so a capped
// value stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// SanitizeField replaces control characters with spaces and caps the
// length, so a stored string can never break the wire protocol.
func SanitizeField(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return truncate(b.String(), maxFieldLen)
}

var tagReplacer = strings.NewReplacer(
	"\\", "",
	",", "_",
	"=", "_",
	" ", "_",
	"\n", "_",
	"\r", "_",
)

// SanitizeTag makes a value safe for use as an index tag: backslashes
// stripped, separator characters replaced, length capped.
func SanitizeTag(s string) string {
	return truncate(tagReplacer.Replace(s), maxTagLen)
}
