package memo

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleRunes = 30
	minTitleRunes = 15
)

var sentenceBreaks = regexp.MustCompile(`[。．.！!？?\r\n]+`)

// placeholderTitles are titles clients send when the user typed nothing.
var placeholderTitles = map[string]bool{
	"":              true,
	"untitled":      true,
	"untitled memo": true,
	"new memo":      true,
	"voice memo":    true,
	"新しいメモ":         true,
	"無題":            true,
}

// IsPlaceholderTitle reports whether title should be replaced by a derived one.
func IsPlaceholderTitle(title string) bool {
	return placeholderTitles[strings.ToLower(strings.TrimSpace(title))]
}

// DeriveTitle builds a short title from transcribed text. Whitespace and
// newlines are collapsed; text that fits in 30 characters is kept as is.
// Longer text has its sentence punctuation turned into spaces and is cut at
// the last word boundary, unless that boundary would leave fewer than 15
// characters.
func DeriveTitle(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}

	s = strings.Join(strings.Fields(sentenceBreaks.ReplaceAllString(s, " ")), " ")
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}

	cut := string([]rune(s)[:maxTitleRunes])
	if i := strings.LastIndex(cut, " "); i >= 0 && utf8.RuneCountInString(cut[:i]) >= minTitleRunes {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
