package transcription

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguage reduces a BCP-47 tag to its ISO-639-1 base ("ja-JP" -> "ja").
// Unparseable or undetermined tags yield "".
func NormalizeLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "auto") {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	base, conf := t.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
