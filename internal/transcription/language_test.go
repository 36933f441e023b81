package transcription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"auto":  "",
		"en":    "en",
		"en-US": "en",
		"ja-JP": "ja",
		"JA":    "ja",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLanguage(in), "input %q", in)
	}
}
