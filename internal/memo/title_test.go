package memo

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"short", "Buy milk.", "Buy milk."},
		{"word boundary", "Hello world. This is a test sentence that is fairly long indeed", "Hello world This is a test..."},
		{"newlines", "line one\n\nline two", "line one line two"},
		{"japanese", "会議の議事録です。", "会議の議事録です。"},
		{"punctuation dropped when cut", "First point. Second point! Third point? And more text", "First point Second point..."},
		{"no spaces", strings.Repeat("あ", 40), strings.Repeat("あ", 30) + "..."},
		{"early space keeps hard cut", "Hi " + strings.Repeat("x", 40), "Hi " + strings.Repeat("x", 27) + "..."},
		{"fullwidth kept", "ＡＢＣ！", "ＡＢＣ！"},
		{"empty", "  ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveTitle(tc.in)
			assert.Equal(t, tc.want, got)
			assert.LessOrEqual(t, utf8.RuneCountInString(strings.TrimSuffix(got, "...")), 30)
		})
	}
}

func TestIsPlaceholderTitle(t *testing.T) {
	assert.True(t, IsPlaceholderTitle(""))
	assert.True(t, IsPlaceholderTitle("  Untitled "))
	assert.True(t, IsPlaceholderTitle("New Memo"))
	assert.False(t, IsPlaceholderTitle("Standup notes"))
}
