package transcription

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".webm", ExtensionFor("audio/webm;codecs=opus"))
	assert.Equal(t, ".wav", ExtensionFor("audio/x-wav"))
	assert.Equal(t, ".m4a", ExtensionFor("audio/mp4"))
	assert.Equal(t, ".bin", ExtensionFor("application/octet-stream"))
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "audio/wav", MimeTypeFor("memo.WAV"))
	assert.Equal(t, "audio/mp4", MimeTypeFor("memo.m4a"))
	assert.Equal(t, "audio/webm", MimeTypeFor("memo.webm"))
	assert.Equal(t, "audio/mpeg", MimeTypeFor("memo.mp3"))
	assert.Empty(t, MimeTypeFor("notes.txt"))
}

func TestValidateAudioFormat(t *testing.T) {
	assert.True(t, ValidateAudioFormat("a.ogg"))
	assert.False(t, ValidateAudioFormat("a.exe"))
}

func TestWriteTemp(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTemp(filepath.Join(dir, "nested"), Audio{Data: []byte("abc"), MimeType: "audio/ogg"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".ogg"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestRecognitionScriptEmbedsLanguage(t *testing.T) {
	script := recognitionScript("ja")
	assert.Contains(t, script, `rec.lang = "ja"`)
	assert.Contains(t, script, "window.memoRecognition(")
}
