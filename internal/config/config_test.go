package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "")
	t.Setenv(EnvJWTSecret, "")
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "inline", cfg.Storage.Blob)
	assert.Equal(t, 1<<20, cfg.Storage.MaxPayloadBytes)
	assert.Equal(t, "whisper-1", cfg.Transcription.Model)
	assert.Equal(t, 1024, cfg.Capture.FFTSize)
	assert.Equal(t, "30s", cfg.FallbackMargin().String())
	assert.Equal(t, "local", cfg.Auth.DevUser)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	t.Setenv(EnvOpenAIKey, "")
	t.Setenv(EnvJWTSecret, "")
	os.Unsetenv(EnvOpenAIKey)
	os.Unsetenv(EnvJWTSecret)
	dir := t.TempDir()

	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9090
storage:
  blob: local
transcription:
  fallback: chrome
  timeout_seconds: 10
workers:
  count: 4
`)
	env := writeFile(t, dir, ".env", "OPENAI_API_KEY=sk-test\nMEMO_JWT_SECRET="+strings.Repeat("s", 32)+"\n")

	cfg, err := Load(path, env)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Storage.Blob)
	assert.Equal(t, "chrome", cfg.Transcription.Fallback)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, "sk-test", cfg.Transcription.APIKey)
	assert.Len(t, cfg.Auth.Secret, 32)
	assert.Equal(t, "10s", cfg.TranscriptionTimeout().String())
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	cfg.Storage.Blob = "s3"
	cfg.Capture.FFTSize = 1000
	cfg.Auth.Secret = "short"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.blob")
	assert.Contains(t, err.Error(), "fft_size")
	assert.Contains(t, err.Error(), EnvJWTSecret)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}
